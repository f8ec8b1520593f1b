package consul

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/consul/api"
)

type Consul interface {
	GetValue(ctx context.Context, path, key string) ([]byte, error)
	// ListValues returns every key under path, keys are relative to it
	ListValues(ctx context.Context, path string) (map[string]string, error)
	GetServiceAddress(ctx context.Context, serviceName string) (GetServiceAddressResponse, error)
	Client() *api.Client
}

type service struct {
	serviceName string
	standName   string
	client      *api.Client
	kv          *api.KV
	health      *api.Health
}

func NewConsul(serviceName, standName, consulAddr, consulToken string) (Consul, error) {
	config := api.DefaultConfig()
	config.Address = consulAddr
	config.Token = consulToken

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &service{
		serviceName,
		standName,
		client,
		client.KV(),
		client.Health(),
	}, nil
}

func (s *service) Client() *api.Client {
	return s.client
}

func (s *service) fullPath(path string) string {
	if path == "local" {
		path = path + "/" + s.serviceName
	}
	return fmt.Sprintf("%s/%s", s.standName, path)
}

func (s *service) GetValue(ctx context.Context, path, key string) ([]byte, error) {
	fullPath := s.fullPath(path) + "/" + key
	pair, _, err := s.kv.Get(fullPath, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}

	if pair == nil {
		return nil, ErrKeyNotExist
	}

	return pair.Value, nil
}

func (s *service) ListValues(ctx context.Context, path string) (map[string]string, error) {
	prefix := s.fullPath(path) + "/"
	pairs, _, err := s.kv.List(prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}

	res := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key := strings.TrimPrefix(pair.Key, prefix)
		// folders
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		res[key] = string(pair.Value)
	}

	return res, nil
}

func (s *service) GetServiceAddress(ctx context.Context, serviceName string) (GetServiceAddressResponse, error) {
	r, _, err := s.health.Service(serviceName, "", true, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}

	res := make(GetServiceAddressResponse, 0)
	for _, item := range r {
		for _, ta := range item.Service.TaggedAddresses {
			var exist bool
			for _, existItem := range res {
				if existItem.Address == ta.Address && existItem.Port == ta.Port {
					exist = true
					break
				}
			}

			if !exist {
				res = append(res, GetServiceAddressResponseItem{
					Address: ta.Address,
					Port:    ta.Port,
				})
			}
		}
	}

	return res, nil
}
