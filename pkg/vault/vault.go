package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

const (
	renewIncrement = 60 * 60 * 8
	renewInterval  = 10 * time.Minute
)

type Vault interface {
	GetSecret(ctx context.Context, path string) (interface{}, error)
	GetSecretByKey(ctx context.Context, path, key string) (interface{}, error)
	// RenewToken keeps the vault token alive until ctx is done
	RenewToken(ctx context.Context)
}

type service struct {
	logger     log.Logger
	vaultToken string
	client     *api.Client
	kv         *api.KVv2
}

func NewVault(logger log.Logger, vaultAddr string, vaultKey string, mountPath string) (Vault, error) {
	client, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := client.SetAddress(vaultAddr); err != nil {
		return nil, errors.Wrap(err, "set vault address")
	}
	client.SetToken(vaultKey)

	return &service{
		logger,
		vaultKey,
		client,
		client.KVv2(mountPath),
	}, nil
}

func (s *service) RenewToken(ctx context.Context) {
	for {
		stop, err := s.renewOnce(ctx)
		if err != nil {
			s.logger.Errorf("renew vault token error: %v", err)
		}
		if stop {
			return
		}

		// Sleep 10 minutes, before next update
		select {
		case <-ctx.Done():
			return
		case <-time.After(renewInterval):
		}
	}
}

// renewOnce renews the token, stop is true when renewing makes no sense anymore
func (s *service) renewOnce(ctx context.Context) (bool, error) {
	apiSecret, err := s.client.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		return false, errors.Wrap(err, "get token info from vault")
	}

	tData, err := getTokenData(apiSecret.Data)
	if err != nil {
		return false, errors.Wrap(err, "failed to get token data")
	}

	// If root token, stop renew
	if tData.isRoot {
		s.logger.Info("vault token is root. stop renew token")
		return true, nil
	}

	if !tData.isRenewable {
		return true, fmt.Errorf("vault token is not renewable")
	}

	timeLeft := time.Until(tData.expirationTime)

	if _, err := s.client.Auth().Token().RenewSelfWithContext(ctx, renewIncrement); err != nil {
		if timeLeft <= time.Minute {
			return true, errors.Wrap(err, "failed to renew token before expiry")
		}
		return false, err
	}

	s.logger.Debug("vault token was updated")
	return false, nil
}

// tokenData is the part of token lookup-self the renew loop needs
type tokenData struct {
	isRoot         bool
	isRenewable    bool
	expirationTime time.Time
}

func getTokenData(data map[string]interface{}) (*tokenData, error) {
	if data == nil {
		return nil, fmt.Errorf("vault token data is nil")
	}

	displayName, err := getStringFromMap(data, "display_name")
	if err != nil {
		return nil, errors.Wrap(err, "getStringFromMap error")
	}

	expTimeI, err := getIntrefaceFromMap(data, "expire_time")
	if err != nil {
		return nil, err
	}

	if displayName == "root" || expTimeI == nil {
		return &tokenData{
			isRoot: true,
		}, nil
	}

	isRenewable, err := getBoolFromMap(data, "renewable")
	if err != nil {
		return nil, errors.Wrap(err, "getBoolFromMap error")
	}

	expirationTime, err := getStringFromMap(data, "expire_time")
	if err != nil {
		return nil, errors.Wrap(err, "getStringFromMap error")
	}

	expTime, err := time.Parse(time.RFC3339, expirationTime)
	if err != nil {
		return nil, errors.Wrap(err, "expirationTime parse error")
	}

	return &tokenData{
		isRenewable:    isRenewable,
		expirationTime: expTime,
	}, nil
}

func getIntrefaceFromMap(m map[string]any, key string) (any, error) {
	valI, ok := m[key]
	if !ok {
		return "", fmt.Errorf("map does not exist key \"%s\"", key)
	}

	return valI, nil
}

func getBoolFromMap(m map[string]any, key string) (bool, error) {
	valI, err := getIntrefaceFromMap(m, key)
	if err != nil {
		return false, err
	}

	val, ok := valI.(bool)
	if !ok {
		return false, fmt.Errorf("value \"%v\" does not implement bool type", valI)
	}

	return val, nil
}

func getStringFromMap(m map[string]any, key string) (string, error) {
	valI, err := getIntrefaceFromMap(m, key)
	if err != nil {
		return "", err
	}

	val, ok := valI.(string)
	if !ok {
		return "", fmt.Errorf("value \"%v\" does not implement string type", valI)
	}

	return val, nil
}

// GetSecret returns field "value" of the secret at path
func (s *service) GetSecret(ctx context.Context, path string) (interface{}, error) {
	return s.GetSecretByKey(ctx, path, "value")
}

func (s *service) GetSecretByKey(ctx context.Context, path, key string) (interface{}, error) {
	secret, err := s.kv.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	value, ok := secret.Data[key]
	if !ok {
		return nil, fmt.Errorf("key \"%s\" does not exist in vault path \"%s\"", key, path)
	}

	return value, nil
}
