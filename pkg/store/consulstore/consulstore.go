// Package consulstore shares credentials through the consul KV, for deployments that
// already run consul and want no extra datastore.
package consulstore

import (
	"context"

	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/store"

	"github.com/hashicorp/consul/api"
)

const DefaultPrefix = "credentials"

type Store struct {
	namespace string
	prefix    string
	kv        *api.KV
}

func New(client *api.Client, namespace, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Store{
		namespace: namespace,
		prefix:    prefix,
		kv:        client.KV(),
	}
}

func (s *Store) GetAccessToken(ctx context.Context) (credential.AccessToken, bool, error) {
	r, ok, err := s.get(ctx, store.AccessTokenKey(s.namespace))
	if err != nil || !ok {
		return credential.AccessToken{}, false, err
	}
	return r.AccessToken(), true, nil
}

func (s *Store) PutAccessToken(ctx context.Context, token credential.AccessToken) error {
	return s.put(ctx, store.AccessTokenKey(s.namespace), store.FromAccessToken(token))
}

func (s *Store) GetTicket(ctx context.Context, ticketType string) (credential.Ticket, bool, error) {
	r, ok, err := s.get(ctx, store.TicketKey(s.namespace, ticketType))
	if err != nil || !ok {
		return credential.Ticket{}, false, err
	}
	return r.Ticket(ticketType), true, nil
}

func (s *Store) PutTicket(ctx context.Context, ticketType string, ticket credential.Ticket) error {
	return s.put(ctx, store.TicketKey(s.namespace, ticketType), store.FromTicket(ticket))
}

// Ping reads the prefix, an absent key still proves the agent answers
func (s *Store) Ping(ctx context.Context) error {
	_, _, err := s.kv.Get(s.prefix, (&api.QueryOptions{}).WithContext(ctx))
	return err
}

func (s *Store) path(key string) string {
	return s.prefix + "/" + key
}

func (s *Store) get(ctx context.Context, key string) (store.Record, bool, error) {
	pair, _, err := s.kv.Get(s.path(key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return store.Record{}, false, &credential.StoreError{Op: "get", Key: key, Err: err}
	}
	if pair == nil {
		return store.Record{}, false, nil
	}

	r, err := store.Decode(pair.Value)
	if err != nil {
		return store.Record{}, false, &credential.StoreError{Op: "get", Key: key, Err: err}
	}
	return r, true, nil
}

func (s *Store) put(ctx context.Context, key string, r store.Record) error {
	data, err := store.Encode(r)
	if err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}

	pair := &api.KVPair{Key: s.path(key), Value: data}
	if _, err := s.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}
	return nil
}
