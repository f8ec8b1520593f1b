// Package redisstore shares credentials between processes through redis. Keys carry a TTL
// matching the credential expiry so stale entries disappear on their own.
package redisstore

import (
	"context"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/store"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Store struct {
	namespace string
	prefix    string
	rdb       redis.UniversalClient
	clock     clock.Clock
}

// New - prefix is prepended to every key, e.g. "credential:"
func New(rdb redis.UniversalClient, namespace, prefix string, c clock.Clock) *Store {
	if c == nil {
		c = clock.System()
	}

	return &Store{
		namespace: namespace,
		prefix:    prefix,
		rdb:       rdb,
		clock:     c,
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

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) get(ctx context.Context, key string) (store.Record, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, &credential.StoreError{Op: "get", Key: key, Err: err}
	}

	r, err := store.Decode(data)
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

	// already expired records are kept for a moment instead of being rejected by redis
	ttl := r.ExpiresAt.Sub(s.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}

	if err := s.rdb.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}
	return nil
}
