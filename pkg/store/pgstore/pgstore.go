// Package pgstore keeps credentials in one postgres table shared by all instances.
package pgstore

import (
	"context"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/store"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
)

const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
	namespace  TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`

const (
	selectQuery = `SELECT value, expires_at FROM credentials WHERE namespace = $1 AND key = $2`
	upsertQuery = `
INSERT INTO credentials (namespace, key, value, expires_at, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`
)

// Querier is the part of pgxpool.Pool the store uses
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Store struct {
	namespace string
	db        Querier
}

func New(db Querier, namespace string) *Store {
	return &Store{
		namespace: namespace,
		db:        db,
	}
}

// Migrate creates the credentials table when missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "create credentials table")
	}
	return nil
}

func (s *Store) GetAccessToken(ctx context.Context) (credential.AccessToken, bool, error) {
	r, ok, err := s.get(ctx, credential.KindAccessToken)
	if err != nil || !ok {
		return credential.AccessToken{}, false, err
	}
	return r.AccessToken(), true, nil
}

func (s *Store) PutAccessToken(ctx context.Context, token credential.AccessToken) error {
	return s.put(ctx, credential.KindAccessToken, store.FromAccessToken(token))
}

func (s *Store) GetTicket(ctx context.Context, ticketType string) (credential.Ticket, bool, error) {
	r, ok, err := s.get(ctx, ticketKey(ticketType))
	if err != nil || !ok {
		return credential.Ticket{}, false, err
	}
	return r.Ticket(ticketType), true, nil
}

func (s *Store) PutTicket(ctx context.Context, ticketType string, ticket credential.Ticket) error {
	return s.put(ctx, ticketKey(ticketType), store.FromTicket(ticket))
}

func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func (s *Store) get(ctx context.Context, key string) (store.Record, bool, error) {
	var (
		value     string
		expiresAt time.Time
	)

	err := s.db.QueryRow(ctx, selectQuery, s.namespace, key).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, &credential.StoreError{Op: "get", Key: key, Err: err}
	}

	return store.Record{Value: value, ExpiresAt: expiresAt}, true, nil
}

func (s *Store) put(ctx context.Context, key string, r store.Record) error {
	if _, err := s.db.Exec(ctx, upsertQuery, s.namespace, key, r.Value, r.ExpiresAt); err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func ticketKey(ticketType string) string {
	return credential.KindTicket + ":" + ticketType
}
