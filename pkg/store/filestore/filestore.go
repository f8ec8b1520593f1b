// Package filestore keeps each credential as a small JSON file in one directory.
//
// Writes go to a temp file renamed over the target, so a reader in another process never
// sees a partial record. With a key configured the record is sealed with secretbox.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrSealed = errors.New("record cannot be opened with the configured key")

type Config struct {
	Dir string `json:"STORE_FILE_DIR" default:"./credentials"`
	// Key is 64 hex chars; records are stored in clear when empty
	Key string `json:"STORE_FILE_KEY" secret:"true"`
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Key, validation.When(c.Key != "", validation.Length(keySize*2, keySize*2))),
	)
}

type Store struct {
	namespace string
	dir       string
	key       *[keySize]byte

	mu sync.RWMutex
}

func New(namespace string, cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create credential dir")
	}

	s := &Store{
		namespace: namespace,
		dir:       cfg.Dir,
	}

	if cfg.Key != "" {
		raw, err := hex.DecodeString(cfg.Key)
		if err != nil || len(raw) != keySize {
			return nil, &credential.ConfigurationError{Field: "STORE_FILE_KEY", Reason: "must be 32 bytes hex encoded"}
		}
		s.key = new([keySize]byte)
		copy(s.key[:], raw)
	}

	return s, nil
}

func (s *Store) GetAccessToken(_ context.Context) (credential.AccessToken, bool, error) {
	r, ok, err := s.read(store.AccessTokenKey(s.namespace))
	if err != nil || !ok {
		return credential.AccessToken{}, false, err
	}
	return r.AccessToken(), true, nil
}

func (s *Store) PutAccessToken(_ context.Context, token credential.AccessToken) error {
	return s.write(store.AccessTokenKey(s.namespace), store.FromAccessToken(token))
}

func (s *Store) GetTicket(_ context.Context, ticketType string) (credential.Ticket, bool, error) {
	r, ok, err := s.read(store.TicketKey(s.namespace, ticketType))
	if err != nil || !ok {
		return credential.Ticket{}, false, err
	}
	return r.Ticket(ticketType), true, nil
}

func (s *Store) PutTicket(_ context.Context, ticketType string, ticket credential.Ticket) error {
	return s.write(store.TicketKey(s.namespace, ticketType), store.FromTicket(ticket))
}

// Ping checks the directory is still there
func (s *Store) Ping(_ context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

// path escapes the whole key, so distinct keys never share a file
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.QueryEscape(key)+".json")
}

func (s *Store) read(key string) (store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, &credential.StoreError{Op: "get", Key: key, Err: err}
	}

	if s.key != nil {
		if data, err = s.open(data); err != nil {
			return store.Record{}, false, &credential.StoreError{Op: "get", Key: key, Err: err}
		}
	}

	r, err := store.Decode(data)
	if err != nil {
		return store.Record{}, false, &credential.StoreError{Op: "get", Key: key, Err: err}
	}

	return r, true, nil
}

func (s *Store) write(key string, r store.Record) error {
	data, err := store.Encode(r)
	if err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}

	if s.key != nil {
		if data, err = s.seal(data); err != nil {
			return &credential.StoreError{Op: "put", Key: key, Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}

	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return &credential.StoreError{Op: "put", Key: key, Err: err}
	}

	return nil
}

// seal prepends the random nonce to the box
func (s *Store) seal(data []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}

	return secretbox.Seal(nonce[:], data, &nonce, s.key), nil
}

func (s *Store) open(data []byte) ([]byte, error) {
	if len(data) < nonceSize+secretbox.Overhead {
		return nil, ErrSealed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])

	out, ok := secretbox.Open(nil, data[nonceSize:], &nonce, s.key)
	if !ok {
		return nil, ErrSealed
	}
	return out, nil
}
