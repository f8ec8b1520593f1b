// Package memstore is the in-process credential store. It is the default for a single
// instance and the reference the shared backends are tested against.
package memstore

import (
	"context"
	"sync"

	"github.com/muzin/wechatapi-sub000/pkg/credential"
)

type Store struct {
	mu      sync.RWMutex
	token   *credential.AccessToken
	tickets map[string]credential.Ticket
}

func New() *Store {
	return &Store{
		tickets: make(map[string]credential.Ticket),
	}
}

func (s *Store) GetAccessToken(_ context.Context) (credential.AccessToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == nil {
		return credential.AccessToken{}, false, nil
	}
	return *s.token, true, nil
}

func (s *Store) PutAccessToken(_ context.Context, token credential.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = &token
	return nil
}

func (s *Store) GetTicket(_ context.Context, ticketType string) (credential.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[ticketType]
	return t, ok, nil
}

func (s *Store) PutTicket(_ context.Context, ticketType string, ticket credential.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket.Type = ticketType
	s.tickets[ticketType] = ticket
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}
