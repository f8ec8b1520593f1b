package credential

import (
	"context"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	// Identity is the application id issued by the authority
	Identity string
	Secret   string
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// Manager hands out credentials that are valid at the moment of return.
//
// The store is the source of truth on every call. Concurrent refreshes of one credential
// inside a process share a single fetch.
type Manager struct {
	logger log.Logger
	config Config

	fetcher Fetcher
	store   Store
	clock   clock.Clock

	observer  Observer
	publisher Publisher

	// ensures and forced refreshes never share a flight
	flight        singleflight.Group
	refreshFlight singleflight.Group
}

func NewManager(logger log.Logger, cfg Config, fetcher Fetcher, store Store, opts ...Option) (*Manager, error) {
	switch {
	case cfg.Identity == "":
		return nil, &ConfigurationError{Field: "identity", Reason: "is required"}
	case cfg.Secret == "":
		return nil, &ConfigurationError{Field: "secret", Reason: "is required"}
	case fetcher == nil:
		return nil, &ConfigurationError{Field: "fetcher", Reason: "is not configured"}
	case store == nil:
		return nil, &ConfigurationError{Field: "store", Reason: "is not configured"}
	}

	if logger == nil {
		logger = log.NewNop()
	}

	m := &Manager{
		logger:  logger.With("identity", cfg.Identity),
		config:  cfg,
		fetcher: fetcher,
		store:   store,
		clock:   clock.System(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Identity returns the application id the manager fetches credentials for
func (m *Manager) Identity() string {
	return m.config.Identity
}

// Clock returns the time source used for validity checks
func (m *Manager) Clock() clock.Clock {
	return m.clock
}

// EnsureAccessToken returns the cached token when it is still valid, otherwise fetches a
// new one and writes it back to the store.
func (m *Manager) EnsureAccessToken(ctx context.Context) (AccessToken, error) {
	token, ok, err := m.cachedAccessToken(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	if ok {
		m.observeHit(KindAccessToken)
		return token, nil
	}

	return m.shared(ctx, &m.flight, KindAccessToken, func(ctx context.Context) (interface{}, error) {
		// another goroutine or process may have refreshed while we waited
		token, ok, err := m.cachedAccessToken(ctx)
		if err != nil {
			return AccessToken{}, err
		}
		if ok {
			return token, nil
		}

		return m.fetchAccessToken(ctx)
	}).accessToken()
}

// RefreshAccessToken fetches a new token regardless of the cached one
func (m *Manager) RefreshAccessToken(ctx context.Context) (AccessToken, error) {
	return m.shared(ctx, &m.refreshFlight, KindAccessToken, func(ctx context.Context) (interface{}, error) {
		return m.fetchAccessToken(ctx)
	}).accessToken()
}

// EnsureTicket returns a valid ticket of the given type. Issuing a ticket needs a valid
// access token, which is ensured first.
func (m *Manager) EnsureTicket(ctx context.Context, ticketType string) (Ticket, error) {
	if ticketType == "" {
		return Ticket{}, &TicketTypeError{Message: "ticket type is empty"}
	}

	ticket, ok, err := m.cachedTicket(ctx, ticketType)
	if err != nil {
		return Ticket{}, err
	}
	if ok {
		m.observeHit(KindTicket)
		return ticket, nil
	}

	return m.shared(ctx, &m.flight, ticketFlightKey(ticketType), func(ctx context.Context) (interface{}, error) {
		ticket, ok, err := m.cachedTicket(ctx, ticketType)
		if err != nil {
			return Ticket{}, err
		}
		if ok {
			return ticket, nil
		}

		return m.fetchTicket(ctx, ticketType)
	}).ticket()
}

// RefreshTicket fetches a new ticket regardless of the cached one
func (m *Manager) RefreshTicket(ctx context.Context, ticketType string) (Ticket, error) {
	if ticketType == "" {
		return Ticket{}, &TicketTypeError{Message: "ticket type is empty"}
	}

	return m.shared(ctx, &m.refreshFlight, ticketFlightKey(ticketType), func(ctx context.Context) (interface{}, error) {
		return m.fetchTicket(ctx, ticketType)
	}).ticket()
}

func (m *Manager) cachedAccessToken(ctx context.Context) (AccessToken, bool, error) {
	token, ok, err := m.store.GetAccessToken(ctx)
	if err != nil {
		return AccessToken{}, false, wrapStoreError("get", KindAccessToken, err)
	}
	if !ok || !token.IsValid(m.clock.Now()) {
		return AccessToken{}, false, nil
	}

	return token, true, nil
}

func (m *Manager) cachedTicket(ctx context.Context, ticketType string) (Ticket, bool, error) {
	cached, ok, err := m.store.GetTicket(ctx, ticketType)
	if err != nil {
		return Ticket{}, false, wrapStoreError("get", ticketFlightKey(ticketType), err)
	}
	if !ok {
		return Ticket{}, false, nil
	}

	// a cache hit is rebuilt and checked again, an expired entry is never handed out
	ticket := Ticket{
		Value:     cached.Value,
		Type:      ticketType,
		ExpiresAt: cached.ExpiresAt,
	}
	if !ticket.IsValid(m.clock.Now()) {
		return Ticket{}, false, nil
	}

	return ticket, true, nil
}

func (m *Manager) fetchAccessToken(ctx context.Context) (AccessToken, error) {
	started := time.Now()
	token, err := m.fetcher.FetchAccessToken(ctx, m.config.Identity, m.config.Secret)
	m.observeFetch(KindAccessToken, time.Since(started), err)
	if err != nil {
		return AccessToken{}, err
	}
	if !token.IsValid(m.clock.Now()) {
		return AccessToken{}, &AuthorityError{Op: "token", Message: "issued access token is already expired"}
	}

	if err := m.store.PutAccessToken(ctx, token); err != nil {
		return AccessToken{}, wrapStoreError("put", KindAccessToken, err)
	}

	m.logger.Debugf("access token refreshed, expires at %s", token.ExpiresAt.Format(time.RFC3339))
	m.publish(ctx, RefreshEvent{
		Identity:  m.config.Identity,
		Kind:      KindAccessToken,
		ExpiresAt: token.ExpiresAt,
		FetchedAt: m.clock.Now(),
	})

	return token, nil
}

func (m *Manager) fetchTicket(ctx context.Context, ticketType string) (Ticket, error) {
	token, err := m.EnsureAccessToken(ctx)
	if err != nil {
		return Ticket{}, err
	}

	started := time.Now()
	ticket, err := m.fetcher.FetchTicket(ctx, token.Value, ticketType)
	m.observeFetch(KindTicket, time.Since(started), err)
	if err != nil {
		return Ticket{}, err
	}
	ticket.Type = ticketType
	if !ticket.IsValid(m.clock.Now()) {
		return Ticket{}, &AuthorityError{Op: "ticket", Message: "issued ticket is already expired"}
	}

	if err := m.store.PutTicket(ctx, ticketType, ticket); err != nil {
		return Ticket{}, wrapStoreError("put", ticketFlightKey(ticketType), err)
	}

	m.logger.Debugf("%s ticket refreshed, expires at %s", ticketType, ticket.ExpiresAt.Format(time.RFC3339))
	m.publish(ctx, RefreshEvent{
		Identity:   m.config.Identity,
		Kind:       KindTicket,
		TicketType: ticketType,
		ExpiresAt:  ticket.ExpiresAt,
		FetchedAt:  m.clock.Now(),
	})

	return ticket, nil
}

type flightResult struct {
	val interface{}
	err error
}

func (r flightResult) accessToken() (AccessToken, error) {
	if r.err != nil {
		return AccessToken{}, r.err
	}
	return r.val.(AccessToken), nil
}

func (r flightResult) ticket() (Ticket, error) {
	if r.err != nil {
		return Ticket{}, r.err
	}
	return r.val.(Ticket), nil
}

// shared runs fn once per key for all concurrent callers.
//
// The flight is detached from the caller that started it, so one caller giving up does not
// fail the others; every caller still stops waiting when its own context is done.
func (m *Manager) shared(ctx context.Context, group *singleflight.Group, key string, fn func(ctx context.Context) (interface{}, error)) flightResult {
	flightCtx := context.WithoutCancel(ctx)

	ch := group.DoChan(key, func() (interface{}, error) {
		return fn(flightCtx)
	})

	select {
	case res := <-ch:
		return flightResult{val: res.Val, err: res.Err}
	case <-ctx.Done():
		return flightResult{err: ctx.Err()}
	}
}

func (m *Manager) observeHit(kind string) {
	if m.observer != nil {
		m.observer.ObserveCacheHit(kind)
	}
}

func (m *Manager) observeFetch(kind string, d time.Duration, err error) {
	if m.observer != nil {
		m.observer.ObserveFetch(kind, d, err)
	}
}

func (m *Manager) publish(ctx context.Context, event RefreshEvent) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.PublishRefresh(ctx, event); err != nil {
		m.logger.Errorf("failed to publish %s refresh event: %v", event.Kind, err)
	}
}

func ticketFlightKey(ticketType string) string {
	return KindTicket + ":" + ticketType
}

func wrapStoreError(op, key string, err error) error {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Key: key, Err: err}
}
