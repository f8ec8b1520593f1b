package credential

import (
	"context"
	"time"
)

// SafetyMargin is subtracted from the authority's declared lifetime so a credential
// never expires while a request signed with it is in flight.
const SafetyMargin = 10 * time.Second

const (
	TicketTypeJsAPI  = "jsapi"
	TicketTypeWxCard = "wx_card"
)

const (
	KindAccessToken = "access_token"
	KindTicket      = "ticket"
)

type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// IsValid reports whether the token is usable at now
func (t AccessToken) IsValid(now time.Time) bool {
	return isValid(t.Value, t.ExpiresAt, now)
}

type Ticket struct {
	Value     string
	Type      string
	ExpiresAt time.Time
}

func (t Ticket) IsValid(now time.Time) bool {
	return isValid(t.Value, t.ExpiresAt, now)
}

func isValid(value string, expiresAt, now time.Time) bool {
	return value != "" && now.Before(expiresAt)
}

// ExpiresAt converts the authority's "seconds until expiry" into an absolute deadline
func ExpiresAt(fetchedAt time.Time, expiresIn int64) time.Time {
	return fetchedAt.Add(time.Duration(expiresIn)*time.Second - SafetyMargin)
}

// Store is the persistence contract for cached credentials.
//
// Get methods report absence with ok == false and a nil error. A shared store may be used by
// several managers at once; last write wins.
type Store interface {
	GetAccessToken(ctx context.Context) (token AccessToken, ok bool, err error)
	PutAccessToken(ctx context.Context, token AccessToken) error
	GetTicket(ctx context.Context, ticketType string) (ticket Ticket, ok bool, err error)
	PutTicket(ctx context.Context, ticketType string, ticket Ticket) error
}

// Fetcher performs one round trip to the remote authority per call
type Fetcher interface {
	FetchAccessToken(ctx context.Context, identity, secret string) (AccessToken, error)
	FetchTicket(ctx context.Context, accessToken, ticketType string) (Ticket, error)
}

// Observer receives cache and fetch outcomes, typically for metrics
type Observer interface {
	ObserveCacheHit(kind string)
	ObserveFetch(kind string, d time.Duration, err error)
}

// RefreshEvent is emitted after a credential was fetched from the authority
type RefreshEvent struct {
	Identity   string    `json:"identity"`
	Kind       string    `json:"kind"`
	TicketType string    `json:"ticket_type,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	FetchedAt  time.Time `json:"fetched_at"`
}

type Publisher interface {
	PublishRefresh(ctx context.Context, event RefreshEvent) error
}
