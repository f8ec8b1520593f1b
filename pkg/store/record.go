// Package store holds what the credential store backends share: key naming and the
// JSON record each credential is persisted as.
package store

import (
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/credential"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const DefaultNamespace = "default"

// Record is the persisted form of one credential
type Record struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AccessTokenKey - "<namespace>:access_token"
func AccessTokenKey(namespace string) string {
	return ns(namespace) + ":" + credential.KindAccessToken
}

// TicketKey - "<namespace>:ticket:<type>"
func TicketKey(namespace, ticketType string) string {
	return ns(namespace) + ":" + credential.KindTicket + ":" + ticketType
}

func ns(namespace string) string {
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}

func FromAccessToken(t credential.AccessToken) Record {
	return Record{Value: t.Value, ExpiresAt: t.ExpiresAt}
}

func FromTicket(t credential.Ticket) Record {
	return Record{Value: t.Value, ExpiresAt: t.ExpiresAt}
}

func (r Record) AccessToken() credential.AccessToken {
	return credential.AccessToken{Value: r.Value, ExpiresAt: r.ExpiresAt}
}

func (r Record) Ticket(ticketType string) credential.Ticket {
	return credential.Ticket{Value: r.Value, Type: ticketType, ExpiresAt: r.ExpiresAt}
}

func Encode(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, errors.Wrap(err, "decode credential record")
	}
	return r, nil
}
