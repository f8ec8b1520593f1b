// Package events carries credential lifecycle messages over the broker: refresh
// notifications out, invalidation commands in.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/rabbitbus"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ExchangeWriter interface {
	WriteToExchange(ctx context.Context, exchangeName, routingKey string, data []byte) error
}

type Publisher struct {
	w        ExchangeWriter
	exchange string
}

func NewPublisher(w ExchangeWriter, exchange string) *Publisher {
	return &Publisher{w: w, exchange: exchange}
}

type refreshMessage struct {
	ID string `json:"id"`
	credential.RefreshEvent
}

// RoutingKey is credential.<kind>[.<ticket type>]
func RoutingKey(e credential.RefreshEvent) string {
	parts := []string{"credential", e.Kind}
	if e.TicketType != "" {
		parts = append(parts, e.TicketType)
	}
	return strings.Join(parts, ".")
}

// PublishRefresh never carries the credential value
func (p *Publisher) PublishRefresh(ctx context.Context, e credential.RefreshEvent) error {
	data, err := json.Marshal(refreshMessage{ID: uuid.NewString(), RefreshEvent: e})
	if err != nil {
		return errors.Wrap(err, "marshal refresh event")
	}

	if err := p.w.WriteToExchange(ctx, p.exchange, RoutingKey(e), data); err != nil {
		return errors.Wrapf(err, "publish refresh event to %s", p.exchange)
	}
	return nil
}

// Invalidation asks the service to drop its cached credential and fetch a new one
type Invalidation struct {
	Kind       string `json:"kind"`
	TicketType string `json:"ticket_type,omitempty"`
}

func (i *Invalidation) Validate() error {
	return validation.ValidateStruct(
		i,
		validation.Field(&i.Kind, validation.Required, validation.In(credential.KindAccessToken, credential.KindTicket)),
		validation.Field(&i.TicketType, validation.When(i.Kind == credential.KindTicket, validation.Required)),
	)
}

type Refresher interface {
	RefreshAccessToken(ctx context.Context) (credential.AccessToken, error)
	RefreshTicket(ctx context.Context, ticketType string) (credential.Ticket, error)
}

// Apply refreshes the credential named by the invalidation and returns its new expiry
func Apply(ctx context.Context, r Refresher, inv Invalidation) (time.Time, error) {
	if err := inv.Validate(); err != nil {
		return time.Time{}, err
	}

	if inv.Kind == credential.KindAccessToken {
		token, err := r.RefreshAccessToken(ctx)
		return token.ExpiresAt, err
	}

	ticket, err := r.RefreshTicket(ctx, inv.TicketType)
	return ticket.ExpiresAt, err
}

type Consumer struct {
	logger    log.Logger
	refresher Refresher
}

func NewConsumer(logger log.Logger, r Refresher) *Consumer {
	return &Consumer{logger: logger, refresher: r}
}

// Run handles messages until ctx is done or msgs is closed. A message that
// fails is rejected, the sender owns the retry.
func (c *Consumer) Run(ctx context.Context, msgs <-chan rabbitbus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(ctx, m)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m rabbitbus.Message) {
	var inv Invalidation
	if err := json.Unmarshal(m.Read(), &inv); err != nil {
		c.logger.Errorf("bad invalidation message: %v", err)
		c.reject(m)
		return
	}

	expiresAt, err := Apply(ctx, c.refresher, inv)
	if err != nil {
		c.logger.Errorf("invalidate %s %s: %v", inv.Kind, inv.TicketType, err)
		c.reject(m)
		return
	}

	c.logger.Infof("invalidated %s %s, new credential expires at %s", inv.Kind, inv.TicketType, expiresAt.Format(time.RFC3339))

	if err := m.Ack(); err != nil {
		c.logger.Errorf("failed to ack invalidation message: %v", err)
	}
}

func (c *Consumer) reject(m rabbitbus.Message) {
	if err := m.Reject(); err != nil {
		c.logger.Errorf("failed to reject invalidation message: %v", err)
	}
}
