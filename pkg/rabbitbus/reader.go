package rabbitbus

import (
	"context"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/pkg/errors"
	mq "github.com/rabbitmq/amqp091-go"
)

type Reader struct {
	queue    string
	consumer string

	ch *mq.Channel

	m chan Message

	stop chan struct{}

	logger log.Logger
}

func (s *Service) NewReader(ctx context.Context, queueName, consumerName string) (*Reader, error) {
	ch, err := s.channel()
	if err != nil {
		return nil, err
	}

	d, err := ch.Consume(queueName, consumerName, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "consume from queue %s", queueName)
	}

	r := &Reader{
		queue:    queueName,
		consumer: consumerName,
		ch:       ch,
		m:        make(chan Message),
		stop:     make(chan struct{}, 1),
		logger:   s.logger,
	}

	// starting rabbitmq reader
	go r.read(ctx, d)

	return r, nil
}

// Message is one delivery, it must be acked or nacked
type Message struct {
	body []byte
	d    Delivery
}

// Delivery is the part of amqp delivery the reader relies on
type Delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// NewMessage wraps a delivery body
func NewMessage(body []byte, d Delivery) Message {
	return Message{body: body, d: d}
}

func (r *Reader) read(ctx context.Context, d <-chan mq.Delivery) {
	defer close(r.m)
	defer r.ch.Close()

	for {
		select {
		case m, ok := <-d:
			if !ok {
				r.logger.Warn("rabbitmq delivery channel closed")
				return
			}
			select {
			case r.m <- NewMessage(m.Body, m):
			case <-ctx.Done():
				_ = m.Nack(false, true)
				return
			}
		case <-r.stop:
			r.logger.Info("stop reading from channel do to manual stop")
			return
		case <-ctx.Done():
			r.logger.Info("stop reading from channel do to exit by context")
			return
		}
	}
}

// ReceiveMsg is closed when the reader stops
func (r *Reader) ReceiveMsg() <-chan Message {
	return r.m
}

// Stop stops reading messages from channel and closes channel
func (r *Reader) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

// Read Get Message data
func (m Message) Read() []byte {
	return m.body
}

// Ack acknowledge to rabbit that message was processed
func (m Message) Ack() error {
	return m.d.Ack(false)
}

// Nack declines msg from rabbit and request it to process it again by another consumer
func (m Message) Nack() error {
	return m.d.Nack(false, true)
}

// Reject drops a message that can never be processed
func (m Message) Reject() error {
	return m.d.Nack(false, false)
}
