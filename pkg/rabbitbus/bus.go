package rabbitbus

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	mq "github.com/rabbitmq/amqp091-go"
)

type Service struct {
	logger log.Logger
	config Config

	conn *mq.Connection

	mu sync.RWMutex
}

type Config struct {
	// Enabled - default false, refresh events and invalidation commands are off
	Enabled  bool   `json:"RABBIT_ENABLED"`
	User     string `json:"RABBIT_USER" secret:"true"`
	Pass     string `json:"RABBIT_PASS" secret:"true"`
	IsSecure bool   `json:"RABBIT_IS_SECURE"`
	// EventsExchange receives a message after every credential refresh - default credentials.events
	EventsExchange string `json:"RABBIT_EVENTS_EXCHANGE" default:"credentials.events"`
	// InvalidateQueue delivers invalidation commands - default credentials.invalidate
	InvalidateQueue string `json:"RABBIT_INVALIDATE_QUEUE" default:"credentials.invalidate"`
	// For local development
	Addr string `json:"RABBIT_ADDR"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	return validation.ValidateStruct(
		c,
		validation.Field(&c.User, validation.Required),
		validation.Field(&c.Pass, validation.Required),
		validation.Field(&c.EventsExchange, validation.Required),
		validation.Field(&c.InvalidateQueue, validation.Required),
	)
}

func (c *Config) getDSN(addr string) string {
	scheme := "amqp"
	if c.IsSecure {
		scheme = "amqps"
	}

	return fmt.Sprintf("%s://%s:%s@%s", scheme, c.User, c.Pass, addr)
}

func dial(c Config, addr string) (*mq.Connection, error) {
	if c.IsSecure {
		return mq.DialTLS(c.getDSN(addr), &tls.Config{
			InsecureSkipVerify: true,
		})
	}
	return mq.Dial(c.getDSN(addr))
}

func NewBus(logger log.Logger, c Config, addr string) (*Service, error) {
	logger.Info("opening rabbitmq connection")

	conn, err := dial(c, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "open rabbitmq connection to %s", addr)
	}

	return &Service{
		logger: logger,
		config: c,
		conn:   conn,
	}, nil
}

func (s *Service) NewRabbitMQConnection(c Config, addr string) error {
	s.logger.Info("opening new rabbitmq connection instead of the old one")
	conn, err := dial(c, addr)
	if err != nil {
		return errors.Wrapf(err, "open rabbitmq connection to %s", addr)
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.config = c
	s.mu.Unlock()

	if old != nil && !old.IsClosed() {
		if err := old.Close(); err != nil {
			s.logger.Warnf("failed to close previous rabbitmq connection: %v", err)
		}
	}

	return nil
}

func (s *Service) channel() (*mq.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil, errors.New("rabbitmq connection is not opened")
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open rabbitmq channel")
	}
	return ch, nil
}

// DeclareTopology declares the events exchange and the invalidation queue
func (s *Service) DeclareTopology() error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	s.mu.RLock()
	cfg := s.config
	s.mu.RUnlock()

	if err := ch.ExchangeDeclare(cfg.EventsExchange, mq.ExchangeTopic, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare exchange %s", cfg.EventsExchange)
	}

	if _, err := ch.QueueDeclare(cfg.InvalidateQueue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %s", cfg.InvalidateQueue)
	}

	return nil
}

func (s *Service) CloseRabbitMQConnection() error {
	s.logger.Info("closing rabbitmq connection")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}

	return s.conn.Close()
}
