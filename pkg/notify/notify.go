package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/log"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

type Config struct {
	URL   string `json:"NOTIFY_URL"`
	Token string `json:"NOTIFY_TOKEN" secret:"true"`
	// Channel - default slack
	Channel   string   `json:"NOTIFY_CHANNEL" default:"slack"`
	Receivers []string `json:"NOTIFY_RECEIVERS"`
	// Interval between two alerts with the same key - default 5m
	Interval time.Duration `json:"NOTIFY_INTERVAL" default:"5m"`
}

func (c *Config) Enabled() bool {
	return c.URL != "" && len(c.Receivers) > 0
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.URL, is.URL),
		validation.Field(&c.Channel, validation.When(c.Enabled(), validation.Required)),
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
	)
}

type Service struct {
	url       string
	token     string
	channel   string
	receivers []string
	interval  time.Duration

	cli   *http.Client
	clock clock.Clock
	l     log.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewNotifyService creates new notification service
func NewNotifyService(l log.Logger, cfg Config, cli *http.Client, c clock.Clock) *Service {
	if cli == nil {
		cli = http.DefaultClient
	}
	if c == nil {
		c = clock.System()
	}

	return &Service{
		url:       cfg.URL,
		token:     cfg.Token,
		channel:   cfg.Channel,
		receivers: cfg.Receivers,
		interval:  cfg.Interval,
		cli:       cli,
		clock:     c,
		l:         l,
		sent:      make(map[string]time.Time),
	}
}

type notifyMessage struct {
	Receivers map[string][]string `json:"receivers"`
	Text      string              `json:"text"`
}

// SendNotification sends notification to receivers via ids in their nets
// Example:
// ["slack"]["1", "2", "3"]
// ["telegram"]["1", "2", "3"]
func (s *Service) SendNotification(ctx context.Context, receivers map[string][]string, message string) ([]byte, error) {
	msg, err := json.Marshal(notifyMessage{
		Receivers: receivers,
		Text:      message,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(msg))
	if err != nil {
		return nil, errors.Wrap(err, "create notification request")
	}

	req.Header.Set("Content-type", "application/json")
	req.Header.Set("X-API-TOKEN", s.token)

	resp, err := s.cli.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request notification service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read notification service response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("notification service responded with status %d", resp.StatusCode)
	}

	return body, nil
}

// Alert sends message to the configured receivers at most once per interval for the same key.
// Returns false when the alert was throttled.
func (s *Service) Alert(ctx context.Context, key, message string) (bool, error) {
	if s.url == "" || len(s.receivers) == 0 {
		return false, nil
	}

	now := s.clock.Now()

	s.mu.Lock()
	if last, ok := s.sent[key]; ok && now.Sub(last) < s.interval {
		s.mu.Unlock()
		return false, nil
	}
	s.sent[key] = now
	s.mu.Unlock()

	if _, err := s.SendNotification(ctx, map[string][]string{s.channel: s.receivers}, message); err != nil {
		s.l.Errorf("failed to send alert %q: %v", key, err)
		return true, err
	}

	return true, nil
}
