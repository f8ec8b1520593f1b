// Package authority talks to the remote credential authority: it exchanges the app
// identity and secret for an access token, and an access token for typed tickets.
package authority

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/log"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.weixin.qq.com"
	DefaultTimeout = 10 * time.Second

	tokenPath  = "/cgi-bin/token"
	ticketPath = "/cgi-bin/ticket/getticket"

	// codeInvalidArgs is returned for a ticket type the authority does not know
	codeInvalidArgs = 40097

	maxBodySize = 1 << 20
)

type Config struct {
	// BaseURL - default https://api.weixin.qq.com
	BaseURL string `json:"AUTHORITY_BASE_URL" default:"https://api.weixin.qq.com"`
	// Timeout bounds one round trip - default 10s
	Timeout time.Duration `json:"AUTHORITY_TIMEOUT" default:"10s"`
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

type Client struct {
	logger  log.Logger
	baseURL string
	cli     *http.Client
	clock   clock.Clock
}

// New creates authority client. A nil http client gets one with the configured timeout.
func New(logger log.Logger, cfg Config, cli *http.Client, c clock.Clock) *Client {
	if logger == nil {
		logger = log.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cli == nil {
		cli = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if c == nil {
		c = clock.System()
	}

	return &Client{
		logger:  logger,
		baseURL: baseURL,
		cli:     cli,
		clock:   c,
	}
}

type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type ticketResponse struct {
	ErrCode   int    `json:"errcode"`
	ErrMsg    string `json:"errmsg"`
	Ticket    string `json:"ticket"`
	ExpiresIn int64  `json:"expires_in"`
}

// FetchAccessToken exchanges identity and secret for a new access token
func (c *Client) FetchAccessToken(ctx context.Context, identity, secret string) (credential.AccessToken, error) {
	if identity == "" || secret == "" {
		return credential.AccessToken{}, &credential.ConfigurationError{Field: "identity/secret", Reason: "is required"}
	}

	query := url.Values{}
	query.Set("grant_type", "client_credential")
	query.Set("appid", identity)
	query.Set("secret", secret)

	var resp tokenResponse
	fetchedAt, err := c.get(ctx, "token", tokenPath, query, &resp)
	if err != nil {
		return credential.AccessToken{}, err
	}

	if resp.ErrCode != 0 {
		return credential.AccessToken{}, &credential.AuthorityError{Op: "token", Code: resp.ErrCode, Message: resp.ErrMsg}
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return credential.AccessToken{}, &credential.AuthorityError{Op: "token", Message: "response lacks access_token or expires_in"}
	}

	return credential.AccessToken{
		Value:     resp.AccessToken,
		ExpiresAt: credential.ExpiresAt(fetchedAt, resp.ExpiresIn),
	}, nil
}

// FetchTicket exchanges an access token for a ticket of the given type
func (c *Client) FetchTicket(ctx context.Context, accessToken, ticketType string) (credential.Ticket, error) {
	if ticketType == "" {
		return credential.Ticket{}, &credential.TicketTypeError{Message: "ticket type is empty"}
	}
	if accessToken == "" {
		return credential.Ticket{}, &credential.ConfigurationError{Field: "access token", Reason: "is required for ticket exchange"}
	}

	query := url.Values{}
	query.Set("access_token", accessToken)
	query.Set("type", ticketType)

	var resp ticketResponse
	fetchedAt, err := c.get(ctx, "ticket", ticketPath, query, &resp)
	if err != nil {
		return credential.Ticket{}, err
	}

	switch {
	case resp.ErrCode == codeInvalidArgs:
		return credential.Ticket{}, &credential.TicketTypeError{TicketType: ticketType, Code: resp.ErrCode, Message: resp.ErrMsg}
	case resp.ErrCode != 0:
		return credential.Ticket{}, &credential.AuthorityError{Op: "ticket", Code: resp.ErrCode, Message: resp.ErrMsg}
	case resp.Ticket == "" || resp.ExpiresIn <= 0:
		return credential.Ticket{}, &credential.AuthorityError{Op: "ticket", Message: "response lacks ticket or expires_in"}
	}

	return credential.Ticket{
		Value:     resp.Ticket,
		Type:      ticketType,
		ExpiresAt: credential.ExpiresAt(fetchedAt, resp.ExpiresIn),
	}, nil
}

// get performs one request and decodes the body into dst. The returned time is taken
// before the request is sent so the computed expiry errs on the early side.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, dst interface{}) (time.Time, error) {
	reqURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return time.Time{}, &credential.AuthorityError{Op: op, Err: errors.Wrap(err, "failed to create request")}
	}
	req.Header.Set("Accept", "application/json")

	fetchedAt := c.clock.Now()

	resp, err := c.cli.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		return time.Time{}, &credential.AuthorityError{Op: op, Err: errors.Wrap(err, "request failed")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return time.Time{}, &credential.AuthorityError{Op: op, Err: errors.Wrap(err, "failed to read response body")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return time.Time{}, &credential.AuthorityError{
			Op:      op,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("unexpected http status: %s", strings.TrimSpace(string(body))),
		}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return time.Time{}, &credential.AuthorityError{Op: op, Err: errors.Wrap(err, "malformed response")}
	}

	c.logger.Debugf("authority %s exchange done in %s", op, c.clock.Now().Sub(fetchedAt))

	return fetchedAt, nil
}
