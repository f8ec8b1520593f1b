package authority_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/authority"
	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthority(t *testing.T, handler http.HandlerFunc) (*authority.Client, *atomic.Int32) {
	t.Helper()

	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := authority.New(log.NewNop(), authority.Config{BaseURL: srv.URL + "/", Timeout: time.Second}, nil, clock.NewMock(time.Unix(1000, 0)))
	return c, calls
}

func TestFetchAccessToken(t *testing.T) {
	c, calls := newAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/cgi-bin/token", r.URL.Path)
		assert.Equal(t, "client_credential", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "wx1", r.URL.Query().Get("appid"))
		assert.Equal(t, "s1", r.URL.Query().Get("secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT1","expires_in":7200}`))
	})

	token, err := c.FetchAccessToken(context.Background(), "wx1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "AT1", token.Value)
	assert.Equal(t, int64(8190), token.ExpiresAt.Unix())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchAccessToken_Failures(t *testing.T) {
	tt := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{name: "authority error code", status: http.StatusOK, body: `{"errcode":40013,"errmsg":"invalid appid"}`, code: 40013},
		{name: "http status", status: http.StatusBadGateway, body: `oops`, code: http.StatusBadGateway},
		{name: "malformed json", status: http.StatusOK, body: `{"access_token":`},
		{name: "missing token", status: http.StatusOK, body: `{"expires_in":7200}`},
		{name: "missing expiry", status: http.StatusOK, body: `{"access_token":"AT1"}`},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			c, calls := newAuthority(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := c.FetchAccessToken(context.Background(), "wx1", "s1")
			require.Error(t, err)

			var authErr *credential.AuthorityError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tc.code, authErr.Code)
			assert.Equal(t, "token", authErr.Op)
			assert.Equal(t, int32(1), calls.Load(), "exactly one round trip")
		})
	}
}

func TestFetchAccessToken_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := authority.New(nil, authority.Config{BaseURL: srv.URL}, nil, nil)
	_, err := c.FetchAccessToken(context.Background(), "wx1", "s1")
	require.Error(t, err)
	assert.True(t, credential.IsAuthorityError(err))
}

func TestFetchAccessToken_MissingCredentials(t *testing.T) {
	c, calls := newAuthority(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.FetchAccessToken(context.Background(), "", "s1")
	require.Error(t, err)
	assert.True(t, credential.IsConfigurationError(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestFetchAccessToken_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	c, _ := newAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FetchAccessToken(ctx, "wx1", "s1")
	require.Error(t, err)
	assert.True(t, credential.IsContextError(err))
}

func TestFetchTicket(t *testing.T) {
	c, _ := newAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/ticket/getticket", r.URL.Path)
		assert.Equal(t, "AT1", r.URL.Query().Get("access_token"))

		switch r.URL.Query().Get("type") {
		case "jsapi":
			_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","ticket":"T1","expires_in":7200}`))
		case "bogus":
			_, _ = w.Write([]byte(`{"errcode":40097,"errmsg":"invalid args"}`))
		default:
			_, _ = w.Write([]byte(`{"errcode":40001,"errmsg":"invalid credential"}`))
		}
	})
	ctx := context.Background()

	ticket, err := c.FetchTicket(ctx, "AT1", "jsapi")
	require.NoError(t, err)
	assert.Equal(t, credential.Ticket{Value: "T1", Type: "jsapi", ExpiresAt: time.Unix(8190, 0)}, ticket)

	_, err = c.FetchTicket(ctx, "AT1", "bogus")
	var typeErr *credential.TicketTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "bogus", typeErr.TicketType)
	assert.Equal(t, 40097, typeErr.Code)

	_, err = c.FetchTicket(ctx, "AT1", "wx_card")
	var authErr *credential.AuthorityError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 40001, authErr.Code)

	_, err = c.FetchTicket(ctx, "AT1", "")
	assert.True(t, credential.IsTicketTypeError(err))

	_, err = c.FetchTicket(ctx, "", "jsapi")
	assert.True(t, credential.IsConfigurationError(err))
}

func TestConfigValidate(t *testing.T) {
	cfg := authority.Config{BaseURL: "https://api.weixin.qq.com", Timeout: time.Second}
	require.NoError(t, cfg.Validate())

	cfg.BaseURL = ""
	require.Error(t, cfg.Validate())
}
