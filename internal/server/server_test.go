package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muzin/wechatapi-sub000/internal/config"
	"github.com/muzin/wechatapi-sub000/internal/server"
	"github.com/muzin/wechatapi-sub000/pkg/authority"
	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/signature"
	"github.com/muzin/wechatapi-sub000/pkg/store/memstore"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const officialTicket = "sM4AOVdWfPE4DxkXGEs8VMCPGGVi4C3VM0P37wVUCFvkVAy_90u5h9nbSlYy3-Sl-HhTdfl2fzFy1AOcHKP7qg"

// authorityServer answers like the remote authority: tokens for wx1/s1, tickets for AT1
type authorityServer struct {
	*httptest.Server

	tokenCalls  int32
	ticketCalls int32
	tokenBody   atomic.Value
}

func newAuthorityServer(t *testing.T) *authorityServer {
	t.Helper()

	a := &authorityServer{}
	a.tokenBody.Store(`{"access_token":"AT1","expires_in":7200}`)

	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&a.tokenCalls, 1)
		assert.Equal(t, "wx1", r.URL.Query().Get("appid"))
		assert.Equal(t, "s1", r.URL.Query().Get("secret"))
		_, _ = w.Write([]byte(a.tokenBody.Load().(string)))
	})
	mux.HandleFunc("/cgi-bin/ticket/getticket", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&a.ticketCalls, 1)
		assert.Equal(t, "AT1", r.URL.Query().Get("access_token"))

		switch r.URL.Query().Get("type") {
		case credential.TicketTypeJsAPI:
			_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","ticket":"` + officialTicket + `","expires_in":7200}`))
		case credential.TicketTypeWxCard:
			_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","ticket":"tick","expires_in":7200}`))
		default:
			_, _ = w.Write([]byte(`{"errcode":40097,"errmsg":"invalid args"}`))
		}
	})

	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)

	return a
}

type metrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *metrics) IncrementRequestsCount(query, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[query+" "+status]++
}

type alerter struct {
	messages []string
}

func (a *alerter) Alert(_ context.Context, key, message string) (bool, error) {
	a.messages = append(a.messages, key+": "+message)
	return true, nil
}

type env struct {
	authority *authorityServer
	clock     *clock.Mock
	metrics   *metrics
	alerter   *alerter
	handler   http.Handler
}

func newEnv(t *testing.T, now time.Time, store credential.Store, opts ...server.APIOption) *env {
	t.Helper()

	e := &env{
		authority: newAuthorityServer(t),
		clock:     clock.NewMock(now.UTC()),
		metrics:   &metrics{},
		alerter:   &alerter{},
	}

	if store == nil {
		store = memstore.New()
	}

	fetcher := authority.New(log.NewNop(), authority.Config{BaseURL: e.authority.URL}, e.authority.Client(), e.clock)
	manager, err := credential.NewManager(log.NewNop(), credential.Config{Identity: "wx1", Secret: "s1"}, fetcher, store, credential.WithClock(e.clock))
	require.NoError(t, err)

	signer := signature.NewSigner(e.clock)
	signer.Nonce = func() string { return "Wm3WZYTPz0wzccnW" }

	opts = append([]server.APIOption{server.WithMetrics(e.metrics), server.WithAlerter(e.alerter)}, opts...)
	e.handler = server.NewAPI(log.NewNop(), manager, signer, opts...).Router()

	return e
}

func (e *env) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func TestAccessToken(t *testing.T) {
	e := newEnv(t, time.Unix(1000, 0).UTC(), nil)

	rr := e.do(t, http.MethodGet, "/v1/access-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	res := decode(t, rr)
	assert.Equal(t, "AT1", res["access_token"])
	assert.Equal(t, time.Unix(8190, 0).UTC().Format(time.RFC3339), res["expires_at"])

	e.clock.Set(time.Unix(5000, 0))
	rr = e.do(t, http.MethodGet, "/v1/access-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&e.authority.tokenCalls))

	e.clock.Set(time.Unix(9000, 0))
	rr = e.do(t, http.MethodGet, "/v1/access-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&e.authority.tokenCalls))

	assert.Equal(t, 3, e.metrics.counts["/v1/access-token 200"])
}

func TestTicket(t *testing.T) {
	e := newEnv(t, time.Unix(1000, 0), nil)

	rr := e.do(t, http.MethodGet, "/v1/tickets/wx_card", "")
	require.Equal(t, http.StatusOK, rr.Code)

	res := decode(t, rr)
	assert.Equal(t, "tick", res["ticket"])
	assert.Equal(t, "wx_card", res["type"])

	rr = e.do(t, http.MethodGet, "/v1/tickets/unknown", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode(t, rr)["error"], "40097")

	assert.Equal(t, int32(1), atomic.LoadInt32(&e.authority.tokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&e.authority.ticketCalls))
	assert.Equal(t, 1, e.metrics.counts["/v1/tickets/{type} 200"])
	assert.Equal(t, 1, e.metrics.counts["/v1/tickets/{type} 400"])
	assert.Empty(t, e.alerter.messages)
}

func TestJsConfig(t *testing.T) {
	e := newEnv(t, time.Unix(1414587457, 0), nil)

	rr := e.do(t, http.MethodPost, "/v1/jsconfig", `{"url":"http://mp.weixin.qq.com?params=value#top"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	res := decode(t, rr)
	assert.Equal(t, "wx1", res["app_id"])
	assert.Equal(t, "1414587457", res["timestamp"])
	assert.Equal(t, "Wm3WZYTPz0wzccnW", res["nonce_str"])
	assert.Equal(t, "E38013746041040AA9A92D26DD0CF63B4491ED55", res["signature"])
}

func TestCardExtension(t *testing.T) {
	e := newEnv(t, time.Unix(1620000000, 0), nil)

	rr := e.do(t, http.MethodPost, "/v1/card-ext", `{"card_id":"card1"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	res := decode(t, rr)
	assert.Equal(t, "1620000000", res["timestamp"])
	assert.Equal(t, "A3D7D8F7263ABBA264279D587A54EFB396C43073", res["signature"])
}

func TestBadRequests(t *testing.T) {
	e := newEnv(t, time.Unix(1000, 0), nil)

	tt := []struct {
		name   string
		method string
		target string
		body   string
		code   int
	}{
		{name: "broken json", method: http.MethodPost, target: "/v1/jsconfig", body: `{"url":`, code: http.StatusBadRequest},
		{name: "empty url", method: http.MethodPost, target: "/v1/jsconfig", body: `{}`, code: http.StatusBadRequest},
		{name: "not url", method: http.MethodPost, target: "/v1/jsconfig", body: `{"url":"::not a url"}`, code: http.StatusBadRequest},
		{name: "card without id", method: http.MethodPost, target: "/v1/card-ext", body: `{"code":"1"}`, code: http.StatusBadRequest},
		{name: "invalidate unknown kind", method: http.MethodPost, target: "/v1/invalidate", body: `{"kind":"cookie"}`, code: http.StatusBadRequest},
		{name: "invalidate ticket without type", method: http.MethodPost, target: "/v1/invalidate", body: `{"kind":"ticket"}`, code: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, target: "/v1/jsconfig", code: http.StatusMethodNotAllowed},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			rr := e.do(t, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.code, rr.Code)
		})
	}

	assert.Zero(t, atomic.LoadInt32(&e.authority.tokenCalls))
}

func TestAuthorityFailure(t *testing.T) {
	e := newEnv(t, time.Unix(1000, 0), nil)
	e.authority.tokenBody.Store(`{"errcode":40013,"errmsg":"invalid appid"}`)

	rr := e.do(t, http.MethodGet, "/v1/access-token", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, decode(t, rr)["error"], "40013")

	require.Len(t, e.alerter.messages, 1)
	assert.Contains(t, e.alerter.messages[0], "invalid appid")
}

type brokenStore struct {
	credential.Store
}

func (brokenStore) GetAccessToken(context.Context) (credential.AccessToken, bool, error) {
	return credential.AccessToken{}, false, errors.New("connection refused")
}

func TestStoreFailure(t *testing.T) {
	e := newEnv(t, time.Unix(1000, 0), brokenStore{})

	rr := e.do(t, http.MethodGet, "/v1/access-token", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Zero(t, atomic.LoadInt32(&e.authority.tokenCalls))
}

func TestInvalidate(t *testing.T) {
	e := newEnv(t, time.Unix(1000, 0), nil)

	rr := e.do(t, http.MethodGet, "/v1/access-token", "")
	require.Equal(t, http.StatusOK, rr.Code)

	e.clock.Advance(time.Minute)
	rr = e.do(t, http.MethodPost, "/v1/invalidate", `{"kind":"access_token"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Unix(1060+7190, 0).UTC().Format(time.RFC3339), decode(t, rr)["expires_at"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&e.authority.tokenCalls))

	rr = e.do(t, http.MethodPost, "/v1/invalidate", `{"kind":"ticket","ticket_type":"jsapi"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&e.authority.ticketCalls))
}

func TestLimiter(t *testing.T) {
	limiterClock := clock.NewMock(time.Unix(1000, 0))
	e := newEnv(t, time.Unix(1000, 0), nil, server.WithClientInterval(time.Second, limiterClock))

	t.Run("loop request tests", func(t *testing.T) {
		codes := make(map[int]int)
		for i := 0; i < 100; i++ {
			codes[e.do(t, http.MethodGet, "/v1/access-token", "").Code]++
		}
		assert.Equal(t, 1, codes[http.StatusOK])
		assert.Equal(t, 99, codes[http.StatusTooManyRequests])
	})

	t.Run("next interval", func(t *testing.T) {
		limiterClock.Advance(time.Second)
		assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/access-token", "").Code)
	})

	t.Run("other client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/access-token", nil)
		req.RemoteAddr = "10.0.0.2:4000"
		rr := httptest.NewRecorder()
		e.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestNew(t *testing.T) {
	_, err := server.New(nil, nil)
	require.Error(t, err)

	srv, err := server.New(log.NewNop(), &config.Config{})
	require.NoError(t, err)
	assert.NotNil(t, srv)
}
