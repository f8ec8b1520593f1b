package prometheus_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/prometheus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ credential.Observer = (*prometheus.Server)(nil)

func TestMetrics(t *testing.T) {
	s := prometheus.NewServer(log.NewNop(), prometheus.Config{}, "credential-service")

	s.IncrementRequestsCount("/v1/access-token", "200")
	s.ObserveCacheHit(credential.KindAccessToken)
	s.ObserveCacheHit(credential.KindAccessToken)
	s.ObserveFetch(credential.KindTicket, 150*time.Millisecond, nil)
	s.ObserveFetch(credential.KindTicket, time.Second, errors.New("down"))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `credential_service_requests_counter{query="/v1/access-token",status="200"} 1`)
	assert.Contains(t, body, `credential_service_credential_cache_hits_total{kind="access_token"} 2`)
	assert.Contains(t, body, `credential_service_credential_fetch_total{kind="ticket",result="ok"} 1`)
	assert.Contains(t, body, `credential_service_credential_fetch_total{kind="ticket",result="error"} 1`)
	assert.Contains(t, body, `credential_service_credential_fetch_duration_seconds_count{kind="ticket"} 2`)
}

func TestDisabled(t *testing.T) {
	s := prometheus.NewServer(log.NewNop(), prometheus.Config{Disabled: true}, "svc")
	s.Start(context.Background())
	s.Stop(context.Background())
}
