package notify_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlert(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "tok", r.Header.Get("X-API-TOKEN"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"receivers":{"slack":["1","2"]},"text":"authority down"}`, string(body))

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	clk := clock.NewMock(time.Unix(1000, 0))
	s := notify.NewNotifyService(log.NewNop(), notify.Config{
		URL:       srv.URL,
		Token:     "tok",
		Channel:   "slack",
		Receivers: []string{"1", "2"},
		Interval:  time.Minute,
	}, srv.Client(), clk)

	sent, err := s.Alert(context.Background(), "authority", "authority down")
	require.NoError(t, err)
	assert.True(t, sent)

	clk.Advance(30 * time.Second)
	sent, err = s.Alert(context.Background(), "authority", "authority down")
	require.NoError(t, err)
	assert.False(t, sent)

	clk.Advance(31 * time.Second)
	sent, err = s.Alert(context.Background(), "authority", "authority down")
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAlertDisabled(t *testing.T) {
	s := notify.NewNotifyService(log.NewNop(), notify.Config{}, nil, nil)

	sent, err := s.Alert(context.Background(), "authority", "down")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestSendNotificationStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := notify.NewNotifyService(log.NewNop(), notify.Config{URL: srv.URL}, srv.Client(), nil)
	_, err := s.SendNotification(context.Background(), map[string][]string{"slack": {"1"}}, "hi")
	require.Error(t, err)
}
