package rabbitbus

import (
	"testing"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	tt := []struct {
		name         string
		cfg          Config
		dsn          string
		requireError bool
	}{
		{name: "disabled", cfg: Config{}, dsn: "amqp://:@localhost:5672"},
		{name: "missing credentials", cfg: Config{Enabled: true, EventsExchange: "e", InvalidateQueue: "q"}, requireError: true},
		{name: "missing queue", cfg: Config{Enabled: true, User: "u", Pass: "p", EventsExchange: "e"}, requireError: true},
		{
			name: "plain",
			cfg:  Config{Enabled: true, User: "u", Pass: "p", EventsExchange: "e", InvalidateQueue: "q"},
			dsn:  "amqp://u:p@localhost:5672",
		},
		{
			name: "secure",
			cfg:  Config{Enabled: true, User: "u", Pass: "p", IsSecure: true, EventsExchange: "e", InvalidateQueue: "q"},
			dsn:  "amqps://u:p@localhost:5672",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.requireError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.dsn, tc.cfg.getDSN("localhost:5672"))
		})
	}
}

type fakeDelivery struct {
	acked, nacked, requeued bool
}

func (d *fakeDelivery) Ack(bool) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(_, requeue bool) error {
	d.nacked = true
	d.requeued = requeue
	return nil
}

func TestMessage(t *testing.T) {
	d := &fakeDelivery{}
	m := NewMessage([]byte(`{"kind":"access_token"}`), d)

	assert.Equal(t, `{"kind":"access_token"}`, string(m.Read()))
	require.NoError(t, m.Ack())
	assert.True(t, d.acked)

	require.NoError(t, m.Nack())
	assert.True(t, d.requeued)

	d = &fakeDelivery{}
	require.NoError(t, NewMessage(nil, d).Reject())
	assert.True(t, d.nacked)
	assert.False(t, d.requeued)
}

func TestChannelWithoutConnection(t *testing.T) {
	s := &Service{logger: log.NewNop()}
	_, err := s.NewWriter()
	require.Error(t, err)
	require.NoError(t, s.CloseRabbitMQConnection())
}
