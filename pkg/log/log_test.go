package log_test

import (
	"testing"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithConfig(t *testing.T) {
	t.Run("default level", func(t *testing.T) {
		l, err := log.NewWithConfig(log.Config{})
		require.NoError(t, err)
		assert.NotNil(t, l)
	})

	t.Run("debug development", func(t *testing.T) {
		l, err := log.NewWithConfig(log.Config{Level: "debug", Development: true})
		require.NoError(t, err)
		l.With("app_id", "wx1").Debugf("hello %s", "world")
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := log.NewWithConfig(log.Config{Level: "loud"})
		require.Error(t, err)
	})
}

func TestNewNop(t *testing.T) {
	l := log.NewNop()
	l.Errorf("nothing %d", 1)
	assert.NoError(t, l.With("k", "v").Sync())
}
