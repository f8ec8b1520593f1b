package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/store/filestore"
	"github.com/muzin/wechatapi-sub000/pkg/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func TestStore(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) credential.Store {
			s, err := filestore.New("wx1", filestore.Config{Dir: t.TempDir()})
			require.NoError(t, err)
			return s
		})
	})

	t.Run("sealed", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) credential.Store {
			s, err := filestore.New("wx1", filestore.Config{Dir: t.TempDir(), Key: testKey})
			require.NoError(t, err)
			return s
		})
	})
}

func TestLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := filestore.New("wx1", filestore.Config{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, s.PutAccessToken(context.Background(), credential.AccessToken{Value: "AT1", ExpiresAt: time.Unix(8190, 0).UTC()}))

	data, err := os.ReadFile(filepath.Join(dir, "wx1%3Aaccess_token.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"AT1","expiresAt":"1970-01-01T02:16:30Z"}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSealed(t *testing.T) {
	dir := t.TempDir()
	s, err := filestore.New("wx1", filestore.Config{Dir: dir, Key: testKey})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutTicket(ctx, "jsapi", credential.Ticket{Value: "secret-ticket", ExpiresAt: time.Unix(8190, 0)}))

	data, err := os.ReadFile(filepath.Join(dir, "wx1%3Aticket%3Ajsapi.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-ticket")

	other, err := filestore.New("wx1", filestore.Config{Dir: dir, Key: strings.Repeat("cd", 32)})
	require.NoError(t, err)

	_, _, err = other.GetTicket(ctx, "jsapi")
	require.Error(t, err)
	assert.True(t, credential.IsStoreError(err))
	assert.ErrorIs(t, err, filestore.ErrSealed)
}

func TestNew_BadKey(t *testing.T) {
	_, err := filestore.New("wx1", filestore.Config{Dir: t.TempDir(), Key: "zz"})
	require.Error(t, err)
	assert.True(t, credential.IsConfigurationError(err))

	cfg := filestore.Config{Dir: "x", Key: "abc"}
	assert.Error(t, cfg.Validate())
}

func TestCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := filestore.New("wx1", filestore.Config{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "wx1%3Aaccess_token.json"), []byte("{"), 0o600))

	_, ok, err := s.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, credential.IsStoreError(err))
}
