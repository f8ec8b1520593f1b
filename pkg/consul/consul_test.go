package consul_test

import (
	"context"
	"testing"

	"github.com/muzin/wechatapi-sub000/pkg/consul"
	"github.com/muzin/wechatapi-sub000/pkg/consul/consultest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsul(t *testing.T) {
	srv := consultest.NewServer(t)
	srv.Set("dev/global/AUTHORITY_TIMEOUT", "5s")
	srv.Set("dev/local/credential-service/APP_ID", "wx1")
	srv.Set("dev/local/credential-service/STORE_DRIVER", "redis")
	srv.AddService("redis", "10.0.0.1", 6379)
	srv.AddService("redis", "10.0.0.1", 6379)
	srv.AddService("redis", "10.0.0.2", 6379)

	c, err := consul.NewConsul("credential-service", "dev", srv.URL, "")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("GetValue", func(t *testing.T) {
		v, err := c.GetValue(ctx, "local", "APP_ID")
		require.NoError(t, err)
		assert.Equal(t, "wx1", string(v))

		_, err = c.GetValue(ctx, "local", "MISSING")
		assert.ErrorIs(t, err, consul.ErrKeyNotExist)
	})

	t.Run("ListValues", func(t *testing.T) {
		local, err := c.ListValues(ctx, "local")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"APP_ID": "wx1", "STORE_DRIVER": "redis"}, local)

		global, err := c.ListValues(ctx, "global")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"AUTHORITY_TIMEOUT": "5s"}, global)
	})

	t.Run("GetServiceAddress", func(t *testing.T) {
		res, err := c.GetServiceAddress(ctx, "redis")
		require.NoError(t, err)
		assert.Equal(t, consul.GetServiceAddressResponse{
			{Address: "10.0.0.1", Port: 6379},
			{Address: "10.0.0.2", Port: 6379},
		}, res)

		empty, err := c.GetServiceAddress(ctx, "postgres")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
