package server

import (
	"context"

	"github.com/muzin/wechatapi-sub000/internal/config"
	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/consul"
	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/postgres"
	"github.com/muzin/wechatapi-sub000/pkg/redisclient"
	"github.com/muzin/wechatapi-sub000/pkg/store/consulstore"
	"github.com/muzin/wechatapi-sub000/pkg/store/filestore"
	"github.com/muzin/wechatapi-sub000/pkg/store/memstore"
	"github.com/muzin/wechatapi-sub000/pkg/store/pgstore"
	"github.com/muzin/wechatapi-sub000/pkg/store/redisstore"

	"github.com/pkg/errors"
)

type pingStore interface {
	credential.Store
	Ping(ctx context.Context) error
}

// openStore connects the store selected by STORE_DRIVER, closer releases its connections
func openStore(ctx context.Context, logger log.Logger, cfg *config.Config) (pingStore, func(), error) {
	namespace := cfg.StoreNamespace()
	noop := func() {}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory, "":
		return memstore.New(), noop, nil

	case config.StoreDriverFile:
		s, err := filestore.New(namespace, cfg.StoreFile)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case config.StoreDriverRedis:
		rdb, err := redisclient.New(ctx, logger, cfg.Redis, cfg.GetRedisAddr())
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := rdb.Close(); err != nil {
				logger.Errorf("failed to close redis client: %v", err)
			}
		}
		return redisstore.New(rdb, namespace, cfg.Store.Prefix, clock.System()), closer, nil

	case config.StoreDriverPostgres:
		pool, err := postgres.New(ctx, logger, cfg.Postgres, cfg.GetPostgresAddr())
		if err != nil {
			return nil, nil, err
		}

		s := pgstore.New(pool, namespace)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	case config.StoreDriverConsul:
		c, err := consul.NewConsul(cfg.ServiceName, cfg.StandName, cfg.Store.ConsulAddr, cfg.Store.ConsulToken)
		if err != nil {
			return nil, nil, errors.Wrap(err, "init consul client")
		}
		return consulstore.New(c.Client(), namespace, cfg.Store.Prefix), noop, nil

	default:
		return nil, nil, errors.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
