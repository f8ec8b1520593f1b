package redisclient

import (
	"context"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Pass    string `json:"REDIS_PASS" secret:"true"`
	DBIndex int    `json:"REDIS_DB_INDEX"`
	// For local development
	Addr string `json:"REDIS_ADDR"`
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.DBIndex, validation.Min(0), validation.Max(15)),
	)
}

// New opens redis client and checks connection
func New(ctx context.Context, logger log.Logger, c Config, addr string) (*redis.Client, error) {
	logger.Info("opening redis connection")

	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: c.Pass,
		DB:       c.DBIndex,
	})

	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}

	return cli, nil
}
