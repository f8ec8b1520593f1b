package postgres

import (
	"context"
	"fmt"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

type Config struct {
	User     string `json:"POSTGRES_USER" secret:"true"`
	Pass     string `json:"POSTGRES_PASS" secret:"true"`
	DB       string `json:"POSTGRES_DB"`
	SSLMode  string `json:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int32  `json:"POSTGRES_MAX_CONNS" default:"4"`
	// For local development
	Addr string `json:"POSTGRES_ADDR"`
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.User, validation.Required),
		validation.Field(&c.DB, validation.Required),
		validation.Field(&c.MaxConns, validation.Min(int32(1))),
		validation.Field(&c.SSLMode, validation.In("disable", "allow", "prefer", "require", "verify-ca", "verify-full")),
	)
}

func (c *Config) getDSN(addr string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s&pool_max_conns=%d", c.User, c.Pass, addr, c.DB, c.SSLMode, c.MaxConns)
}

// New opens connection pool and checks it
func New(ctx context.Context, logger log.Logger, c Config, addr string) (*pgxpool.Pool, error) {
	logger.Info("opening postgres connection pool")

	pool, err := pgxpool.Connect(ctx, c.getDSN(addr))
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	return pool, nil
}
