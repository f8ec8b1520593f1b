package config

import (
	"fmt"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/authority"
	"github.com/muzin/wechatapi-sub000/pkg/consul"
	"github.com/muzin/wechatapi-sub000/pkg/hc"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/notify"
	"github.com/muzin/wechatapi-sub000/pkg/postgres"
	"github.com/muzin/wechatapi-sub000/pkg/prometheus"
	"github.com/muzin/wechatapi-sub000/pkg/rabbitbus"
	"github.com/muzin/wechatapi-sub000/pkg/redisclient"
	"github.com/muzin/wechatapi-sub000/pkg/store/filestore"
	"github.com/muzin/wechatapi-sub000/pkg/utils"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverFile     = "file"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
	StoreDriverConsul   = "consul"
)

type DiscoveryConfig struct {
	PostgresAddrs consul.GetServiceAddressResponse `json:"POSTGRES_ADDRS"`
	RabbitAddrs   consul.GetServiceAddressResponse `json:"RABBIT_ADDRS"`
	RedisAddrs    consul.GetServiceAddressResponse `json:"REDIS_ADDRS"`
}

// GlobalConfig is shared by every service of the stand
type GlobalConfig struct {
	Authority authority.Config
	Notify    notify.Config
}

type AppConfig struct {
	ID     string `json:"APP_ID"`
	Secret string `json:"APP_SECRET" secret:"true"`
}

type StoreConfig struct {
	// Driver - default memory
	Driver string `json:"STORE_DRIVER" default:"memory"`
	// Namespace separates apps sharing one backend - default APP_ID
	Namespace string `json:"STORE_NAMESPACE"`
	// Prefix of redis and consul keys - default credentials
	Prefix string `json:"STORE_PREFIX" default:"credentials"`
	// Consul agent of the consul driver
	ConsulAddr  string `json:"STORE_CONSUL_ADDR"`
	ConsulToken string `json:"STORE_CONSUL_TOKEN" secret:"true"`
}

type HTTPConfig struct {
	// Port - default 20001
	Port string `json:"HTTP_PORT" default:"20001"`
	// ClientInterval is the minimum time between two requests of one client ip, zero disables it - default 100ms
	ClientInterval time.Duration `json:"HTTP_CLIENT_INTERVAL" default:"100ms"`
}

type LocalConfig struct {
	ServiceName string `json:"SERVICE_NAME" default:"credential-service"`
	StandName   string `json:"CONSUL_STAND_NAME" env:"CONSUL_STAND_NAME"`
	App         AppConfig
	HTTP        HTTPConfig
	Store       StoreConfig
	StoreFile   filestore.Config
	Rabbit      rabbitbus.Config
	Prometheus  prometheus.Config
	Postgres    postgres.Config
	Redis       redisclient.Config
	HealthCheck hc.Config
	Log         log.Config

	// Discovery services
	// This items will be pass to the DiscoveryConfig
	DiscoveryPostgresService string `json:"DISCOVERY_POSTGRES_SERVICE" discovery:"POSTGRES_ADDRS"`
	DiscoveryRabbitService   string `json:"DISCOVERY_RABBIT_SERVICE" discovery:"RABBIT_ADDRS"`
	DiscoveryRedisService    string `json:"DISCOVERY_REDIS_SERVICE" discovery:"REDIS_ADDRS"`
}

type Config struct {
	DiscoveryConfig
	GlobalConfig
	LocalConfig
}

// Validate global config
func (c *GlobalConfig) Validate() error {
	if err := c.Authority.Validate(); err != nil {
		return err
	}

	return c.Notify.Validate()
}

// Validate local config
func (c *LocalConfig) Validate() error {
	if err := validation.ValidateStruct(
		c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.StandName, validation.Required),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(
		&c.App,
		validation.Field(&c.App.ID, validation.Required),
		validation.Field(&c.App.Secret, validation.Required),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(
		&c.HTTP,
		validation.Field(&c.HTTP.Port, validation.Required),
		validation.Field(&c.HTTP.ClientInterval, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(
		&c.Store,
		validation.Field(&c.Store.Driver, validation.Required, validation.In(
			StoreDriverMemory, StoreDriverFile, StoreDriverRedis, StoreDriverPostgres, StoreDriverConsul,
		)),
	); err != nil {
		return err
	}

	switch c.Store.Driver {
	case StoreDriverFile:
		if err := c.StoreFile.Validate(); err != nil {
			return err
		}
	case StoreDriverPostgres:
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	case StoreDriverRedis:
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	case StoreDriverConsul:
		if err := validation.ValidateStruct(
			&c.Store,
			validation.Field(&c.Store.ConsulAddr, validation.Required),
		); err != nil {
			return err
		}
	}

	// Validate rabbit
	if err := c.Rabbit.Validate(); err != nil {
		return err
	}

	// Validate prometheus
	if !c.Prometheus.Disabled {
		if err := validation.ValidateStruct(
			&c.Prometheus,
			validation.Field(&c.Prometheus.Port, validation.Required),
			validation.Field(&c.Prometheus.Endpoint, validation.Required),
		); err != nil {
			return err
		}
	}

	if c.StandName != "local" {
		return validation.ValidateStruct(
			c,
			validation.Field(&c.DiscoveryPostgresService, validation.When(c.Store.Driver == StoreDriverPostgres, validation.Required)),
			validation.Field(&c.DiscoveryRabbitService, validation.When(c.Rabbit.Enabled, validation.Required)),
			validation.Field(&c.DiscoveryRedisService, validation.When(c.Store.Driver == StoreDriverRedis, validation.Required)),
		)
	}

	return nil
}

// Validate discovery config against the services the local config needs
func (c *Config) validateDiscovery() error {
	return validation.ValidateStruct(
		&c.DiscoveryConfig,
		validation.Field(&c.PostgresAddrs, validation.When(c.Store.Driver == StoreDriverPostgres, validation.Required)),
		validation.Field(&c.RabbitAddrs, validation.When(c.Rabbit.Enabled, validation.Required)),
		validation.Field(&c.RedisAddrs, validation.When(c.Store.Driver == StoreDriverRedis, validation.Required)),
	)
}

// Validate config
func (s *Config) Validate() error {
	if err := s.GlobalConfig.Validate(); err != nil {
		return err
	}

	if err := s.LocalConfig.Validate(); err != nil {
		return err
	}

	// skip validating discovery service for the local development
	if s.LocalConfig.StandName != "local" {
		if err := s.validateDiscovery(); err != nil {
			return err
		}
	}

	return nil
}

// StoreNamespace - STORE_NAMESPACE or the app id
func (c *Config) StoreNamespace() string {
	if c.Store.Namespace != "" {
		return c.Store.Namespace
	}
	return c.App.ID
}

// GetRabbitAddr - return random rabbit address
//
// If rabbit discovery addresses are empty, the address will be used from the `RABBIT_ADDR` env
func (c *Config) GetRabbitAddr() string {
	return randomAddr(c.Rabbit.Addr, c.RabbitAddrs)
}

// GetPostgresAddr - return random postgres address
//
// If postgres discovery addresses are empty, the address will be used from the `POSTGRES_ADDR` env
func (c *Config) GetPostgresAddr() string {
	return randomAddr(c.Postgres.Addr, c.PostgresAddrs)
}

// GetRedisAddr - return random redis address
//
// If redis discovery addresses are empty, the address will be used from the `REDIS_ADDR` env
func (c *Config) GetRedisAddr() string {
	return randomAddr(c.Redis.Addr, c.RedisAddrs)
}

func randomAddr(local string, discovered consul.GetServiceAddressResponse) string {
	if len(discovered) == 0 {
		return local
	}

	addrParams := discovered[utils.GetRandomInt(0, len(discovered))]
	return fmt.Sprintf("%s:%d", addrParams.Address, addrParams.Port)
}
