package initialconfig

import (
	"context"
	"fmt"
	"os"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/muzin/wechatapi-sub000/internal/config"
	"github.com/muzin/wechatapi-sub000/pkg/consul"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/utils"
	"github.com/muzin/wechatapi-sub000/pkg/vault"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigdotenv"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
)

const requestTimeout = 30 * time.Second

type IConfig interface {
	Validate() error
}

type cfgService struct {
	logger log.Logger

	initialConfig *initialConfig
	mainConfig    *config.Config
	// base is the config loaded from env, consul and vault values are laid over it
	base config.Config

	mu   sync.RWMutex
	envs Envs

	consulClient consul.Consul
	vaultClient  vault.Vault
}

type initialConfig struct {
	// Vault Config
	VaultEnabled      bool   `json:"VAULT_ENABLED" default:"false"`
	VaultGeneralUrl   string `json:"VAULT_GENERAL_URL"`
	VaultGeneralToken string `json:"VAULT_GENERAL_TOKEN"`
	VaultMountPath    string `json:"VAULT_MOUNT_PATH"`

	// Consul Config
	ConsulEnabled      bool   `json:"CONSUL_ENABLED" default:"false"`
	ConsulGeneralUrl   string `json:"CONSUL_GENERAL_URL"`
	ConsulGeneralToken string `json:"CONSUL_GENERAL_TOKEN"`

	// Pause between two consul polls is random in [min, max) seconds - default 150..250
	ConsulWatchMinSeconds int `json:"CONSUL_WATCH_MIN_SECONDS" default:"150"`
	ConsulWatchMaxSeconds int `json:"CONSUL_WATCH_MAX_SECONDS" default:"250"`
}

func (c *initialConfig) Validate() error {
	// Validate consul
	if c.ConsulEnabled {
		if err := validation.ValidateStruct(
			c,
			validation.Field(&c.ConsulGeneralUrl, validation.Required),
			validation.Field(&c.ConsulWatchMinSeconds, validation.Min(1)),
			validation.Field(&c.ConsulWatchMaxSeconds, validation.Min(c.ConsulWatchMinSeconds+1)),
		); err != nil {
			return err
		}
	}

	// Validate vault
	if c.VaultEnabled {
		if err := validation.ValidateStruct(
			c,
			validation.Field(&c.VaultGeneralUrl, validation.Required),
			validation.Field(&c.VaultGeneralToken, validation.Required),
			validation.Field(&c.VaultMountPath, validation.Required),
		); err != nil {
			return err
		}
	}

	return nil
}

// LoadConfig accepts logger to track on config change
func LoadConfig(l log.Logger, mainConfig *config.Config) chan []string {
	// Load initial config
	initConfig := new(initialConfig)
	if err := LoadConfigFromEnv(initConfig); err != nil {
		l.Fatalf("failed to load initial config: %v", err)
	}

	// Load local config
	if err := LoadConfigFromEnv(mainConfig, WithValidation(false)); err != nil {
		l.Fatalf("failed to load local config: %v", err)
	}

	cs := &cfgService{
		logger:        l,
		initialConfig: initConfig,
		mainConfig:    mainConfig,
		base:          *mainConfig,
	}

	// Connect to consul
	var err error
	if initConfig.ConsulEnabled {
		cs.consulClient, err = consul.NewConsul(mainConfig.ServiceName, mainConfig.StandName, initConfig.ConsulGeneralUrl, initConfig.ConsulGeneralToken)
		if err != nil {
			l.Fatalf("failed to init consul instance: %v", err)
		}
		l.Info("connected to consul")
	}

	// Connect to vault
	if initConfig.VaultEnabled {
		cs.vaultClient, err = vault.NewVault(l, initConfig.VaultGeneralUrl, initConfig.VaultGeneralToken, initConfig.VaultMountPath)
		if err != nil {
			l.Fatalf("failed to init vault instance: %v", err)
		}
		l.Info("connected to vault")

		go cs.vaultClient.RenewToken(context.Background())
	}

	if err := cs.load(); err != nil {
		l.Fatalf("failed to load config from consul and vault: %v", err)
	}

	// Validate main config
	if err := mainConfig.Validate(); err != nil {
		l.Fatalf("failed to validate local config: %v", err)
	}

	c := make(chan []string, 1)
	if !initConfig.ConsulEnabled {
		return c
	}

	// Watch consul for changes
	go func(c chan []string) {
		for {
			randomSleepSeconds := utils.GetRandomInt(initConfig.ConsulWatchMinSeconds, initConfig.ConsulWatchMaxSeconds)
			time.Sleep(time.Second * time.Duration(randomSleepSeconds))

			changedEnvs, err := cs.reload()
			if err != nil {
				l.Errorf("failed to reload config: %v", err)
				continue
			}

			if len(changedEnvs) == 0 {
				continue
			}

			l.Info("main config was updated")

			c <- changedEnvs
		}
	}(c)

	return c
}

// load fetches envs and writes all of them to the main config
func (s *cfgService) load() error {
	if s.consulClient == nil && s.vaultClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	envs, err := s.getDataFromConsulAndVault(ctx)
	if err != nil {
		return errors.Wrap(err, "getDataFromConsulAndVault")
	}

	s.mu.Lock()
	s.envs = envs
	s.mu.Unlock()

	return s.apply(envs, nil)
}

// reload fetches envs again and writes the changed ones
func (s *cfgService) reload() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	newEnvs, err := s.getDataFromConsulAndVault(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getDataFromConsulAndVault")
	}

	s.mu.RLock()
	changedEnvs, err := s.envs.GetChangedEnvs(newEnvs)
	s.mu.RUnlock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to check is equal envs")
	}

	if len(changedEnvs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	s.envs = newEnvs
	s.mu.Unlock()

	if err := s.apply(newEnvs, changedEnvs); err != nil {
		return nil, err
	}

	return changedEnvs, nil
}

// apply writes envs to the main config, only names from filter when it is not nil
func (s *cfgService) apply(envs Envs, filter []string) error {
	for envName, params := range envs {
		if filter != nil && !utils.ExistInArray(filter, envName) {
			continue
		}

		value := params.Effective()
		if value == nil {
			continue
		}

		if err := SetStructFieldValueByJsonTag(s.mainConfig, envs, envName, value); err != nil {
			return fmt.Errorf("failed to set config env \"%s\": %w", envName, err)
		}
	}

	return nil
}

// LoadConfigFromEnv - load environment variables from `os env`, `.env` file and pass it to struct.
//
// For local development use `.env` file from root project.
//
// LoadConfigFromEnv also call a `Validate` method.
//
// Example:
//
//	cfg := new(config.Config)
//	if err := initialconfig.LoadConfigFromEnv(cfg); err != nil {
//		log.Fatalf("could not load configuration: %v", err)
//	}
func LoadConfigFromEnv(cfg IConfig, opts ...ConfigOption) error {
	if reflect.ValueOf(cfg).Kind() != reflect.Ptr {
		return fmt.Errorf("config variable must be a pointer")
	}

	options := ConfigOptions{
		Validation: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.EnvPath == "" {
		pwdDir, err := os.Getwd()
		if err != nil {
			return err
		}
		options.EnvPath = pwdDir
	}

	aconf := aconfig.Config{
		AllowUnknownFields: true,
		SkipFlags:          true,
		Files:              []string{path.Join(options.EnvPath, ".env")},
		FileDecoders: map[string]aconfig.FileDecoder{
			".env": aconfigdotenv.New(),
		},
	}

	loader := aconfig.LoaderFor(cfg, aconf)
	if err := loader.Load(); err != nil {
		return err
	}

	if !options.Validation {
		return nil
	}

	return cfg.Validate()
}

// getDataFromConsulAndVault builds envs from the current config, consul kv values
// override them and secrets are resolved in vault.
func (s *cfgService) getDataFromConsulAndVault(ctx context.Context) (Envs, error) {
	result := GetConfigParams(s.base)

	var global, local map[string]string
	if s.consulClient != nil {
		var err error
		if global, err = s.consulClient.ListValues(ctx, "global"); err != nil {
			return nil, fmt.Errorf("failed to get global values from consul: %w", err)
		}
		if local, err = s.consulClient.ListValues(ctx, "local"); err != nil {
			return nil, fmt.Errorf("failed to get local values from consul: %w", err)
		}
	}

	for envName, params := range result {
		values := local
		if params.ConfigType == ConfigTypeGlobal {
			values = global
		}

		consulValue, fromConsul := values[envName]
		if fromConsul && consulValue == "" {
			fromConsul = false
		}

		if fromConsul && params.ConfigType == ConfigTypeDiscovery {
			s.logger.Errorf("bad env \"%s\". you can't set service discovery addrs from consul. please, delete enviroment \"%s\" from consul kv storage", envName, envName)
			continue
		}

		if fromConsul {
			result.SetValue(envName, consulValue)
		}

		// Get data from service discovery
		if fromConsul && params.DiscoveryField != "" {
			res, err := s.consulClient.GetServiceAddress(ctx, consulValue)
			if err != nil {
				return nil, fmt.Errorf("failed to get data from consul: %w", err)
			}

			if s.mainConfig.StandName != "local" && len(res) == 0 {
				s.logger.Errorf("consul discovery return empty response for consul service \"%s\". env \"%s\" will be empty", consulValue, params.DiscoveryField)
			}

			result.SetValue(params.DiscoveryField, res)
		}

		if !params.IsSecret {
			continue
		}

		secretPath, ok := s.secretPath(params.Value, fromConsul)
		if !ok {
			// plain secret from env, keep it as is
			result.SetExternalValue(envName, params.Value)
			continue
		}

		if s.vaultClient == nil {
			return nil, fmt.Errorf("env \"%s\" points to vault, but vault is disabled", envName)
		}

		value, err := s.vaultClient.GetSecret(ctx, secretPath)
		if err != nil {
			return nil, fmt.Errorf("failed to get secret \"%s\" from vault: %w", envName, err)
		}

		result.SetExternalValue(envName, value)
	}

	return result, nil
}

// secretPath - a secret from consul is always a vault path, a local one only with the vault: prefix
func (s *cfgService) secretPath(value any, fromConsul bool) (string, bool) {
	str, ok := value.(string)
	if !ok || str == "" {
		return "", false
	}

	if strings.HasPrefix(str, vaultPrefix) {
		return strings.TrimPrefix(str, vaultPrefix), true
	}

	return str, fromConsul
}
