// Package config loads process configuration from a file, MIRROR_ prefixed
// environment variables and bound command flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "MIRROR"

// Config is the validated runtime configuration of the mirror process.
type Config struct {
	LogLevel        string          `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" validate:"gt=0"`
	Gateway         GatewayConfig   `mapstructure:"gateway"`
	REST            RESTConfig      `mapstructure:"rest"`
	Router          RouterConfig    `mapstructure:"router"`
	Bootstrap       BootstrapConfig `mapstructure:"bootstrap"`
	Store           StoreConfig     `mapstructure:"store"`
	Inspect         InspectConfig   `mapstructure:"inspect"`
}

// GatewayConfig configures the websocket session.
type GatewayConfig struct {
	URL               string        `mapstructure:"url" validate:"required,url,startswith=ws"`
	Token             string        `mapstructure:"token" validate:"required"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// RESTConfig configures the HTTP fetcher.
type RESTConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,http_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MaxRetries     uint64        `mapstructure:"max_retries" validate:"lte=20"`
}

// RouterConfig configures event routing and subscription defaults.
type RouterConfig struct {
	SystemLanes         int           `mapstructure:"system_lanes" validate:"gte=1,lte=64"`
	LaneBuffer          int           `mapstructure:"lane_buffer" validate:"gte=1"`
	SubscriptionBuffer  int           `mapstructure:"subscription_buffer" validate:"gte=1"`
	SubscriptionWorkers int           `mapstructure:"subscription_workers" validate:"gte=1"`
	HandlerTimeout      time.Duration `mapstructure:"handler_timeout" validate:"gt=0"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
}

// BootstrapConfig configures the Ready hydration pass.
type BootstrapConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=64"`
}

// StoreConfig bounds the message container and the tombstone shadow store.
type StoreConfig struct {
	MessageTTL     time.Duration `mapstructure:"message_ttl" validate:"gte=0"`
	MessageMaxSize int           `mapstructure:"message_max_size" validate:"gte=0"`
	TombstoneTTL   time.Duration `mapstructure:"tombstone_ttl" validate:"gt=0"`
	TombstoneSize  int           `mapstructure:"tombstone_size" validate:"gte=1"`
}

// InspectConfig configures the read-only HTTP view. An empty address disables it.
type InspectConfig struct {
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)

	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("log_level", "info")
	configViper.SetDefault("shutdown_timeout", "10s")

	configViper.SetDefault("gateway.url", "wss://ws.revolt.chat")
	configViper.SetDefault("gateway.token", "")
	configViper.SetDefault("gateway.heartbeat_interval", "20s")
	configViper.SetDefault("gateway.write_timeout", "10s")

	configViper.SetDefault("rest.base_url", "https://api.revolt.chat")
	configViper.SetDefault("rest.request_timeout", "30s")
	configViper.SetDefault("rest.max_retries", 5)

	configViper.SetDefault("router.system_lanes", 1)
	configViper.SetDefault("router.lane_buffer", 1024)
	configViper.SetDefault("router.subscription_buffer", 256)
	configViper.SetDefault("router.subscription_workers", 1)
	configViper.SetDefault("router.handler_timeout", "3s")
	configViper.SetDefault("router.fetch_timeout", "10s")

	configViper.SetDefault("bootstrap.concurrency", 4)

	configViper.SetDefault("store.message_ttl", "168h")
	configViper.SetDefault("store.message_max_size", 0)
	configViper.SetDefault("store.tombstone_ttl", "60s")
	configViper.SetDefault("store.tombstone_size", 256)

	configViper.SetDefault("inspect.address", "")
}

// ReadFile merges one config file into configViper. An empty path searches
// ./mirror.yaml and ./config/mirror.yaml and tolerates their absence.
func ReadFile(configViper *viper.Viper, path string) error {
	if strings.TrimSpace(path) != "" {
		configViper.SetConfigFile(path)
		if err := configViper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
		return nil
	}

	configViper.SetConfigName("mirror")
	configViper.AddConfigPath(".")
	configViper.AddConfigPath("config")
	if err := configViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	return nil
}

// Load decodes and validates configuration from configViper.
func Load(configViper *viper.Viper) (Config, error) {
	var cfg Config
	if err := configViper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Gateway.Token = strings.TrimSpace(cfg.Gateway.Token)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			problems := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
			}
			return fmt.Errorf("validate config: %s", strings.Join(problems, "; "))
		}
		return fmt.Errorf("validate config: %w", err)
	}

	return nil
}
