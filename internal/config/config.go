package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lessq/lessq/internal/backoff"
	"github.com/lessq/lessq/internal/broker/amqpbroker"
	"github.com/lessq/lessq/internal/broker/redisbroker"
	"github.com/lessq/lessq/internal/queue"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LESSQ_QUEUE_ENGINE
const EnvPrefix = "LESSQ_"

// Engines
const (
	EnginePoll = "poll"
	EnginePush = "push"
)

// Stores back the poll table and the push archive
const (
	StoreSQL    = "sql"
	StorePebble = "pebble"
)

// Payload codecs
const (
	CodecJSON  = "json"
	CodecProto = "proto"
)

// DefaultSQLiteDSN shares one database file between processes, waiting on locks
// instead of failing
const DefaultSQLiteDSN = "file:lessq.db?_busy_timeout=5000&_journal_mode=WAL"

// Brokers back the push engine
const (
	BrokerAMQP  = "amqp"
	BrokerRedis = "redis"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Queue   QueueConfig        `yaml:"queue" envPrefix:"QUEUE_"`
	SQL     SQLConfig          `yaml:"sql" envPrefix:"SQL_"`
	Pebble  PebbleConfig       `yaml:"pebble" envPrefix:"PEBBLE_"`
	AMQP    amqpbroker.Config  `yaml:"amqp" envPrefix:"AMQP_"`
	Redis   redisbroker.Config `yaml:"redis" envPrefix:"REDIS_"`
	Retry   RetryConfig        `yaml:"retry" envPrefix:"RETRY_"`
	Logging LoggingConfig      `yaml:"logging" envPrefix:"LOG_"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`
}

// QueueConfig selects and tunes the engine
type QueueConfig struct {
	Name     string        `yaml:"name" env:"NAME"` // metrics label
	Engine   string        `yaml:"engine" env:"ENGINE"`
	Store    string        `yaml:"store" env:"STORE"`
	Broker   string        `yaml:"broker" env:"BROKER"`
	Codec    string        `yaml:"codec" env:"CODEC"`
	Lease    time.Duration `yaml:"lease" env:"LEASE"`
	IdleWait time.Duration `yaml:"idle_wait" env:"IDLE_WAIT"`
}

// SQLConfig holds database settings
type SQLConfig struct {
	Driver  string `yaml:"driver" env:"DRIVER"` // postgres, pgx or sqlite3
	DSN     string `yaml:"dsn" env:"DSN"`
	Migrate bool   `yaml:"migrate" env:"MIGRATE"`
}

// PebbleConfig holds embedded store settings. Pebble locks its directory, so
// producers and consumers sharing a pebble store must run in one process.
type PebbleConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// RetryConfig holds the retry policy for consumers
type RetryConfig struct {
	MaxAttempts uint32        `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json or console
}

// Default returns default configuration
func Default() *Config {
	retry := queue.DefaultRetryPolicy()
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":8080",
		},
		Queue: QueueConfig{
			Name:     "default",
			Engine:   EnginePoll,
			Store:    StoreSQL,
			Broker:   BrokerAMQP,
			Codec:    CodecJSON,
			Lease:    queue.DefaultLease,
			IdleWait: queue.DefaultIdleWait,
		},
		SQL: SQLConfig{
			Driver:  "sqlite3",
			DSN:     DefaultSQLiteDSN,
			Migrate: true,
		},
		Pebble: PebbleConfig{
			Path: "./data",
		},
		AMQP:  amqpbroker.DefaultConfig(),
		Redis: redisbroker.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			BaseDelay:   retry.Backoff.BaseDelay,
			MaxDelay:    retry.Backoff.MaxDelay,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads defaults, then the YAML file at path if it exists, then LESSQ_*
// environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks engine selection and bounds
func (c *Config) Validate() error {
	var errs []error

	switch c.Queue.Engine {
	case EnginePoll:
	case EnginePush:
		if c.Queue.Broker != BrokerAMQP && c.Queue.Broker != BrokerRedis {
			errs = append(errs, fmt.Errorf("queue.broker: unknown broker %q", c.Queue.Broker))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.engine: unknown engine %q", c.Queue.Engine))
	}

	switch c.Queue.Store {
	case StoreSQL:
		if c.SQL.DSN == "" {
			errs = append(errs, errors.New("sql.dsn: required for the sql store"))
		}
	case StorePebble:
		if c.Pebble.Path == "" {
			errs = append(errs, errors.New("pebble.path: required for the pebble store"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.store: unknown store %q", c.Queue.Store))
	}

	if c.Queue.Codec != CodecJSON && c.Queue.Codec != CodecProto {
		errs = append(errs, fmt.Errorf("queue.codec: unknown codec %q", c.Queue.Codec))
	}

	if c.Queue.Lease < queue.MinLease || c.Queue.Lease > queue.MaxLease {
		errs = append(errs, fmt.Errorf("queue.lease: %s outside [%s, %s]", c.Queue.Lease, queue.MinLease, queue.MaxLease))
	}
	if c.Queue.IdleWait <= 0 {
		errs = append(errs, fmt.Errorf("queue.idle_wait: must be positive, got %s", c.Queue.IdleWait))
	}
	if c.Retry.MaxAttempts == 0 {
		errs = append(errs, errors.New("retry.max_attempts: must be at least 1"))
	}

	return errors.Join(errs...)
}

// RetryPolicy converts the retry settings for queue.NewRetrier
func (c *Config) RetryPolicy() queue.RetryPolicy {
	b := backoff.DefaultConfig()
	b.BaseDelay = c.Retry.BaseDelay
	b.MaxDelay = c.Retry.MaxDelay
	return queue.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts, Backoff: b}
}
