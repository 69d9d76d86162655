package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lessq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	// Separate producer and consumer processes can share the default store
	assert.Equal(t, StoreSQL, cfg.Queue.Store)
	assert.Equal(t, "sqlite3", cfg.SQL.Driver)
	assert.Equal(t, DefaultSQLiteDSN, cfg.SQL.DSN)
	assert.True(t, cfg.SQL.Migrate)
	assert.Equal(t, CodecJSON, cfg.Queue.Codec)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
queue:
  engine: push
  store: sql
  broker: redis
  lease: 90s
sql:
  driver: sqlite3
  dsn: /tmp/lessq.db
redis:
  addr: redis:6379
  prefix: jobs
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EnginePush, cfg.Queue.Engine)
	assert.Equal(t, StoreSQL, cfg.Queue.Store)
	assert.Equal(t, 90*time.Second, cfg.Queue.Lease)
	assert.Equal(t, "sqlite3", cfg.SQL.Driver)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "jobs", cfg.Redis.Prefix)
	assert.Equal(t, time.Second, cfg.Redis.PollTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "queue:\n  idle_wait: 10s\n")
	t.Setenv("LESSQ_QUEUE_IDLE_WAIT", "250ms")
	t.Setenv("LESSQ_AMQP_QUEUE", "mail.queue")
	t.Setenv("LESSQ_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.IdleWait)
	assert.Equal(t, "mail.queue", cfg.AMQP.Queue)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"unknown engine", func(c *Config) { c.Queue.Engine = "carrier-pigeon" }, "queue.engine"},
		{"unknown broker", func(c *Config) {
			c.Queue.Engine = EnginePush
			c.Queue.Broker = "kafka"
		}, "queue.broker"},
		{"unknown store", func(c *Config) { c.Queue.Store = "csv" }, "queue.store"},
		{"sql without dsn", func(c *Config) { c.SQL.DSN = "" }, "sql.dsn"},
		{"pebble without path", func(c *Config) {
			c.Queue.Store = StorePebble
			c.Pebble.Path = ""
		}, "pebble.path"},
		{"unknown codec", func(c *Config) { c.Queue.Codec = "xml" }, "queue.codec"},
		{"lease too short", func(c *Config) { c.Queue.Lease = 500 * time.Millisecond }, "queue.lease"},
		{"lease too long", func(c *Config) { c.Queue.Lease = 2 * time.Hour }, "queue.lease"},
		{"no idle wait", func(c *Config) { c.Queue.IdleWait = 0 }, "queue.idle_wait"},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry = RetryConfig{MaxAttempts: 7, BaseDelay: time.Second, MaxDelay: time.Minute}

	policy := cfg.RetryPolicy()
	assert.Equal(t, uint32(7), policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.Backoff.BaseDelay)
	assert.Equal(t, time.Minute, policy.Backoff.MaxDelay)
	assert.Equal(t, 2.0, policy.Backoff.Multiplier)
}
