package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["http://localhost:5173"]

database:
  url: "postgres://localhost/sequences?sslmode=disable"
  max_open_conns: 10

redis:
  addr: "localhost:6379"

ses:
  enabled: true
  region: "us-east-1"
  configuration_set: "sequences"

sequences:
  tick_interval_seconds: 15
  batch_size: 50
  concurrency: 8
  lock_ttl_seconds: 120
  unsubscribe_base_url: "https://mail.example.com"
  signing_key: "secret"
  default_from_name: "Example"
  default_from_email: "hello@example.com"

events:
  enabled: true
  queue_url: "https://sqs.us-east-1.amazonaws.com/123/sequence-events"

log:
  level: debug
  redact_pii: true
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, "postgres://localhost/sequences?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Redis.Enabled())

	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, "sequences", cfg.SES.ConfigurationSet)

	assert.Equal(t, 15*time.Second, cfg.Sequences.TickInterval())
	assert.Equal(t, 50, cfg.Sequences.BatchSize)
	assert.Equal(t, 8, cfg.Sequences.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Sequences.LockTTL())
	assert.Equal(t, "hello@example.com", cfg.Sequences.DefaultFromEmail)

	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "us-east-1", cfg.Events.Region)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.RedactPII)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 60*time.Second, cfg.Sequences.TickInterval())
	assert.Equal(t, 100, cfg.Sequences.BatchSize)
	assert.Equal(t, 4, cfg.Sequences.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Sequences.LockTTL())
	assert.Equal(t, 30*time.Second, cfg.Sequences.ShutdownTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Sequences.RetryBase())
	assert.Equal(t, 24*time.Hour, cfg.Sequences.RetryMax())
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SES_ENABLED", "true")
	t.Setenv("SEQUENCE_TICK_INTERVAL_SECONDS", "5")
	t.Setenv("SEQUENCE_CONCURRENCY", "not-a-number")
	t.Setenv("SEQUENCE_DEFAULT_FROM_EMAIL", "env@example.com")
	t.Setenv("SEQUENCE_EVENTS_QUEUE_URL", "https://sqs.local/q")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Sequences.TickInterval())
	assert.Equal(t, 4, cfg.Sequences.Concurrency)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "https://sqs.local/q", cfg.Events.QueueURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "database url")

	cfg.Database.URL = "postgres://x"
	cfg.SES.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "default_from_email")

	cfg.Sequences.DefaultFromEmail = "a@b.c"
	cfg.Events.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "queue_url")
}

func TestServerAddr(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
}
