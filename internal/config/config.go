package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sequence engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SES       SESConfig       `yaml:"ses"`
	Sequences SequencesConfig `yaml:"sequences"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL                string `yaml:"url"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMin int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMin) * time.Minute
}

// RedisConfig holds Redis settings. An empty Addr disables Redis locks; the
// worker then falls back to Postgres advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	Enabled          bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SequencesConfig holds the worker and mailer settings.
type SequencesConfig struct {
	TickIntervalSeconds    int    `yaml:"tick_interval_seconds"`
	BatchSize              int    `yaml:"batch_size"`
	Concurrency            int    `yaml:"concurrency"`
	LockTTLSeconds         int    `yaml:"lock_ttl_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	RetryBaseSeconds       int    `yaml:"retry_base_seconds"`
	RetryMaxSeconds        int    `yaml:"retry_max_seconds"`
	UnsubscribeBaseURL     string `yaml:"unsubscribe_base_url"`
	SigningKey             string `yaml:"signing_key"`
	DefaultFromName        string `yaml:"default_from_name"`
	DefaultFromEmail       string `yaml:"default_from_email"`
}

// TickInterval returns the polling interval as a duration
func (c SequencesConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LockTTL returns the per-enrollment lock TTL as a duration
func (c SequencesConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ShutdownTimeout returns the worker shutdown timeout as a duration
func (c SequencesConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// RetryBase returns the delay before a failed enrollment is retried
func (c SequencesConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds) * time.Second
}

// RetryMax returns the cap on the doubling retry delay
func (c SequencesConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxSeconds) * time.Second
}

// EventsConfig holds the SQS trigger-event queue settings.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMin == 0 {
		cfg.Database.ConnMaxLifetimeMin = 30
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Sequences.TickIntervalSeconds <= 0 {
		cfg.Sequences.TickIntervalSeconds = 60
	}
	if cfg.Sequences.BatchSize <= 0 {
		cfg.Sequences.BatchSize = 100
	}
	if cfg.Sequences.Concurrency <= 0 {
		cfg.Sequences.Concurrency = 4
	}
	if cfg.Sequences.LockTTLSeconds <= 0 {
		cfg.Sequences.LockTTLSeconds = 300
	}
	if cfg.Sequences.ShutdownTimeoutSeconds <= 0 {
		cfg.Sequences.ShutdownTimeoutSeconds = 30
	}
	if cfg.Sequences.RetryBaseSeconds <= 0 {
		cfg.Sequences.RetryBaseSeconds = 300
	}
	if cfg.Sequences.RetryMaxSeconds <= 0 {
		cfg.Sequences.RetryMaxSeconds = 86400
	}
	if cfg.Events.Region == "" {
		cfg.Events.Region = cfg.SES.Region
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_CONFIGURATION_SET"); v != "" {
		cfg.SES.ConfigurationSet = v
	}
	if v := os.Getenv("SES_ENABLED"); v != "" {
		cfg.SES.Enabled = parseBool(v, cfg.SES.Enabled)
	}

	if v := os.Getenv("SEQUENCE_TICK_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sequences.TickIntervalSeconds = n
		}
	}
	if v := os.Getenv("SEQUENCE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sequences.Concurrency = n
		}
	}
	if v := os.Getenv("SEQUENCE_SIGNING_KEY"); v != "" {
		cfg.Sequences.SigningKey = v
	}
	if v := os.Getenv("SEQUENCE_UNSUBSCRIBE_BASE_URL"); v != "" {
		cfg.Sequences.UnsubscribeBaseURL = v
	}
	if v := os.Getenv("SEQUENCE_DEFAULT_FROM_EMAIL"); v != "" {
		cfg.Sequences.DefaultFromEmail = v
	}

	if v := os.Getenv("SEQUENCE_EVENTS_QUEUE_URL"); v != "" {
		cfg.Events.QueueURL = v
		cfg.Events.Enabled = true
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_REDACT_PII"); v != "" {
		cfg.Log.RedactPII = parseBool(v, cfg.Log.RedactPII)
	}

	return cfg, nil
}

// Validate reports settings the worker cannot start without.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	if cfg.SES.Enabled && cfg.Sequences.DefaultFromEmail == "" {
		return fmt.Errorf("sequences.default_from_email is required when SES is enabled")
	}
	if cfg.Events.Enabled && cfg.Events.QueueURL == "" {
		return fmt.Errorf("events.queue_url is required when events are enabled")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}
