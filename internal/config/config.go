// Package config defines the top-level configuration for the cascade
// waterfall daemon and provides validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CASCADE_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Run      RunConfig      `toml:"run"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
	EnsureSchema bool   `toml:"ensure_schema"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for ledger
// archival. Archival is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API parameters for serve mode. An empty
// APIKey disables authentication; a zero RateLimitRPS disables rate
// limiting.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	RateLimitRPS int      `toml:"rate_limit_rps"`
}

// RunConfig holds run-mode inputs and run orchestration parameters.
type RunConfig struct {
	DealFile    string   `toml:"deal_file"`
	PeriodsFile string   `toml:"periods_file"`
	LockTTL     duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("30s", "5m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LockTTL returns the configured per-deal lock TTL.
func (c *Config) LockTTL() time.Duration {
	return c.Run.LockTTL.Duration
}

// Defaults returns the built-in default configuration.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			PoolMaxConns: 8,
			PoolMinConns: 1,
			EnsureSchema: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Run: RunConfig{
			LockTTL: duration{Duration: 2 * time.Minute},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// Validate checks the configuration for the selected mode. Serve mode
// requires postgres and redis; run mode requires a deal file.
func (c *Config) Validate() error {
	switch c.Mode {
	case "run":
		if c.Run.DealFile == "" {
			return fmt.Errorf("config: run mode requires run.deal_file")
		}
		if c.Run.PeriodsFile == "" {
			return fmt.Errorf("config: run mode requires run.periods_file")
		}
	case "serve":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: serve mode requires postgres.dsn")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: serve mode requires redis.addr")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("config: invalid server port %d", c.Server.Port)
		}
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}

	if c.Run.LockTTL.Duration < 0 {
		return fmt.Errorf("config: negative lock ttl")
	}
	return nil
}
