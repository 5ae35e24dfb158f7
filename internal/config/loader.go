package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CASCADE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CASCADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CASCADE_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "CASCADE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CASCADE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.EnsureSchema, "CASCADE_POSTGRES_ENSURE_SCHEMA")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CASCADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CASCADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CASCADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CASCADE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CASCADE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CASCADE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CASCADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CASCADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CASCADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CASCADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CASCADE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CASCADE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "CASCADE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CASCADE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CASCADE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitRPS, "CASCADE_SERVER_RATE_LIMIT_RPS")

	// ── Run ──
	setStr(&cfg.Run.DealFile, "CASCADE_RUN_DEAL_FILE")
	setStr(&cfg.Run.PeriodsFile, "CASCADE_RUN_PERIODS_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "CASCADE_MODE")
	setStr(&cfg.LogLevel, "CASCADE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
