package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/trancheworks/cascade/internal/blob/s3"
	"github.com/trancheworks/cascade/internal/cache/redis"
	"github.com/trancheworks/cascade/internal/config"
	"github.com/trancheworks/cascade/internal/domain"
	"github.com/trancheworks/cascade/internal/store/postgres"
)

// Dependencies bundles the concrete infrastructure that serve mode
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Deals   domain.DealStore
	States  domain.StateStore
	Ledgers domain.LedgerStore

	Locks   domain.LockManager
	Results domain.ResultCache
	Limiter domain.RateLimiter

	// Archiver is nil when no S3 bucket is configured.
	Archiver domain.LedgerArchiver

	// Health probes for the health endpoint, keyed by dependency name.
	Health map[string]func(ctx context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function to be called on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Health: make(map[string]func(ctx context.Context) error),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.EnsureSchema {
		if err := pgClient.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres schema: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Deals = postgres.NewDealStore(pool)
	deps.States = postgres.NewStateStore(pool)
	deps.Ledgers = postgres.NewLedgerStore(pool)
	deps.Health["postgres"] = pool.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Results = redis.NewResultCache(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.Health["redis"] = redisClient.Ping

	// --- S3 ledger archival (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client)
		deps.Health["s3"] = s3Client.Health
	} else {
		logger.InfoContext(ctx, "s3.bucket not set, ledger archival disabled")
	}

	return deps, cleanup, nil
}
