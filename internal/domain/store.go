package domain

import (
	"context"
	"time"
)

// DealRecord is a stored deal definition: the raw TOML rulebook plus
// identity metadata. The definition is parsed on load so deals can vary
// without code changes.
type DealRecord struct {
	ID         string
	Name       string
	Definition []byte // TOML deal file
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DealStore persists deal definitions.
type DealStore interface {
	Put(ctx context.Context, rec DealRecord) error
	Get(ctx context.Context, id string) (DealRecord, error)
	List(ctx context.Context) ([]DealRecord, error)
}

// StateStore persists per-deal carry-forward state between periods.
type StateStore interface {
	Save(ctx context.Context, st DealState) error
	// Latest returns the most recently completed period's state, or
	// ErrNotFound if the deal has never run.
	Latest(ctx context.Context, dealID string) (DealState, error)
}

// LedgerStore persists payment ledgers.
type LedgerStore interface {
	InsertRun(ctx context.Context, res RunResult) error
	// ListRecords returns the ledger records for a deal period across
	// both cascades, in execution order.
	ListRecords(ctx context.Context, dealID string, period int) ([]RunResult, error)
}

// LockManager serializes cross-period writes per deal. Acquire returns
// an unlock function, or ErrLockHeld if another run owns the deal.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds how often a keyed action may run inside a time
// window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ResultCache caches the latest period result per deal for cheap reads.
type ResultCache interface {
	SetLatest(ctx context.Context, res PeriodResult) error
	GetLatest(ctx context.Context, dealID string) (PeriodResult, error)
}

// LedgerArchiver writes completed period ledgers to long-term blob
// storage.
type LedgerArchiver interface {
	ArchivePeriod(ctx context.Context, res PeriodResult) (string, error)
}
