// Package postgres implements domain store interfaces using PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// Client wraps a pgxpool.Pool and manages the schema.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a new Client with a connection pool configured from cfg and
// pings it to verify connectivity.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Pool returns the underlying connection pool for the store types.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS deals (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	definition  BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deal_states (
	deal_id     TEXT NOT NULL REFERENCES deals(id),
	period      INT NOT NULL,
	state       JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (deal_id, period)
);

CREATE TABLE IF NOT EXISTS ledger_runs (
	run_id       TEXT PRIMARY KEY,
	deal_id      TEXT NOT NULL REFERENCES deals(id),
	period       INT NOT NULL,
	cascade      TEXT NOT NULL,
	opening_cash NUMERIC NOT NULL,
	drawn        NUMERIC NOT NULL,
	distributed  NUMERIC NOT NULL,
	residual     NUMERIC NOT NULL,
	closing_cash NUMERIC NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_records (
	run_id      TEXT NOT NULL REFERENCES ledger_runs(run_id),
	seq         INT NOT NULL,
	priority    INT NOT NULL,
	kind        TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	test_id     TEXT,
	test_pass   BOOLEAN,
	requested   NUMERIC NOT NULL,
	paid        NUMERIC NOT NULL,
	shortfall   NUMERIC NOT NULL,
	cash_before NUMERIC NOT NULL,
	cash_after  NUMERIC NOT NULL,
	outcome     TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_ledger_runs_deal_period
	ON ledger_runs (deal_id, period);
`

// EnsureSchema creates the tables if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}
