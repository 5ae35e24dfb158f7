package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trancheworks/cascade/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. A run and
// its records are written in one transaction so the stored ledger is
// always complete, never truncated.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// InsertRun stores a cascade result and all of its ledger records.
func (s *LedgerStore) InsertRun(ctx context.Context, res domain.RunResult) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin insert run %s: %w", res.RunID, err)
	}
	defer tx.Rollback(ctx)

	const runQuery = `
		INSERT INTO ledger_runs (
			run_id, deal_id, period, cascade,
			opening_cash, drawn, distributed, residual, closing_cash,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, runQuery,
		res.RunID, res.DealID, res.Period, string(res.Cascade),
		res.OpeningCash, res.Drawn, res.Distributed, res.Residual, res.ClosingCash,
		res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", res.RunID, err)
	}

	const recQuery = `
		INSERT INTO ledger_records (
			run_id, seq, priority, kind, entity_id, test_id, test_pass,
			requested, paid, shortfall, cash_before, cash_after, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	for _, r := range res.Records {
		var testID *string
		if r.TestID != "" {
			testID = &r.TestID
		}
		_, err = tx.Exec(ctx, recQuery,
			res.RunID, r.Seq, r.Priority, string(r.Kind), r.EntityID, testID, r.TestPass,
			r.Requested, r.Paid, r.Shortfall, r.CashBefore, r.CashAfter, string(r.Outcome),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert record %s/%d: %w", res.RunID, r.Seq, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit run %s: %w", res.RunID, err)
	}
	return nil
}

// ListRecords returns all cascade results for a deal period, revenue
// before principal, each with its records in execution order.
func (s *LedgerStore) ListRecords(ctx context.Context, dealID string, period int) ([]domain.RunResult, error) {
	const runQuery = `
		SELECT run_id, deal_id, period, cascade,
			opening_cash, drawn, distributed, residual, closing_cash,
			started_at, finished_at
		FROM ledger_runs
		WHERE deal_id = $1 AND period = $2
		ORDER BY started_at`

	rows, err := s.pool.Query(ctx, runQuery, dealID, period)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs %s/%d: %w", dealID, period, err)
	}
	defer rows.Close()

	var runs []domain.RunResult
	for rows.Next() {
		var res domain.RunResult
		var cascade string
		if err := rows.Scan(
			&res.RunID, &res.DealID, &res.Period, &cascade,
			&res.OpeningCash, &res.Drawn, &res.Distributed, &res.Residual, &res.ClosingCash,
			&res.StartedAt, &res.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		res.Cascade = domain.Cascade(cascade)
		runs = append(runs, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs %s/%d: %w", dealID, period, err)
	}

	for i := range runs {
		records, err := s.listRunRecords(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Records = records
	}

	if len(runs) == 0 {
		return nil, domain.ErrNotFound
	}
	return runs, nil
}

func (s *LedgerStore) listRunRecords(ctx context.Context, runID string) ([]domain.Record, error) {
	const query = `
		SELECT seq, priority, kind, entity_id, test_id, test_pass,
			requested, paid, shortfall, cash_before, cash_after, outcome
		FROM ledger_records
		WHERE run_id = $1
		ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var r domain.Record
		var kind, outcome string
		var testID *string
		if err := rows.Scan(
			&r.Seq, &r.Priority, &kind, &r.EntityID, &testID, &r.TestPass,
			&r.Requested, &r.Paid, &r.Shortfall, &r.CashBefore, &r.CashAfter, &outcome,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		r.Kind = domain.StepKind(kind)
		r.Outcome = domain.Outcome(outcome)
		if testID != nil {
			r.TestID = *testID
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list records %s: %w", runID, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
