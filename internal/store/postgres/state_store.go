package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trancheworks/cascade/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL. Carry-forward
// state is stored as one JSONB document per (deal, period).
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Save stores the carry-forward state for a completed period.
func (s *StateStore) Save(ctx context.Context, st domain.DealState) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("postgres: marshal state for deal %s: %w", st.DealID, err)
	}

	const query = `
		INSERT INTO deal_states (deal_id, period, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (deal_id, period) DO UPDATE SET
			state      = EXCLUDED.state,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, st.DealID, st.Period, doc); err != nil {
		return fmt.Errorf("postgres: save state deal %s period %d: %w", st.DealID, st.Period, err)
	}
	return nil
}

// Latest returns the most recently completed period's state for a deal.
func (s *StateStore) Latest(ctx context.Context, dealID string) (domain.DealState, error) {
	const query = `
		SELECT state FROM deal_states
		WHERE deal_id = $1
		ORDER BY period DESC
		LIMIT 1`

	var doc []byte
	err := s.pool.QueryRow(ctx, query, dealID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DealState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DealState{}, fmt.Errorf("postgres: latest state deal %s: %w", dealID, err)
	}

	var st domain.DealState
	if err := json.Unmarshal(doc, &st); err != nil {
		return domain.DealState{}, fmt.Errorf("postgres: unmarshal state deal %s: %w", dealID, err)
	}
	return st, nil
}

// Compile-time interface check.
var _ domain.StateStore = (*StateStore)(nil)
