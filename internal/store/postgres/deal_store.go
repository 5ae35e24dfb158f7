package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trancheworks/cascade/internal/domain"
)

// DealStore implements domain.DealStore using PostgreSQL.
type DealStore struct {
	pool *pgxpool.Pool
}

// NewDealStore creates a new DealStore backed by the given connection pool.
func NewDealStore(pool *pgxpool.Pool) *DealStore {
	return &DealStore{pool: pool}
}

// Put inserts or replaces a deal definition.
func (s *DealStore) Put(ctx context.Context, rec domain.DealRecord) error {
	const query = `
		INSERT INTO deals (id, name, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			definition = EXCLUDED.definition,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.Name, rec.Definition); err != nil {
		return fmt.Errorf("postgres: put deal %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the deal definition with the given id.
func (s *DealStore) Get(ctx context.Context, id string) (domain.DealRecord, error) {
	const query = `
		SELECT id, name, definition, created_at, updated_at
		FROM deals WHERE id = $1`

	var rec domain.DealRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Name, &rec.Definition, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DealRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DealRecord{}, fmt.Errorf("postgres: get deal %s: %w", id, err)
	}
	return rec, nil
}

// List returns all stored deal definitions ordered by id.
func (s *DealStore) List(ctx context.Context) ([]domain.DealRecord, error) {
	const query = `
		SELECT id, name, definition, created_at, updated_at
		FROM deals ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deals: %w", err)
	}
	defer rows.Close()

	var out []domain.DealRecord
	for rows.Next() {
		var rec domain.DealRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Definition, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan deal: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deals: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.DealStore = (*DealStore)(nil)
