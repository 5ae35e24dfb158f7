package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trancheworks/cascade/internal/domain"
	"github.com/trancheworks/cascade/internal/engine"
	"github.com/trancheworks/cascade/internal/loader"
)

// DealService manages the catalogue of deal definitions. A definition is
// stored as the raw TOML rulebook and re-parsed on each use, so the
// stored form is always the source of truth.
type DealService struct {
	deals  domain.DealStore
	logger *slog.Logger
}

// NewDealService creates a DealService.
func NewDealService(deals domain.DealStore, logger *slog.Logger) *DealService {
	return &DealService{
		deals:  deals,
		logger: logger.With(slog.String("component", "deal_service")),
	}
}

// Register parses, validates, and stores a deal definition. An existing
// definition with the same ID is replaced.
func (s *DealService) Register(ctx context.Context, definition []byte) (domain.DealRecord, error) {
	deal, err := loader.Parse(definition)
	if err != nil {
		return domain.DealRecord{}, fmt.Errorf("deal_service: register: %w", err)
	}
	if err := engine.Validate(deal); err != nil {
		return domain.DealRecord{}, fmt.Errorf("deal_service: register %q: %w", deal.ID, err)
	}

	now := time.Now().UTC()
	rec := domain.DealRecord{
		ID:         deal.ID,
		Name:       deal.Name,
		Definition: definition,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.deals.Put(ctx, rec); err != nil {
		return domain.DealRecord{}, fmt.Errorf("deal_service: store %q: %w", deal.ID, err)
	}

	s.logger.InfoContext(ctx, "deal registered",
		slog.String("deal_id", deal.ID),
		slog.Int("tranches", len(deal.Tranches)),
		slog.Int("revenue_steps", len(deal.Revenue.Steps)),
		slog.Int("principal_steps", len(deal.Principal.Steps)),
	)
	return rec, nil
}

// Get returns a stored deal record by ID.
func (s *DealService) Get(ctx context.Context, id string) (domain.DealRecord, error) {
	rec, err := s.deals.Get(ctx, id)
	if err != nil {
		return domain.DealRecord{}, fmt.Errorf("deal_service: get %q: %w", id, err)
	}
	return rec, nil
}

// List returns all stored deal records.
func (s *DealService) List(ctx context.Context) ([]domain.DealRecord, error) {
	recs, err := s.deals.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("deal_service: list: %w", err)
	}
	return recs, nil
}

// Load fetches a stored definition and parses it into a fresh Deal value
// ready for a run. Each call returns an independent value; runs never
// share entity state.
func (s *DealService) Load(ctx context.Context, id string) (*domain.Deal, error) {
	rec, err := s.deals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("deal_service: load %q: %w", id, err)
	}
	deal, err := loader.Parse(rec.Definition)
	if err != nil {
		return nil, fmt.Errorf("deal_service: load %q: %w", id, err)
	}
	return deal, nil
}
