package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trancheworks/cascade/internal/domain"
	"github.com/trancheworks/cascade/internal/engine"
)

// RunService orchestrates period executions: it serializes runs per deal
// behind a distributed lock, restores carry-forward state, invokes the
// engine, and persists the ledger, the new state, and the cached latest
// result. The engine itself stays pure; everything with a side effect
// lives here.
type RunService struct {
	deals    *DealService
	states   domain.StateStore
	ledgers  domain.LedgerStore
	locks    domain.LockManager
	cache    domain.ResultCache
	archiver domain.LedgerArchiver
	eng      *engine.Engine
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewRunService creates a RunService with all required dependencies.
func NewRunService(
	deals *DealService,
	states domain.StateStore,
	ledgers domain.LedgerStore,
	locks domain.LockManager,
	cache domain.ResultCache,
	eng *engine.Engine,
	lockTTL time.Duration,
	logger *slog.Logger,
) *RunService {
	return &RunService{
		deals:   deals,
		states:  states,
		ledgers: ledgers,
		locks:   locks,
		cache:   cache,
		eng:     eng,
		lockTTL: lockTTL,
		logger:  logger.With(slog.String("component", "run_service")),
	}
}

// WithArchiver attaches a ledger archiver so completed periods are also
// written to blob storage. Without one, RunPeriod skips archiving.
func (s *RunService) WithArchiver(a domain.LedgerArchiver) *RunService {
	s.archiver = a
	return s
}

// RunPeriod executes one period for the deal. The deal lock is held for
// the duration so concurrent requests for the same deal cannot
// interleave state writes; runs against distinct deals proceed in
// parallel.
//
// Periods must be executed in order: the input's period must be exactly
// one past the last completed period (or 1 for a deal that has never
// run). Out-of-order input is rejected as a validation error.
func (s *RunService) RunPeriod(ctx context.Context, dealID string, in domain.PeriodInput) (*domain.PeriodResult, error) {
	unlock, err := s.locks.Acquire(ctx, "deal:"+dealID, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("run_service: deal %q: %w", dealID, domain.ErrLockHeld)
		}
		return nil, fmt.Errorf("run_service: lock deal %q: %w", dealID, err)
	}
	defer unlock()

	deal, err := s.deals.Load(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("run_service: %w", err)
	}

	lastPeriod := 0
	prev, err := s.states.Latest(ctx, dealID)
	switch {
	case err == nil:
		if restoreErr := deal.RestoreState(prev); restoreErr != nil {
			return nil, fmt.Errorf("run_service: restore state %q: %w", dealID, restoreErr)
		}
		lastPeriod = prev.Period
	case errors.Is(err, domain.ErrNotFound):
		// First run; the deal starts from its definition.
	default:
		return nil, fmt.Errorf("run_service: load state %q: %w", dealID, err)
	}

	if in.Period != lastPeriod+1 {
		return nil, domain.Validationf("period %d out of order: last completed period is %d", in.Period, lastPeriod)
	}

	res, err := s.eng.RunPeriod(ctx, deal, in)
	if err != nil {
		return nil, fmt.Errorf("run_service: run %q period %d: %w", dealID, in.Period, err)
	}

	if err := s.persist(ctx, res); err != nil {
		return nil, err
	}

	// Cache and archive are best-effort; the stores already hold the
	// authoritative copy.
	if cacheErr := s.cache.SetLatest(ctx, *res); cacheErr != nil {
		s.logger.WarnContext(ctx, "cache latest result failed",
			slog.String("deal_id", dealID),
			slog.Int("period", in.Period),
			slog.String("error", cacheErr.Error()),
		)
	}
	if s.archiver != nil {
		key, archiveErr := s.archiver.ArchivePeriod(ctx, *res)
		if archiveErr != nil {
			s.logger.WarnContext(ctx, "archive period failed",
				slog.String("deal_id", dealID),
				slog.Int("period", in.Period),
				slog.String("error", archiveErr.Error()),
			)
		} else {
			s.logger.InfoContext(ctx, "period archived",
				slog.String("deal_id", dealID),
				slog.Int("period", in.Period),
				slog.String("key", key),
			)
		}
	}

	s.logger.InfoContext(ctx, "period completed",
		slog.String("deal_id", dealID),
		slog.Int("period", in.Period),
		slog.String("revenue_residual", res.Revenue.Residual.String()),
		slog.String("principal_residual", res.Principal.Residual.String()),
	)
	return res, nil
}

// persist writes both cascade ledgers and the carry-forward state. The
// ledger insert is transactional per cascade; state is written last so a
// partial failure never advances the deal past an unrecorded ledger.
func (s *RunService) persist(ctx context.Context, res *domain.PeriodResult) error {
	if err := s.ledgers.InsertRun(ctx, *res.Revenue); err != nil {
		return fmt.Errorf("run_service: persist revenue ledger %q period %d: %w", res.DealID, res.Period, err)
	}
	if err := s.ledgers.InsertRun(ctx, *res.Principal); err != nil {
		return fmt.Errorf("run_service: persist principal ledger %q period %d: %w", res.DealID, res.Period, err)
	}
	if err := s.states.Save(ctx, res.State); err != nil {
		return fmt.Errorf("run_service: persist state %q period %d: %w", res.DealID, res.Period, err)
	}
	return nil
}

// Ledger returns the recorded ledgers for a deal period, revenue cascade
// before principal, records in execution order.
func (s *RunService) Ledger(ctx context.Context, dealID string, period int) ([]domain.RunResult, error) {
	runs, err := s.ledgers.ListRecords(ctx, dealID, period)
	if err != nil {
		return nil, fmt.Errorf("run_service: ledger %q period %d: %w", dealID, period, err)
	}
	return runs, nil
}

// LatestResult returns the most recent completed period result for the
// deal, served from the cache when warm.
func (s *RunService) LatestResult(ctx context.Context, dealID string) (domain.PeriodResult, error) {
	res, err := s.cache.GetLatest(ctx, dealID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "result cache read failed",
			slog.String("deal_id", dealID),
			slog.String("error", err.Error()),
		)
	}

	// Cold cache: rebuild from the state and ledger stores.
	st, err := s.states.Latest(ctx, dealID)
	if err != nil {
		return domain.PeriodResult{}, fmt.Errorf("run_service: latest result %q: %w", dealID, err)
	}
	runs, err := s.ledgers.ListRecords(ctx, dealID, st.Period)
	if err != nil {
		return domain.PeriodResult{}, fmt.Errorf("run_service: latest result %q: %w", dealID, err)
	}

	rebuilt := domain.PeriodResult{
		DealID: dealID,
		Period: st.Period,
		State:  st,
	}
	for i := range runs {
		switch runs[i].Cascade {
		case domain.CascadeRevenue:
			rebuilt.Revenue = &runs[i]
		case domain.CascadePrincipal:
			rebuilt.Principal = &runs[i]
		}
	}
	return rebuilt, nil
}

// State returns the deal's latest carry-forward state.
func (s *RunService) State(ctx context.Context, dealID string) (domain.DealState, error) {
	st, err := s.states.Latest(ctx, dealID)
	if err != nil {
		return domain.DealState{}, fmt.Errorf("run_service: state %q: %w", dealID, err)
	}
	return st, nil
}
