package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancheworks/cascade/internal/domain"
	"github.com/trancheworks/cascade/internal/engine"
)

const testDealTOML = `
id = "svc-deal"
name = "Service Test Deal"

[[tranche]]
id = "A"
class = "A"
rank = 1
balance = "40000000"
reference_rate = "0.03"
frequency = "Q"

[[revenue.step]]
priority = 1
kind = "pay_interest"
targets = ["A"]

[[revenue.step]]
priority = 2
kind = "residual"
targets = ["equity"]

[[principal.step]]
priority = 1
kind = "pay_principal"
targets = ["A"]

[[principal.step]]
priority = 2
kind = "residual"
targets = ["equity"]
`

// --- in-memory fakes -------------------------------------------------------

type memDealStore struct {
	mu   sync.Mutex
	recs map[string]domain.DealRecord
}

func newMemDealStore() *memDealStore {
	return &memDealStore{recs: make(map[string]domain.DealRecord)}
}

func (s *memDealStore) Put(_ context.Context, rec domain.DealRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *memDealStore) Get(_ context.Context, id string) (domain.DealRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.DealRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memDealStore) List(_ context.Context) ([]domain.DealRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DealRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}

type memStateStore struct {
	mu     sync.Mutex
	states map[string][]domain.DealState
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string][]domain.DealState)}
}

func (s *memStateStore) Save(_ context.Context, st domain.DealState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.DealID] = append(s.states[st.DealID], st)
	return nil
}

func (s *memStateStore) Latest(_ context.Context, dealID string) (domain.DealState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.states[dealID]
	if len(all) == 0 {
		return domain.DealState{}, domain.ErrNotFound
	}
	return all[len(all)-1], nil
}

type memLedgerStore struct {
	mu   sync.Mutex
	runs []domain.RunResult
}

func (s *memLedgerStore) InsertRun(_ context.Context, res domain.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, res)
	return nil
}

func (s *memLedgerStore) ListRecords(_ context.Context, dealID string, period int) ([]domain.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RunResult
	for _, r := range s.runs {
		if r.DealID == dealID && r.Period == period {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLock) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type memResultCache struct {
	mu     sync.Mutex
	latest map[string]domain.PeriodResult
}

func newMemResultCache() *memResultCache {
	return &memResultCache{latest: make(map[string]domain.PeriodResult)}
}

func (c *memResultCache) SetLatest(_ context.Context, res domain.PeriodResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[res.DealID] = res
	return nil
}

func (c *memResultCache) GetLatest(_ context.Context, dealID string) (domain.PeriodResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.latest[dealID]
	if !ok {
		return domain.PeriodResult{}, domain.ErrNotFound
	}
	return res, nil
}

// --- tests -----------------------------------------------------------------

func newTestRunService(t *testing.T) (*RunService, *fakeLock, *memResultCache) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	dealSvc := NewDealService(newMemDealStore(), logger)
	_, err := dealSvc.Register(context.Background(), []byte(testDealTOML))
	require.NoError(t, err)

	lock := &fakeLock{}
	cache := newMemResultCache()
	svc := NewRunService(
		dealSvc, newMemStateStore(), &memLedgerStore{}, lock, cache,
		engine.New(logger), time.Minute, logger,
	)
	return svc, lock, cache
}

func input(period int) domain.PeriodInput {
	return domain.PeriodInput{
		Period:              period,
		PoolBalance:         decimal.RequireFromString("60000000"),
		InterestCollections: decimal.RequireFromString("1000000"),
	}
}

func TestRunPeriodPersistsAndCaches(t *testing.T) {
	svc, lock, cache := newTestRunService(t)
	ctx := context.Background()

	res, err := svc.RunPeriod(ctx, "svc-deal", input(1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Period)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)

	// Ledger holds both cascades.
	runs, err := svc.Ledger(ctx, "svc-deal", 1)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Cache serves the latest result.
	cached, err := cache.GetLatest(ctx, "svc-deal")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Period)

	latest, err := svc.LatestResult(ctx, "svc-deal")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Period)
}

func TestRunPeriodCarriesStateAcrossPeriods(t *testing.T) {
	svc, _, _ := newTestRunService(t)
	ctx := context.Background()

	// Period 1: 1,000,000 covers the 300,000 coupon in full.
	res1, err := svc.RunPeriod(ctx, "svc-deal", input(1))
	require.NoError(t, err)
	assert.True(t, res1.State.Tranches[0].AccruedInterest.IsZero())

	// Period 2 with only 100,000: 200,000 arrears carry forward.
	in := input(2)
	in.InterestCollections = decimal.RequireFromString("100000")
	res2, err := svc.RunPeriod(ctx, "svc-deal", in)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("200000").Equal(res2.State.Tranches[0].AccruedInterest))

	// Period 3's claim includes the arrears: 300,000 + 200,000.
	res3, err := svc.RunPeriod(ctx, "svc-deal", input(3))
	require.NoError(t, err)
	first := res3.Revenue.Records[0]
	assert.True(t, decimal.RequireFromString("500000").Equal(first.Requested), "got %s", first.Requested)
}

func TestRunPeriodRejectsOutOfOrder(t *testing.T) {
	svc, _, _ := newTestRunService(t)
	ctx := context.Background()

	// First period must be 1.
	_, err := svc.RunPeriod(ctx, "svc-deal", input(2))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.RunPeriod(ctx, "svc-deal", input(1))
	require.NoError(t, err)

	// Re-running a completed period is rejected.
	_, err = svc.RunPeriod(ctx, "svc-deal", input(1))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	// Skipping ahead is rejected.
	_, err = svc.RunPeriod(ctx, "svc-deal", input(3))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestRunPeriodLockHeld(t *testing.T) {
	svc, lock, _ := newTestRunService(t)
	lock.held = true

	_, err := svc.RunPeriod(context.Background(), "svc-deal", input(1))
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRunPeriodUnknownDeal(t *testing.T) {
	svc, _, _ := newTestRunService(t)

	_, err := svc.RunPeriod(context.Background(), "missing", input(1))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterRejectsInvalidDefinition(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	dealSvc := NewDealService(newMemDealStore(), logger)

	// Residual step must be last; this definition puts it first.
	_, err := dealSvc.Register(context.Background(), []byte(`
id = "bad"
name = "Bad Deal"

[[tranche]]
id = "A"
rank = 1
balance = "1000"
reference_rate = "0.03"
frequency = "Q"

[[revenue.step]]
priority = 1
kind = "residual"
targets = ["equity"]

[[revenue.step]]
priority = 2
kind = "pay_interest"
targets = ["A"]

[[principal.step]]
priority = 1
kind = "pay_principal"
targets = ["A"]
`))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}
