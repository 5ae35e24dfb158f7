package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancheworks/cascade/internal/calc"
	"github.com/trancheworks/cascade/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testEngine() *Engine {
	return New(slog.New(slog.DiscardHandler))
}

// twoTrancheDeal builds a deal whose revenue waterfall pays A interest
// (300,000/period), B interest (200,000/period), a scheduled 400,000 A
// principal instalment, then residual to equity. The principal cascade
// redeems sequentially.
func twoTrancheDeal() *domain.Deal {
	return &domain.Deal{
		ID:   "two-tranche",
		Name: "Two Tranche Test Deal",
		Tranches: []*domain.Tranche{
			{
				ID: "A", Class: "A", Rank: 1,
				OriginalBalance: dec("40000000"), Balance: dec("40000000"),
				ReferenceRate: dec("0.03"), Frequency: calc.Quarterly,
			},
			{
				ID: "B", Class: "B", Rank: 2,
				OriginalBalance: dec("20000000"), Balance: dec("20000000"),
				ReferenceRate: dec("0.04"), Frequency: calc.Quarterly,
			},
		},
		Tests: []domain.CoverageTest{
			{ID: "oc-a", Kind: domain.TestOC, Threshold: dec("1.2"), Tranches: []string{"A"}},
		},
		Revenue: domain.Definition{
			Cascade: domain.CascadeRevenue,
			Steps: []domain.Step{
				{Priority: 1, Kind: domain.StepPayInterest, Targets: []string{"A"}, Allocation: domain.AllocFull},
				{Priority: 2, Kind: domain.StepPayInterest, Targets: []string{"B"}, Allocation: domain.AllocFull},
				{Priority: 3, Kind: domain.StepPayPrincipal, Targets: []string{"A"}, Allocation: domain.AllocFull, Test: "oc-a", Cap: dec("400000")},
				{Priority: 4, Kind: domain.StepResidual, Targets: []string{"equity"}, Allocation: domain.AllocFull},
			},
		},
		Principal: domain.Definition{
			Cascade: domain.CascadePrincipal,
			Steps: []domain.Step{
				{Priority: 1, Kind: domain.StepPayPrincipal, Targets: []string{"A", "B"}, Allocation: domain.AllocSequential},
				{Priority: 2, Kind: domain.StepResidual, Targets: []string{"equity"}, Allocation: domain.AllocFull},
			},
		},
	}
}

func baseInput() domain.PeriodInput {
	return domain.PeriodInput{
		Period:              1,
		PoolBalance:         dec("60000000"),
		InterestCollections: dec("1000000"),
	}
}

func requireConserved(t *testing.T, res *domain.RunResult) {
	t.Helper()
	in := res.OpeningCash.Add(res.Drawn)
	out := res.Distributed.Add(res.Residual).Add(res.ClosingCash)
	require.True(t, in.Equal(out), "cascade %s: in %s != out %s", res.Cascade, in, out)
}

func TestRunPeriodFullPayment(t *testing.T) {
	deal := twoTrancheDeal()

	res, err := testEngine().RunPeriod(context.Background(), deal, baseInput())
	require.NoError(t, err)

	rev := res.Revenue
	require.Len(t, rev.Records, 4)

	// 1,000,000 in: A interest 300,000, B interest 200,000, A principal
	// 400,000, equity residual 100,000.
	assert.Equal(t, domain.OutcomePaid, rev.Records[0].Outcome)
	assert.True(t, dec("300000").Equal(rev.Records[0].Paid), "A interest: %s", rev.Records[0].Paid)
	assert.True(t, dec("200000").Equal(rev.Records[1].Paid), "B interest: %s", rev.Records[1].Paid)
	assert.True(t, dec("400000").Equal(rev.Records[2].Paid), "A principal: %s", rev.Records[2].Paid)
	assert.Equal(t, "equity", rev.Records[3].EntityID)
	assert.True(t, dec("100000").Equal(rev.Records[3].Paid), "residual: %s", rev.Records[3].Paid)
	assert.Equal(t, domain.OutcomeResidual, rev.Records[3].Outcome)

	assert.True(t, dec("900000").Equal(rev.Distributed))
	assert.True(t, dec("100000").Equal(rev.Residual))
	assert.True(t, rev.ClosingCash.IsZero())
	requireConserved(t, rev)
	requireConserved(t, res.Principal)

	// Entity state reflects the payments.
	assert.True(t, deal.TrancheByID("A").AccruedInterest.IsZero())
	assert.True(t, dec("39600000").Equal(deal.TrancheByID("A").Balance))
	assert.Equal(t, 1, res.State.Period)
}

func TestRunPeriodCoverageDiversion(t *testing.T) {
	deal := twoTrancheDeal()
	// Pool 46m over A's 40m is 1.15, below the 1.2 threshold: the gated
	// principal step is skipped and its cash flows to the residual.
	in := baseInput()
	in.PoolBalance = dec("46000000")

	res, err := testEngine().RunPeriod(context.Background(), deal, in)
	require.NoError(t, err)

	rev := res.Revenue
	require.Len(t, rev.Records, 4)

	skipped := rev.Records[2]
	assert.Equal(t, domain.OutcomeSkipped, skipped.Outcome)
	require.NotNil(t, skipped.TestPass)
	assert.False(t, *skipped.TestPass)
	assert.True(t, skipped.Paid.IsZero())
	assert.True(t, dec("400000").Equal(skipped.Shortfall))
	// The skipped step leaves its cash untouched.
	assert.True(t, skipped.CashBefore.Equal(skipped.CashAfter))

	assert.True(t, dec("500000").Equal(rev.Records[3].Paid), "residual: %s", rev.Records[3].Paid)
	assert.True(t, dec("40000000").Equal(deal.TrancheByID("A").Balance))
	requireConserved(t, rev)
}

func TestRunPeriodCashMonotonicExceptDraws(t *testing.T) {
	deal := twoTrancheDeal()

	res, err := testEngine().RunPeriod(context.Background(), deal, baseInput())
	require.NoError(t, err)

	for _, run := range []*domain.RunResult{res.Revenue, res.Principal} {
		for _, rec := range run.Records {
			if rec.Kind == domain.StepDrawReserve {
				continue
			}
			assert.True(t, rec.CashAfter.LessThanOrEqual(rec.CashBefore),
				"%s seq %d: cash rose from %s to %s", run.Cascade, rec.Seq, rec.CashBefore, rec.CashAfter)
		}
	}
}

func TestRunPeriodInterestShortfallCarriesForward(t *testing.T) {
	deal := twoTrancheDeal()
	// Only 250,000 in: A takes it all, leaving 50,000 arrears; B gets
	// nothing.
	in := baseInput()
	in.InterestCollections = dec("250000")

	res, err := testEngine().RunPeriod(context.Background(), deal, in)
	require.NoError(t, err)

	rev := res.Revenue
	assert.Equal(t, domain.OutcomePartial, rev.Records[0].Outcome)
	assert.True(t, dec("250000").Equal(rev.Records[0].Paid))
	assert.True(t, dec("50000").Equal(rev.Records[0].Shortfall))
	assert.Equal(t, domain.OutcomeUnpaid, rev.Records[1].Outcome)
	assert.True(t, dec("200000").Equal(rev.Records[1].Shortfall))

	assert.True(t, dec("50000").Equal(deal.TrancheByID("A").AccruedInterest))
	assert.True(t, dec("200000").Equal(deal.TrancheByID("B").AccruedInterest))

	// Period 2 accrues on top of the arrears: A owes 350,000 and is paid
	// in full before B sees a cent.
	in2 := baseInput()
	in2.Period = 2
	res2, err := testEngine().RunPeriod(context.Background(), deal, in2)
	require.NoError(t, err)

	rev2 := res2.Revenue
	assert.True(t, dec("350000").Equal(rev2.Records[0].Requested), "A due: %s", rev2.Records[0].Requested)
	assert.True(t, dec("350000").Equal(rev2.Records[0].Paid))
	assert.True(t, dec("400000").Equal(rev2.Records[1].Requested), "B due: %s", rev2.Records[1].Requested)
	assert.True(t, dec("400000").Equal(rev2.Records[1].Paid))
}

func TestRunPeriodProRataInterest(t *testing.T) {
	deal := twoTrancheDeal()
	deal.Revenue.Steps = []domain.Step{
		{Priority: 1, Kind: domain.StepPayInterest, Targets: []string{"A", "B"}, Allocation: domain.AllocProRata},
		{Priority: 2, Kind: domain.StepResidual, Targets: []string{"equity"}, Allocation: domain.AllocFull},
	}
	// 250,000 against claims of 300,000 and 200,000: split 3:2.
	in := baseInput()
	in.InterestCollections = dec("250000")

	res, err := testEngine().RunPeriod(context.Background(), deal, in)
	require.NoError(t, err)

	rev := res.Revenue
	assert.True(t, dec("150000").Equal(rev.Records[0].Paid), "A share: %s", rev.Records[0].Paid)
	assert.True(t, dec("100000").Equal(rev.Records[1].Paid), "B share: %s", rev.Records[1].Paid)
	assert.Equal(t, domain.OutcomePartial, rev.Records[0].Outcome)
	requireConserved(t, rev)
}

func TestRunPeriodReserveFundAndExcess(t *testing.T) {
	deal := twoTrancheDeal()
	deal.Reserves = []*domain.Reserve{
		{ID: "rf", Balance: dec("600000"), Target: domain.ReserveTarget{Kind: domain.TargetFixed, Value: dec("1000000")}},
	}
	deal.Revenue.Steps = []domain.Step{
		{Priority: 1, Kind: domain.StepPayInterest, Targets: []string{"A"}, Allocation: domain.AllocFull},
		{Priority: 2, Kind: domain.StepFundReserve, Targets: []string{"rf"}, Allocation: domain.AllocFull},
		{Priority: 3, Kind: domain.StepResidual, Targets: []string{"equity"}, Allocation: domain.AllocFull},
	}

	res, err := testEngine().RunPeriod(context.Background(), deal, baseInput())
	require.NoError(t, err)

	rev := res.Revenue
	// After 300,000 A interest, the reserve tops up 400,000 to target and
	// the remaining 300,000 flows to equity.
	assert.True(t, dec("400000").Equal(rev.Records[1].Paid), "reserve funding: %s", rev.Records[1].Paid)
	assert.True(t, dec("1000000").Equal(deal.ReserveByID("rf").Balance))
	assert.True(t, dec("300000").Equal(rev.Records[2].Paid), "residual: %s", rev.Records[2].Paid)
	requireConserved(t, rev)
}

func TestRunPeriodReserveDrawAddsCash(t *testing.T) {
	deal := twoTrancheDeal()
	deal.Reserves = []*domain.Reserve{
		{ID: "rf", Balance: dec("250000"), Target: domain.ReserveTarget{Kind: domain.TargetFixed, Value: dec("250000")}},
	}
	deal.Revenue.Steps = []domain.Step{
		{Priority: 1, Kind: domain.StepDrawReserve, Targets: []string{"rf"}, Allocation: domain.AllocFull, Cap: dec("400000")},
		{Priority: 2, Kind: domain.StepPayInterest, Targets: []string{"A"}, Allocation: domain.AllocFull},
		{Priority: 3, Kind: domain.StepResidual, Targets: []string{"equity"}, Allocation: domain.AllocFull},
	}
	// Only 100,000 collected; the draw adds the full 250,000 reserve.
	in := baseInput()
	in.InterestCollections = dec("100000")

	res, err := testEngine().RunPeriod(context.Background(), deal, in)
	require.NoError(t, err)

	rev := res.Revenue
	draw := rev.Records[0]
	assert.Equal(t, domain.OutcomeDrawn, draw.Outcome)
	assert.True(t, dec("250000").Equal(draw.Paid))
	assert.True(t, dec("350000").Equal(draw.CashAfter))

	// 350,000 covers all of A's 300,000 interest; 50,000 to equity.
	assert.True(t, dec("300000").Equal(rev.Records[1].Paid))
	assert.True(t, dec("50000").Equal(rev.Records[2].Paid))
	assert.True(t, dec("250000").Equal(rev.Drawn))
	assert.True(t, deal.ReserveByID("rf").Balance.IsZero())
	requireConserved(t, rev)
}

func TestRunPeriodMissingResidualStepBooksExcess(t *testing.T) {
	deal := twoTrancheDeal()
	deal.Revenue.Steps = []domain.Step{
		{Priority: 1, Kind: domain.StepPayInterest, Targets: []string{"A"}, Allocation: domain.AllocFull},
	}

	res, err := testEngine().RunPeriod(context.Background(), deal, baseInput())
	require.NoError(t, err)

	rev := res.Revenue
	require.Len(t, rev.Records, 2)
	last := rev.Records[1]
	assert.Equal(t, ExcessEntityID, last.EntityID)
	assert.Equal(t, domain.OutcomeResidual, last.Outcome)
	assert.True(t, dec("700000").Equal(last.Paid))
	requireConserved(t, rev)
}

func TestRunPeriodFeesPaidBeforeInterest(t *testing.T) {
	deal := twoTrancheDeal()
	deal.Fees = []*domain.Fee{
		{ID: "servicer", Payee: "Servicer Inc", Tier: 1, Basis: domain.BasisFlat, Value: dec("50000"), CarryForward: true},
	}
	deal.Revenue.Steps = append([]domain.Step{
		{Priority: 0, Kind: domain.StepPayFee, Targets: []string{"servicer"}, Allocation: domain.AllocFull},
	}, deal.Revenue.Steps...)

	res, err := testEngine().RunPeriod(context.Background(), deal, baseInput())
	require.NoError(t, err)

	rev := res.Revenue
	assert.Equal(t, domain.StepPayFee, rev.Records[0].Kind)
	assert.True(t, dec("50000").Equal(rev.Records[0].Paid))
	// Residual absorbs the fee: 100,000 - 50,000.
	assert.True(t, dec("50000").Equal(rev.Records[4].Paid))

	// The fee schedule in the result matches the claim.
	require.Len(t, res.Fees, 1)
	assert.True(t, dec("50000").Equal(res.Fees[0].Amount))
	requireConserved(t, rev)
}

func TestRunPeriodSequencing(t *testing.T) {
	deal := twoTrancheDeal()

	res, err := testEngine().RunPeriod(context.Background(), deal, baseInput())
	require.NoError(t, err)

	// Records are strictly sequenced and ordered by step priority.
	for _, run := range []*domain.RunResult{res.Revenue, res.Principal} {
		for i, rec := range run.Records {
			assert.Equal(t, i, rec.Seq)
			if i > 0 && rec.Priority > 0 && run.Records[i-1].Priority > 0 {
				assert.GreaterOrEqual(t, rec.Priority, run.Records[i-1].Priority)
			}
		}
	}
}

func TestRunPeriodRejectsBadInput(t *testing.T) {
	deal := twoTrancheDeal()
	eng := testEngine()

	in := baseInput()
	in.Period = 0
	_, err := eng.RunPeriod(context.Background(), deal, in)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	in = baseInput()
	in.InterestCollections = dec("-1")
	_, err = eng.RunPeriod(context.Background(), deal, in)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}
