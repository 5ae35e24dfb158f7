package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancheworks/cascade/internal/calc"
)

func feeSnapshot(period int) *Snapshot {
	return &Snapshot{
		Period:      period,
		PoolBalance: dec("50000000"),
	}
}

func TestFeeFlatDue(t *testing.T) {
	f := &Fee{ID: "trustee", Basis: BasisFlat, Value: dec("12000")}

	due, err := f.AmountDue(feeSnapshot(1))
	require.NoError(t, err)
	assert.True(t, dec("12000").Equal(due))
}

func TestFeePoolPctAnnualDue(t *testing.T) {
	// 10 bps of the pool, annual, paid quarterly.
	f := &Fee{
		ID:        "servicer",
		Basis:     BasisPoolPct,
		Value:     dec("0.001"),
		Annual:    true,
		Frequency: calc.Quarterly,
	}

	due, err := f.AmountDue(feeSnapshot(1))
	require.NoError(t, err)
	assert.True(t, dec("12500").Equal(due), "got %s", due)
}

func TestFeePaymentPeriods(t *testing.T) {
	f := &Fee{
		ID:             "audit",
		Basis:          BasisFlat,
		Value:          dec("5000"),
		PaymentPeriods: []int{4, 8},
	}

	due, err := f.AmountDue(feeSnapshot(3))
	require.NoError(t, err)
	assert.True(t, due.IsZero())

	due, err = f.AmountDue(feeSnapshot(4))
	require.NoError(t, err)
	assert.True(t, dec("5000").Equal(due))
}

func TestFeeUnknownBasis(t *testing.T) {
	f := &Fee{ID: "x", Basis: FeeBasis("bogus"), Value: dec("1")}
	_, err := f.AmountDue(feeSnapshot(1))
	require.Error(t, err)
}

func TestFeeCarryForward(t *testing.T) {
	f := &Fee{ID: "servicer", Basis: BasisFlat, Value: dec("10000"), CarryForward: true}

	f.ApplyPayment(dec("10000"), dec("4000"))
	assert.True(t, dec("6000").Equal(f.Shortfall))
	assert.True(t, dec("4000").Equal(f.TotalPaid))
	assert.True(t, dec("6000").Equal(f.TotalUnpaid))

	// Next period's claim includes the carried shortfall.
	due, err := f.AmountDue(feeSnapshot(2))
	require.NoError(t, err)
	assert.True(t, dec("16000").Equal(due))

	// Paying in full clears the carry-forward.
	f.ApplyPayment(due, due)
	assert.True(t, f.Shortfall.IsZero())
}

func TestFeeNoCarryForwardDropsShortfall(t *testing.T) {
	f := &Fee{ID: "trustee", Basis: BasisFlat, Value: dec("10000")}

	f.ApplyPayment(dec("10000"), dec("4000"))
	assert.True(t, f.Shortfall.IsZero())
	assert.True(t, dec("6000").Equal(f.TotalUnpaid))

	due, err := f.AmountDue(feeSnapshot(2))
	require.NoError(t, err)
	assert.True(t, dec("10000").Equal(due))
}

func TestComputeFeeScheduleOrderAndIdempotence(t *testing.T) {
	fees := []*Fee{
		{ID: "z-admin", Tier: 2, Basis: BasisFlat, Value: dec("1000")},
		{ID: "servicer", Tier: 1, Basis: BasisFlat, Value: dec("3000")},
		{ID: "a-admin", Tier: 2, Basis: BasisFlat, Value: dec("2000")},
	}
	snap := feeSnapshot(1)

	first, err := ComputeFeeSchedule(snap, fees)
	require.NoError(t, err)
	second, err := ComputeFeeSchedule(snap, fees)
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, "servicer", first[0].FeeID)
	assert.Equal(t, "a-admin", first[1].FeeID)
	assert.Equal(t, "z-admin", first[2].FeeID)
	assert.Equal(t, first, second)
}
