package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reserveSnapshot() *Snapshot {
	return &Snapshot{
		Period:              1,
		PoolBalance:         dec("50000000"),
		TotalTrancheBalance: dec("45000000"),
	}
}

func TestReserveTargetFormulas(t *testing.T) {
	snap := reserveSnapshot()

	r := &Reserve{ID: "rf", Target: ReserveTarget{Kind: TargetFixed, Value: dec("1000000")}}
	target, err := r.TargetBalance(snap)
	require.NoError(t, err)
	assert.True(t, dec("1000000").Equal(target))

	r.Target = ReserveTarget{Kind: TargetPoolPct, Value: dec("0.02")}
	target, err = r.TargetBalance(snap)
	require.NoError(t, err)
	assert.True(t, dec("1000000").Equal(target))

	r.Target = ReserveTarget{Kind: TargetTranchePct, Value: dec("0.02")}
	target, err = r.TargetBalance(snap)
	require.NoError(t, err)
	assert.True(t, dec("900000").Equal(target))

	r.Target = ReserveTarget{Kind: ReserveTargetKind("bogus")}
	_, err = r.TargetBalance(snap)
	require.Error(t, err)
}

func TestReserveRequiredFunding(t *testing.T) {
	snap := reserveSnapshot()
	r := &Reserve{
		ID:      "rf",
		Balance: dec("600000"),
		Target:  ReserveTarget{Kind: TargetFixed, Value: dec("1000000")},
	}

	req, err := r.RequiredFunding(snap)
	require.NoError(t, err)
	assert.True(t, dec("400000").Equal(req))

	// Overfunded reserves require nothing, never negative.
	r.Balance = dec("1500000")
	req, err = r.RequiredFunding(snap)
	require.NoError(t, err)
	assert.True(t, req.IsZero())
}

func TestReserveFundCapsAtTarget(t *testing.T) {
	r := &Reserve{ID: "rf", Balance: dec("800000")}

	applied, excess := r.Fund(dec("500000"), dec("1000000"))
	assert.True(t, dec("200000").Equal(applied))
	assert.True(t, dec("300000").Equal(excess))
	assert.True(t, dec("1000000").Equal(r.Balance))
	assert.True(t, dec("200000").Equal(r.TotalFunded))
}

func TestReserveDrawPartial(t *testing.T) {
	r := &Reserve{ID: "rf", Balance: dec("250000")}

	drawn := r.Draw(dec("400000"))
	assert.True(t, dec("250000").Equal(drawn))
	assert.True(t, r.Balance.IsZero())

	// Drawing from an empty reserve yields nothing.
	drawn = r.Draw(dec("100"))
	assert.True(t, drawn.IsZero())
	assert.True(t, dec("250000").Equal(r.TotalDrawn))
}
