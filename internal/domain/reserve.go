package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trancheworks/cascade/internal/calc"
)

// ReserveTargetKind selects how a reserve's target balance is computed.
type ReserveTargetKind string

const (
	// TargetFixed is a fixed dollar target.
	TargetFixed ReserveTargetKind = "fixed"
	// TargetPoolPct sets the target as a percentage of the collateral
	// pool balance at period start.
	TargetPoolPct ReserveTargetKind = "pool_pct"
	// TargetTranchePct sets the target as a percentage of the aggregate
	// tranche balance at period start.
	TargetTranchePct ReserveTargetKind = "tranche_pct"
)

// ReserveTarget is a lazily evaluated target-balance formula.
type ReserveTarget struct {
	Kind ReserveTargetKind
	// Value is the fixed amount for TargetFixed, otherwise the percentage
	// (e.g. 0.02) applied to the reference balance.
	Value decimal.Decimal
}

// Reserve is a cash reserve account with a target funding level. The
// balance can never go negative: draws are satisfied only up to the
// available balance and funding is capped at the target.
type Reserve struct {
	ID      string
	Balance decimal.Decimal
	Target  ReserveTarget

	TotalFunded decimal.Decimal
	TotalDrawn  decimal.Decimal
}

// TargetBalance evaluates the target formula against the period-start
// snapshot.
func (r *Reserve) TargetBalance(snap *Snapshot) (decimal.Decimal, error) {
	switch r.Target.Kind {
	case TargetFixed:
		return calc.RoundCash(r.Target.Value), nil
	case TargetPoolPct:
		return calc.RoundCash(r.Target.Value.Mul(snap.PoolBalance)), nil
	case TargetTranchePct:
		return calc.RoundCash(r.Target.Value.Mul(snap.TotalTrancheBalance)), nil
	default:
		return decimal.Zero, fmt.Errorf("reserve %s: unknown target kind %q", r.ID, r.Target.Kind)
	}
}

// RequiredFunding returns max(0, target - balance) for the period.
func (r *Reserve) RequiredFunding(snap *Snapshot) (decimal.Decimal, error) {
	target, err := r.TargetBalance(snap)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Max(decimal.Zero, target.Sub(r.Balance)), nil
}

// Fund adds up to amount to the balance, capped so the balance never
// exceeds target. The uncommitted excess is returned to the caller as
// cash that was not consumed.
func (r *Reserve) Fund(amount, target decimal.Decimal) (applied, excess decimal.Decimal) {
	headroom := decimal.Max(decimal.Zero, target.Sub(r.Balance))
	applied = decimal.Min(amount, headroom)
	r.Balance = r.Balance.Add(applied)
	r.TotalFunded = r.TotalFunded.Add(applied)
	return applied, amount.Sub(applied)
}

// Draw removes up to amount from the balance and returns the amount
// actually drawn. A draw request exceeding the balance is a partial
// draw, never an oversubscription.
func (r *Reserve) Draw(amount decimal.Decimal) decimal.Decimal {
	drawn := decimal.Min(amount, r.Balance)
	r.Balance = r.Balance.Sub(drawn)
	r.TotalDrawn = r.TotalDrawn.Add(drawn)
	return drawn
}
