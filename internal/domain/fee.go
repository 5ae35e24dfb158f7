package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/trancheworks/cascade/internal/calc"
)

// FeeBasis selects how a fee's period amount is computed.
type FeeBasis string

const (
	// BasisFlat is a fixed dollar amount per payment.
	BasisFlat FeeBasis = "flat"
	// BasisPoolPct is a percentage of the collateral pool balance.
	BasisPoolPct FeeBasis = "pool_pct"
)

// Fee is an amount owed to a servicing, trustee, or management party,
// recomputed each period from deal state. Unpaid amounts carry forward
// only when CarryForward is set; otherwise they are dropped at the end
// of the period.
type Fee struct {
	ID    string
	Payee string
	// Tier is the fee's priority tier used to order fee entries within a
	// PayFee step.
	Tier int

	Basis FeeBasis
	// Value is the dollar amount for BasisFlat, otherwise the percentage
	// applied to the pool balance.
	Value decimal.Decimal
	// Annual divides the computed amount by the payment-frequency
	// multiplier (an annual fee paid in instalments).
	Annual    bool
	Frequency calc.Frequency
	// PaymentPeriods restricts the fee to specific periods; empty means
	// every period.
	PaymentPeriods []int

	CarryForward bool
	Shortfall    decimal.Decimal // unpaid carry-forward, only when CarryForward

	TotalPaid   decimal.Decimal
	TotalUnpaid decimal.Decimal
}

// AmountDue computes the fee claim for the snapshot's period, including
// any carried shortfall. Pure with respect to the fee's own state.
func (f *Fee) AmountDue(snap *Snapshot) (decimal.Decimal, error) {
	due, err := f.baseDue(snap)
	if err != nil {
		return decimal.Zero, err
	}
	return due.Add(f.Shortfall), nil
}

func (f *Fee) baseDue(snap *Snapshot) (decimal.Decimal, error) {
	if len(f.PaymentPeriods) > 0 && !slices.Contains(f.PaymentPeriods, snap.Period) {
		return decimal.Zero, nil
	}

	var due decimal.Decimal
	switch f.Basis {
	case BasisFlat:
		due = f.Value
	case BasisPoolPct:
		due = f.Value.Mul(snap.PoolBalance)
	default:
		return decimal.Zero, fmt.Errorf("fee %s: unknown basis %q", f.ID, f.Basis)
	}

	if f.Annual {
		return calc.Deannualize(due, f.Frequency)
	}
	return calc.RoundCash(due), nil
}

// ApplyPayment records a payment of paid against a claim of due. The
// unpaid remainder becomes carry-forward shortfall when CarryForward is
// set. The engine guarantees paid <= due.
func (f *Fee) ApplyPayment(due, paid decimal.Decimal) {
	unpaid := due.Sub(paid)
	f.TotalPaid = f.TotalPaid.Add(paid)
	f.TotalUnpaid = f.TotalUnpaid.Add(unpaid)
	if f.CarryForward {
		f.Shortfall = unpaid
	} else {
		f.Shortfall = decimal.Zero
	}
}

// FeeEntry is one row of the computed fee schedule for a period.
type FeeEntry struct {
	FeeID  string
	Payee  string
	Tier   int
	Amount decimal.Decimal
}

// ComputeFeeSchedule computes the amount due for every fee against the
// period-start snapshot and returns the entries in a stable order: by
// priority tier, then identifier. It never mutates fee state, so calling
// it twice on the same snapshot yields identical entries.
func ComputeFeeSchedule(snap *Snapshot, fees []*Fee) ([]FeeEntry, error) {
	entries := make([]FeeEntry, 0, len(fees))
	for _, f := range fees {
		due, err := f.AmountDue(snap)
		if err != nil {
			return nil, err
		}
		entries = append(entries, FeeEntry{
			FeeID:  f.ID,
			Payee:  f.Payee,
			Tier:   f.Tier,
			Amount: due,
		})
	}
	slices.SortStableFunc(entries, func(a, b FeeEntry) int {
		if a.Tier != b.Tier {
			return a.Tier - b.Tier
		}
		return strings.Compare(a.FeeID, b.FeeID)
	})
	return entries, nil
}
