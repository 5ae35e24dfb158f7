// Package calc provides the stateless money math used across the engine:
// interest accrual, pro-rata allocation, and the single rounding policy.
// Every cash amount in the system passes through RoundCash so that
// equivalent computations performed in different waterfall steps cannot
// drift apart.
package calc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CashScale is the number of decimal places cash amounts are kept at.
const CashScale = 2

// Frequency is a payment frequency code.
type Frequency string

const (
	Monthly    Frequency = "M"
	Quarterly  Frequency = "Q"
	SemiAnnual Frequency = "S"
	Annual     Frequency = "Y"
)

// periodsPerYear maps a frequency to its annualization multiplier.
var periodsPerYear = map[Frequency]int64{
	Monthly:    12,
	Quarterly:  4,
	SemiAnnual: 2,
	Annual:     1,
}

// PeriodsPerYear returns the number of payment periods per year for f.
func (f Frequency) PeriodsPerYear() (int64, error) {
	n, ok := periodsPerYear[f]
	if !ok {
		return 0, fmt.Errorf("calc: invalid payment frequency %q", f)
	}
	return n, nil
}

// Valid reports whether f is a recognized frequency code.
func (f Frequency) Valid() bool {
	_, ok := periodsPerYear[f]
	return ok
}

// RoundCash applies the system-wide rounding policy: round-half-even to
// CashScale decimal places.
func RoundCash(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CashScale)
}

// AccrueInterest computes one period's interest on balance at the given
// annual rate and payment frequency, rounded with the standard policy.
func AccrueInterest(balance, annualRate decimal.Decimal, freq Frequency) (decimal.Decimal, error) {
	n, err := freq.PeriodsPerYear()
	if err != nil {
		return decimal.Zero, err
	}
	periodRate := annualRate.Div(decimal.NewFromInt(n))
	return RoundCash(balance.Mul(periodRate)), nil
}

// Deannualize converts an annual amount into a single-period amount for
// the given frequency, rounded with the standard policy.
func Deannualize(annual decimal.Decimal, freq Frequency) (decimal.Decimal, error) {
	n, err := freq.PeriodsPerYear()
	if err != nil {
		return decimal.Zero, err
	}
	return RoundCash(annual.Div(decimal.NewFromInt(n))), nil
}

// Claim is one member of a pro-rata allocation group.
type Claim struct {
	ID     string
	Amount decimal.Decimal
}

// Allocation is the amount assigned to one group member.
type Allocation struct {
	ID     string
	Amount decimal.Decimal
}

// ProRata distributes amount across the claims in proportion to each
// claim's size. Each share is rounded half-even to cents; any rounding
// remainder is assigned to the largest claim so the allocations sum to
// exactly amount. Claims with zero total receive nothing. The input
// order is preserved in the output.
func ProRata(claims []Claim, amount decimal.Decimal) []Allocation {
	out := make([]Allocation, len(claims))
	for i, c := range claims {
		out[i] = Allocation{ID: c.ID, Amount: decimal.Zero}
	}

	total := decimal.Zero
	for _, c := range claims {
		total = total.Add(c.Amount)
	}
	if total.IsZero() || amount.IsZero() {
		return out
	}

	allocated := decimal.Zero
	largest := 0
	for i, c := range claims {
		share := RoundCash(amount.Mul(c.Amount).Div(total))
		out[i].Amount = share
		allocated = allocated.Add(share)
		if c.Amount.GreaterThan(claims[largest].Amount) {
			largest = i
		}
	}

	// Rounding remainder (positive or negative) lands on the largest claim
	// so the group total equals amount exactly.
	remainder := amount.Sub(allocated)
	if !remainder.IsZero() {
		out[largest].Amount = out[largest].Amount.Add(remainder)
	}
	return out
}
