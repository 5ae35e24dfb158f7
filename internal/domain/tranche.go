package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trancheworks/cascade/internal/calc"
)

// Tranche is one debt class of a deal: an outstanding principal balance,
// a floating coupon (reference rate + margin), and the carry-forward
// state for unpaid interest and scheduled-but-unpaid principal.
//
// A tranche never pays itself; it reports claims and accepts payments
// pushed by the engine. Payment methods clamp to the open claim so state
// can never go negative.
type Tranche struct {
	ID    string
	Class string
	// Rank is the subordination rank; lower is more senior. Unique per deal.
	Rank int

	OriginalBalance decimal.Decimal
	Balance         decimal.Decimal // outstanding principal

	ReferenceRate decimal.Decimal // annual, e.g. 0.03
	Margin        decimal.Decimal
	StepUpMargin  decimal.Decimal
	StepUpPeriod  int // margin switches to StepUpMargin from this period; 0 disables
	Frequency     calc.Frequency

	// AccrueOnArrears charges coupon-rate interest on the unpaid-interest
	// carry-forward. WriteOffUnpaid drops unpaid interest at the start of
	// each accrual instead of carrying it.
	AccrueOnArrears bool
	WriteOffUnpaid  bool

	AccruedInterest    decimal.Decimal // unpaid interest carry-forward, grows on Accrue
	PrincipalShortfall decimal.Decimal // scheduled principal left unpaid

	TotalInterestPaid   decimal.Decimal
	TotalInterestUnpaid decimal.Decimal
	TotalPrincipalPaid  decimal.Decimal
}

// CouponMargin returns the margin applicable in the given period,
// honouring the step-up date if one is set.
func (t *Tranche) CouponMargin(period int) decimal.Decimal {
	if t.StepUpPeriod > 0 && period >= t.StepUpPeriod {
		return t.StepUpMargin
	}
	return t.Margin
}

// CouponRate returns the all-in annual rate (reference + margin) for the
// given period.
func (t *Tranche) CouponRate(period int) decimal.Decimal {
	return t.ReferenceRate.Add(t.CouponMargin(period))
}

// Accrue adds the period's interest to the accrued-interest carry-forward
// and returns the newly accrued amount. Interest accrues on the current
// outstanding balance and, when AccrueOnArrears is set, on the existing
// arrears as well. Must be called exactly once per period, before the
// revenue cascade runs.
func (t *Tranche) Accrue(period int) (decimal.Decimal, error) {
	if t.WriteOffUnpaid && t.AccruedInterest.IsPositive() {
		t.AccruedInterest = decimal.Zero
	}

	rate := t.CouponRate(period)
	accrued, err := calc.AccrueInterest(t.Balance, rate, t.Frequency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tranche %s: accrue: %w", t.ID, err)
	}
	if t.AccrueOnArrears && t.AccruedInterest.IsPositive() {
		onArrears, err := calc.AccrueInterest(t.AccruedInterest, rate, t.Frequency)
		if err != nil {
			return decimal.Zero, fmt.Errorf("tranche %s: accrue on arrears: %w", t.ID, err)
		}
		accrued = accrued.Add(onArrears)
	}

	t.AccruedInterest = t.AccruedInterest.Add(accrued)
	return accrued, nil
}

// InterestDue returns the total open interest claim (current accrual plus
// carried arrears).
func (t *Tranche) InterestDue() decimal.Decimal {
	return t.AccruedInterest
}

// ApplyInterest pays down the interest claim by up to amount. It returns
// the amount actually applied and the portion of amount that found no
// open claim. A zero amount is a no-op.
func (t *Tranche) ApplyInterest(amount decimal.Decimal) (paid, unapplied decimal.Decimal) {
	paid = decimal.Min(amount, t.AccruedInterest)
	t.AccruedInterest = t.AccruedInterest.Sub(paid)
	t.TotalInterestPaid = t.TotalInterestPaid.Add(paid)
	return paid, amount.Sub(paid)
}

// ApplyPrincipal reduces the outstanding balance by up to amount and
// returns the amount actually applied plus the portion of amount that
// exceeded the balance. A zero amount is a no-op.
func (t *Tranche) ApplyPrincipal(amount decimal.Decimal) (paid, unapplied decimal.Decimal) {
	paid = decimal.Min(amount, t.Balance)
	t.Balance = t.Balance.Sub(paid)
	t.TotalPrincipalPaid = t.TotalPrincipalPaid.Add(paid)
	// Payments settle carried scheduled shortfall first.
	t.PrincipalShortfall = decimal.Max(decimal.Zero, t.PrincipalShortfall.Sub(paid))
	return paid, amount.Sub(paid)
}

// Redeemed reports whether the tranche has been fully repaid.
func (t *Tranche) Redeemed() bool {
	return t.Balance.IsZero()
}
