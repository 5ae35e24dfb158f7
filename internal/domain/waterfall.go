package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cascade names which of a deal's two waterfalls a run executes.
type Cascade string

const (
	// CascadeRevenue distributes interest collections: fees, coupon,
	// reserve funding, excess spread.
	CascadeRevenue Cascade = "revenue"
	// CascadePrincipal distributes redemption collections as principal
	// paydown.
	CascadePrincipal Cascade = "principal"
)

// StepKind is the tagged variant of a waterfall step.
type StepKind string

const (
	StepPayFee       StepKind = "pay_fee"
	StepPayInterest  StepKind = "pay_interest"
	StepPayPrincipal StepKind = "pay_principal"
	StepFundReserve  StepKind = "fund_reserve"
	StepDrawReserve  StepKind = "draw_reserve"
	StepResidual     StepKind = "residual"
)

// AllocationRule selects how a step's payable amount is split across its
// target group.
type AllocationRule string

const (
	// AllocFull pays targets in listed order, each in full before the
	// next (senior-first exhaustion). The default for single targets.
	AllocFull AllocationRule = "full"
	// AllocProRata splits the payable amount across targets in
	// proportion to their period-start claims, rounding remainder to the
	// largest claim.
	AllocProRata AllocationRule = "pro_rata"
	// AllocSequential pays the most senior unredeemed target first;
	// meaningful for principal steps.
	AllocSequential AllocationRule = "sequential"
)

// Step is one immutable limb of a waterfall definition. Iteration order
// over a definition's steps is the payment priority; the engine never
// reorders them.
type Step struct {
	// Priority is the step's rank within the definition; unique,
	// ascending.
	Priority int
	Kind     StepKind
	// Targets references tranches (pay_interest/pay_principal), fees
	// (pay_fee), reserves (fund_reserve/draw_reserve), or the residual
	// payee identifier (residual).
	Targets    []string
	Allocation AllocationRule
	// Test names a coverage test gating this step; empty means ungated.
	Test string
	// Cap limits the step's requested amount (e.g. a scheduled principal
	// instalment or a maximum reserve draw). Zero means uncapped.
	Cap decimal.Decimal
}

// Definition is an ordered, declarative waterfall: the deal's rulebook
// for one cascade. Built once, validated, then treated as immutable.
type Definition struct {
	Cascade Cascade
	Steps   []Step
}

// CoverageTestKind selects the ratio formula of a coverage test.
type CoverageTestKind string

const (
	// TestOC is an overcollateralization test: pool balance over the
	// gated tranches' period-start balances.
	TestOC CoverageTestKind = "oc"
	// TestIC is an interest-coverage test: interest collections over the
	// gated tranches' period-start interest due.
	TestIC CoverageTestKind = "ic"
)

// CoverageTest is a pure ratio predicate over the period-start snapshot.
// A failing test is a normal business outcome that skips gated steps and
// lets their cash flow downstream; it is recorded in the ledger, never
// raised as an error.
type CoverageTest struct {
	ID        string
	Kind      CoverageTestKind
	Threshold decimal.Decimal
	// Tranches is the measured set; the ratio denominator.
	Tranches []string
}

// Evaluate returns whether the test passes for the snapshot, along with
// the computed ratio. A zero denominator passes (nothing left to cover).
func (ct *CoverageTest) Evaluate(snap *Snapshot) (bool, decimal.Decimal, error) {
	denom := decimal.Zero
	var numer decimal.Decimal

	switch ct.Kind {
	case TestOC:
		numer = snap.PoolBalance
		for _, id := range ct.Tranches {
			bal, ok := snap.TrancheBalance[id]
			if !ok {
				return false, decimal.Zero, fmt.Errorf("coverage test %s: unknown tranche %q", ct.ID, id)
			}
			denom = denom.Add(bal)
		}
	case TestIC:
		numer = snap.InterestCollections
		for _, id := range ct.Tranches {
			due, ok := snap.TrancheInterestDue[id]
			if !ok {
				return false, decimal.Zero, fmt.Errorf("coverage test %s: unknown tranche %q", ct.ID, id)
			}
			denom = denom.Add(due)
		}
	default:
		return false, decimal.Zero, fmt.Errorf("coverage test %s: unknown kind %q", ct.ID, ct.Kind)
	}

	if denom.IsZero() {
		return true, decimal.Zero, nil
	}
	ratio := numer.Div(denom)
	return ratio.GreaterThanOrEqual(ct.Threshold), ratio, nil
}
