package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome classifies a ledger record. Skips and partial payments are
// recorded business outcomes, never errors.
type Outcome string

const (
	// OutcomePaid: the full requested amount was paid (including zero
	// requests).
	OutcomePaid Outcome = "paid"
	// OutcomePartial: cash ran short; part of the claim was paid.
	OutcomePartial Outcome = "partial"
	// OutcomeUnpaid: cash was exhausted; nothing was paid.
	OutcomeUnpaid Outcome = "unpaid"
	// OutcomeSkipped: the step's coverage test failed; its cash flowed
	// downstream and the full claim was recorded as shortfall.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDrawn: a reserve draw added cash to the cascade.
	OutcomeDrawn Outcome = "drawn"
	// OutcomeResidual: remaining cash flowed to the residual holder.
	OutcomeResidual Outcome = "residual"
)

// Record is one row of the payment ledger: the externally observable
// audit trail of a cascade. Records are append-only, one per (step,
// entity), in execution order.
type Record struct {
	Seq        int             `json:"seq"`
	Priority   int             `json:"priority"`
	Kind       StepKind        `json:"kind"`
	EntityID   string          `json:"entity_id"`
	TestID     string          `json:"test_id,omitempty"`
	TestPass   *bool           `json:"test_pass,omitempty"`
	Requested  decimal.Decimal `json:"requested"`
	Paid       decimal.Decimal `json:"paid"`
	Shortfall  decimal.Decimal `json:"shortfall"`
	CashBefore decimal.Decimal `json:"cash_before"`
	CashAfter  decimal.Decimal `json:"cash_after"`
	Outcome    Outcome         `json:"outcome"`
}

// RunResult is the outcome of executing one cascade for one period: the
// complete ledger plus cash totals. OpeningCash + Drawn always equals
// Distributed + Residual + ClosingCash; the engine verifies this before
// returning.
type RunResult struct {
	RunID   string  `json:"run_id"`
	DealID  string  `json:"deal_id"`
	Period  int     `json:"period"`
	Cascade Cascade `json:"cascade"`

	OpeningCash decimal.Decimal `json:"opening_cash"`
	Drawn       decimal.Decimal `json:"drawn"`
	Distributed decimal.Decimal `json:"distributed"`
	Residual    decimal.Decimal `json:"residual"`
	ClosingCash decimal.Decimal `json:"closing_cash"`

	Records []Record `json:"records"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// PeriodResult bundles the two cascades of one interest payment date and
// the carry-forward state captured after both completed.
type PeriodResult struct {
	DealID    string     `json:"deal_id"`
	Period    int        `json:"period"`
	Revenue   *RunResult `json:"revenue"`
	Principal *RunResult `json:"principal"`
	State     DealState  `json:"state"`
	Fees      []FeeEntry `json:"fees"`
}
