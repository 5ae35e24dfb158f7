// Package engine executes a deal's priority-of-payments waterfalls for
// one period. A run is a strict sequential cascade over the ordered
// steps of a definition: each step's outcome determines the cash
// available to the next, entity state is mutated in place, and every
// step leaves an append-only ledger record. Runs are pure in-memory
// computations; persistence and serialization of cross-period writes are
// the caller's concern.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trancheworks/cascade/internal/calc"
	"github.com/trancheworks/cascade/internal/domain"
)

// ExcessEntityID is the synthetic ledger entity receiving cash left over
// when a definition has no explicit residual step. The engine never
// silently retains cash.
const ExcessEntityID = "excess"

// Engine evaluates waterfall definitions against deal state. It holds no
// per-run state; one Engine may serve many deals, but each concurrent
// run must own its own Deal value.
type Engine struct {
	logger *slog.Logger
}

// New creates an Engine.
func New(logger *slog.Logger) *Engine {
	return &Engine{logger: logger.With(slog.String("component", "engine"))}
}

// RunPeriod executes one interest payment date: accrues every tranche,
// freezes the period-start snapshot, runs the revenue cascade over
// interest collections and the principal cascade over redemption
// collections, and captures the resulting carry-forward state.
//
// Validation failures surface before any state mutates. An invariant
// violation aborts the run with no result; the caller never sees a
// truncated ledger.
func (e *Engine) RunPeriod(ctx context.Context, deal *domain.Deal, in domain.PeriodInput) (*domain.PeriodResult, error) {
	if err := Validate(deal); err != nil {
		return nil, err
	}
	if err := ValidateInput(in); err != nil {
		return nil, err
	}

	for _, t := range deal.Tranches {
		if _, err := t.Accrue(in.Period); err != nil {
			return nil, fmt.Errorf("engine: period %d: %w", in.Period, err)
		}
	}

	snap := deal.Snapshot(in)
	fees, err := domain.ComputeFeeSchedule(snap, deal.Fees)
	if err != nil {
		return nil, fmt.Errorf("engine: period %d: fee schedule: %w", in.Period, err)
	}

	revenue, err := e.runCascade(ctx, deal, snap, &deal.Revenue, in.InterestCollections)
	if err != nil {
		return nil, err
	}
	principal, err := e.runCascade(ctx, deal, snap, &deal.Principal, in.PrincipalCollections)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "period executed",
		slog.String("deal_id", deal.ID),
		slog.Int("period", in.Period),
		slog.String("revenue_distributed", revenue.Distributed.String()),
		slog.String("principal_distributed", principal.Distributed.String()),
	)

	return &domain.PeriodResult{
		DealID:    deal.ID,
		Period:    in.Period,
		Revenue:   revenue,
		Principal: principal,
		State:     deal.CaptureState(in.Period),
		Fees:      fees,
	}, nil
}

// runState is the single linear control state of one cascade.
type runState struct {
	cash decimal.Decimal
	res  *domain.RunResult
	seq  int
}

func (e *Engine) runCascade(ctx context.Context, deal *domain.Deal, snap *domain.Snapshot, def *domain.Definition, opening decimal.Decimal) (*domain.RunResult, error) {
	st := &runState{
		cash: opening,
		res: &domain.RunResult{
			RunID:       uuid.NewString(),
			DealID:      deal.ID,
			Period:      snap.Period,
			Cascade:     def.Cascade,
			OpeningCash: opening,
			StartedAt:   time.Now().UTC(),
		},
	}

	for i, step := range def.Steps {
		if err := e.runStep(deal, snap, def.Cascade, i, step, st); err != nil {
			return nil, err
		}
		if st.cash.IsNegative() {
			return nil, &domain.InvariantViolation{
				Cascade: def.Cascade,
				Step:    i,
				Amount:  st.cash,
				Detail:  "running cash went negative",
			}
		}
	}

	// Cash left after the last step flows to a synthetic excess record so
	// the ledger accounts for every unit of opening cash.
	if st.cash.IsPositive() {
		st.record(domain.Record{
			Priority:   0,
			Kind:       domain.StepResidual,
			EntityID:   ExcessEntityID,
			Requested:  st.cash,
			Paid:       st.cash,
			Shortfall:  decimal.Zero,
			CashBefore: st.cash,
			CashAfter:  decimal.Zero,
			Outcome:    domain.OutcomeResidual,
		})
		st.res.Residual = st.res.Residual.Add(st.cash)
		st.cash = decimal.Zero
	}

	st.res.ClosingCash = st.cash
	st.res.FinishedAt = time.Now().UTC()

	// Conservation: every unit of cash that entered the cascade is either
	// distributed, residual, or still on hand (always zero here).
	in := st.res.OpeningCash.Add(st.res.Drawn)
	out := st.res.Distributed.Add(st.res.Residual).Add(st.res.ClosingCash)
	if !in.Equal(out) {
		return nil, &domain.InvariantViolation{
			Cascade: def.Cascade,
			Step:    -1,
			Amount:  in.Sub(out),
			Detail:  "ledger does not conserve cash",
		}
	}

	e.logger.DebugContext(ctx, "cascade complete",
		slog.String("deal_id", deal.ID),
		slog.Int("period", snap.Period),
		slog.String("cascade", string(def.Cascade)),
		slog.String("opening", st.res.OpeningCash.String()),
		slog.String("distributed", st.res.Distributed.String()),
		slog.String("residual", st.res.Residual.String()),
	)
	return st.res, nil
}

func (st *runState) record(r domain.Record) {
	r.Seq = st.seq
	st.seq++
	st.res.Records = append(st.res.Records, r)
}

func (e *Engine) runStep(deal *domain.Deal, snap *domain.Snapshot, cascade domain.Cascade, idx int, step domain.Step, st *runState) error {
	// Coverage gate: evaluated against the immutable period-start
	// snapshot. A failed gate skips the step; its cash simply remains for
	// lower-priority steps.
	var testPass *bool
	if step.Test != "" {
		ct := deal.TestByID(step.Test)
		pass, _, err := ct.Evaluate(snap)
		if err != nil {
			return fmt.Errorf("engine: %s cascade step %d: %w", cascade, idx, err)
		}
		testPass = &pass
	}
	gated := testPass != nil && !*testPass

	switch step.Kind {
	case domain.StepDrawReserve:
		return e.runDraw(deal, step, testPass, gated, st)
	case domain.StepResidual:
		return e.runResidual(step, testPass, gated, st)
	}

	claims, err := e.stepClaims(deal, snap, step)
	if err != nil {
		return fmt.Errorf("engine: %s cascade step %d: %w", cascade, idx, err)
	}

	requested := sumClaims(claims)
	if step.Cap.IsPositive() {
		requested = decimal.Min(requested, step.Cap)
	}

	// Two-stage allocation: first split the (possibly capped) request
	// across the group to fix each target's own requested share, then
	// split the payable amount the same way.
	wants := allocate(step.Allocation, claims, requested)

	payable := decimal.Min(requested, st.cash)
	if gated {
		payable = decimal.Zero
	}
	wantClaims := make([]calc.Claim, len(claims))
	for i, w := range wants {
		wantClaims[i] = calc.Claim{ID: w.ID, Amount: w.Amount}
	}
	grants := allocate(step.Allocation, wantClaims, payable)

	for i, c := range claims {
		want := wants[i].Amount
		granted := grants[i].Amount
		cashBefore := st.cash

		var paid decimal.Decimal
		if granted.IsPositive() {
			paid, err = e.apply(deal, snap, step.Kind, c.ID, granted)
			if err != nil {
				return err
			}
		}
		shortfall := want.Sub(paid)

		if !gated {
			st.cash = st.cash.Sub(paid)
		}
		st.res.Distributed = st.res.Distributed.Add(paid)

		e.settleShortfall(deal, step, c.ID, paid, shortfall)

		st.record(domain.Record{
			Priority:   step.Priority,
			Kind:       step.Kind,
			EntityID:   c.ID,
			TestID:     step.Test,
			TestPass:   testPass,
			Requested:  want,
			Paid:       paid,
			Shortfall:  shortfall,
			CashBefore: cashBefore,
			CashAfter:  st.cash,
			Outcome:    outcome(gated, want, paid),
		})

		if err := e.checkEntity(deal, cascade, idx, step.Kind, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// stepClaims computes each target's outstanding claim, frozen at
// period-start values. Claims are always recomputed fresh, never cached
// from a prior period.
func (e *Engine) stepClaims(deal *domain.Deal, snap *domain.Snapshot, step domain.Step) ([]calc.Claim, error) {
	claims := make([]calc.Claim, 0, len(step.Targets))
	for _, id := range step.Targets {
		var amt decimal.Decimal
		switch step.Kind {
		case domain.StepPayFee:
			due, err := deal.FeeByID(id).AmountDue(snap)
			if err != nil {
				return nil, err
			}
			amt = due
		case domain.StepPayInterest:
			amt = snap.TrancheInterestDue[id]
		case domain.StepPayPrincipal:
			amt = snap.TrancheBalance[id]
		case domain.StepFundReserve:
			req, err := deal.ReserveByID(id).RequiredFunding(snap)
			if err != nil {
				return nil, err
			}
			amt = req
		default:
			return nil, fmt.Errorf("no claim for step kind %q", step.Kind)
		}
		claims = append(claims, calc.Claim{ID: id, Amount: amt})
	}
	return claims, nil
}

// apply pushes a payment into the target entity and returns the amount
// the entity actually absorbed.
func (e *Engine) apply(deal *domain.Deal, snap *domain.Snapshot, kind domain.StepKind, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	switch kind {
	case domain.StepPayFee:
		// Fees have no internal balance to clamp against; the claim was
		// computed from the same snapshot the allocation used.
		return amount, nil
	case domain.StepPayInterest:
		paid, _ := deal.TrancheByID(id).ApplyInterest(amount)
		return paid, nil
	case domain.StepPayPrincipal:
		paid, _ := deal.TrancheByID(id).ApplyPrincipal(amount)
		return paid, nil
	case domain.StepFundReserve:
		r := deal.ReserveByID(id)
		target, err := r.TargetBalance(snap)
		if err != nil {
			return decimal.Zero, err
		}
		applied, _ := r.Fund(amount, target)
		return applied, nil
	default:
		return decimal.Zero, fmt.Errorf("cannot apply payment for step kind %q", kind)
	}
}

// settleShortfall books the unpaid portion of a claim on the entity's
// carry-forward state. Unpaid interest already sits in the accrual
// carry-forward; unpaid principal stays in the outstanding balance; a
// capped principal step additionally books the missed instalment.
func (e *Engine) settleShortfall(deal *domain.Deal, step domain.Step, id string, paid, shortfall decimal.Decimal) {
	switch step.Kind {
	case domain.StepPayFee:
		deal.FeeByID(id).ApplyPayment(paid.Add(shortfall), paid)
	case domain.StepPayInterest:
		t := deal.TrancheByID(id)
		t.TotalInterestUnpaid = t.TotalInterestUnpaid.Add(shortfall)
	case domain.StepPayPrincipal:
		// Uncapped principal claims are the outstanding balance itself;
		// the unpaid part already carries forward there. A capped step is
		// a scheduled instalment, so the miss is booked explicitly.
		if step.Cap.IsPositive() && shortfall.IsPositive() {
			t := deal.TrancheByID(id)
			t.PrincipalShortfall = t.PrincipalShortfall.Add(shortfall)
		}
	}
}

// checkEntity verifies the post-payment invariants on the mutated
// entity. The payment operations clamp, so a failure here is a
// programming error, reported with full context and halting the run.
func (e *Engine) checkEntity(deal *domain.Deal, cascade domain.Cascade, idx int, kind domain.StepKind, id string) error {
	switch kind {
	case domain.StepPayInterest, domain.StepPayPrincipal:
		t := deal.TrancheByID(id)
		if t.Balance.IsNegative() || t.AccruedInterest.IsNegative() {
			return &domain.InvariantViolation{
				Cascade: cascade, Step: idx, EntityID: id,
				Amount: t.Balance, Detail: "tranche state went negative",
			}
		}
	case domain.StepFundReserve, domain.StepDrawReserve:
		r := deal.ReserveByID(id)
		if r.Balance.IsNegative() {
			return &domain.InvariantViolation{
				Cascade: cascade, Step: idx, EntityID: id,
				Amount: r.Balance, Detail: "reserve balance went negative",
			}
		}
	}
	return nil
}

func (e *Engine) runDraw(deal *domain.Deal, step domain.Step, testPass *bool, gated bool, st *runState) error {
	r := deal.ReserveByID(step.Targets[0])

	requested := r.Balance
	if step.Cap.IsPositive() {
		requested = decimal.Min(requested, step.Cap)
	}

	cashBefore := st.cash
	var drawn decimal.Decimal
	if !gated {
		drawn = r.Draw(requested)
		st.cash = st.cash.Add(drawn)
		st.res.Drawn = st.res.Drawn.Add(drawn)
	}

	st.record(domain.Record{
		Priority:   step.Priority,
		Kind:       step.Kind,
		EntityID:   r.ID,
		TestID:     step.Test,
		TestPass:   testPass,
		Requested:  requested,
		Paid:       drawn,
		Shortfall:  requested.Sub(drawn),
		CashBefore: cashBefore,
		CashAfter:  st.cash,
		Outcome:    drawOutcome(gated),
	})
	return nil
}

func (e *Engine) runResidual(step domain.Step, testPass *bool, gated bool, st *runState) error {
	cashBefore := st.cash

	var paid decimal.Decimal
	if !gated {
		paid = st.cash
		st.cash = decimal.Zero
		st.res.Residual = st.res.Residual.Add(paid)
	}

	st.record(domain.Record{
		Priority:   step.Priority,
		Kind:       step.Kind,
		EntityID:   step.Targets[0],
		TestID:     step.Test,
		TestPass:   testPass,
		Requested:  cashBefore,
		Paid:       paid,
		Shortfall:  cashBefore.Sub(paid),
		CashBefore: cashBefore,
		CashAfter:  st.cash,
		Outcome:    residualOutcome(gated),
	})
	return nil
}

// allocate splits payable across the claims per the step's allocation
// rule. Full and sequential pay in listed order; pro-rata splits in
// proportion to claim sizes with the rounding remainder on the largest
// claim.
func allocate(rule domain.AllocationRule, claims []calc.Claim, payable decimal.Decimal) []calc.Allocation {
	switch rule {
	case domain.AllocProRata:
		return calc.ProRata(claims, payable)
	default: // full, sequential
		out := make([]calc.Allocation, len(claims))
		remaining := payable
		for i, c := range claims {
			give := decimal.Min(c.Amount, remaining)
			out[i] = calc.Allocation{ID: c.ID, Amount: give}
			remaining = remaining.Sub(give)
		}
		return out
	}
}

func sumClaims(claims []calc.Claim) decimal.Decimal {
	total := decimal.Zero
	for _, c := range claims {
		total = total.Add(c.Amount)
	}
	return total
}

func outcome(gated bool, requested, paid decimal.Decimal) domain.Outcome {
	switch {
	case gated:
		return domain.OutcomeSkipped
	case paid.GreaterThanOrEqual(requested):
		return domain.OutcomePaid
	case paid.IsPositive():
		return domain.OutcomePartial
	default:
		return domain.OutcomeUnpaid
	}
}

func drawOutcome(gated bool) domain.Outcome {
	if gated {
		return domain.OutcomeSkipped
	}
	return domain.OutcomeDrawn
}

func residualOutcome(gated bool) domain.Outcome {
	if gated {
		return domain.OutcomeSkipped
	}
	return domain.OutcomeResidual
}
