package engine

import (
	"github.com/trancheworks/cascade/internal/domain"
)

// Validate checks a deal and both of its waterfall definitions before any
// cash moves. All failures are domain.ValidationError; a deal that fails
// validation must not partially execute.
func Validate(deal *domain.Deal) error {
	if deal.ID == "" {
		return domain.Validationf("deal id is empty")
	}
	if len(deal.Tranches) == 0 {
		return domain.Validationf("deal %s has no tranches", deal.ID)
	}

	trancheIDs := make(map[string]bool, len(deal.Tranches))
	ranks := make(map[int]string, len(deal.Tranches))
	for _, t := range deal.Tranches {
		if t.ID == "" {
			return domain.Validationf("deal %s: tranche with empty id", deal.ID)
		}
		if trancheIDs[t.ID] {
			return domain.Validationf("duplicate tranche id %q", t.ID)
		}
		trancheIDs[t.ID] = true
		if prev, dup := ranks[t.Rank]; dup {
			return domain.Validationf("tranches %q and %q share subordination rank %d", prev, t.ID, t.Rank)
		}
		ranks[t.Rank] = t.ID
		if t.Balance.IsNegative() || t.OriginalBalance.IsNegative() {
			return domain.Validationf("tranche %q has negative balance", t.ID)
		}
		if !t.Frequency.Valid() {
			return domain.Validationf("tranche %q has invalid payment frequency %q", t.ID, t.Frequency)
		}
	}

	reserveIDs := make(map[string]bool, len(deal.Reserves))
	for _, r := range deal.Reserves {
		if r.ID == "" {
			return domain.Validationf("deal %s: reserve with empty id", deal.ID)
		}
		if reserveIDs[r.ID] {
			return domain.Validationf("duplicate reserve id %q", r.ID)
		}
		reserveIDs[r.ID] = true
		if r.Balance.IsNegative() {
			return domain.Validationf("reserve %q has negative balance", r.ID)
		}
		switch r.Target.Kind {
		case domain.TargetFixed, domain.TargetPoolPct, domain.TargetTranchePct:
		default:
			return domain.Validationf("reserve %q has unknown target kind %q", r.ID, r.Target.Kind)
		}
		if r.Target.Value.IsNegative() {
			return domain.Validationf("reserve %q has negative target value", r.ID)
		}
	}

	feeIDs := make(map[string]bool, len(deal.Fees))
	for _, f := range deal.Fees {
		if f.ID == "" {
			return domain.Validationf("deal %s: fee with empty id", deal.ID)
		}
		if feeIDs[f.ID] {
			return domain.Validationf("duplicate fee id %q", f.ID)
		}
		feeIDs[f.ID] = true
		switch f.Basis {
		case domain.BasisFlat, domain.BasisPoolPct:
		default:
			return domain.Validationf("fee %q has unknown basis %q", f.ID, f.Basis)
		}
		if f.Value.IsNegative() {
			return domain.Validationf("fee %q has negative value", f.ID)
		}
		if f.Annual && !f.Frequency.Valid() {
			return domain.Validationf("annual fee %q has invalid payment frequency %q", f.ID, f.Frequency)
		}
	}

	testIDs := make(map[string]bool, len(deal.Tests))
	for i := range deal.Tests {
		ct := &deal.Tests[i]
		if ct.ID == "" {
			return domain.Validationf("deal %s: coverage test with empty id", deal.ID)
		}
		if testIDs[ct.ID] {
			return domain.Validationf("duplicate coverage test id %q", ct.ID)
		}
		testIDs[ct.ID] = true
		switch ct.Kind {
		case domain.TestOC, domain.TestIC:
		default:
			return domain.Validationf("coverage test %q has unknown kind %q", ct.ID, ct.Kind)
		}
		if ct.Threshold.IsNegative() {
			return domain.Validationf("coverage test %q has negative threshold", ct.ID)
		}
		for _, id := range ct.Tranches {
			if !trancheIDs[id] {
				return domain.Validationf("coverage test %q references unknown tranche %q", ct.ID, id)
			}
		}
	}

	if err := validateDefinition(deal, &deal.Revenue); err != nil {
		return err
	}
	return validateDefinition(deal, &deal.Principal)
}

func validateDefinition(deal *domain.Deal, def *domain.Definition) error {
	if len(def.Steps) == 0 {
		return domain.Validationf("%s waterfall has no steps", def.Cascade)
	}

	lastPriority := 0
	for i, step := range def.Steps {
		if i == 0 {
			lastPriority = step.Priority
		} else if step.Priority <= lastPriority {
			return domain.Validationf("%s waterfall step %d: priority %d not strictly above previous %d",
				def.Cascade, i, step.Priority, lastPriority)
		} else {
			lastPriority = step.Priority
		}

		if len(step.Targets) == 0 {
			return domain.Validationf("%s waterfall step %d (%s) has no targets", def.Cascade, i, step.Kind)
		}
		switch step.Allocation {
		case domain.AllocFull, domain.AllocProRata, domain.AllocSequential:
		default:
			return domain.Validationf("%s waterfall step %d has unknown allocation rule %q",
				def.Cascade, i, step.Allocation)
		}
		if step.Cap.IsNegative() {
			return domain.Validationf("%s waterfall step %d has negative cap", def.Cascade, i)
		}
		if step.Test != "" && deal.TestByID(step.Test) == nil {
			return domain.Validationf("%s waterfall step %d references unknown coverage test %q",
				def.Cascade, i, step.Test)
		}

		switch step.Kind {
		case domain.StepPayFee:
			for _, id := range step.Targets {
				if deal.FeeByID(id) == nil {
					return domain.Validationf("%s waterfall step %d references unknown fee %q", def.Cascade, i, id)
				}
			}
		case domain.StepPayInterest, domain.StepPayPrincipal:
			for _, id := range step.Targets {
				if deal.TrancheByID(id) == nil {
					return domain.Validationf("%s waterfall step %d references unknown tranche %q", def.Cascade, i, id)
				}
			}
		case domain.StepFundReserve, domain.StepDrawReserve:
			if len(step.Targets) != 1 {
				return domain.Validationf("%s waterfall step %d (%s) must have exactly one target",
					def.Cascade, i, step.Kind)
			}
			if deal.ReserveByID(step.Targets[0]) == nil {
				return domain.Validationf("%s waterfall step %d references unknown reserve %q",
					def.Cascade, i, step.Targets[0])
			}
		case domain.StepResidual:
			if len(step.Targets) != 1 {
				return domain.Validationf("%s waterfall residual step must have exactly one payee", def.Cascade)
			}
			if i != len(def.Steps)-1 {
				return domain.Validationf("%s waterfall residual step must be last", def.Cascade)
			}
		default:
			return domain.Validationf("%s waterfall step %d has unknown kind %q", def.Cascade, i, step.Kind)
		}
	}
	return nil
}

// ValidateInput checks the external period input before execution.
func ValidateInput(in domain.PeriodInput) error {
	if in.Period < 1 {
		return domain.Validationf("period must be >= 1, got %d", in.Period)
	}
	if in.PoolBalance.IsNegative() {
		return domain.Validationf("period %d: negative pool balance", in.Period)
	}
	if in.InterestCollections.IsNegative() {
		return domain.Validationf("period %d: negative interest collections", in.Period)
	}
	if in.PrincipalCollections.IsNegative() {
		return domain.Validationf("period %d: negative principal collections", in.Period)
	}
	return nil
}
