// Package loader parses TOML deal files into domain deals. The deal file
// is the per-deal rulebook: tranches, fees, reserves, coverage tests,
// and the ordered revenue and principal waterfalls, all as data so deals
// vary without code changes.
package loader

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/trancheworks/cascade/internal/calc"
	"github.com/trancheworks/cascade/internal/domain"
)

// DealFile mirrors the TOML structure of a deal definition. Money and
// rate fields are TOML strings decoded exactly into decimals.
type DealFile struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`

	Tranches []TrancheDef      `toml:"tranche"`
	Fees     []FeeDef          `toml:"fee"`
	Reserves []ReserveDef      `toml:"reserve"`
	Tests    []CoverageTestDef `toml:"coverage_test"`

	Revenue   WaterfallDef `toml:"revenue"`
	Principal WaterfallDef `toml:"principal"`
}

// TrancheDef declares one debt class.
type TrancheDef struct {
	ID              string          `toml:"id"`
	Class           string          `toml:"class"`
	Rank            int             `toml:"rank"`
	Balance         decimal.Decimal `toml:"balance"`
	ReferenceRate   decimal.Decimal `toml:"reference_rate"`
	Margin          decimal.Decimal `toml:"margin"`
	StepUpMargin    decimal.Decimal `toml:"step_up_margin"`
	StepUpPeriod    int             `toml:"step_up_period"`
	Frequency       string          `toml:"frequency"`
	AccrueOnArrears bool            `toml:"accrue_on_arrears"`
	WriteOffUnpaid  bool            `toml:"write_off_unpaid"`
}

// FeeDef declares one fee.
type FeeDef struct {
	ID             string          `toml:"id"`
	Payee          string          `toml:"payee"`
	Tier           int             `toml:"tier"`
	Basis          string          `toml:"basis"`
	Value          decimal.Decimal `toml:"value"`
	Annual         bool            `toml:"annual"`
	Frequency      string          `toml:"frequency"`
	PaymentPeriods []int           `toml:"payment_periods"`
	CarryForward   bool            `toml:"carry_forward"`
}

// ReserveDef declares one reserve account.
type ReserveDef struct {
	ID      string           `toml:"id"`
	Balance decimal.Decimal  `toml:"balance"`
	Target  ReserveTargetDef `toml:"target"`
}

// ReserveTargetDef declares a reserve's target formula.
type ReserveTargetDef struct {
	Kind  string          `toml:"kind"`
	Value decimal.Decimal `toml:"value"`
}

// CoverageTestDef declares one coverage test.
type CoverageTestDef struct {
	ID        string          `toml:"id"`
	Kind      string          `toml:"kind"`
	Threshold decimal.Decimal `toml:"threshold"`
	Tranches  []string        `toml:"tranches"`
}

// WaterfallDef declares one ordered cascade.
type WaterfallDef struct {
	Steps []StepDef `toml:"step"`
}

// StepDef declares one waterfall step.
type StepDef struct {
	Priority   int             `toml:"priority"`
	Kind       string          `toml:"kind"`
	Targets    []string        `toml:"targets"`
	Allocation string          `toml:"allocation"`
	Test       string          `toml:"test"`
	Cap        decimal.Decimal `toml:"cap"`
}

// LoadFile reads and parses a deal file from disk.
func LoadFile(path string) (*domain.Deal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read deal file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a TOML deal definition into a domain deal. Structural
// validation (priorities, references, signs) is the engine's concern;
// Parse only rejects input TOML that does not decode.
func Parse(data []byte) (*domain.Deal, error) {
	var df DealFile
	if err := toml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("loader: decode deal file: %w", err)
	}
	return df.ToDomain(), nil
}

// ToDomain converts the parsed file into a domain deal, applying
// defaults: quarterly frequency and full allocation when unset.
func (df *DealFile) ToDomain() *domain.Deal {
	deal := &domain.Deal{
		ID:   df.ID,
		Name: df.Name,
	}

	for _, td := range df.Tranches {
		freq := calc.Frequency(td.Frequency)
		if td.Frequency == "" {
			freq = calc.Quarterly
		}
		deal.Tranches = append(deal.Tranches, &domain.Tranche{
			ID:              td.ID,
			Class:           td.Class,
			Rank:            td.Rank,
			OriginalBalance: td.Balance,
			Balance:         td.Balance,
			ReferenceRate:   td.ReferenceRate,
			Margin:          td.Margin,
			StepUpMargin:    td.StepUpMargin,
			StepUpPeriod:    td.StepUpPeriod,
			Frequency:       freq,
			AccrueOnArrears: td.AccrueOnArrears,
			WriteOffUnpaid:  td.WriteOffUnpaid,
		})
	}

	for _, fd := range df.Fees {
		freq := calc.Frequency(fd.Frequency)
		if fd.Frequency == "" {
			freq = calc.Quarterly
		}
		deal.Fees = append(deal.Fees, &domain.Fee{
			ID:             fd.ID,
			Payee:          fd.Payee,
			Tier:           fd.Tier,
			Basis:          domain.FeeBasis(fd.Basis),
			Value:          fd.Value,
			Annual:         fd.Annual,
			Frequency:      freq,
			PaymentPeriods: fd.PaymentPeriods,
			CarryForward:   fd.CarryForward,
		})
	}

	for _, rd := range df.Reserves {
		deal.Reserves = append(deal.Reserves, &domain.Reserve{
			ID:      rd.ID,
			Balance: rd.Balance,
			Target: domain.ReserveTarget{
				Kind:  domain.ReserveTargetKind(rd.Target.Kind),
				Value: rd.Target.Value,
			},
		})
	}

	for _, cd := range df.Tests {
		deal.Tests = append(deal.Tests, domain.CoverageTest{
			ID:        cd.ID,
			Kind:      domain.CoverageTestKind(cd.Kind),
			Threshold: cd.Threshold,
			Tranches:  cd.Tranches,
		})
	}

	deal.Revenue = toDefinition(domain.CascadeRevenue, df.Revenue)
	deal.Principal = toDefinition(domain.CascadePrincipal, df.Principal)
	return deal
}

func toDefinition(cascade domain.Cascade, wd WaterfallDef) domain.Definition {
	def := domain.Definition{Cascade: cascade}
	for _, sd := range wd.Steps {
		alloc := domain.AllocationRule(sd.Allocation)
		if sd.Allocation == "" {
			alloc = domain.AllocFull
		}
		def.Steps = append(def.Steps, domain.Step{
			Priority:   sd.Priority,
			Kind:       domain.StepKind(sd.Kind),
			Targets:    sd.Targets,
			Allocation: alloc,
			Test:       sd.Test,
			Cap:        sd.Cap,
		})
	}
	return def
}

// PeriodsFile mirrors the TOML structure of a period-inputs file used in
// run mode.
type PeriodsFile struct {
	Periods []PeriodDef `toml:"period"`
}

// PeriodDef is one period's collections context.
type PeriodDef struct {
	Period               int             `toml:"period"`
	PoolBalance          decimal.Decimal `toml:"pool_balance"`
	InterestCollections  decimal.Decimal `toml:"interest_collections"`
	PrincipalCollections decimal.Decimal `toml:"principal_collections"`
}

// LoadPeriods reads a period-inputs file from disk.
func LoadPeriods(path string) ([]domain.PeriodInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read periods file %s: %w", path, err)
	}
	var pf PeriodsFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("loader: decode periods file: %w", err)
	}
	inputs := make([]domain.PeriodInput, 0, len(pf.Periods))
	for _, pd := range pf.Periods {
		inputs = append(inputs, domain.PeriodInput{
			Period:               pd.Period,
			PoolBalance:          pd.PoolBalance,
			InterestCollections:  pd.InterestCollections,
			PrincipalCollections: pd.PrincipalCollections,
		})
	}
	return inputs, nil
}
