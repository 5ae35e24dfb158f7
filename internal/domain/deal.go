package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deal aggregates everything one waterfall run operates over: the
// tranches ordered by subordination, reserve accounts, fees, coverage
// tests, and the two cascade definitions. Entity state is owned
// exclusively by the deal for the duration of a run and mutated only by
// the engine; concurrent runs must each own their own Deal value.
type Deal struct {
	ID   string
	Name string

	// Tranches are ordered by subordination rank, most senior first.
	Tranches []*Tranche
	Reserves []*Reserve
	Fees     []*Fee
	Tests    []CoverageTest

	Revenue   Definition
	Principal Definition
}

// PeriodInput is the external collections context for one period,
// supplied by the caller.
type PeriodInput struct {
	Period               int
	PoolBalance          decimal.Decimal
	InterestCollections  decimal.Decimal
	PrincipalCollections decimal.Decimal
}

// Snapshot is the immutable period-start view of the deal that coverage
// tests, reserve targets, fee bases, and pro-rata weights are evaluated
// against. Within a single cascade all claims are frozen at these values;
// only the running cash balance moves.
type Snapshot struct {
	Period               int
	PoolBalance          decimal.Decimal
	InterestCollections  decimal.Decimal
	PrincipalCollections decimal.Decimal

	TrancheBalance      map[string]decimal.Decimal
	TrancheInterestDue  map[string]decimal.Decimal
	TotalTrancheBalance decimal.Decimal
}

// Snapshot captures the period-start state for the given input. Call
// after accrual so interest-due figures include the period's accrual.
func (d *Deal) Snapshot(in PeriodInput) *Snapshot {
	snap := &Snapshot{
		Period:               in.Period,
		PoolBalance:          in.PoolBalance,
		InterestCollections:  in.InterestCollections,
		PrincipalCollections: in.PrincipalCollections,
		TrancheBalance:       make(map[string]decimal.Decimal, len(d.Tranches)),
		TrancheInterestDue:   make(map[string]decimal.Decimal, len(d.Tranches)),
	}
	for _, t := range d.Tranches {
		snap.TrancheBalance[t.ID] = t.Balance
		snap.TrancheInterestDue[t.ID] = t.InterestDue()
		snap.TotalTrancheBalance = snap.TotalTrancheBalance.Add(t.Balance)
	}
	return snap
}

// TrancheByID returns the tranche with the given ID, or nil.
func (d *Deal) TrancheByID(id string) *Tranche {
	for _, t := range d.Tranches {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ReserveByID returns the reserve with the given ID, or nil.
func (d *Deal) ReserveByID(id string) *Reserve {
	for _, r := range d.Reserves {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// FeeByID returns the fee with the given ID, or nil.
func (d *Deal) FeeByID(id string) *Fee {
	for _, f := range d.Fees {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// TestByID returns the coverage test with the given ID, or nil.
func (d *Deal) TestByID(id string) *CoverageTest {
	for i := range d.Tests {
		if d.Tests[i].ID == id {
			return &d.Tests[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Carry-forward state
// ---------------------------------------------------------------------------

// TrancheState is the persisted carry-forward state of one tranche.
type TrancheState struct {
	ID                  string          `json:"id"`
	Balance             decimal.Decimal `json:"balance"`
	AccruedInterest     decimal.Decimal `json:"accrued_interest"`
	PrincipalShortfall  decimal.Decimal `json:"principal_shortfall"`
	TotalInterestPaid   decimal.Decimal `json:"total_interest_paid"`
	TotalInterestUnpaid decimal.Decimal `json:"total_interest_unpaid"`
	TotalPrincipalPaid  decimal.Decimal `json:"total_principal_paid"`
}

// ReserveState is the persisted carry-forward state of one reserve.
type ReserveState struct {
	ID          string          `json:"id"`
	Balance     decimal.Decimal `json:"balance"`
	TotalFunded decimal.Decimal `json:"total_funded"`
	TotalDrawn  decimal.Decimal `json:"total_drawn"`
}

// FeeState is the persisted carry-forward state of one fee.
type FeeState struct {
	ID          string          `json:"id"`
	Shortfall   decimal.Decimal `json:"shortfall"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	TotalUnpaid decimal.Decimal `json:"total_unpaid"`
}

// DealState is the full carry-forward state of a deal after a completed
// period, persisted by the boundary layer and restored before the next
// period's run.
type DealState struct {
	DealID    string         `json:"deal_id"`
	Period    int            `json:"period"` // last completed period
	Tranches  []TrancheState `json:"tranches"`
	Reserves  []ReserveState `json:"reserves"`
	Fees      []FeeState     `json:"fees"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CaptureState snapshots the deal's mutable entity state after the given
// period completed.
func (d *Deal) CaptureState(period int) DealState {
	st := DealState{
		DealID:    d.ID,
		Period:    period,
		UpdatedAt: time.Now().UTC(),
	}
	for _, t := range d.Tranches {
		st.Tranches = append(st.Tranches, TrancheState{
			ID:                  t.ID,
			Balance:             t.Balance,
			AccruedInterest:     t.AccruedInterest,
			PrincipalShortfall:  t.PrincipalShortfall,
			TotalInterestPaid:   t.TotalInterestPaid,
			TotalInterestUnpaid: t.TotalInterestUnpaid,
			TotalPrincipalPaid:  t.TotalPrincipalPaid,
		})
	}
	for _, r := range d.Reserves {
		st.Reserves = append(st.Reserves, ReserveState{
			ID:          r.ID,
			Balance:     r.Balance,
			TotalFunded: r.TotalFunded,
			TotalDrawn:  r.TotalDrawn,
		})
	}
	for _, f := range d.Fees {
		st.Fees = append(st.Fees, FeeState{
			ID:          f.ID,
			Shortfall:   f.Shortfall,
			TotalPaid:   f.TotalPaid,
			TotalUnpaid: f.TotalUnpaid,
		})
	}
	return st
}

// RestoreState applies previously persisted carry-forward state to the
// deal's entities. Entities present in the state but unknown to the deal
// are rejected.
func (d *Deal) RestoreState(st DealState) error {
	for _, ts := range st.Tranches {
		t := d.TrancheByID(ts.ID)
		if t == nil {
			return Validationf("state references unknown tranche %q", ts.ID)
		}
		t.Balance = ts.Balance
		t.AccruedInterest = ts.AccruedInterest
		t.PrincipalShortfall = ts.PrincipalShortfall
		t.TotalInterestPaid = ts.TotalInterestPaid
		t.TotalInterestUnpaid = ts.TotalInterestUnpaid
		t.TotalPrincipalPaid = ts.TotalPrincipalPaid
	}
	for _, rs := range st.Reserves {
		r := d.ReserveByID(rs.ID)
		if r == nil {
			return Validationf("state references unknown reserve %q", rs.ID)
		}
		r.Balance = rs.Balance
		r.TotalFunded = rs.TotalFunded
		r.TotalDrawn = rs.TotalDrawn
	}
	for _, fs := range st.Fees {
		f := d.FeeByID(fs.ID)
		if f == nil {
			return Validationf("state references unknown fee %q", fs.ID)
		}
		f.Shortfall = fs.Shortfall
		f.TotalPaid = fs.TotalPaid
		f.TotalUnpaid = fs.TotalUnpaid
	}
	return nil
}
