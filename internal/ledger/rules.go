package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExpenseDateSource selects which date places an expense in a settlement period.
type ExpenseDateSource string

const (
	// DateFromExpense uses only the expense's own date; undated expenses never match a period.
	DateFromExpense ExpenseDateSource = "expense_date"
	// DateFromProjectFallback uses the expense's date, or its project's settlement date when the expense has none.
	DateFromProjectFallback ExpenseDateSource = "project_fallback"
)

func (s ExpenseDateSource) Valid() bool {
	switch s {
	case DateFromExpense, DateFromProjectFallback:
		return true
	}
	return false
}

// ExpensePeriodDate returns the date used to place e in a period, or nil when it has none.
// project may be nil when the caller does not have it loaded.
func ExpensePeriodDate(e Expense, project *Project, source ExpenseDateSource) *time.Time {
	switch source {
	case DateFromExpense:
		return e.Date
	case DateFromProjectFallback:
		if e.Date != nil {
			return e.Date
		}
		if project != nil {
			return project.SettlementDate
		}
	}
	return nil
}

// IsProjectEligible reports whether p can be settled in period.
func IsProjectEligible(p Project, period Period) bool {
	if p.ExecutionStatus != ExecutionEnded || p.SettlementID != nil {
		return false
	}
	return p.SettlementDate != nil && period.Contains(*p.SettlementDate)
}

// IsExpenseEligible reports whether e can be settled in period.
func IsExpenseEligible(e Expense, project *Project, period Period, source ExpenseDateSource) bool {
	if e.Status != ExpenseStatusPending || e.SettlementID != nil {
		return false
	}
	d := ExpensePeriodDate(e, project, source)
	return d != nil && period.Contains(*d)
}

// ProjectState is the part of a project the settlement engine changes.
type ProjectState struct {
	Status       ExecutionStatus
	SettlementID *uuid.UUID
}

// ExpenseState is the part of an expense the settlement engine changes.
type ExpenseState struct {
	Status       ExpenseStatus
	SettlementID *uuid.UUID
}

// State returns the project's current link state.
func (p Project) State() ProjectState {
	return ProjectState{Status: p.ExecutionStatus, SettlementID: p.SettlementID}
}

// State returns the expense's current link state.
func (e Expense) State() ExpenseState {
	return ExpenseState{Status: e.Status, SettlementID: e.SettlementID}
}

// Equal compares status and settlement reference.
func (s ProjectState) Equal(o ProjectState) bool {
	return s.Status == o.Status && sameRef(s.SettlementID, o.SettlementID)
}

func (s ExpenseState) Equal(o ExpenseState) bool {
	return s.Status == o.Status && sameRef(s.SettlementID, o.SettlementID)
}

// Validate enforces: settlement reference set iff status is in_liquidation.
func (s ProjectState) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("invalid execution status %q", s.Status)
	}
	if (s.Status == ExecutionInLiquidation) != (s.SettlementID != nil) {
		return fmt.Errorf("project in %q must %s a settlement reference", s.Status, refWord(s.Status == ExecutionInLiquidation))
	}
	return nil
}

func (s ExpenseState) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("invalid expense status %q", s.Status)
	}
	if (s.Status == ExpenseStatusInLiquidation) != (s.SettlementID != nil) {
		return fmt.Errorf("expense in %q must %s a settlement reference", s.Status, refWord(s.Status == ExpenseStatusInLiquidation))
	}
	return nil
}

// ProjectTransition is a conditional update: it applies To only while the project is still in From.
type ProjectTransition struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	From      ProjectState
	To        ProjectState
}

// ExpenseTransition is the expense counterpart of ProjectTransition. UserID scopes via the owning project.
type ExpenseTransition struct {
	UserID    uuid.UUID
	ExpenseID uuid.UUID
	From      ExpenseState
	To        ExpenseState
}

// Liquidate moves an ended project into settlementID.
func (p Project) Liquidate(settlementID uuid.UUID) ProjectTransition {
	id := settlementID
	return ProjectTransition{
		UserID:    p.UserID,
		ProjectID: p.ID,
		From:      p.State(),
		To:        ProjectState{Status: ExecutionInLiquidation, SettlementID: &id},
	}
}

// Release returns a liquidated project to ended; its settlement date is kept.
func (p Project) Release() ProjectTransition {
	return ProjectTransition{
		UserID:    p.UserID,
		ProjectID: p.ID,
		From:      p.State(),
		To:        ProjectState{Status: ExecutionEnded},
	}
}

// Reverse swaps From and To.
func (t ProjectTransition) Reverse() ProjectTransition {
	t.From, t.To = t.To, t.From
	return t
}

// Liquidate moves a pending expense into settlementID.
func (e Expense) Liquidate(userID, settlementID uuid.UUID) ExpenseTransition {
	id := settlementID
	return ExpenseTransition{
		UserID:    userID,
		ExpenseID: e.ID,
		From:      e.State(),
		To:        ExpenseState{Status: ExpenseStatusInLiquidation, SettlementID: &id},
	}
}

// Release returns a liquidated expense to pending.
func (e Expense) Release(userID uuid.UUID) ExpenseTransition {
	return ExpenseTransition{
		UserID:    userID,
		ExpenseID: e.ID,
		From:      e.State(),
		To:        ExpenseState{Status: ExpenseStatusPending},
	}
}

func (t ExpenseTransition) Reverse() ExpenseTransition {
	t.From, t.To = t.To, t.From
	return t
}

// Editable reports whether the owner may still change the project.
func (p Project) Editable() bool { return p.ExecutionStatus != ExecutionInLiquidation }

// Editable reports whether the owner may still change the expense.
func (e Expense) Editable() bool { return e.Status == ExpenseStatusPending }

func sameRef(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func refWord(required bool) string {
	if required {
		return "carry"
	}
	return "not carry"
}
