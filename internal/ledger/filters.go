package ledger

import (
	"time"

	"github.com/google/uuid"
)

// ProjectFilter narrows project queries. UserID is always required.
// From/To bound the settlement date, inclusive.
type ProjectFilter struct {
	UserID       uuid.UUID
	Status       *ExecutionStatus
	From         *time.Time
	To           *time.Time
	SettlementID *uuid.UUID
}

// ExpenseFilter narrows expense queries. UserID scopes through the owning project.
// From/To bound the period date chosen by DateSource, inclusive.
type ExpenseFilter struct {
	UserID       uuid.UUID
	ProjectID    *uuid.UUID
	Status       *ExpenseStatus
	From         *time.Time
	To           *time.Time
	DateSource   ExpenseDateSource
	SettlementID *uuid.UUID
}

// InPeriod sets the date bounds to the whole of p.
func (f ProjectFilter) InPeriod(p Period) ProjectFilter {
	from, to := p.Start(), p.End()
	f.From, f.To = &from, &to
	return f
}

func (f ExpenseFilter) InPeriod(p Period) ExpenseFilter {
	from, to := p.Start(), p.End()
	f.From, f.To = &from, &to
	return f
}

// Match applies the filter to a project in memory.
func (f ProjectFilter) Match(p Project) bool {
	if p.UserID != f.UserID {
		return false
	}
	if f.Status != nil && p.ExecutionStatus != *f.Status {
		return false
	}
	if f.SettlementID != nil && (p.SettlementID == nil || *p.SettlementID != *f.SettlementID) {
		return false
	}
	if f.From != nil || f.To != nil {
		if p.SettlementDate == nil || !within(*p.SettlementDate, f.From, f.To) {
			return false
		}
	}
	return true
}

// Match applies the filter to an expense whose owning project is project.
func (f ExpenseFilter) Match(e Expense, project Project) bool {
	if project.UserID != f.UserID || e.ProjectID != project.ID {
		return false
	}
	if f.ProjectID != nil && e.ProjectID != *f.ProjectID {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.SettlementID != nil && (e.SettlementID == nil || *e.SettlementID != *f.SettlementID) {
		return false
	}
	if f.From != nil || f.To != nil {
		d := ExpensePeriodDate(e, &project, f.dateSource())
		if d == nil || !within(*d, f.From, f.To) {
			return false
		}
	}
	return true
}

func (f ExpenseFilter) dateSource() ExpenseDateSource {
	if f.DateSource == "" {
		return DateFromExpense
	}
	return f.DateSource
}

func within(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
