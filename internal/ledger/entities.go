package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
)

// ExecutionStatus tracks where a project is in its delivery lifecycle.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionStopped   ExecutionStatus = "stopped"
	ExecutionCancelled ExecutionStatus = "cancelled"
	// ExecutionEnded marks a finished project; with a settlement date it can be settled.
	ExecutionEnded ExecutionStatus = "ended"
	// ExecutionInLiquidation is set only by the settlement engine.
	ExecutionInLiquidation ExecutionStatus = "in_liquidation"
)

// ExecutionStatuses lists every execution status in display order.
var ExecutionStatuses = []ExecutionStatus{
	ExecutionPending, ExecutionRunning, ExecutionStopped, ExecutionCancelled, ExecutionEnded, ExecutionInLiquidation,
}

// Valid reports whether s is a known execution status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionStopped, ExecutionCancelled, ExecutionEnded, ExecutionInLiquidation:
		return true
	}
	return false
}

// PaymentStatus records whether the client paid the project.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid:
		return true
	}
	return false
}

// ExpenseType classifies an expense.
type ExpenseType string

const (
	ExpensePayroll  ExpenseType = "payroll"
	ExpenseHardware ExpenseType = "hardware"
	ExpenseFuel     ExpenseType = "fuel"
)

var ExpenseTypes = []ExpenseType{ExpensePayroll, ExpenseHardware, ExpenseFuel}

func (t ExpenseType) Valid() bool {
	switch t {
	case ExpensePayroll, ExpenseHardware, ExpenseFuel:
		return true
	}
	return false
}

// ExpenseStatus tracks whether an expense has been settled.
type ExpenseStatus string

const (
	ExpenseStatusPending       ExpenseStatus = "pending"
	ExpenseStatusInLiquidation ExpenseStatus = "in_liquidation"
)

var ExpenseStatuses = []ExpenseStatus{ExpenseStatusPending, ExpenseStatusInLiquidation}

func (s ExpenseStatus) Valid() bool {
	switch s {
	case ExpenseStatusPending, ExpenseStatusInLiquidation:
		return true
	}
	return false
}

// User captures the owner of projects and settlements.
type User struct {
	ID    uuid.UUID
	Email *string
}

// Project is a quoted job owned by a user.
type Project struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
	// Identifier is unique per owner, case-insensitive (e.g. PROY-2024-001).
	Identifier      string
	PurchaseOrder   string
	QuotedValue     money.Amount
	Locality        string
	ExecutionStatus ExecutionStatus
	PaymentStatus   PaymentStatus
	SettlementID    *uuid.UUID
	// SettlementDate is the day the project closed; it places the project in a period.
	SettlementDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expense is a cost incurred by a project.
type Expense struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Description string
	Amount      money.Amount
	Type        ExpenseType
	// Date is optional; see ExpenseDateSource for how undated expenses are placed.
	Date         *time.Time
	Status       ExpenseStatus
	SettlementID *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Settlement groups the projects and expenses closed for one calendar month.
type Settlement struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Month  int
	Year   int
	// TotalProjects and TotalExpenses are recomputed from linked records after every association change.
	TotalProjects money.Amount
	TotalExpenses money.Amount
	// CreatedByEmail is captured on creation and never changed.
	CreatedByEmail string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Period returns the calendar month the settlement covers.
func (s Settlement) Period() Period { return Period{Month: s.Month, Year: s.Year} }

// Difference returns projects minus expenses.
func (s Settlement) Difference() (money.Amount, error) {
	return s.TotalProjects.Sub(s.TotalExpenses)
}
