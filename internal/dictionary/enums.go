package dictionary

import "github.com/tinoosan/settlements/internal/ledger"

// Def describes one enumeration value for clients building forms and filters.
type Def struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	// Reserved values are set by the system and cannot be chosen by users.
	Reserved bool `json:"reserved"`
}

var executionLabels = map[ledger.ExecutionStatus]string{
	ledger.ExecutionPending:       "Pending",
	ledger.ExecutionRunning:       "Running",
	ledger.ExecutionStopped:       "Stopped",
	ledger.ExecutionCancelled:     "Cancelled",
	ledger.ExecutionEnded:         "Ended",
	ledger.ExecutionInLiquidation: "In liquidation",
}

var expenseTypeLabels = map[ledger.ExpenseType]string{
	ledger.ExpensePayroll:  "Payroll",
	ledger.ExpenseHardware: "Hardware",
	ledger.ExpenseFuel:     "Fuel",
}

var expenseStatusLabels = map[ledger.ExpenseStatus]string{
	ledger.ExpenseStatusPending:       "Pending",
	ledger.ExpenseStatusInLiquidation: "In liquidation",
}

// ExecutionStatuses returns the project execution statuses in display order.
func ExecutionStatuses() []Def {
	out := make([]Def, 0, len(ledger.ExecutionStatuses))
	for _, s := range ledger.ExecutionStatuses {
		out = append(out, Def{Code: string(s), Label: executionLabels[s], Reserved: IsReserved(s)})
	}
	return out
}

func ExpenseTypes() []Def {
	out := make([]Def, 0, len(ledger.ExpenseTypes))
	for _, t := range ledger.ExpenseTypes {
		out = append(out, Def{Code: string(t), Label: expenseTypeLabels[t]})
	}
	return out
}

func ExpenseStatuses() []Def {
	out := make([]Def, 0, len(ledger.ExpenseStatuses))
	for _, s := range ledger.ExpenseStatuses {
		out = append(out, Def{Code: string(s), Label: expenseStatusLabels[s], Reserved: s == ledger.ExpenseStatusInLiquidation})
	}
	return out
}

var paymentLabels = map[ledger.PaymentStatus]string{
	ledger.PaymentPending: "Pending",
	ledger.PaymentPaid:    "Paid",
}

func PaymentStatuses() []Def {
	return []Def{
		{Code: string(ledger.PaymentPending), Label: paymentLabels[ledger.PaymentPending]},
		{Code: string(ledger.PaymentPaid), Label: paymentLabels[ledger.PaymentPaid]},
	}
}

// IsReserved reports whether only the settlement engine may set s.
func IsReserved(s ledger.ExecutionStatus) bool {
	return s == ledger.ExecutionInLiquidation
}
