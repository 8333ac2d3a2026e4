package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/ledger"
	"github.com/tinoosan/settlements/internal/service/settlement"
)

// SettlementEvent is the body published for every settlement lifecycle change.
// Amounts travel as integer minor units.
type SettlementEvent struct {
	Type               string    `json:"type"`
	SettlementID       uuid.UUID `json:"settlement_id"`
	UserID             uuid.UUID `json:"user_id"`
	Month              int       `json:"month"`
	Year               int       `json:"year"`
	ProjectsCount      int       `json:"projects_count"`
	ExpensesCount      int       `json:"expenses_count"`
	TotalProjectsMinor int64     `json:"total_projects_minor"`
	TotalExpensesMinor int64     `json:"total_expenses_minor"`
	Currency           string    `json:"currency"`
	Timestamp          time.Time `json:"timestamp"`
}

// NewSettlementEvent flattens a service event into its wire form.
func NewSettlementEvent(ev settlement.Event) *SettlementEvent {
	st := ev.Settlement
	return &SettlementEvent{
		Type:               string(ev.Type),
		SettlementID:       st.ID,
		UserID:             st.UserID,
		Month:              st.Month,
		Year:               st.Year,
		ProjectsCount:      ev.ProjectsCount,
		ExpensesCount:      ev.ExpensesCount,
		TotalProjectsMinor: ledger.Minor(st.TotalProjects),
		TotalExpensesMinor: ledger.Minor(st.TotalExpenses),
		Currency:           ledger.Currency,
		Timestamp:          ev.At,
	}
}

// ToJSON converts the message to JSON bytes
func (m *SettlementEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SettlementEventFromJSON decodes a message body.
func SettlementEventFromJSON(data []byte) (*SettlementEvent, error) {
	var msg SettlementEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
