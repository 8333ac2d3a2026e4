package settlement

import (
	"context"
	"time"

	"github.com/tinoosan/settlements/internal/ledger"
)

// EventType names a settlement lifecycle change.
type EventType string

const (
	EventCreated    EventType = "settlement.created"
	EventUpdated    EventType = "settlement.updated"
	EventRecomputed EventType = "settlement.recomputed"
	EventDeleted    EventType = "settlement.deleted"
)

// Event is published after a settlement operation succeeds.
type Event struct {
	Type          EventType
	Settlement    ledger.Settlement
	ProjectsCount int
	ExpensesCount int
	At            time.Time
}

// Notifier receives settlement events. Failures are logged by the service and never undo the operation.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
