package settlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tinoosan/settlements/internal/ledger"
)

// Failure kinds. Match with errors.Is; the *Error carrying them adds context.
var (
	// ErrNoPendingItems: nothing eligible in the period; nothing was written.
	ErrNoPendingItems = errors.New("no pending projects or expenses in period")
	// ErrSettlementPersist: the settlement record could not be created; nothing was written.
	ErrSettlementPersist = errors.New("settlement could not be persisted")
	// ErrAssociationFailed: a record could not be linked; records linked by the same call were restored.
	ErrAssociationFailed = errors.New("linking records to settlement failed")
	// ErrTotalsUpdateFailed: links are committed but totals are stale until the next recompute.
	ErrTotalsUpdateFailed = errors.New("settlement totals could not be updated")
	// ErrRevertFailed: a linked record could not be released; the settlement was kept.
	ErrRevertFailed = errors.New("releasing linked records failed")
	// ErrAccessDenied: the settlement belongs to another user.
	ErrAccessDenied = errors.New("settlement belongs to another user")
)

// Error describes a failed settlement operation.
type Error struct {
	Kind         error
	Period       ledger.Period
	SettlementID uuid.UUID
	Projects     int
	Expenses     int
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Period != (ledger.Period{}) {
		fmt.Fprintf(&b, " (period %s)", e.Period)
	}
	if e.SettlementID != uuid.Nil {
		fmt.Fprintf(&b, " [settlement %s]", e.SettlementID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsWarning reports whether err leaves a usable outcome (totals only are stale).
func IsWarning(err error) bool { return errors.Is(err, ErrTotalsUpdateFailed) }

// Code maps a failure kind to a stable snake_case code for clients and metrics.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoPendingItems):
		return "no_pending_items"
	case errors.Is(err, ErrSettlementPersist):
		return "settlement_persist_error"
	case errors.Is(err, ErrAssociationFailed):
		return "association_failed"
	case errors.Is(err, ErrTotalsUpdateFailed):
		return "totals_update_failed"
	case errors.Is(err, ErrRevertFailed):
		return "revert_failed"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	}
	return "error"
}
