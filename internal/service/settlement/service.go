// Package settlement closes a month of ended projects and pending expenses into a
// Settlement, and releases them again when the settlement is deleted.
//
// The store is not assumed to offer multi-record transactions. Every link or
// release is a conditional single-record transition, and each call keeps the
// list of transitions it applied so it can undo exactly those on failure.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/ledger"
)

// Repo defines read operations needed by the service. Every query is scoped by user.
type Repo interface {
	GetUser(ctx context.Context, userID uuid.UUID) (ledger.User, error)
	FindProjects(ctx context.Context, f ledger.ProjectFilter) ([]ledger.Project, error)
	FindExpenses(ctx context.Context, f ledger.ExpenseFilter) ([]ledger.Expense, error)
	// FindSettlement returns found=false when the user has no settlement for the period.
	FindSettlement(ctx context.Context, userID uuid.UUID, p ledger.Period) (ledger.Settlement, bool, error)
	// SettlementByID is not scoped by user so that ownership can be reported as access denied.
	SettlementByID(ctx context.Context, id uuid.UUID) (ledger.Settlement, error)
	ListSettlements(ctx context.Context, userID uuid.UUID) ([]ledger.Settlement, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	// CreateSettlement fails with errs.ErrConflict when the period already has a settlement.
	CreateSettlement(ctx context.Context, s ledger.Settlement) (ledger.Settlement, error)
	UpdateSettlementTotals(ctx context.Context, s ledger.Settlement) (ledger.Settlement, error)
	// DeleteSettlement fails with errs.ErrConflict while records still reference it.
	DeleteSettlement(ctx context.Context, userID, id uuid.UUID) error
	// TransitionProject applies t only if the project is still in t.From, else errs.ErrConflict.
	TransitionProject(ctx context.Context, t ledger.ProjectTransition) error
	TransitionExpense(ctx context.Context, t ledger.ExpenseTransition) error
}

// Service exposes the settlement workflow and its read paths.
type Service interface {
	Settle(ctx context.Context, userID uuid.UUID, month, year int) (Outcome, error)
	Delete(ctx context.Context, userID, settlementID uuid.UUID) error
	Recompute(ctx context.Context, userID, settlementID uuid.UUID) (ledger.Settlement, error)
	Get(ctx context.Context, userID, settlementID uuid.UUID) (Detail, error)
	List(ctx context.Context, userID uuid.UUID) ([]ledger.Settlement, error)
	Preview(ctx context.Context, userID uuid.UUID, p ledger.Period) (Preview, error)
	PreviewCurrent(ctx context.Context, userID uuid.UUID) (Preview, error)
	AvailablePeriods(ctx context.Context, userID uuid.UUID) ([]AvailablePeriod, error)
}

// Outcome reports a successful Settle. Counts are the eligible sets found before any write.
type Outcome struct {
	Settlement    ledger.Settlement
	ProjectsCount int
	ExpensesCount int
	CreatedNew    bool
}

// Detail is a settlement with the records currently linked to it.
type Detail struct {
	Settlement ledger.Settlement
	Projects   []ledger.Project
	Expenses   []ledger.Expense
}

// Clock returns the current time; it decides the preliquidation period.
type Clock func() time.Time

// Options configures optional collaborators. Zero values get in-process defaults.
type Options struct {
	DateSource ledger.ExpenseDateSource
	Clock      Clock
	Locker     Locker
	Notifier   Notifier
	Logger     *slog.Logger
}

type service struct {
	repo       Repo
	writer     Writer
	dateSource ledger.ExpenseDateSource
	now        Clock
	locker     Locker
	notifier   Notifier
	log        *slog.Logger
}

func New(repo Repo, writer Writer, opts Options) Service {
	s := &service{
		repo:       repo,
		writer:     writer,
		dateSource: opts.DateSource,
		now:        opts.Clock,
		locker:     opts.Locker,
		notifier:   opts.Notifier,
		log:        opts.Logger,
	}
	if !s.dateSource.Valid() {
		s.dateSource = ledger.DateFromExpense
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.locker == nil {
		s.locker = NewKeyedLocker()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Settle links the period's eligible projects and expenses to the user's
// settlement for (month, year), creating it when missing, then recomputes totals.
//
// A nil error or an ErrTotalsUpdateFailed error both come with a valid Outcome.
func (s *service) Settle(ctx context.Context, userID uuid.UUID, month, year int) (Outcome, error) {
	if userID == uuid.Nil {
		return Outcome{}, errs.ErrInvalid
	}
	period, err := ledger.NewPeriod(month, year)
	if err != nil {
		return Outcome{}, err
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	unlock, err := s.locker.Lock(ctx, PeriodKey(userID, period))
	if err != nil {
		return Outcome{}, fmt.Errorf("lock period %s: %w", period, err)
	}
	defer unlock()

	projects, expenses, err := s.eligible(ctx, userID, period)
	if err != nil {
		return Outcome{}, err
	}
	if len(projects) == 0 && len(expenses) == 0 {
		return Outcome{}, &Error{Kind: ErrNoPendingItems, Period: period}
	}
	out := Outcome{ProjectsCount: len(projects), ExpensesCount: len(expenses)}

	st, found, err := s.repo.FindSettlement(ctx, userID, period)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		st, err = s.create(ctx, user, period, projects, expenses)
		if err != nil {
			return Outcome{}, err
		}
		out.CreatedNew = true
	}

	if err := s.associate(ctx, userID, st, projects, expenses); err != nil {
		if out.CreatedNew {
			if derr := s.writer.DeleteSettlement(context.WithoutCancel(ctx), userID, st.ID); derr != nil {
				s.log.Error("discard settlement after failed association", "settlement_id", st.ID, "period", period.String(), "err", derr)
			}
		}
		return Outcome{}, err
	}

	st, err = s.persistTotals(ctx, st)
	out.Settlement = st
	if err != nil {
		s.log.Warn("settlement totals stale", "settlement_id", st.ID, "period", period.String(), "err", err)
		return out, &Error{Kind: ErrTotalsUpdateFailed, Period: period, SettlementID: st.ID, Projects: out.ProjectsCount, Expenses: out.ExpensesCount, Err: err}
	}

	ev := EventUpdated
	if out.CreatedNew {
		ev = EventCreated
	}
	s.notify(ctx, Event{Type: ev, Settlement: st, ProjectsCount: out.ProjectsCount, ExpensesCount: out.ExpensesCount})
	s.log.Info("settlement closed",
		"settlement_id", st.ID,
		"user_id", userID,
		"period", period.String(),
		"created", out.CreatedNew,
		"projects", out.ProjectsCount,
		"expenses", out.ExpensesCount,
	)
	return out, nil
}

func (s *service) create(ctx context.Context, user ledger.User, period ledger.Period, projects []ledger.Project, expenses []ledger.Expense) (ledger.Settlement, error) {
	tp, err := ledger.Sum(ledger.ProjectValues(projects)...)
	if err != nil {
		return ledger.Settlement{}, &Error{Kind: ErrSettlementPersist, Period: period, Err: err}
	}
	te, err := ledger.Sum(ledger.ExpenseAmounts(expenses)...)
	if err != nil {
		return ledger.Settlement{}, &Error{Kind: ErrSettlementPersist, Period: period, Err: err}
	}
	st := ledger.Settlement{
		ID:            uuid.New(),
		UserID:        user.ID,
		Month:         period.Month,
		Year:          period.Year,
		TotalProjects: tp,
		TotalExpenses: te,
	}
	if user.Email != nil {
		st.CreatedByEmail = *user.Email
	}
	created, err := s.writer.CreateSettlement(ctx, st)
	if err != nil {
		return ledger.Settlement{}, &Error{Kind: ErrSettlementPersist, Period: period, Err: err}
	}
	return created, nil
}

// undoStep reverses one applied transition.
type undoStep func(ctx context.Context) error

// associate links every eligible record to st. On the first failure it
// undoes the links made by this call and returns ErrAssociationFailed.
func (s *service) associate(ctx context.Context, userID uuid.UUID, st ledger.Settlement, projects []ledger.Project, expenses []ledger.Expense) error {
	applied := make([]undoStep, 0, len(projects)+len(expenses))
	fail := func(err error) error {
		if rerr := s.undo(ctx, applied); rerr != nil {
			err = errors.Join(err, rerr)
		}
		s.log.Warn("settlement association rolled back", "settlement_id", st.ID, "period", st.Period().String(), "restored", len(applied), "err", err)
		return &Error{Kind: ErrAssociationFailed, Period: st.Period(), SettlementID: st.ID, Projects: len(projects), Expenses: len(expenses), Err: err}
	}
	for _, p := range projects {
		t := p.Liquidate(st.ID)
		if err := s.writer.TransitionProject(ctx, t); err != nil {
			return fail(fmt.Errorf("project %s: %w", p.ID, err))
		}
		applied = append(applied, func(ctx context.Context) error { return s.writer.TransitionProject(ctx, t.Reverse()) })
	}
	for _, e := range expenses {
		t := e.Liquidate(userID, st.ID)
		if err := s.writer.TransitionExpense(ctx, t); err != nil {
			return fail(fmt.Errorf("expense %s: %w", e.ID, err))
		}
		applied = append(applied, func(ctx context.Context) error { return s.writer.TransitionExpense(ctx, t.Reverse()) })
	}
	return nil
}

// undo runs steps newest first. It keeps going past failures and ignores
// cancellation of ctx so that compensation is not cut short.
func (s *service) undo(ctx context.Context, steps []undoStep) error {
	ctx = context.WithoutCancel(ctx)
	var all []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i](ctx); err != nil {
			s.log.Error("compensating transition failed", "err", err)
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

// totals sums the records currently linked to st.
func (s *service) totals(ctx context.Context, st ledger.Settlement) (ledger.Settlement, []ledger.Project, []ledger.Expense, error) {
	id := st.ID
	projects, err := s.repo.FindProjects(ctx, ledger.ProjectFilter{UserID: st.UserID, SettlementID: &id})
	if err != nil {
		return st, nil, nil, err
	}
	expenses, err := s.repo.FindExpenses(ctx, ledger.ExpenseFilter{UserID: st.UserID, SettlementID: &id})
	if err != nil {
		return st, nil, nil, err
	}
	tp, err := ledger.Sum(ledger.ProjectValues(projects)...)
	if err != nil {
		return st, nil, nil, err
	}
	te, err := ledger.Sum(ledger.ExpenseAmounts(expenses)...)
	if err != nil {
		return st, nil, nil, err
	}
	st.TotalProjects, st.TotalExpenses = tp, te
	return st, projects, expenses, nil
}

func (s *service) persistTotals(ctx context.Context, st ledger.Settlement) (ledger.Settlement, error) {
	next, _, _, err := s.totals(ctx, st)
	if err != nil {
		return st, err
	}
	saved, err := s.writer.UpdateSettlementTotals(ctx, next)
	if err != nil {
		return st, err
	}
	return saved, nil
}

// Delete releases every record linked to the settlement, then removes it.
// If any release fails the records already released are linked again and the
// settlement is kept.
func (s *service) Delete(ctx context.Context, userID, settlementID uuid.UUID) error {
	st, err := s.owned(ctx, userID, settlementID)
	if err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, PeriodKey(userID, st.Period()))
	if err != nil {
		return fmt.Errorf("lock period %s: %w", st.Period(), err)
	}
	defer unlock()

	id := st.ID
	projects, err := s.repo.FindProjects(ctx, ledger.ProjectFilter{UserID: userID, SettlementID: &id})
	if err != nil {
		return err
	}
	expenses, err := s.repo.FindExpenses(ctx, ledger.ExpenseFilter{UserID: userID, SettlementID: &id})
	if err != nil {
		return err
	}

	applied := make([]undoStep, 0, len(projects)+len(expenses))
	fail := func(err error) error {
		if rerr := s.undo(ctx, applied); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return &Error{Kind: ErrRevertFailed, Period: st.Period(), SettlementID: st.ID, Projects: len(projects), Expenses: len(expenses), Err: err}
	}
	for _, p := range projects {
		t := p.Release()
		if err := s.writer.TransitionProject(ctx, t); err != nil {
			return fail(fmt.Errorf("project %s: %w", p.ID, err))
		}
		applied = append(applied, func(ctx context.Context) error { return s.writer.TransitionProject(ctx, t.Reverse()) })
	}
	for _, e := range expenses {
		t := e.Release(userID)
		if err := s.writer.TransitionExpense(ctx, t); err != nil {
			return fail(fmt.Errorf("expense %s: %w", e.ID, err))
		}
		applied = append(applied, func(ctx context.Context) error { return s.writer.TransitionExpense(ctx, t.Reverse()) })
	}
	if err := s.writer.DeleteSettlement(ctx, userID, st.ID); err != nil {
		return fail(fmt.Errorf("delete settlement: %w", err))
	}

	s.notify(ctx, Event{Type: EventDeleted, Settlement: st, ProjectsCount: len(projects), ExpensesCount: len(expenses)})
	s.log.Info("settlement deleted", "settlement_id", st.ID, "user_id", userID, "period", st.Period().String(), "projects_released", len(projects), "expenses_released", len(expenses))
	return nil
}

// Recompute refreshes the settlement totals from its linked records.
func (s *service) Recompute(ctx context.Context, userID, settlementID uuid.UUID) (ledger.Settlement, error) {
	st, err := s.owned(ctx, userID, settlementID)
	if err != nil {
		return ledger.Settlement{}, err
	}
	saved, err := s.persistTotals(ctx, st)
	if err != nil {
		return st, &Error{Kind: ErrTotalsUpdateFailed, Period: st.Period(), SettlementID: st.ID, Err: err}
	}
	s.notify(ctx, Event{Type: EventRecomputed, Settlement: saved})
	return saved, nil
}

func (s *service) Get(ctx context.Context, userID, settlementID uuid.UUID) (Detail, error) {
	st, err := s.owned(ctx, userID, settlementID)
	if err != nil {
		return Detail{}, err
	}
	id := st.ID
	projects, err := s.repo.FindProjects(ctx, ledger.ProjectFilter{UserID: userID, SettlementID: &id})
	if err != nil {
		return Detail{}, err
	}
	expenses, err := s.repo.FindExpenses(ctx, ledger.ExpenseFilter{UserID: userID, SettlementID: &id})
	if err != nil {
		return Detail{}, err
	}
	return Detail{Settlement: st, Projects: projects, Expenses: expenses}, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]ledger.Settlement, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	return s.repo.ListSettlements(ctx, userID)
}

// owned loads a settlement and checks it belongs to userID.
func (s *service) owned(ctx context.Context, userID, settlementID uuid.UUID) (ledger.Settlement, error) {
	if userID == uuid.Nil || settlementID == uuid.Nil {
		return ledger.Settlement{}, errs.ErrInvalid
	}
	st, err := s.repo.SettlementByID(ctx, settlementID)
	if err != nil {
		return ledger.Settlement{}, err
	}
	if st.UserID != userID {
		return ledger.Settlement{}, &Error{Kind: ErrAccessDenied, SettlementID: settlementID, Err: errs.ErrForbidden}
	}
	return st, nil
}

func (s *service) notify(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("publish settlement event", "type", string(ev.Type), "settlement_id", ev.Settlement.ID, "err", err)
	}
}
