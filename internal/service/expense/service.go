// Package expense implements the expense rules: expenses belong to an owned
// project and can only change while pending.
package expense

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/ledger"
)

type Repo interface {
	GetProject(ctx context.Context, userID, projectID uuid.UUID) (ledger.Project, error)
	GetExpense(ctx context.Context, userID, expenseID uuid.UUID) (ledger.Expense, error)
	FindExpenses(ctx context.Context, f ledger.ExpenseFilter) ([]ledger.Expense, error)
}

// Writer persists expenses. UpdateExpense and DeleteExpense only match a
// pending expense with no settlement link and report errs.ErrImmutable otherwise.
type Writer interface {
	CreateExpense(ctx context.Context, e ledger.Expense) (ledger.Expense, error)
	UpdateExpense(ctx context.Context, userID uuid.UUID, e ledger.Expense) (ledger.Expense, error)
	DeleteExpense(ctx context.Context, userID, expenseID uuid.UUID) error
}

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, e ledger.Expense) (ledger.Expense, error)
	Get(ctx context.Context, userID, expenseID uuid.UUID) (ledger.Expense, error)
	List(ctx context.Context, userID, projectID uuid.UUID) ([]ledger.Expense, error)
	Update(ctx context.Context, userID uuid.UUID, e ledger.Expense) (ledger.Expense, error)
	Delete(ctx context.Context, userID, expenseID uuid.UUID) error
}

type service struct {
	repo   Repo
	writer Writer
}

func New(repo Repo, writer Writer) Service { return &service{repo: repo, writer: writer} }

func validate(e ledger.Expense) error {
	if e.ProjectID == uuid.Nil {
		return errs.ErrInvalid
	}
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("%w: description is required", errs.ErrInvalid)
	}
	if e.Amount.Curr().Code() != ledger.Currency {
		return fmt.Errorf("%w: amount must be in %s", errs.ErrInvalid, ledger.Currency)
	}
	if !e.Amount.IsPos() {
		return fmt.Errorf("%w: amount must be positive", errs.ErrInvalid)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: invalid expense type", errs.ErrInvalid)
	}
	return nil
}

// Create records a pending expense on a project the user owns. Projects held
// by a settlement take no new expenses.
func (s *service) Create(ctx context.Context, userID uuid.UUID, e ledger.Expense) (ledger.Expense, error) {
	if userID == uuid.Nil {
		return ledger.Expense{}, errs.ErrInvalid
	}
	if e.Type == "" {
		e.Type = ledger.ExpensePayroll
	}
	if err := validate(e); err != nil {
		return ledger.Expense{}, err
	}
	p, err := s.repo.GetProject(ctx, userID, e.ProjectID)
	if err != nil {
		return ledger.Expense{}, err
	}
	if !p.Editable() {
		return ledger.Expense{}, errs.ErrImmutable
	}
	e.ID = uuid.New()
	e.Status = ledger.ExpenseStatusPending
	e.SettlementID = nil
	e.Date = utcDate(e.Date)
	return s.writer.CreateExpense(ctx, e)
}

func (s *service) Get(ctx context.Context, userID, expenseID uuid.UUID) (ledger.Expense, error) {
	if userID == uuid.Nil || expenseID == uuid.Nil {
		return ledger.Expense{}, errs.ErrInvalid
	}
	return s.repo.GetExpense(ctx, userID, expenseID)
}

func (s *service) List(ctx context.Context, userID, projectID uuid.UUID) ([]ledger.Expense, error) {
	if userID == uuid.Nil || projectID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	if _, err := s.repo.GetProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	pid := projectID
	return s.repo.FindExpenses(ctx, ledger.ExpenseFilter{UserID: userID, ProjectID: &pid})
}

// Update replaces description, amount, type and date of a pending expense.
func (s *service) Update(ctx context.Context, userID uuid.UUID, e ledger.Expense) (ledger.Expense, error) {
	if userID == uuid.Nil || e.ID == uuid.Nil {
		return ledger.Expense{}, errs.ErrInvalid
	}
	current, err := s.repo.GetExpense(ctx, userID, e.ID)
	if err != nil {
		return ledger.Expense{}, err
	}
	if !current.Editable() {
		return ledger.Expense{}, errs.ErrImmutable
	}
	next := current
	next.Description = e.Description
	next.Amount = e.Amount
	next.Type = e.Type
	next.Date = utcDate(e.Date)
	if err := validate(next); err != nil {
		return ledger.Expense{}, err
	}
	return s.writer.UpdateExpense(ctx, userID, next)
}

// Delete removes a pending expense.
func (s *service) Delete(ctx context.Context, userID, expenseID uuid.UUID) error {
	if userID == uuid.Nil || expenseID == uuid.Nil {
		return errs.ErrInvalid
	}
	current, err := s.repo.GetExpense(ctx, userID, expenseID)
	if err != nil {
		return err
	}
	if !current.Editable() {
		return errs.ErrImmutable
	}
	return s.writer.DeleteExpense(ctx, userID, expenseID)
}

func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
