package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/ledger"
)

func seedProject(t *testing.T, s *Store, userID uuid.UUID, ident string, status ledger.ExecutionStatus, date *time.Time) ledger.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), ledger.Project{
		ID:              uuid.New(),
		UserID:          userID,
		Name:            "Obra " + ident,
		Identifier:      ident,
		PurchaseOrder:   "OC-1",
		QuotedValue:     ledger.MustAmount(1_000_00),
		Locality:        "Bogota",
		ExecutionStatus: status,
		PaymentStatus:   ledger.PaymentPending,
		SettlementDate:  date,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestProjectIdentifierUniqueIgnoresCase(t *testing.T) {
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	seedProject(t, s, u, "PROY-2024-001", ledger.ExecutionPending, nil)
	_, err := s.CreateProject(context.Background(), ledger.Project{ID: uuid.New(), UserID: u, Identifier: "proy-2024-001", ExecutionStatus: ledger.ExecutionPending})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	other := uuid.New()
	s.SeedUser(ledger.User{ID: other})
	seedProject(t, s, other, "PROY-2024-001", ledger.ExecutionPending, nil)
}

func TestTransitionProjectIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	d := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	p := seedProject(t, s, u, "A", ledger.ExecutionEnded, &d)
	st, err := s.CreateSettlement(ctx, ledger.Settlement{ID: uuid.New(), UserID: u, Month: 3, Year: 2024, TotalProjects: ledger.Zero(), TotalExpenses: ledger.Zero()})
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}
	tr := p.Liquidate(st.ID)
	if err := s.TransitionProject(ctx, tr); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.TransitionProject(ctx, tr); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second transition should conflict, got %v", err)
	}
	got, _ := s.GetProject(ctx, u, p.ID)
	if got.ExecutionStatus != ledger.ExecutionInLiquidation || got.SettlementID == nil || *got.SettlementID != st.ID {
		t.Fatalf("unexpected project state: %+v", got.State())
	}
	if err := s.DeleteSettlement(ctx, u, st.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("delete while referenced should conflict, got %v", err)
	}
	if err := s.TransitionProject(ctx, tr.Reverse()); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if err := s.DeleteSettlement(ctx, u, st.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := s.FindSettlement(ctx, u, ledger.Period{Month: 3, Year: 2024}); found {
		t.Fatalf("period index not cleared")
	}
}

func TestTransitionRejectsBrokenLinkState(t *testing.T) {
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	d := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	p := seedProject(t, s, u, "A", ledger.ExecutionEnded, &d)
	tr := ledger.ProjectTransition{UserID: u, ProjectID: p.ID, From: p.State(), To: ledger.ProjectState{Status: ledger.ExecutionInLiquidation}}
	if err := s.TransitionProject(context.Background(), tr); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestSettlementUniquePerPeriod(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	mk := func() error {
		_, err := s.CreateSettlement(ctx, ledger.Settlement{ID: uuid.New(), UserID: u, Month: 3, Year: 2024, TotalProjects: ledger.Zero(), TotalExpenses: ledger.Zero()})
		return err
	}
	if err := mk(); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := mk(); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.CreateSettlement(ctx, ledger.Settlement{ID: uuid.New(), UserID: u, Month: 13, Year: 2024}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected invalid month, got %v", err)
	}
}

func TestFindExpensesScopedByOwnerAndDate(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, other := uuid.New(), uuid.New()
	s.SeedUser(ledger.User{ID: u})
	s.SeedUser(ledger.User{ID: other})
	p := seedProject(t, s, u, "A", ledger.ExecutionRunning, nil)
	q := seedProject(t, s, other, "B", ledger.ExecutionRunning, nil)
	in := time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC)
	out := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range []ledger.Expense{
		{ID: uuid.New(), ProjectID: p.ID, Description: "in", Amount: ledger.MustAmount(100), Type: ledger.ExpenseFuel, Date: &in, Status: ledger.ExpenseStatusPending},
		{ID: uuid.New(), ProjectID: p.ID, Description: "out", Amount: ledger.MustAmount(100), Type: ledger.ExpenseFuel, Date: &out, Status: ledger.ExpenseStatusPending},
		{ID: uuid.New(), ProjectID: q.ID, Description: "foreign", Amount: ledger.MustAmount(100), Type: ledger.ExpenseFuel, Date: &in, Status: ledger.ExpenseStatusPending},
	} {
		if _, err := s.CreateExpense(ctx, e); err != nil {
			t.Fatalf("create expense: %v", err)
		}
	}
	got, err := s.FindExpenses(ctx, ledger.ExpenseFilter{UserID: u}.InPeriod(ledger.Period{Month: 3, Year: 2024}))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].Description != "in" {
		t.Fatalf("unexpected expenses: %+v", got)
	}
}

func TestDeleteProjectCascadesExpenses(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	p := seedProject(t, s, u, "A", ledger.ExecutionRunning, nil)
	e, err := s.CreateExpense(ctx, ledger.Expense{ID: uuid.New(), ProjectID: p.ID, Description: "x", Amount: ledger.MustAmount(1), Type: ledger.ExpensePayroll, Status: ledger.ExpenseStatusPending})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	if _, err := s.DeleteProject(ctx, uuid.New(), p.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("foreign delete should be not found, got %v", err)
	}
	affected, err := s.DeleteProject(ctx, u, p.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(affected) != 0 {
		t.Fatalf("unlinked project reported settlements: %v", affected)
	}
	if _, err := s.GetExpense(ctx, u, e.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expense should be gone, got %v", err)
	}
}

func TestListSettlementsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	for _, p := range []ledger.Period{{Month: 11, Year: 2023}, {Month: 2, Year: 2024}, {Month: 12, Year: 2023}} {
		if _, err := s.CreateSettlement(ctx, ledger.Settlement{ID: uuid.New(), UserID: u, Month: p.Month, Year: p.Year, TotalProjects: ledger.Zero(), TotalExpenses: ledger.Zero()}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	list, _ := s.ListSettlements(ctx, u)
	if len(list) != 3 || list[0].Period().String() != "2024-02" || list[2].Period().String() != "2023-11" {
		t.Fatalf("unexpected order: %v %v %v", list[0].Period(), list[1].Period(), list[2].Period())
	}
}

// linkAll settles p and e into a March 2024 settlement directly through the store.
func linkAll(t *testing.T, s *Store, p ledger.Project, e ledger.Expense) ledger.Settlement {
	t.Helper()
	ctx := context.Background()
	st, err := s.CreateSettlement(ctx, ledger.Settlement{ID: uuid.New(), UserID: p.UserID, Month: 3, Year: 2024, TotalProjects: ledger.Zero(), TotalExpenses: ledger.Zero()})
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}
	if err := s.TransitionProject(ctx, p.Liquidate(st.ID)); err != nil {
		t.Fatalf("link project: %v", err)
	}
	if err := s.TransitionExpense(ctx, e.Liquidate(p.UserID, st.ID)); err != nil {
		t.Fatalf("link expense: %v", err)
	}
	return st
}

func TestLinkedRecordsRejectOwnerWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	d := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	p := seedProject(t, s, u, "A", ledger.ExecutionEnded, &d)
	e, err := s.CreateExpense(ctx, ledger.Expense{ID: uuid.New(), ProjectID: p.ID, Description: "x", Amount: ledger.MustAmount(500), Type: ledger.ExpensePayroll, Date: &d, Status: ledger.ExpenseStatusPending})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	linkAll(t, s, p, e)

	changed := e
	changed.Amount = ledger.MustAmount(9999)
	if _, err := s.UpdateExpense(ctx, u, changed); !errors.Is(err, errs.ErrImmutable) {
		t.Fatalf("linked expense update should be immutable, got %v", err)
	}
	if _, err := s.UpdateExpense(ctx, uuid.New(), changed); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("foreign expense update should be not found, got %v", err)
	}
	if err := s.DeleteExpense(ctx, u, e.ID); !errors.Is(err, errs.ErrImmutable) {
		t.Fatalf("linked expense delete should be immutable, got %v", err)
	}
	got, err := s.GetExpense(ctx, u, e.ID)
	if err != nil {
		t.Fatalf("get expense: %v", err)
	}
	if ledger.Minor(got.Amount) != 500 {
		t.Fatalf("linked expense amount changed: %d", ledger.Minor(got.Amount))
	}

	renamed := p
	renamed.Name = "Renamed"
	if _, err := s.UpdateProject(ctx, renamed); !errors.Is(err, errs.ErrImmutable) {
		t.Fatalf("linked project update should be immutable, got %v", err)
	}
}

func TestDeleteProjectReportsHoldingSettlement(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := uuid.New()
	s.SeedUser(ledger.User{ID: u})
	d := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	p := seedProject(t, s, u, "A", ledger.ExecutionEnded, &d)
	e, err := s.CreateExpense(ctx, ledger.Expense{ID: uuid.New(), ProjectID: p.ID, Description: "x", Amount: ledger.MustAmount(1), Type: ledger.ExpensePayroll, Date: &d, Status: ledger.ExpenseStatusPending})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	st := linkAll(t, s, p, e)

	affected, err := s.DeleteProject(ctx, u, p.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(affected) != 1 || affected[0] != st.ID {
		t.Fatalf("expected %s once, got %v", st.ID, affected)
	}
}
