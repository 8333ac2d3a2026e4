// Package memory provides an in-memory store used for development and tests.
// It enforces the same uniqueness and conditional-update rules as the postgres store.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/identifier"
	"github.com/tinoosan/settlements/internal/ledger"
)

// periodKey indexes settlements: one per (user, month, year).
type periodKey struct {
	UserID uuid.UUID
	Period ledger.Period
}

// Store is an in-memory implementation of the repositories and writers used by the services.
// It is guarded by an RWMutex for concurrent reads/writes.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	users       map[uuid.UUID]ledger.User
	projects    map[uuid.UUID]ledger.Project
	expenses    map[uuid.UUID]ledger.Expense
	settlements map[uuid.UUID]ledger.Settlement
	byPeriod    map[periodKey]uuid.UUID
}

// New constructs an empty in-memory store.
func New() *Store {
	s := &Store{now: time.Now}
	s.Reset()
	return s
}

// SetClock replaces the timestamp source for created/updated fields.
func (s *Store) SetClock(now func() time.Time) { s.mu.Lock(); s.now = now; s.mu.Unlock() }

// Seed helpers for local dev/tests.
func (s *Store) SeedUser(u ledger.User) { s.mu.Lock(); s.users[u.ID] = u; s.mu.Unlock() }

// CreateUser registers a user; an existing id is left untouched.
func (s *Store) CreateUser(_ context.Context, u ledger.User) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		return existing, nil
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.users = map[uuid.UUID]ledger.User{}
	s.projects = map[uuid.UUID]ledger.Project{}
	s.expenses = map[uuid.UUID]ledger.Expense{}
	s.settlements = map[uuid.UUID]ledger.Settlement{}
	s.byPeriod = map[periodKey]uuid.UUID{}
	s.mu.Unlock()
}

// Ready always succeeds; it mirrors the postgres store for health checks.
func (s *Store) Ready(context.Context) error { return nil }

func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return ledger.User{}, errs.ErrNotFound
	}
	return u, nil
}

// ---- projects ----

func (s *Store) FindProjects(_ context.Context, f ledger.ProjectFilter) ([]ledger.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Project, 0)
	for _, p := range s.projects {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) GetProject(_ context.Context, userID, projectID uuid.UUID) (ledger.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok || p.UserID != userID {
		return ledger.Project{}, errs.ErrNotFound
	}
	return p, nil
}

func (s *Store) CreateProject(_ context.Context, p ledger.Project) (ledger.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.UserID]; !ok {
		return ledger.Project{}, errs.ErrNotFound
	}
	if _, ok := s.projects[p.ID]; ok {
		return ledger.Project{}, errs.ErrConflict
	}
	if s.identifierTakenLocked(p) {
		return ledger.Project{}, errs.ErrConflict
	}
	if err := p.State().Validate(); err != nil {
		return ledger.Project{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.projects[p.ID] = p
	return p, nil
}

// UpdateProject persists descriptive and status changes of a project no
// settlement holds. The settlement link is owned by TransitionProject.
func (s *Store) UpdateProject(_ context.Context, p ledger.Project) (ledger.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.projects[p.ID]
	if !ok || current.UserID != p.UserID {
		return ledger.Project{}, errs.ErrNotFound
	}
	if !current.Editable() || current.SettlementID != nil {
		return ledger.Project{}, errs.ErrImmutable
	}
	if s.identifierTakenLocked(p) {
		return ledger.Project{}, errs.ErrConflict
	}
	p.SettlementID = current.SettlementID
	if err := p.State().Validate(); err != nil {
		return ledger.Project{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now().UTC()
	s.projects[p.ID] = p
	return p, nil
}

// DeleteProject removes the project and its expenses and returns the
// settlements that held any of them.
func (s *Store) DeleteProject(_ context.Context, userID, projectID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, errs.ErrNotFound
	}
	affected := make([]uuid.UUID, 0)
	seen := make(map[uuid.UUID]bool)
	mark := func(ref *uuid.UUID) {
		if ref != nil && !seen[*ref] {
			seen[*ref] = true
			affected = append(affected, *ref)
		}
	}
	mark(p.SettlementID)
	for id, e := range s.expenses {
		if e.ProjectID == projectID {
			mark(e.SettlementID)
			delete(s.expenses, id)
		}
	}
	delete(s.projects, projectID)
	return affected, nil
}

func (s *Store) TransitionProject(_ context.Context, t ledger.ProjectTransition) error {
	if err := t.To.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[t.ProjectID]
	if !ok || p.UserID != t.UserID {
		return errs.ErrNotFound
	}
	if !p.State().Equal(t.From) {
		return errs.ErrConflict
	}
	if t.To.SettlementID != nil {
		if _, ok := s.settlements[*t.To.SettlementID]; !ok {
			return errs.ErrNotFound
		}
	}
	p.ExecutionStatus = t.To.Status
	p.SettlementID = t.To.SettlementID
	p.UpdatedAt = s.now().UTC()
	s.projects[p.ID] = p
	return nil
}

func (s *Store) identifierTakenLocked(p ledger.Project) bool {
	for _, other := range s.projects {
		if other.ID != p.ID && other.UserID == p.UserID && identifier.Equal(other.Identifier, p.Identifier) {
			return true
		}
	}
	return false
}

// ---- expenses ----

func (s *Store) FindExpenses(_ context.Context, f ledger.ExpenseFilter) ([]ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Expense, 0)
	for _, e := range s.expenses {
		p, ok := s.projects[e.ProjectID]
		if ok && f.Match(e, p) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, userID, expenseID uuid.UUID) (ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ownedExpenseLocked(userID, expenseID)
	if !ok {
		return ledger.Expense{}, errs.ErrNotFound
	}
	return e, nil
}

func (s *Store) CreateExpense(_ context.Context, e ledger.Expense) (ledger.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[e.ProjectID]; !ok {
		return ledger.Expense{}, errs.ErrNotFound
	}
	if _, ok := s.expenses[e.ID]; ok {
		return ledger.Expense{}, errs.ErrConflict
	}
	if err := e.State().Validate(); err != nil {
		return ledger.Expense{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	s.expenses[e.ID] = e
	return e, nil
}

// UpdateExpense persists descriptive changes of a pending, unlinked expense
// owned by userID; status and link are kept.
func (s *Store) UpdateExpense(_ context.Context, userID uuid.UUID, e ledger.Expense) (ledger.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.ownedExpenseLocked(userID, e.ID)
	if !ok {
		return ledger.Expense{}, errs.ErrNotFound
	}
	if !unlinkedPending(current) {
		return ledger.Expense{}, errs.ErrImmutable
	}
	e.ProjectID = current.ProjectID
	e.Status = current.Status
	e.SettlementID = current.SettlementID
	e.CreatedAt = current.CreatedAt
	e.UpdatedAt = s.now().UTC()
	s.expenses[e.ID] = e
	return e, nil
}

// DeleteExpense removes a pending, unlinked expense owned by userID.
func (s *Store) DeleteExpense(_ context.Context, userID, expenseID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.ownedExpenseLocked(userID, expenseID)
	if !ok {
		return errs.ErrNotFound
	}
	if !unlinkedPending(current) {
		return errs.ErrImmutable
	}
	delete(s.expenses, expenseID)
	return nil
}

func unlinkedPending(e ledger.Expense) bool { return e.Editable() && e.SettlementID == nil }

func (s *Store) TransitionExpense(_ context.Context, t ledger.ExpenseTransition) error {
	if err := t.To.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ownedExpenseLocked(t.UserID, t.ExpenseID)
	if !ok {
		return errs.ErrNotFound
	}
	if !e.State().Equal(t.From) {
		return errs.ErrConflict
	}
	if t.To.SettlementID != nil {
		if _, ok := s.settlements[*t.To.SettlementID]; !ok {
			return errs.ErrNotFound
		}
	}
	e.Status = t.To.Status
	e.SettlementID = t.To.SettlementID
	e.UpdatedAt = s.now().UTC()
	s.expenses[e.ID] = e
	return nil
}

// ownedExpenseLocked resolves an expense whose project belongs to userID. Caller must hold s.mu.
func (s *Store) ownedExpenseLocked(userID, expenseID uuid.UUID) (ledger.Expense, bool) {
	e, ok := s.expenses[expenseID]
	if !ok {
		return ledger.Expense{}, false
	}
	p, ok := s.projects[e.ProjectID]
	if !ok || p.UserID != userID {
		return ledger.Expense{}, false
	}
	return e, true
}

// ---- settlements ----

func (s *Store) FindSettlement(_ context.Context, userID uuid.UUID, p ledger.Period) (ledger.Settlement, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPeriod[periodKey{UserID: userID, Period: p}]
	if !ok {
		return ledger.Settlement{}, false, nil
	}
	return s.settlements[id], true, nil
}

func (s *Store) SettlementByID(_ context.Context, id uuid.UUID) (ledger.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[id]
	if !ok {
		return ledger.Settlement{}, errs.ErrNotFound
	}
	return st, nil
}

// ListSettlements returns the user's settlements, newest period first.
func (s *Store) ListSettlements(_ context.Context, userID uuid.UUID) ([]ledger.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Settlement, 0)
	for _, st := range s.settlements {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Period().Before(out[i].Period()) })
	return out, nil
}

func (s *Store) CreateSettlement(_ context.Context, st ledger.Settlement) (ledger.Settlement, error) {
	if err := st.Period().Validate(); err != nil {
		return ledger.Settlement{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[st.UserID]; !ok {
		return ledger.Settlement{}, errs.ErrNotFound
	}
	key := periodKey{UserID: st.UserID, Period: st.Period()}
	if _, ok := s.byPeriod[key]; ok {
		return ledger.Settlement{}, errs.ErrConflict
	}
	if _, ok := s.settlements[st.ID]; ok {
		return ledger.Settlement{}, errs.ErrConflict
	}
	now := s.now().UTC()
	st.CreatedAt, st.UpdatedAt = now, now
	s.settlements[st.ID] = st
	s.byPeriod[key] = st.ID
	return st, nil
}

// UpdateSettlementTotals overwrites the two totals only.
func (s *Store) UpdateSettlementTotals(_ context.Context, st ledger.Settlement) (ledger.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.settlements[st.ID]
	if !ok || current.UserID != st.UserID {
		return ledger.Settlement{}, errs.ErrNotFound
	}
	current.TotalProjects = st.TotalProjects
	current.TotalExpenses = st.TotalExpenses
	current.UpdatedAt = s.now().UTC()
	s.settlements[st.ID] = current
	return current, nil
}

// DeleteSettlement refuses while any project or expense still references the settlement.
func (s *Store) DeleteSettlement(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[id]
	if !ok || st.UserID != userID {
		return errs.ErrNotFound
	}
	for _, p := range s.projects {
		if p.SettlementID != nil && *p.SettlementID == id {
			return errs.ErrConflict
		}
	}
	for _, e := range s.expenses {
		if e.SettlementID != nil && *e.SettlementID == id {
			return errs.ErrConflict
		}
	}
	delete(s.settlements, id)
	delete(s.byPeriod, periodKey{UserID: st.UserID, Period: st.Period()})
	return nil
}

func less(a, b uuid.UUID) bool { return bytes.Compare(a[:], b[:]) < 0 }
