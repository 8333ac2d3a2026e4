package settlement

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/ledger"
)

// Preview is the preliquidation view of a period: what Settle would link now.
type Preview struct {
	Period        ledger.Period
	Projects      []ledger.Project
	Expenses      []ledger.Expense
	TotalProjects money.Amount
	TotalExpenses money.Amount
	Difference    money.Amount
}

// AvailablePeriod is a month with pending work and no settlement yet.
type AvailablePeriod struct {
	Period   ledger.Period
	Projects int
	Expenses int
}

func (s *service) Preview(ctx context.Context, userID uuid.UUID, p ledger.Period) (Preview, error) {
	if userID == uuid.Nil {
		return Preview{}, errs.ErrInvalid
	}
	if err := p.Validate(); err != nil {
		return Preview{}, err
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return Preview{}, err
	}
	projects, expenses, err := s.eligible(ctx, userID, p)
	if err != nil {
		return Preview{}, err
	}
	out := Preview{Period: p, Projects: projects, Expenses: expenses}
	if out.TotalProjects, err = ledger.Sum(ledger.ProjectValues(projects)...); err != nil {
		return Preview{}, err
	}
	if out.TotalExpenses, err = ledger.Sum(ledger.ExpenseAmounts(expenses)...); err != nil {
		return Preview{}, err
	}
	if out.Difference, err = out.TotalProjects.Sub(out.TotalExpenses); err != nil {
		return Preview{}, err
	}
	return out, nil
}

// PreviewCurrent previews the month the service clock is in.
func (s *service) PreviewCurrent(ctx context.Context, userID uuid.UUID) (Preview, error) {
	return s.Preview(ctx, userID, ledger.PeriodOf(s.now()))
}

// AvailablePeriods lists months holding ended projects or pending dated
// expenses that have no settlement yet, newest first.
func (s *service) AvailablePeriods(ctx context.Context, userID uuid.UUID) ([]AvailablePeriod, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	pending := ledger.ExpenseStatusPending
	var (
		projects    []ledger.Project
		expenses    []ledger.Expense
		settlements []ledger.Settlement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		projects, err = s.repo.FindProjects(gctx, ledger.ProjectFilter{UserID: userID})
		return err
	})
	g.Go(func() (err error) {
		expenses, err = s.repo.FindExpenses(gctx, ledger.ExpenseFilter{UserID: userID, Status: &pending, DateSource: s.dateSource})
		return err
	})
	g.Go(func() (err error) {
		settlements, err = s.repo.ListSettlements(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	settled := make(map[ledger.Period]bool, len(settlements))
	for _, st := range settlements {
		settled[st.Period()] = true
	}
	byID := indexProjects(projects)
	counts := make(map[ledger.Period]*AvailablePeriod)
	bump := func(p ledger.Period) *AvailablePeriod {
		ap, ok := counts[p]
		if !ok {
			ap = &AvailablePeriod{Period: p}
			counts[p] = ap
		}
		return ap
	}
	for _, p := range projects {
		if p.ExecutionStatus != ledger.ExecutionEnded || p.SettlementDate == nil || p.SettlementID != nil {
			continue
		}
		bump(ledger.PeriodOf(*p.SettlementDate)).Projects++
	}
	for _, e := range expenses {
		if e.SettlementID != nil {
			continue
		}
		var owner *ledger.Project
		if p, ok := byID[e.ProjectID]; ok {
			owner = &p
		}
		d := ledger.ExpensePeriodDate(e, owner, s.dateSource)
		if d == nil {
			continue
		}
		bump(ledger.PeriodOf(*d)).Expenses++
	}

	out := make([]AvailablePeriod, 0, len(counts))
	for p, ap := range counts {
		if settled[p] {
			continue
		}
		out = append(out, *ap)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Period.Before(out[i].Period) })
	return out, nil
}

// eligible loads the projects and expenses Settle would link for period,
// ordered by ascending id. Store results are re-checked with the predicates.
func (s *service) eligible(ctx context.Context, userID uuid.UUID, period ledger.Period) ([]ledger.Project, []ledger.Expense, error) {
	ended := ledger.ExecutionEnded
	pending := ledger.ExpenseStatusPending
	var (
		inPeriod []ledger.Project
		owners   []ledger.Project
		expenses []ledger.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		inPeriod, err = s.repo.FindProjects(gctx, ledger.ProjectFilter{UserID: userID, Status: &ended}.InPeriod(period))
		return err
	})
	g.Go(func() (err error) {
		expenses, err = s.repo.FindExpenses(gctx, ledger.ExpenseFilter{UserID: userID, Status: &pending, DateSource: s.dateSource}.InPeriod(period))
		return err
	})
	if s.dateSource == ledger.DateFromProjectFallback {
		g.Go(func() (err error) {
			owners, err = s.repo.FindProjects(gctx, ledger.ProjectFilter{UserID: userID})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	projects := make([]ledger.Project, 0, len(inPeriod))
	for _, p := range inPeriod {
		if ledger.IsProjectEligible(p, period) {
			projects = append(projects, p)
		}
	}
	byID := indexProjects(owners)
	out := make([]ledger.Expense, 0, len(expenses))
	for _, e := range expenses {
		var owner *ledger.Project
		if p, ok := byID[e.ProjectID]; ok {
			owner = &p
		}
		if ledger.IsExpenseEligible(e, owner, period, s.dateSource) {
			out = append(out, e)
		}
	}
	sort.Slice(projects, func(i, j int) bool { return bytes.Compare(projects[i].ID[:], projects[j].ID[:]) < 0 })
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return projects, out, nil
}

func indexProjects(ps []ledger.Project) map[uuid.UUID]ledger.Project {
	m := make(map[uuid.UUID]ledger.Project, len(ps))
	for _, p := range ps {
		m[p.ID] = p
	}
	return m
}
