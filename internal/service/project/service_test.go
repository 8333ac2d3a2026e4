package project_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/ledger"
	"github.com/tinoosan/settlements/internal/service/project"
	"github.com/tinoosan/settlements/internal/service/settlement"
	"github.com/tinoosan/settlements/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, uuid.UUID, project.Service, settlement.Service) {
	t.Helper()
	st := memory.New()
	u := uuid.New()
	st.SeedUser(ledger.User{ID: u})
	settlements := settlement.New(st, st, settlement.Options{})
	clock := func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return st, u, project.New(st, st, project.Options{Clock: clock, Settlements: settlements}), settlements
}

func draft(u uuid.UUID) ledger.Project {
	return ledger.Project{
		UserID:        u,
		Name:          "Tower lighting",
		PurchaseOrder: "OC-2024-19",
		QuotedValue:   ledger.MustAmount(50_000_000),
		Locality:      "Cali",
	}
}

func TestCreateGeneratesSequentialIdentifiers(t *testing.T) {
	_, u, svc, _ := setup(t)
	a, err := svc.Create(context.Background(), draft(u))
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), draft(u))
	require.NoError(t, err)
	assert.Equal(t, "PROY-2024-001", a.Identifier)
	assert.Equal(t, "PROY-2024-002", b.Identifier)
	assert.Equal(t, ledger.ExecutionPending, a.ExecutionStatus)
	assert.Equal(t, ledger.PaymentPending, a.PaymentStatus)
}

func TestCreateRejectsDuplicateIdentifierAnyCase(t *testing.T) {
	_, u, svc, _ := setup(t)
	p := draft(u)
	p.Identifier = "obra-norte"
	_, err := svc.Create(context.Background(), p)
	require.NoError(t, err)
	p.Identifier = "OBRA-NORTE"
	_, err = svc.Create(context.Background(), p)
	require.ErrorIs(t, err, project.ErrIdentifierExists)
}

func TestCreateValidation(t *testing.T) {
	_, u, svc, _ := setup(t)
	cases := map[string]func(*ledger.Project){
		"no name":         func(p *ledger.Project) { p.Name = " " },
		"no order":        func(p *ledger.Project) { p.PurchaseOrder = "" },
		"no locality":     func(p *ledger.Project) { p.Locality = "" },
		"negative value":  func(p *ledger.Project) { p.QuotedValue = ledger.MustAmount(-1) },
		"ended no date":   func(p *ledger.Project) { p.ExecutionStatus = ledger.ExecutionEnded },
		"reserved status": func(p *ledger.Project) { p.ExecutionStatus = ledger.ExecutionInLiquidation },
	}
	for name, mutate := range cases {
		p := draft(u)
		mutate(&p)
		_, err := svc.Create(context.Background(), p)
		assert.ErrorIs(t, err, errs.ErrInvalid, name)
	}
}

func TestUpdateStatusRules(t *testing.T) {
	_, u, svc, _ := setup(t)
	p, err := svc.Create(context.Background(), draft(u))
	require.NoError(t, err)

	ended := ledger.ExecutionEnded
	_, err = svc.UpdateStatus(context.Background(), u, p.ID, project.StatusChange{Execution: &ended})
	require.ErrorIs(t, err, errs.ErrInvalid)

	d := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	got, err := svc.UpdateStatus(context.Background(), u, p.ID, project.StatusChange{Execution: &ended, SettlementDate: &d})
	require.NoError(t, err)
	assert.Equal(t, ledger.ExecutionEnded, got.ExecutionStatus)

	reserved := ledger.ExecutionInLiquidation
	_, err = svc.UpdateStatus(context.Background(), u, p.ID, project.StatusChange{Execution: &reserved})
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestLiquidatedProjectIsImmutable(t *testing.T) {
	_, u, svc, settlements := setup(t)
	p := draft(u)
	p.ExecutionStatus = ledger.ExecutionEnded
	d := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	p.SettlementDate = &d
	created, err := svc.Create(context.Background(), p)
	require.NoError(t, err)
	_, err = settlements.Settle(context.Background(), u, 3, 2024)
	require.NoError(t, err)

	running := ledger.ExecutionRunning
	_, err = svc.UpdateStatus(context.Background(), u, created.ID, project.StatusChange{Execution: &running})
	require.ErrorIs(t, err, errs.ErrImmutable)
	created.Name = "Renamed"
	_, err = svc.Update(context.Background(), created)
	require.ErrorIs(t, err, errs.ErrImmutable)
}

func TestDeleteRecomputesLinkedSettlement(t *testing.T) {
	st, u, svc, settlements := setup(t)
	d := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for _, minor := range []int64{100, 250} {
		p := draft(u)
		p.QuotedValue = ledger.MustAmount(minor)
		p.ExecutionStatus = ledger.ExecutionEnded
		p.SettlementDate = &d
		created, err := svc.Create(context.Background(), p)
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}
	out, err := settlements.Settle(context.Background(), u, 3, 2024)
	require.NoError(t, err)
	assert.Equal(t, int64(350), ledger.Minor(out.Settlement.TotalProjects))

	require.NoError(t, svc.Delete(context.Background(), u, ids[1]))

	s, err := st.SettlementByID(context.Background(), out.Settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ledger.Minor(s.TotalProjects))
	_, err = svc.Get(context.Background(), u, ids[1])
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetScopedToOwner(t *testing.T) {
	_, u, svc, _ := setup(t)
	p, err := svc.Create(context.Background(), draft(u))
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), uuid.New(), p.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	list, err := svc.List(context.Background(), u)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// settleAfterRead runs settle once, right after the service has loaded the project.
type settleAfterRead struct {
	*memory.Store
	settle func()
	once   sync.Once
}

func (r *settleAfterRead) GetProject(ctx context.Context, userID, projectID uuid.UUID) (ledger.Project, error) {
	p, err := r.Store.GetProject(ctx, userID, projectID)
	r.once.Do(r.settle)
	return p, err
}

// settleBeforeDelete runs settle once, right before the project is deleted.
type settleBeforeDelete struct {
	*memory.Store
	settle func()
}

func (w settleBeforeDelete) DeleteProject(ctx context.Context, userID, projectID uuid.UUID) ([]uuid.UUID, error) {
	w.settle()
	return w.Store.DeleteProject(ctx, userID, projectID)
}

func endedInMarch(u uuid.UUID, minor int64) ledger.Project {
	p := draft(u)
	p.QuotedValue = ledger.MustAmount(minor)
	p.ExecutionStatus = ledger.ExecutionEnded
	d := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	p.SettlementDate = &d
	return p
}

func TestUpdateRacingASettleIsImmutable(t *testing.T) {
	st, u, svc, settlements := setup(t)
	created, err := svc.Create(context.Background(), endedInMarch(u, 100))
	require.NoError(t, err)

	repo := &settleAfterRead{Store: st, settle: func() {
		_, err := settlements.Settle(context.Background(), u, 3, 2024)
		require.NoError(t, err)
	}}
	racing := project.New(repo, st, project.Options{Settlements: settlements})

	created.Name = "Renamed"
	_, err = racing.Update(context.Background(), created)
	require.ErrorIs(t, err, errs.ErrImmutable)

	got, err := svc.Get(context.Background(), u, created.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ExecutionInLiquidation, got.ExecutionStatus)
	assert.Equal(t, "Tower lighting", got.Name)
}

func TestDeleteRecomputesSettlementLinkedJustBefore(t *testing.T) {
	st, u, svc, settlements := setup(t)
	kept, err := svc.Create(context.Background(), endedInMarch(u, 100))
	require.NoError(t, err)
	doomed, err := svc.Create(context.Background(), endedInMarch(u, 250))
	require.NoError(t, err)

	var out settlement.Outcome
	writer := settleBeforeDelete{Store: st, settle: func() {
		out, err = settlements.Settle(context.Background(), u, 3, 2024)
		require.NoError(t, err)
	}}
	racing := project.New(st, writer, project.Options{Settlements: settlements})

	require.NoError(t, racing.Delete(context.Background(), u, doomed.ID))
	assert.Equal(t, int64(350), ledger.Minor(out.Settlement.TotalProjects))

	s, err := st.SettlementByID(context.Background(), out.Settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ledger.Minor(s.TotalProjects))
	got, err := svc.Get(context.Background(), u, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Settlement.ID, *got.SettlementID)
}
