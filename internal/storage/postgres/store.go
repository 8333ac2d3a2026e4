// Package postgres provides a pgx-backed storage implementation that satisfies
// the repository and writer interfaces used by the services.
//
// The schema lives in migrations/ and is applied with Migrate. Every write is a
// single statement; settlement links change through conditional updates that
// only match while the row is still in the expected state.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/ledger"
)

// Store holds a pgx connection pool and implements the read/write interfaces
// used across the service layer. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	// lockSlots bounds advisory lock holders to MaxConns-1.
	lockSlots *semaphore.Weighted
}

// minPoolConns leaves at least one connection for work done under a lock.
const minPoolConns = 2

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns < minPoolConns {
		cfg.MaxConns = minPoolConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, lockSlots: semaphore.NewWeighted(int64(cfg.MaxConns) - 1)}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// Postgres error codes mapped onto errs sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// mapErr translates driver errors into errs sentinels. fkErr is returned for
// foreign key violations, whose meaning depends on the statement.
func mapErr(err error, fkErr error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return errs.ErrConflict
		case codeForeignKeyViolation:
			return fkErr
		case codeCheckViolation:
			return errs.ErrInvalid
		}
	}
	return err
}

func amount(minor int64) money.Amount {
	a, _ := ledger.NewAmount(minor)
	return a
}

// dateArg renders an optional instant as a calendar date in UTC.
func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// --- Users ---

// CreateUser inserts a user; an existing id is left untouched.
func (s *Store) CreateUser(ctx context.Context, u ledger.User) (ledger.User, error) {
	_, err := s.pool.Exec(ctx, `
		insert into users (id, email) values ($1, $2)
		on conflict (id) do nothing
	`, u.ID, u.Email)
	if err != nil {
		return ledger.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (ledger.User, error) {
	var u ledger.User
	err := s.pool.QueryRow(ctx, `select id, email from users where id = $1`, userID).Scan(&u.ID, &u.Email)
	if err != nil {
		return ledger.User{}, mapErr(err, errs.ErrNotFound)
	}
	return u, nil
}

// --- Projects ---

const projectColumns = `id, user_id, name, identifier, purchase_order, quoted_value_minor, locality,
	execution_status, payment_status, settlement_id, settlement_date, created_at, updated_at`

func scanProject(row pgx.Row) (ledger.Project, error) {
	var p ledger.Project
	var minor int64
	var exec, pay string
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Identifier, &p.PurchaseOrder, &minor, &p.Locality,
		&exec, &pay, &p.SettlementID, &p.SettlementDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return ledger.Project{}, err
	}
	p.QuotedValue = amount(minor)
	p.ExecutionStatus = ledger.ExecutionStatus(exec)
	p.PaymentStatus = ledger.PaymentStatus(pay)
	p.SettlementDate = utcPtr(p.SettlementDate)
	return p, nil
}

func (s *Store) FindProjects(ctx context.Context, f ledger.ProjectFilter) ([]ledger.Project, error) {
	var status *string
	if f.Status != nil {
		v := string(*f.Status)
		status = &v
	}
	rows, err := s.pool.Query(ctx, `
		select `+projectColumns+`
		from projects
		where user_id = $1
		  and ($2::text is null or execution_status = $2)
		  and ($3::uuid is null or settlement_id = $3)
		  and ($4::date is null or settlement_date >= $4)
		  and ($5::date is null or settlement_date <= $5)
		order by id asc
	`, f.UserID, status, f.SettlementID, dateArg(f.From), dateArg(f.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, userID, projectID uuid.UUID) (ledger.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `
		select `+projectColumns+` from projects where id = $1 and user_id = $2
	`, projectID, userID))
	if err != nil {
		return ledger.Project{}, mapErr(err, errs.ErrNotFound)
	}
	return p, nil
}

func (s *Store) CreateProject(ctx context.Context, p ledger.Project) (ledger.Project, error) {
	created, err := scanProject(s.pool.QueryRow(ctx, `
		insert into projects (id, user_id, name, identifier, purchase_order, quoted_value_minor, currency, locality,
			execution_status, payment_status, settlement_id, settlement_date)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,null,$11)
		returning `+projectColumns,
		p.ID, p.UserID, p.Name, p.Identifier, p.PurchaseOrder, ledger.Minor(p.QuotedValue), ledger.Currency, p.Locality,
		string(p.ExecutionStatus), string(p.PaymentStatus), dateArg(p.SettlementDate)))
	if err != nil {
		return ledger.Project{}, mapErr(err, errs.ErrNotFound)
	}
	return created, nil
}

// UpdateProject persists descriptive and status fields of a project no
// settlement holds. The settlement link is owned by TransitionProject.
func (s *Store) UpdateProject(ctx context.Context, p ledger.Project) (ledger.Project, error) {
	updated, err := scanProject(s.pool.QueryRow(ctx, `
		update projects
		set name=$1, identifier=$2, purchase_order=$3, quoted_value_minor=$4, locality=$5,
			execution_status=$6, payment_status=$7, settlement_date=$8, updated_at=now()
		where id=$9 and user_id=$10
		  and execution_status <> 'in_liquidation' and settlement_id is null
		returning `+projectColumns,
		p.Name, p.Identifier, p.PurchaseOrder, ledger.Minor(p.QuotedValue), p.Locality,
		string(p.ExecutionStatus), string(p.PaymentStatus), dateArg(p.SettlementDate), p.ID, p.UserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Project{}, s.missOr(ctx, errs.ErrImmutable,
			`select exists(select 1 from projects where id=$1 and user_id=$2)`, p.ID, p.UserID)
	}
	if err != nil {
		return ledger.Project{}, mapErr(err, errs.ErrNotFound)
	}
	return updated, nil
}

// DeleteProject removes the project and its expenses in one transaction and
// returns the settlements that held any of them. Rows are deleted, not read,
// so a link made by a concurrent settle is either seen or made to fail.
func (s *Store) DeleteProject(ctx context.Context, userID, projectID uuid.UUID) ([]uuid.UUID, error) {
	var affected []uuid.UUID
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var projectRef *uuid.UUID
		err := tx.QueryRow(ctx, `
			select settlement_id from projects where id=$1 and user_id=$2 for update
		`, projectID, userID).Scan(&projectRef)
		if err != nil {
			return mapErr(err, errs.ErrNotFound)
		}
		rows, err := tx.Query(ctx, `delete from expenses where project_id=$1 returning settlement_id`, projectID)
		if err != nil {
			return err
		}
		refs, err := pgx.CollectRows(rows, pgx.RowTo[*uuid.UUID])
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			delete from projects where id=$1 returning settlement_id
		`, projectID).Scan(&projectRef); err != nil {
			return mapErr(err, errs.ErrConflict)
		}
		affected = distinctRefs(append([]*uuid.UUID{projectRef}, refs...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func distinctRefs(refs []*uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	out := make([]uuid.UUID, 0)
	for _, r := range refs {
		if r != nil && !seen[*r] {
			seen[*r] = true
			out = append(out, *r)
		}
	}
	return out
}

func (s *Store) TransitionProject(ctx context.Context, t ledger.ProjectTransition) error {
	if err := t.To.Validate(); err != nil {
		return errs.ErrInvalid
	}
	ct, err := s.pool.Exec(ctx, `
		update projects
		set execution_status=$1, settlement_id=$2, updated_at=now()
		where id=$3 and user_id=$4
		  and execution_status=$5 and settlement_id is not distinct from $6
	`, string(t.To.Status), t.To.SettlementID, t.ProjectID, t.UserID, string(t.From.Status), t.From.SettlementID)
	if err != nil {
		return mapErr(err, errs.ErrNotFound)
	}
	if ct.RowsAffected() == 0 {
		return s.missOr(ctx, errs.ErrConflict, `select exists(select 1 from projects where id=$1 and user_id=$2)`, t.ProjectID, t.UserID)
	}
	return nil
}

// missOr tells apart a conditional write that found no row from one whose
// precondition failed; the latter is reported as failed.
func (s *Store) missOr(ctx context.Context, failed error, existsSQL string, args ...any) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, existsSQL, args...).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return errs.ErrNotFound
	}
	return failed
}

// --- Expenses ---

const expenseColumns = `e.id, e.project_id, e.description, e.amount_minor, e.type, e.expense_date,
	e.status, e.settlement_id, e.created_at, e.updated_at`

func scanExpense(row pgx.Row) (ledger.Expense, error) {
	var e ledger.Expense
	var minor int64
	var typ, status string
	err := row.Scan(&e.ID, &e.ProjectID, &e.Description, &minor, &typ, &e.Date,
		&status, &e.SettlementID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return ledger.Expense{}, err
	}
	e.Amount = amount(minor)
	e.Type = ledger.ExpenseType(typ)
	e.Status = ledger.ExpenseStatus(status)
	e.Date = utcPtr(e.Date)
	return e, nil
}

// FindExpenses filters on the period date chosen by f.DateSource.
func (s *Store) FindExpenses(ctx context.Context, f ledger.ExpenseFilter) ([]ledger.Expense, error) {
	var status *string
	if f.Status != nil {
		v := string(*f.Status)
		status = &v
	}
	periodDate := "e.expense_date"
	if f.DateSource == ledger.DateFromProjectFallback {
		periodDate = "coalesce(e.expense_date, p.settlement_date)"
	}
	rows, err := s.pool.Query(ctx, `
		select `+expenseColumns+`
		from expenses e
		join projects p on p.id = e.project_id
		where p.user_id = $1
		  and ($2::uuid is null or e.project_id = $2)
		  and ($3::text is null or e.status = $3)
		  and ($4::uuid is null or e.settlement_id = $4)
		  and ($5::date is null or `+periodDate+` >= $5)
		  and ($6::date is null or `+periodDate+` <= $6)
		order by e.id asc
	`, f.UserID, f.ProjectID, status, f.SettlementID, dateArg(f.From), dateArg(f.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetExpense(ctx context.Context, userID, expenseID uuid.UUID) (ledger.Expense, error) {
	e, err := scanExpense(s.pool.QueryRow(ctx, `
		select `+expenseColumns+`
		from expenses e join projects p on p.id = e.project_id
		where e.id = $1 and p.user_id = $2
	`, expenseID, userID))
	if err != nil {
		return ledger.Expense{}, mapErr(err, errs.ErrNotFound)
	}
	return e, nil
}

func (s *Store) CreateExpense(ctx context.Context, e ledger.Expense) (ledger.Expense, error) {
	created, err := scanExpense(s.pool.QueryRow(ctx, `
		insert into expenses as e (id, project_id, description, amount_minor, currency, type, expense_date, status, settlement_id)
		values ($1,$2,$3,$4,$5,$6,$7,$8,null)
		returning `+expenseColumns,
		e.ID, e.ProjectID, e.Description, ledger.Minor(e.Amount), ledger.Currency, string(e.Type), dateArg(e.Date), string(e.Status)))
	if err != nil {
		return ledger.Expense{}, mapErr(err, errs.ErrNotFound)
	}
	return created, nil
}

const ownedExpenseExists = `
	select exists(select 1 from expenses e join projects p on p.id = e.project_id where e.id=$1 and p.user_id=$2)
`

// UpdateExpense persists descriptive fields of a pending, unlinked expense
// owned by userID. Status and link are left alone.
func (s *Store) UpdateExpense(ctx context.Context, userID uuid.UUID, e ledger.Expense) (ledger.Expense, error) {
	updated, err := scanExpense(s.pool.QueryRow(ctx, `
		update expenses as e
		set description=$1, amount_minor=$2, type=$3, expense_date=$4, updated_at=now()
		from projects p
		where e.id=$5 and p.id = e.project_id and p.user_id=$6
		  and e.status='pending' and e.settlement_id is null
		returning `+expenseColumns,
		e.Description, ledger.Minor(e.Amount), string(e.Type), dateArg(e.Date), e.ID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Expense{}, s.missOr(ctx, errs.ErrImmutable, ownedExpenseExists, e.ID, userID)
	}
	if err != nil {
		return ledger.Expense{}, mapErr(err, errs.ErrNotFound)
	}
	return updated, nil
}

// DeleteExpense removes a pending, unlinked expense owned by userID.
func (s *Store) DeleteExpense(ctx context.Context, userID, expenseID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `
		delete from expenses e using projects p
		where e.id = $1 and p.id = e.project_id and p.user_id = $2
		  and e.status='pending' and e.settlement_id is null
	`, expenseID, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.missOr(ctx, errs.ErrImmutable, ownedExpenseExists, expenseID, userID)
	}
	return nil
}

func (s *Store) TransitionExpense(ctx context.Context, t ledger.ExpenseTransition) error {
	if err := t.To.Validate(); err != nil {
		return errs.ErrInvalid
	}
	ct, err := s.pool.Exec(ctx, `
		update expenses e
		set status=$1, settlement_id=$2, updated_at=now()
		from projects p
		where e.id=$3 and p.id = e.project_id and p.user_id=$4
		  and e.status=$5 and e.settlement_id is not distinct from $6
	`, string(t.To.Status), t.To.SettlementID, t.ExpenseID, t.UserID, string(t.From.Status), t.From.SettlementID)
	if err != nil {
		return mapErr(err, errs.ErrNotFound)
	}
	if ct.RowsAffected() == 0 {
		return s.missOr(ctx, errs.ErrConflict, ownedExpenseExists, t.ExpenseID, t.UserID)
	}
	return nil
}

// --- Settlements ---

const settlementColumns = `id, user_id, month, year, total_projects_minor, total_expenses_minor,
	created_by_email, created_at, updated_at`

func scanSettlement(row pgx.Row) (ledger.Settlement, error) {
	var st ledger.Settlement
	var tp, te int64
	if err := row.Scan(&st.ID, &st.UserID, &st.Month, &st.Year, &tp, &te, &st.CreatedByEmail, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return ledger.Settlement{}, err
	}
	st.TotalProjects, st.TotalExpenses = amount(tp), amount(te)
	return st, nil
}

func (s *Store) FindSettlement(ctx context.Context, userID uuid.UUID, p ledger.Period) (ledger.Settlement, bool, error) {
	st, err := scanSettlement(s.pool.QueryRow(ctx, `
		select `+settlementColumns+` from settlements where user_id=$1 and month=$2 and year=$3
	`, userID, p.Month, p.Year))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Settlement{}, false, nil
	}
	if err != nil {
		return ledger.Settlement{}, false, err
	}
	return st, true, nil
}

func (s *Store) SettlementByID(ctx context.Context, id uuid.UUID) (ledger.Settlement, error) {
	st, err := scanSettlement(s.pool.QueryRow(ctx, `select `+settlementColumns+` from settlements where id=$1`, id))
	if err != nil {
		return ledger.Settlement{}, mapErr(err, errs.ErrNotFound)
	}
	return st, nil
}

// ListSettlements returns the user's settlements, newest period first.
func (s *Store) ListSettlements(ctx context.Context, userID uuid.UUID) ([]ledger.Settlement, error) {
	rows, err := s.pool.Query(ctx, `
		select `+settlementColumns+` from settlements
		where user_id=$1
		order by year desc, month desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Settlement, 0)
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) CreateSettlement(ctx context.Context, st ledger.Settlement) (ledger.Settlement, error) {
	if err := st.Period().Validate(); err != nil {
		return ledger.Settlement{}, err
	}
	created, err := scanSettlement(s.pool.QueryRow(ctx, `
		insert into settlements (id, user_id, month, year, total_projects_minor, total_expenses_minor, currency, created_by_email)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		returning `+settlementColumns,
		st.ID, st.UserID, st.Month, st.Year, ledger.Minor(st.TotalProjects), ledger.Minor(st.TotalExpenses), ledger.Currency, st.CreatedByEmail))
	if err != nil {
		return ledger.Settlement{}, mapErr(err, errs.ErrNotFound)
	}
	return created, nil
}

// UpdateSettlementTotals overwrites the two totals only.
func (s *Store) UpdateSettlementTotals(ctx context.Context, st ledger.Settlement) (ledger.Settlement, error) {
	updated, err := scanSettlement(s.pool.QueryRow(ctx, `
		update settlements
		set total_projects_minor=$1, total_expenses_minor=$2, updated_at=now()
		where id=$3 and user_id=$4
		returning `+settlementColumns,
		ledger.Minor(st.TotalProjects), ledger.Minor(st.TotalExpenses), st.ID, st.UserID))
	if err != nil {
		return ledger.Settlement{}, mapErr(err, errs.ErrNotFound)
	}
	return updated, nil
}

// DeleteSettlement fails with errs.ErrConflict while records still reference the settlement.
func (s *Store) DeleteSettlement(ctx context.Context, userID, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `delete from settlements where id=$1 and user_id=$2`, id, userID)
	if err != nil {
		return mapErr(err, errs.ErrConflict)
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
