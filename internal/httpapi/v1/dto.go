package v1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/settlements/internal/ledger"
	"github.com/tinoosan/settlements/internal/service/settlement"
)

// user_id travels as a string so malformed ids get a precise 400.
type postSettlementRequest struct {
	UserID string `json:"user_id"`
	Month  int    `json:"month"`
	Year   int    `json:"year"`
}

type settleCommand struct {
	UserID uuid.UUID
	Month  int
	Year   int
}

type previewQuery struct {
	UserID uuid.UUID
	// Period is nil for the current month.
	Period *ledger.Period
}

type settlementResponse struct {
	ID                 uuid.UUID `json:"id"`
	UserID             uuid.UUID `json:"user_id"`
	Month              int       `json:"month"`
	Year               int       `json:"year"`
	Period             string    `json:"period"`
	Currency           string    `json:"currency"`
	TotalProjectsMinor int64     `json:"total_projects_minor"`
	TotalExpensesMinor int64     `json:"total_expenses_minor"`
	DifferenceMinor    int64     `json:"difference_minor"`
	TotalProjects      string    `json:"total_projects"`
	TotalExpenses      string    `json:"total_expenses"`
	Difference         string    `json:"difference"`
	CreatedByEmail     string    `json:"created_by_email,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type settleResponse struct {
	Settlement    settlementResponse `json:"settlement"`
	ProjectsCount int                `json:"projects_count"`
	ExpensesCount int                `json:"expenses_count"`
	Created       bool               `json:"created"`
	// Warning is set when links were committed but totals could not be written.
	Warning *warningResponse `json:"warning,omitempty"`
}

type warningResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type settlementDetailResponse struct {
	Settlement settlementResponse `json:"settlement"`
	Projects   []projectResponse  `json:"projects"`
	Expenses   []expenseResponse  `json:"expenses"`
}

type listSettlementsResponse struct {
	Items []settlementResponse `json:"items"`
}

type previewResponse struct {
	Month              int               `json:"month"`
	Year               int               `json:"year"`
	Period             string            `json:"period"`
	Currency           string            `json:"currency"`
	Projects           []projectResponse `json:"projects"`
	Expenses           []expenseResponse `json:"expenses"`
	TotalProjectsMinor int64             `json:"total_projects_minor"`
	TotalExpensesMinor int64             `json:"total_expenses_minor"`
	DifferenceMinor    int64             `json:"difference_minor"`
}

type availablePeriodResponse struct {
	Month         int    `json:"month"`
	Year          int    `json:"year"`
	Period        string `json:"period"`
	ProjectsCount int    `json:"projects_count"`
	ExpensesCount int    `json:"expenses_count"`
}

type listAvailablePeriodsResponse struct {
	Items []availablePeriodResponse `json:"items"`
}

type postProjectRequest struct {
	UserID           string                  `json:"user_id"`
	Name             string                  `json:"name"`
	Identifier       string                  `json:"identifier,omitempty"`
	PurchaseOrder    string                  `json:"purchase_order"`
	QuotedValueMinor int64                   `json:"quoted_value_minor"`
	Locality         string                  `json:"locality"`
	ExecutionStatus  *ledger.ExecutionStatus `json:"execution_status,omitempty"`
	PaymentStatus    *ledger.PaymentStatus   `json:"payment_status,omitempty"`
	SettlementDate   *string                 `json:"settlement_date,omitempty"`
}

type patchProjectRequest struct {
	Name             *string `json:"name"`
	Identifier       *string `json:"identifier"`
	PurchaseOrder    *string `json:"purchase_order"`
	QuotedValueMinor *int64  `json:"quoted_value_minor"`
	Locality         *string `json:"locality"`
}

type patchProjectStatusRequest struct {
	ExecutionStatus *ledger.ExecutionStatus `json:"execution_status"`
	PaymentStatus   *ledger.PaymentStatus   `json:"payment_status"`
	SettlementDate  *string                 `json:"settlement_date"`
}

type projectResponse struct {
	ID               uuid.UUID              `json:"id"`
	UserID           uuid.UUID              `json:"user_id"`
	Name             string                 `json:"name"`
	Identifier       string                 `json:"identifier"`
	PurchaseOrder    string                 `json:"purchase_order"`
	QuotedValueMinor int64                  `json:"quoted_value_minor"`
	QuotedValue      string                 `json:"quoted_value"`
	Currency         string                 `json:"currency"`
	Locality         string                 `json:"locality"`
	ExecutionStatus  ledger.ExecutionStatus `json:"execution_status"`
	PaymentStatus    ledger.PaymentStatus   `json:"payment_status"`
	SettlementID     *uuid.UUID             `json:"settlement_id,omitempty"`
	SettlementDate   *string                `json:"settlement_date,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type listProjectsResponse struct {
	Items []projectResponse `json:"items"`
}

type postExpenseRequest struct {
	Description string             `json:"description"`
	AmountMinor int64              `json:"amount_minor"`
	Type        ledger.ExpenseType `json:"type,omitempty"`
	Date        *string            `json:"date,omitempty"`
}

type patchExpenseRequest struct {
	Description *string             `json:"description"`
	AmountMinor *int64              `json:"amount_minor"`
	Type        *ledger.ExpenseType `json:"type"`
	Date        *string             `json:"date"`
}

type expenseResponse struct {
	ID           uuid.UUID            `json:"id"`
	ProjectID    uuid.UUID            `json:"project_id"`
	Description  string               `json:"description"`
	AmountMinor  int64                `json:"amount_minor"`
	Amount       string               `json:"amount"`
	Currency     string               `json:"currency"`
	Type         ledger.ExpenseType   `json:"type"`
	Date         *string              `json:"date,omitempty"`
	Status       ledger.ExpenseStatus `json:"status"`
	SettlementID *uuid.UUID           `json:"settlement_id,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

type listExpensesResponse struct {
	Items []expenseResponse `json:"items"`
}

func amountString(a money.Amount) string { return a.Decimal().String() }

func toSettlementResponse(st ledger.Settlement) settlementResponse {
	diff, err := st.Difference()
	if err != nil {
		diff = ledger.Zero()
	}
	return settlementResponse{
		ID:                 st.ID,
		UserID:             st.UserID,
		Month:              st.Month,
		Year:               st.Year,
		Period:             st.Period().String(),
		Currency:           ledger.Currency,
		TotalProjectsMinor: ledger.Minor(st.TotalProjects),
		TotalExpensesMinor: ledger.Minor(st.TotalExpenses),
		DifferenceMinor:    ledger.Minor(diff),
		TotalProjects:      amountString(st.TotalProjects),
		TotalExpenses:      amountString(st.TotalExpenses),
		Difference:         amountString(diff),
		CreatedByEmail:     st.CreatedByEmail,
		CreatedAt:          st.CreatedAt,
		UpdatedAt:          st.UpdatedAt,
	}
}

func toSettlementList(sts []ledger.Settlement) listSettlementsResponse {
	out := listSettlementsResponse{Items: make([]settlementResponse, 0, len(sts))}
	for _, st := range sts {
		out.Items = append(out.Items, toSettlementResponse(st))
	}
	return out
}

func toSettleResponse(out settlement.Outcome) settleResponse {
	return settleResponse{
		Settlement:    toSettlementResponse(out.Settlement),
		ProjectsCount: out.ProjectsCount,
		ExpensesCount: out.ExpensesCount,
		Created:       out.CreatedNew,
	}
}

func toDetailResponse(d settlement.Detail) settlementDetailResponse {
	return settlementDetailResponse{
		Settlement: toSettlementResponse(d.Settlement),
		Projects:   toProjectResponses(d.Projects),
		Expenses:   toExpenseResponses(d.Expenses),
	}
}

func toPreviewResponse(p settlement.Preview) previewResponse {
	return previewResponse{
		Month:              p.Period.Month,
		Year:               p.Period.Year,
		Period:             p.Period.String(),
		Currency:           ledger.Currency,
		Projects:           toProjectResponses(p.Projects),
		Expenses:           toExpenseResponses(p.Expenses),
		TotalProjectsMinor: ledger.Minor(p.TotalProjects),
		TotalExpensesMinor: ledger.Minor(p.TotalExpenses),
		DifferenceMinor:    ledger.Minor(p.Difference),
	}
}

func toAvailablePeriods(ps []settlement.AvailablePeriod) listAvailablePeriodsResponse {
	out := listAvailablePeriodsResponse{Items: make([]availablePeriodResponse, 0, len(ps))}
	for _, p := range ps {
		out.Items = append(out.Items, availablePeriodResponse{
			Month:         p.Period.Month,
			Year:          p.Period.Year,
			Period:        p.Period.String(),
			ProjectsCount: p.Projects,
			ExpensesCount: p.Expenses,
		})
	}
	return out
}

func toProjectDomain(userID uuid.UUID, req postProjectRequest) (ledger.Project, error) {
	value, err := ledger.NewAmount(req.QuotedValueMinor)
	if err != nil {
		return ledger.Project{}, fmt.Errorf("invalid quoted_value_minor: %w", err)
	}
	date, err := parseDate(req.SettlementDate)
	if err != nil {
		return ledger.Project{}, fmt.Errorf("invalid settlement_date: %w", err)
	}
	p := ledger.Project{
		UserID:         userID,
		Name:           req.Name,
		Identifier:     req.Identifier,
		PurchaseOrder:  req.PurchaseOrder,
		QuotedValue:    value,
		Locality:       req.Locality,
		SettlementDate: date,
	}
	if req.ExecutionStatus != nil {
		p.ExecutionStatus = *req.ExecutionStatus
	}
	if req.PaymentStatus != nil {
		p.PaymentStatus = *req.PaymentStatus
	}
	return p, nil
}

func toProjectResponse(p ledger.Project) projectResponse {
	return projectResponse{
		ID:               p.ID,
		UserID:           p.UserID,
		Name:             p.Name,
		Identifier:       p.Identifier,
		PurchaseOrder:    p.PurchaseOrder,
		QuotedValueMinor: ledger.Minor(p.QuotedValue),
		QuotedValue:      amountString(p.QuotedValue),
		Currency:         ledger.Currency,
		Locality:         p.Locality,
		ExecutionStatus:  p.ExecutionStatus,
		PaymentStatus:    p.PaymentStatus,
		SettlementID:     p.SettlementID,
		SettlementDate:   formatDate(p.SettlementDate),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toProjectResponses(ps []ledger.Project) []projectResponse {
	out := make([]projectResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProjectResponse(p))
	}
	return out
}

func toExpenseResponse(e ledger.Expense) expenseResponse {
	return expenseResponse{
		ID:           e.ID,
		ProjectID:    e.ProjectID,
		Description:  e.Description,
		AmountMinor:  ledger.Minor(e.Amount),
		Amount:       amountString(e.Amount),
		Currency:     ledger.Currency,
		Type:         e.Type,
		Date:         formatDate(e.Date),
		Status:       e.Status,
		SettlementID: e.SettlementID,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toExpenseResponses(es []ledger.Expense) []expenseResponse {
	out := make([]expenseResponse, 0, len(es))
	for _, e := range es {
		out = append(out, toExpenseResponse(e))
	}
	return out
}
