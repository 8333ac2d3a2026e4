package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/ledger"
	"github.com/tinoosan/settlements/internal/service/expense"
	"github.com/tinoosan/settlements/internal/service/project"
	"github.com/tinoosan/settlements/internal/service/settlement"
	"github.com/tinoosan/settlements/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type settleResp struct {
	Settlement struct {
		ID                 string `json:"id"`
		Month              int    `json:"month"`
		Year               int    `json:"year"`
		TotalProjectsMinor int64  `json:"total_projects_minor"`
		TotalExpensesMinor int64  `json:"total_expenses_minor"`
		DifferenceMinor    int64  `json:"difference_minor"`
		CreatedByEmail     string `json:"created_by_email"`
	} `json:"settlement"`
	ProjectsCount int  `json:"projects_count"`
	ExpensesCount int  `json:"expenses_count"`
	Created       bool `json:"created"`
	Warning       *struct {
		Code string `json:"code"`
	} `json:"warning"`
}

type projResp struct {
	ID              string  `json:"id"`
	Identifier      string  `json:"identifier"`
	ExecutionStatus string  `json:"execution_status"`
	SettlementID    *string `json:"settlement_id"`
	SettlementDate  *string `json:"settlement_date"`
}

// totalsFailingWriter fails every totals write.
type totalsFailingWriter struct{ settlement.Writer }

func (totalsFailingWriter) UpdateSettlementTotals(context.Context, ledger.Settlement) (ledger.Settlement, error) {
	return ledger.Settlement{}, errors.New("totals write timed out")
}

type env struct {
	t     *testing.T
	store *memory.Store
	h     http.Handler
	user  uuid.UUID
}

func setup(t *testing.T) *env {
	return setupWith(t, nil, AuthConfig{})
}

// setupWith builds the API over a fresh store; wrap, when set, decorates the
// settlement writer.
func setupWith(t *testing.T, wrap func(*memory.Store) settlement.Writer, auth AuthConfig) *env {
	t.Helper()
	store := memory.New()
	email := "owner@example.com"
	user := ledger.User{ID: uuid.New(), Email: &email}
	store.SeedUser(user)
	var w settlement.Writer = store
	if wrap != nil {
		w = wrap(store)
	}
	clock := func() time.Time { return time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC) }
	settlements := settlement.New(store, w, settlement.Options{Clock: clock, Logger: testLogger()})
	svcs := Services{
		Settlements: settlements,
		Projects:    project.New(store, store, project.Options{Clock: clock, Settlements: settlements, Logger: testLogger()}),
		Expenses:    expense.New(store, store),
	}
	h := New(svcs, Options{Auth: auth, Ready: store, Logger: testLogger()}).Handler()
	return &env{t: t, store: store, h: h, user: user.ID}
}

func (e *env) do(method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) q() string { return "?user_id=" + e.user.String() }

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v: %s", err, rec.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func (e *env) endedProject(date string, minor int64) projResp {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/projects", map[string]any{
		"user_id":            e.user.String(),
		"name":               "Subestacion",
		"purchase_order":     "OC-100",
		"quoted_value_minor": minor,
		"locality":           "Bogota",
		"execution_status":   "ended",
		"settlement_date":    date,
	})
	expectStatus(e.t, rec, http.StatusCreated)
	return decode[projResp](e.t, rec)
}

func (e *env) expense(projectID, date string, minor int64) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/projects/"+projectID+"/expenses"+e.q(), map[string]any{
		"description":  "Cable",
		"amount_minor": minor,
		"type":         "hardware",
		"date":         date,
	})
	expectStatus(e.t, rec, http.StatusCreated)
}

func (e *env) settle(month, year int) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/v1/settlements", map[string]any{"user_id": e.user.String(), "month": month, "year": year})
}

func TestSettle_March2024(t *testing.T) {
	e := setup(t)
	p := e.endedProject("2024-03-15", 100_000_000)
	if p.Identifier != "PROY-2024-001" {
		t.Fatalf("identifier = %q", p.Identifier)
	}
	e.expense(p.ID, "2024-03-20", 20_000_000)

	rec := e.settle(3, 2024)
	expectStatus(t, rec, http.StatusCreated)
	sr := decode[settleResp](t, rec)
	if !sr.Created || sr.ProjectsCount != 1 || sr.ExpensesCount != 1 || sr.Warning != nil {
		t.Fatalf("unexpected outcome: %+v", sr)
	}
	if sr.Settlement.TotalProjectsMinor != 100_000_000 || sr.Settlement.TotalExpensesMinor != 20_000_000 || sr.Settlement.DifferenceMinor != 80_000_000 {
		t.Fatalf("unexpected totals: %+v", sr.Settlement)
	}
	if sr.Settlement.CreatedByEmail != "owner@example.com" {
		t.Fatalf("email = %q", sr.Settlement.CreatedByEmail)
	}

	rec = e.do(http.MethodGet, "/v1/projects/"+p.ID+e.q(), nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[projResp](t, rec)
	if got.ExecutionStatus != "in_liquidation" || got.SettlementID == nil || *got.SettlementID != sr.Settlement.ID {
		t.Fatalf("project not linked: %+v", got)
	}

	rec = e.settle(3, 2024)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if er := decode[errResp](t, rec); er.Code != "no_pending_items" {
		t.Fatalf("code = %q", er.Code)
	}
}

func TestSettle_ReusesExistingSettlement(t *testing.T) {
	e := setup(t)
	e.endedProject("2024-03-01", 300)
	expectStatus(t, e.settle(3, 2024), http.StatusCreated)
	e.endedProject("2024-03-31", 700)
	rec := e.settle(3, 2024)
	expectStatus(t, rec, http.StatusOK)
	sr := decode[settleResp](t, rec)
	if sr.Created || sr.ProjectsCount != 1 || sr.Settlement.TotalProjectsMinor != 1000 {
		t.Fatalf("unexpected outcome: %+v", sr)
	}
}

func TestSettle_BadRequests(t *testing.T) {
	e := setup(t)
	expectStatus(t, e.settle(13, 2024), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPost, "/v1/settlements", map[string]any{"month": 3, "year": 2024}), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPost, "/v1/settlements", map[string]any{"user_id": "nope", "month": 3, "year": 2024}), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPost, "/v1/settlements", map[string]any{"user_id": uuid.NewString(), "month": 3, "year": 2024}), http.StatusNotFound)

	req := httptest.NewRequest(http.MethodPost, "/v1/settlements", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnsupportedMediaType)

	req = httptest.NewRequest(http.MethodPost, "/v1/settlements", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json; charset=latin1")
	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnsupportedMediaType)
}

func TestSettle_TotalsFailureIsWarning(t *testing.T) {
	e := setupWith(t, func(s *memory.Store) settlement.Writer { return totalsFailingWriter{Writer: s} }, AuthConfig{})
	e.endedProject("2024-03-05", 500)
	rec := e.settle(3, 2024)
	expectStatus(t, rec, http.StatusCreated)
	sr := decode[settleResp](t, rec)
	if sr.Warning == nil || sr.Warning.Code != "totals_update_failed" {
		t.Fatalf("expected totals warning, got %+v", sr)
	}
	if sr.Settlement.ID == "" || sr.ProjectsCount != 1 {
		t.Fatalf("outcome must still describe the settlement: %+v", sr)
	}
}

func TestSettlement_GetListDelete(t *testing.T) {
	e := setup(t)
	p := e.endedProject("2024-03-15", 1000)
	e.expense(p.ID, "2024-03-16", 400)
	sr := decode[settleResp](t, e.settle(3, 2024))
	id := sr.Settlement.ID

	rec := e.do(http.MethodGet, "/v1/settlements/"+id+e.q(), nil)
	expectStatus(t, rec, http.StatusOK)
	detail := decode[struct {
		Projects []projResp       `json:"projects"`
		Expenses []map[string]any `json:"expenses"`
	}](t, rec)
	if len(detail.Projects) != 1 || len(detail.Expenses) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	rec = e.do(http.MethodGet, "/v1/settlements"+e.q(), nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decode[struct{ Items []map[string]any }](t, rec); len(list.Items) != 1 {
		t.Fatalf("expected one settlement, got %d", len(list.Items))
	}

	rec = e.do(http.MethodPost, "/v1/settlements/"+id+"/recompute"+e.q(), nil)
	expectStatus(t, rec, http.StatusOK)

	expectStatus(t, e.do(http.MethodDelete, "/v1/settlements/"+id+e.q(), nil), http.StatusNoContent)
	expectStatus(t, e.do(http.MethodGet, "/v1/settlements/"+id+e.q(), nil), http.StatusNotFound)

	got := decode[projResp](t, e.do(http.MethodGet, "/v1/projects/"+p.ID+e.q(), nil))
	if got.ExecutionStatus != "ended" || got.SettlementID != nil || got.SettlementDate == nil || *got.SettlementDate != "2024-03-15" {
		t.Fatalf("project not released: %+v", got)
	}
}

func TestSettlement_OtherUserDenied(t *testing.T) {
	e := setup(t)
	e.endedProject("2024-03-15", 1000)
	sr := decode[settleResp](t, e.settle(3, 2024))

	intruder := uuid.New()
	e.store.SeedUser(ledger.User{ID: intruder})
	rec := e.do(http.MethodGet, "/v1/settlements/"+sr.Settlement.ID+"?user_id="+intruder.String(), nil)
	expectStatus(t, rec, http.StatusForbidden)
	if er := decode[errResp](t, rec); er.Code != "access_denied" {
		t.Fatalf("code = %q", er.Code)
	}
	expectStatus(t, e.do(http.MethodDelete, "/v1/settlements/"+sr.Settlement.ID+"?user_id="+intruder.String(), nil), http.StatusForbidden)
}

func TestProject_ImmutableWhileLiquidated(t *testing.T) {
	e := setup(t)
	p := e.endedProject("2024-03-15", 1000)
	expectStatus(t, e.settle(3, 2024), http.StatusCreated)

	rec := e.do(http.MethodPatch, "/v1/projects/"+p.ID+e.q(), map[string]any{"name": "Renamed"})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if er := decode[errResp](t, rec); er.Code != "immutable" {
		t.Fatalf("code = %q", er.Code)
	}
	rec = e.do(http.MethodPost, "/v1/projects/"+p.ID+"/expenses"+e.q(), map[string]any{"description": "late", "amount_minor": 10})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
}

func TestProject_StatusAndValidation(t *testing.T) {
	e := setup(t)
	rec := e.do(http.MethodPost, "/v1/projects", map[string]any{
		"user_id": e.user.String(), "name": "Obra", "purchase_order": "OC-1", "quoted_value_minor": 50, "locality": "Cali",
	})
	expectStatus(t, rec, http.StatusCreated)
	p := decode[projResp](t, rec)
	if p.ExecutionStatus != "pending" {
		t.Fatalf("default status = %q", p.ExecutionStatus)
	}

	// ended without a date is rejected
	expectStatus(t, e.do(http.MethodPatch, "/v1/projects/"+p.ID+"/status"+e.q(), map[string]any{"execution_status": "ended"}), http.StatusBadRequest)
	// reserved status cannot be set by users
	expectStatus(t, e.do(http.MethodPatch, "/v1/projects/"+p.ID+"/status"+e.q(), map[string]any{"execution_status": "in_liquidation"}), http.StatusBadRequest)

	rec = e.do(http.MethodPatch, "/v1/projects/"+p.ID+"/status"+e.q(), map[string]any{"execution_status": "ended", "settlement_date": "2024-02-29"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[projResp](t, rec); got.ExecutionStatus != "ended" || got.SettlementDate == nil || *got.SettlementDate != "2024-02-29" {
		t.Fatalf("unexpected project: %+v", got)
	}

	rec = e.do(http.MethodPost, "/v1/projects", map[string]any{
		"user_id": e.user.String(), "name": "Dup", "identifier": p.Identifier, "purchase_order": "OC-2", "quoted_value_minor": 1, "locality": "Cali",
	})
	expectStatus(t, rec, http.StatusConflict)

	expectStatus(t, e.do(http.MethodDelete, "/v1/projects/"+p.ID+e.q(), nil), http.StatusNoContent)
	expectStatus(t, e.do(http.MethodGet, "/v1/projects/"+p.ID+e.q(), nil), http.StatusNotFound)
}

func TestExpense_UpdateAndDelete(t *testing.T) {
	e := setup(t)
	p := e.endedProject("2024-03-15", 1000)
	e.expense(p.ID, "2024-03-16", 400)
	list := decode[struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}](t, e.do(http.MethodGet, "/v1/projects/"+p.ID+"/expenses"+e.q(), nil))
	if len(list.Items) != 1 {
		t.Fatalf("expected one expense, got %d", len(list.Items))
	}
	id := list.Items[0].ID

	rec := e.do(http.MethodPatch, "/v1/expenses/"+id+e.q(), map[string]any{"amount_minor": 450})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec); got["amount_minor"].(float64) != 450 || got["description"] != "Cable" {
		t.Fatalf("unexpected expense: %+v", got)
	}
	expectStatus(t, e.do(http.MethodPatch, "/v1/expenses/"+id+e.q(), map[string]any{"amount_minor": 0}), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodDelete, "/v1/expenses/"+id+e.q(), nil), http.StatusNoContent)
	expectStatus(t, e.do(http.MethodGet, "/v1/expenses/"+id+e.q(), nil), http.StatusNotFound)
}

func TestPreviewAndAvailablePeriods(t *testing.T) {
	e := setup(t)
	p := e.endedProject("2024-03-15", 1000)
	e.expense(p.ID, "2024-03-16", 250)
	e.endedProject("2024-01-10", 50)

	rec := e.do(http.MethodGet, "/v1/settlements/preliquidation"+e.q()+"&month=3&year=2024", nil)
	expectStatus(t, rec, http.StatusOK)
	pv := decode[struct {
		Period             string `json:"period"`
		TotalProjectsMinor int64  `json:"total_projects_minor"`
		TotalExpensesMinor int64  `json:"total_expenses_minor"`
		DifferenceMinor    int64  `json:"difference_minor"`
	}](t, rec)
	if pv.Period != "2024-03" || pv.TotalProjectsMinor != 1000 || pv.TotalExpensesMinor != 250 || pv.DifferenceMinor != 750 {
		t.Fatalf("unexpected preview: %+v", pv)
	}
	// current month comes from the service clock (April 2024)
	rec = e.do(http.MethodGet, "/v1/settlements/preliquidation"+e.q(), nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec); got["period"] != "2024-04" {
		t.Fatalf("current period = %v", got["period"])
	}
	expectStatus(t, e.do(http.MethodGet, "/v1/settlements/preliquidation"+e.q()+"&month=3", nil), http.StatusBadRequest)

	expectStatus(t, e.settle(1, 2024), http.StatusCreated)
	rec = e.do(http.MethodGet, "/v1/settlements/available-periods"+e.q(), nil)
	expectStatus(t, rec, http.StatusOK)
	ap := decode[struct {
		Items []struct {
			Period        string `json:"period"`
			ProjectsCount int    `json:"projects_count"`
			ExpensesCount int    `json:"expenses_count"`
		} `json:"items"`
	}](t, rec)
	if len(ap.Items) != 1 || ap.Items[0].Period != "2024-03" || ap.Items[0].ProjectsCount != 1 || ap.Items[0].ExpensesCount != 1 {
		t.Fatalf("unexpected periods: %+v", ap.Items)
	}
}

func TestAuth_SubjectMustMatchUser(t *testing.T) {
	const secret = "test-secret"
	e := setupWith(t, nil, AuthConfig{Secret: secret, Issuer: "settlements-test"})
	sign := func(sub, iss string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    iss,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		s, err := tok.SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + s
	}

	expectStatus(t, e.do(http.MethodGet, "/v1/settlements"+e.q(), nil), http.StatusUnauthorized)
	expectStatus(t, e.do(http.MethodGet, "/v1/settlements"+e.q(), nil, "Authorization", sign(e.user.String(), "other")), http.StatusUnauthorized)
	expectStatus(t, e.do(http.MethodGet, "/v1/settlements"+e.q(), nil, "Authorization", sign(uuid.NewString(), "settlements-test")), http.StatusForbidden)
	expectStatus(t, e.do(http.MethodGet, "/v1/settlements"+e.q(), nil, "Authorization", sign(e.user.String(), "settlements-test")), http.StatusOK)
	// health and dictionary stay open
	expectStatus(t, e.do(http.MethodGet, "/healthz", nil), http.StatusOK)
	expectStatus(t, e.do(http.MethodGet, "/v1/dictionary/enums", nil), http.StatusOK)
}

func TestAux_ReadyzAndDictionary(t *testing.T) {
	e := setup(t)
	expectStatus(t, e.do(http.MethodGet, "/readyz", nil), http.StatusOK)
	rec := e.do(http.MethodGet, "/v1/dictionary/enums", nil)
	expectStatus(t, rec, http.StatusOK)
	d := decode[struct {
		ExecutionStatuses []struct {
			Code     string `json:"code"`
			Reserved bool   `json:"reserved"`
		} `json:"execution_statuses"`
		ExpenseTypes []struct {
			Code string `json:"code"`
		} `json:"expense_types"`
	}](t, rec)
	reserved := 0
	for _, s := range d.ExecutionStatuses {
		if s.Reserved {
			reserved++
			if s.Code != "in_liquidation" {
				t.Fatalf("unexpected reserved status %q", s.Code)
			}
		}
	}
	if reserved != 1 || len(d.ExpenseTypes) != 3 {
		t.Fatalf("unexpected dictionary: %+v", d)
	}
	expectStatus(t, e.do(http.MethodGet, "/metrics", nil), http.StatusOK)
}

func TestRequestLogNamesUserAndRoute(t *testing.T) {
	var buf bytes.Buffer
	store := memory.New()
	u := uuid.New()
	store.SeedUser(ledger.User{ID: u})
	h := New(Services{
		Settlements: settlement.New(store, store, settlement.Options{}),
		Projects:    project.New(store, store, project.Options{}),
		Expenses:    expense.New(store, store),
	}, Options{Ready: store, Logger: slog.New(slog.NewJSONHandler(&buf, nil))}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/settlements?user_id="+u.String(), nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line struct {
		Msg    string `json:"msg"`
		Route  string `json:"route"`
		UserID string `json:"user_id"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v: %s", err, buf.String())
	}
	if line.Msg != "request complete" || line.Route != "/v1/settlements" || line.UserID != u.String() || line.Status != http.StatusOK {
		t.Fatalf("unexpected log line: %+v", line)
	}
}
