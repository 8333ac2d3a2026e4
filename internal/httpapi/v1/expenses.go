package v1

import (
	"net/http"

	"github.com/tinoosan/settlements/internal/ledger"
)

// POST /v1/projects/{id}/expenses?user_id=
func (s *Server) postExpense(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "project")
	if !ok {
		return
	}
	var req postExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := ledger.NewAmount(req.AmountMinor)
	if err != nil {
		badRequest(w, "invalid amount_minor")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(w, "invalid date")
		return
	}
	e, err := s.expenses.Create(r.Context(), userFrom(r), ledger.Expense{
		ProjectID:   projectID,
		Description: req.Description,
		Amount:      amount,
		Type:        req.Type,
		Date:        date,
	})
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toExpenseResponse(e))
}

// GET /v1/projects/{id}/expenses?user_id=
func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "project")
	if !ok {
		return
	}
	es, err := s.expenses.List(r.Context(), userFrom(r), projectID)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, listExpensesResponse{Items: toExpenseResponses(es)})
}

// GET /v1/expenses/{id}?user_id=
func (s *Server) getExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "expense")
	if !ok {
		return
	}
	e, err := s.expenses.Get(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toExpenseResponse(e))
}

// updateExpense handles PATCH /v1/expenses/{id}; omitted fields keep their stored values.
func (s *Server) updateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "expense")
	if !ok {
		return
	}
	var payload patchExpenseRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	userID := userFrom(r)
	e, err := s.expenses.Get(r.Context(), userID, id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	if payload.Description != nil {
		e.Description = *payload.Description
	}
	if payload.Type != nil {
		e.Type = *payload.Type
	}
	if payload.AmountMinor != nil {
		a, err := ledger.NewAmount(*payload.AmountMinor)
		if err != nil {
			badRequest(w, "invalid amount_minor")
			return
		}
		e.Amount = a
	}
	if payload.Date != nil {
		d, err := parseDate(payload.Date)
		if err != nil {
			badRequest(w, "invalid date")
			return
		}
		e.Date = d
	}
	updated, err := s.expenses.Update(r.Context(), userID, e)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toExpenseResponse(updated))
}

// DELETE /v1/expenses/{id}?user_id=
func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "expense")
	if !ok {
		return
	}
	if err := s.expenses.Delete(r.Context(), userFrom(r), id); err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
