package v1

import (
	"net/http"

	"github.com/tinoosan/settlements/internal/service/settlement"
)

// postSettlement handles POST /v1/settlements. It answers 201 when a new
// settlement was created and 200 when an existing one for the period took the items.
func (s *Server) postSettlement(w http.ResponseWriter, r *http.Request) {
	cmd, _ := r.Context().Value(ctxKeyPostSettlement).(settleCommand)
	out, err := s.settlements.Settle(r.Context(), cmd.UserID, cmd.Month, cmd.Year)
	observeSettlement("settle", err)
	if err != nil && !settlement.IsWarning(err) {
		s.writeServiceErr(w, r, err)
		return
	}
	resp := toSettleResponse(out)
	if err != nil {
		resp.Warning = &warningResponse{Code: settlement.Code(err), Message: err.Error()}
	}
	status := http.StatusOK
	if out.CreatedNew {
		status = http.StatusCreated
	}
	toJSON(w, status, resp)
}

// GET /v1/settlements?user_id=
func (s *Server) listSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := s.settlements.List(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toSettlementList(list))
}

// GET /v1/settlements/{id}?user_id=
func (s *Server) getSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "settlement")
	if !ok {
		return
	}
	d, err := s.settlements.Get(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toDetailResponse(d))
}

// DELETE /v1/settlements/{id}?user_id=
func (s *Server) deleteSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "settlement")
	if !ok {
		return
	}
	err := s.settlements.Delete(r.Context(), userFrom(r), id)
	observeSettlement("delete", err)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/settlements/{id}/recompute?user_id=
func (s *Server) recomputeSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "settlement")
	if !ok {
		return
	}
	st, err := s.settlements.Recompute(r.Context(), userFrom(r), id)
	observeSettlement("recompute", err)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toSettlementResponse(st))
}

// GET /v1/settlements/preliquidation?user_id=[&month=&year=]
func (s *Server) previewSettlement(w http.ResponseWriter, r *http.Request) {
	q, _ := r.Context().Value(ctxKeyPreview).(previewQuery)
	var (
		p   settlement.Preview
		err error
	)
	if q.Period != nil {
		p, err = s.settlements.Preview(r.Context(), q.UserID, *q.Period)
	} else {
		p, err = s.settlements.PreviewCurrent(r.Context(), q.UserID)
	}
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toPreviewResponse(p))
}

// GET /v1/settlements/available-periods?user_id=
func (s *Server) availablePeriods(w http.ResponseWriter, r *http.Request) {
	ps, err := s.settlements.AvailablePeriods(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAvailablePeriods(ps))
}
