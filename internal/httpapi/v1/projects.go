package v1

import (
	"net/http"

	"github.com/tinoosan/settlements/internal/ledger"
	"github.com/tinoosan/settlements/internal/service/project"
)

// POST /v1/projects
func (s *Server) postProject(w http.ResponseWriter, r *http.Request) {
	in, _ := r.Context().Value(ctxKeyPostProject).(ledger.Project)
	p, err := s.projects.Create(r.Context(), in)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toProjectResponse(p))
}

// GET /v1/projects?user_id=
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	ps, err := s.projects.List(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, listProjectsResponse{Items: toProjectResponses(ps)})
}

// GET /v1/projects/{id}?user_id=
func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "project")
	if !ok {
		return
	}
	p, err := s.projects.Get(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toProjectResponse(p))
}

// updateProject handles PATCH /v1/projects/{id}. Omitted fields keep their
// stored values; statuses change through the /status route.
func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "project")
	if !ok {
		return
	}
	var payload patchProjectRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	userID := userFrom(r)
	// load current, apply patch in http layer
	p, err := s.projects.Get(r.Context(), userID, id)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	if payload.Name != nil {
		p.Name = *payload.Name
	}
	if payload.Identifier != nil {
		p.Identifier = *payload.Identifier
	}
	if payload.PurchaseOrder != nil {
		p.PurchaseOrder = *payload.PurchaseOrder
	}
	if payload.Locality != nil {
		p.Locality = *payload.Locality
	}
	if payload.QuotedValueMinor != nil {
		v, err := ledger.NewAmount(*payload.QuotedValueMinor)
		if err != nil {
			badRequest(w, "invalid quoted_value_minor")
			return
		}
		p.QuotedValue = v
	}
	updated, err := s.projects.Update(r.Context(), p)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toProjectResponse(updated))
}

// PATCH /v1/projects/{id}/status?user_id=
func (s *Server) updateProjectStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "project")
	if !ok {
		return
	}
	var payload patchProjectStatusRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	date, err := parseDate(payload.SettlementDate)
	if err != nil {
		badRequest(w, "invalid settlement_date")
		return
	}
	p, err := s.projects.UpdateStatus(r.Context(), userFrom(r), id, project.StatusChange{
		Execution:      payload.ExecutionStatus,
		Payment:        payload.PaymentStatus,
		SettlementDate: date,
	})
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toProjectResponse(p))
}

// DELETE /v1/projects/{id}?user_id=
func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "project")
	if !ok {
		return
	}
	if err := s.projects.Delete(r.Context(), userFrom(r), id); err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
