package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tinoosan/settlements/internal/errs"
	"github.com/tinoosan/settlements/internal/service/project"
	"github.com/tinoosan/settlements/internal/service/settlement"
)

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// toJSON writes a JSON response with status code.
func toJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "invalid") }
func notFound(w http.ResponseWriter)               { writeErr(w, http.StatusNotFound, "not_found", "not_found") }
func forbidden(w http.ResponseWriter, msg string)  { writeErr(w, http.StatusForbidden, msg, "forbidden") }

// writeServiceErr maps service errors onto HTTP statuses. Settlement failure
// kinds are checked first since they also unwrap to their cause.
func (s *Server) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, settlement.ErrNoPendingItems):
		writeErr(w, http.StatusUnprocessableEntity, err.Error(), settlement.Code(err))
	case errors.Is(err, settlement.ErrAccessDenied):
		writeErr(w, http.StatusForbidden, err.Error(), settlement.Code(err))
	case errors.Is(err, settlement.ErrSettlementPersist),
		errors.Is(err, settlement.ErrAssociationFailed),
		errors.Is(err, settlement.ErrRevertFailed):
		writeErr(w, http.StatusConflict, err.Error(), settlement.Code(err))
	case errors.Is(err, settlement.ErrTotalsUpdateFailed):
		s.log.ErrorContext(r.Context(), "settlement totals write failed", "err", err)
		writeErr(w, http.StatusInternalServerError, err.Error(), settlement.Code(err))
	case errors.Is(err, project.ErrIdentifierExists):
		writeErr(w, http.StatusConflict, err.Error(), "identifier_exists")
	case errors.Is(err, errs.ErrNotFound):
		notFound(w)
	case errors.Is(err, errs.ErrForbidden):
		forbidden(w, err.Error())
	case errors.Is(err, errs.ErrImmutable):
		writeErr(w, http.StatusUnprocessableEntity, "record is held by a settlement", "immutable")
	case errors.Is(err, errs.ErrInvalid):
		badRequest(w, err.Error())
	case errors.Is(err, errs.ErrConflict):
		writeErr(w, http.StatusConflict, err.Error(), "conflict")
	default:
		s.log.ErrorContext(r.Context(), "request failed", "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
	}
}
