package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/settlements/internal/ledger"
)

type ctxKey string

const (
	ctxKeyUser           ctxKey = "validatedUser"
	ctxKeyPostSettlement ctxKey = "validatedPostSettlement"
	ctxKeyPreview        ctxKey = "validatedPreview"
	ctxKeyPostProject    ctxKey = "validatedPostProject"
)

// parseUserID reads and authorizes the acting user id; it writes the error response itself.
func parseUserID(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	if raw == "" {
		badRequest(w, "user_id is required")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil || userID == uuid.Nil {
		badRequest(w, "invalid user_id")
		return uuid.Nil, false
	}
	noteUser(r, userID)
	if !authorize(w, r, userID) {
		return uuid.Nil, false
	}
	return userID, true
}

// decodeJSON decodes a JSON body strictly; it writes the error response itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if !requireJSON(w, r) {
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// validateUserQuery parses ?user_id= and stores it in the request context.
func (s *Server) validateUserQuery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := parseUserID(w, r, r.URL.Query().Get("user_id"))
			if !ok {
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUser, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostSettlement parses POST /v1/settlements and checks the period shape.
func (s *Server) validatePostSettlement() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postSettlementRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			userID, ok := parseUserID(w, r, req.UserID)
			if !ok {
				return
			}
			if err := (ledger.Period{Month: req.Month, Year: req.Year}).Validate(); err != nil {
				badRequest(w, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostSettlement, settleCommand{UserID: userID, Month: req.Month, Year: req.Year})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePreviewQuery parses user_id and an optional month/year pair.
// Without both, the preview covers the current month.
func (s *Server) validatePreviewQuery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			userID, ok := parseUserID(w, r, q.Get("user_id"))
			if !ok {
				return
			}
			pq := previewQuery{UserID: userID}
			ms, ys := q.Get("month"), q.Get("year")
			if ms != "" || ys != "" {
				month, errM := strconv.Atoi(ms)
				year, errY := strconv.Atoi(ys)
				if errM != nil || errY != nil {
					badRequest(w, "month and year must be given together as numbers")
					return
				}
				p := ledger.Period{Month: month, Year: year}
				if err := p.Validate(); err != nil {
					badRequest(w, err.Error())
					return
				}
				pq.Period = &p
			}
			ctx := context.WithValue(r.Context(), ctxKeyPreview, pq)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostProject parses POST /v1/projects into a domain project.
func (s *Server) validatePostProject() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postProjectRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			userID, ok := parseUserID(w, r, req.UserID)
			if !ok {
				return
			}
			p, err := toProjectDomain(userID, req)
			if err != nil {
				badRequest(w, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostProject, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(ctxKeyUser).(uuid.UUID)
	return id
}

// pathID parses the {id} route parameter; it writes the error response itself.
func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// parseDate accepts YYYY-MM-DD or RFC3339 and returns a UTC instant.
func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, *raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, *raw)
		if err != nil {
			return nil, err
		}
	}
	u := t.UTC()
	return &u, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.DateOnly)
	return &s
}
