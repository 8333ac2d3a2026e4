package v1

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const ctxKeyFacts ctxKey = "requestFacts"

// requestFacts is filled in by handlers deeper in the chain so the
// completion line can name who acted and on which route.
type requestFacts struct {
	userID  string
	subject string
}

func factsFrom(r *http.Request) *requestFacts {
	f, _ := r.Context().Value(ctxKeyFacts).(*requestFacts)
	return f
}

// noteUser records the acting user for the request log.
func noteUser(r *http.Request, id uuid.UUID) {
	if f := factsFrom(r); f != nil {
		f.userID = id.String()
	}
}

// noteSubject records the authenticated token subject for the request log.
func noteSubject(r *http.Request, sub string) {
	if f := factsFrom(r); f != nil {
		f.subject = sub
	}
}

// requestLogger logs each request at INFO with the acting user, or at WARN
// when the request ended in a server error.
func requestLogger(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			facts := &requestFacts{}
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyFacts, facts))

			reqID := chimw.GetReqID(r.Context())
			l.Debug("request started", "req_id", reqID, "method", r.Method, "path", r.URL.Path)

			next.ServeHTTP(ww, r)

			attrs := []any{
				"req_id", reqID,
				"method", r.Method,
				"route", routeLabel(r),
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			}
			if facts.userID != "" {
				attrs = append(attrs, "user_id", facts.userID)
			}
			if facts.subject != "" && facts.subject != facts.userID {
				attrs = append(attrs, "subject", facts.subject)
			}
			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			l.Log(r.Context(), level, "request complete", attrs...)
		})
	}
}

// routeLabel prefers the matched chi pattern over the raw path, which carries ids.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// recoverer logs panics as ERROR and returns 500.
func recoverer(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					reqID := chimw.GetReqID(r.Context())
					attrs := []any{"req_id", reqID, "route", routeLabel(r), "err", rec, "stack", string(debug.Stack())}
					if f := factsFrom(r); f != nil && f.userID != "" {
						attrs = append(attrs, "user_id", f.userID)
					}
					l.Error("panic", attrs...)
					writeErr(w, http.StatusInternalServerError, "internal error", "internal")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
