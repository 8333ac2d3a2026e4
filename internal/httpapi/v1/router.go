// Package v1 wires the HTTP surface of the settlements service.
// It keeps handlers thin, delegating business rules to the service layer.
package v1

import (
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tinoosan/settlements/internal/service/expense"
	"github.com/tinoosan/settlements/internal/service/project"
	"github.com/tinoosan/settlements/internal/service/settlement"
)

// Services bundles the domain services the API delegates to.
type Services struct {
	Settlements settlement.Service
	Projects    project.Service
	Expenses    expense.Service
}

// Options configures cross-cutting concerns of the server.
type Options struct {
	Auth   AuthConfig
	Ready  ReadyChecker
	Logger *slog.Logger
}

// Server wires handlers and middleware using Chi.
type Server struct {
	settlements settlement.Service
	projects    project.Service
	expenses    expense.Service
	ready       ReadyChecker
	auth        AuthConfig
	log         *slog.Logger
	rt          *chi.Mux
}

// New constructs the HTTP server with routes and middleware.
func New(svcs Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(metricsMiddleware)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))

	s := &Server{
		settlements: svcs.Settlements,
		projects:    svcs.Projects,
		expenses:    svcs.Expenses,
		ready:       opts.Ready,
		auth:        opts.Auth,
		log:         logger,
		rt:          r,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
	// Unauthenticated
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Handle("/metrics", metricsHandler())
	s.rt.Get("/v1/dictionary/enums", s.getEnumsDictionary)

	s.rt.Group(func(r chi.Router) {
		if mw := authJWT(s.auth); mw != nil {
			r.Use(mw)
		}
		// Settlements
		r.With(s.validatePostSettlement()).Post("/v1/settlements", s.postSettlement)
		r.With(s.validateUserQuery()).Get("/v1/settlements", s.listSettlements)
		r.With(s.validatePreviewQuery()).Get("/v1/settlements/preliquidation", s.previewSettlement)
		r.With(s.validateUserQuery()).Get("/v1/settlements/available-periods", s.availablePeriods)
		r.With(s.validateUserQuery()).Get("/v1/settlements/{id}", s.getSettlement)
		r.With(s.validateUserQuery()).Delete("/v1/settlements/{id}", s.deleteSettlement)
		r.With(s.validateUserQuery()).Post("/v1/settlements/{id}/recompute", s.recomputeSettlement)
		// Projects
		r.With(s.validatePostProject()).Post("/v1/projects", s.postProject)
		r.With(s.validateUserQuery()).Get("/v1/projects", s.listProjects)
		r.With(s.validateUserQuery()).Get("/v1/projects/{id}", s.getProject)
		r.With(s.validateUserQuery()).Patch("/v1/projects/{id}", s.updateProject)
		r.With(s.validateUserQuery()).Patch("/v1/projects/{id}/status", s.updateProjectStatus)
		r.With(s.validateUserQuery()).Delete("/v1/projects/{id}", s.deleteProject)
		// Expenses
		r.With(s.validateUserQuery()).Post("/v1/projects/{id}/expenses", s.postExpense)
		r.With(s.validateUserQuery()).Get("/v1/projects/{id}/expenses", s.listExpenses)
		r.With(s.validateUserQuery()).Get("/v1/expenses/{id}", s.getExpense)
		r.With(s.validateUserQuery()).Patch("/v1/expenses/{id}", s.updateExpense)
		r.With(s.validateUserQuery()).Delete("/v1/expenses/{id}", s.deleteExpense)
	})
}
