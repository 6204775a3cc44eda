/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin tooling

ROUTE GROUPS:
  /api/pools/*      Pool ledger
  /api/employees/*  Beneficiaries
  /api/grants/*     Grants, termination, vesting status
  /api/vesting/*    Batch accrual
  /api/pps/*        Price-per-share history
  /api/audit        Audit trail

SECURITY NOTE:
  No authentication middleware currently. Tenant isolation rests on the
  X-Tenant-ID header being set by a trusted gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Pool routes
		r.Route("/pools", func(r chi.Router) {
			r.Post("/", h.CreatePool)
			r.Get("/", h.GetPool)
			r.Post("/events", h.CreatePoolEvent)
			r.Get("/events", h.ListPoolEvents)
		})

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.CreateEmployee)
			r.Get("/", h.ListEmployees)
		})

		// Grant routes
		r.Route("/grants", func(r chi.Router) {
			r.Post("/", h.CreateGrant)
			r.Get("/", h.ListGrants)
			r.Get("/{id}", h.GetGrant)
			r.Post("/{id}/terminate", h.TerminateGrant)
			r.Get("/{id}/vesting", h.GetVestingStatus)
			r.Get("/{id}/events", h.ListVestingEvents)
		})

		// Vesting batch routes
		r.Route("/vesting", func(r chi.Router) {
			r.Post("/run", h.RunVesting)
			r.Get("/runs", h.ListVestingRuns)
		})

		// PPS routes
		r.Route("/pps", func(r chi.Router) {
			r.Post("/", h.CreatePPS)
			r.Get("/", h.ListPPS)
		})

		// Audit routes
		r.Get("/audit", h.ListAudit)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
