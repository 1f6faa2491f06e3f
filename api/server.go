/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/items/*      Item registry + ledger + quantity resolution
  /api/snapshots    Materialized end-of-day quantities
  /api/audits/*     Physical stock audits
  /api/internal/*   System operations (bearer token, not tenant-scoped)
  /health           Liveness probe
  /metrics          Prometheus (optional)

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions toggles optional surfaces.
type RouterOptions struct {
	Metrics bool

	// Scenarios mounts the destructive demo-data endpoints. Never enable in
	// production.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Company-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.RegisterItem)
			r.Post("/sync", h.SyncItems)
			r.Get("/{id}", h.GetItem)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Post("/{id}/transactions", h.AppendTransaction)
			r.Get("/{id}/quantity", h.GetQuantity)
			r.Post("/{id}/quantity/rebuild", h.RebuildQuantity)
			r.Get("/{id}/snapshots", h.ListItemSnapshots)
		})

		r.Get("/snapshots", h.ListSnapshots)

		r.Route("/audits", func(r chi.Router) {
			r.Get("/", h.ListAudits)
			r.Post("/", h.CreateAudit)
			r.Get("/{id}", h.GetAudit)
			r.Put("/{id}/items", h.RecordCounts)
			r.Put("/{id}/items/{itemID}", h.RecordCount)
			r.Post("/{id}/complete", h.CompleteAudit)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Post("/materialize", h.Materialize)
		})

		if opts.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
