package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database check in GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/test", s.handleTestRule)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/test", s.handleTestStoredRule)
			})
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Get("/ledger", s.handleQueryLedger)
		r.Get("/cooldowns", s.handleListCooldowns)

		r.Route("/dispatch", func(r chi.Router) {
			r.Get("/", s.handleListPending)
			r.Post("/", s.handleDispatch)
			r.Delete("/{id}", s.handleCancelDispatch)
		})

		r.Get("/resources/{name}", s.handleDescribeResource)

		r.Post("/events", s.handleEvent)

		r.Get("/audit", s.handleListAuditLogs)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status. A failing database check
// reports "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"rules":   s.registry.RuleCount(),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check: database unhealthy", "error", err)
			resp["status"] = "degraded"
			resp["database"] = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
		if version, err := s.db.SchemaVersion(ctx); err == nil {
			resp["schema_version"] = version
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
