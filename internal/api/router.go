package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// healthTimeout bounds the dependency probes of GET /health.
const healthTimeout = 2 * time.Second

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
		// Health check (no key, no auth)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)
			r.Use(s.guardMiddleware)

			// Public auth endpoints
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)

			// Authenticated routes
			r.Group(func(r chi.Router) {
				r.Use(s.authenticateMiddleware)

				r.Post("/auth/logout", s.handleLogout)
				r.Get("/auth/session", s.handleSession)

				r.Route("/users", func(r chi.Router) {
					r.With(s.requirePermission(auth.ActionAdmin)).Get("/", s.handleListUsers)
					r.With(s.requirePermission(auth.ActionAdmin)).Post("/", s.handleCreateUser)
					r.Get("/{id}", s.handleGetUser)
					r.With(s.requirePermission(auth.ActionAdmin)).Patch("/{id}/role", s.handleUpdateRole)
				})

				r.With(s.requirePermission(auth.ActionAdmin)).Get("/dashboard", s.handleDashboard)

				r.Route("/audit", func(r chi.Router) {
					r.Use(s.requirePermission(auth.ActionAdmin))
					r.Get("/", s.handleListAudit)
					r.Get("/stream", s.handleAuditStream)
				})
			})
		})
	})

	return r
}

// handleHealth reports the server and each registered dependency. Any
// failing dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.health[name].HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":         overall,
		"version":        s.version,
		"checks":         checks,
		"stream_clients": s.hub.ClientCount(),
	})
}
