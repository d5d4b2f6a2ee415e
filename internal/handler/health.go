package handler

import (
	"context"
	"net/http"
	"time"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks []Check
	// onReady runs after a successful readiness check, e.g. to refresh gauges.
	onReady func(ctx context.Context)
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(onReady func(ctx context.Context), checks ...Check) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		onReady: onReady,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": c.Name + " unavailable",
			})
			return
		}
	}

	if h.onReady != nil {
		h.onReady(ctx)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
