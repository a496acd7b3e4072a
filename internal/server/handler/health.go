package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Each named check is pinged on
// every request; nil checks are skipped.
func NewHealthHandler(checks map[string]Pinger, logger *slog.Logger) *HealthHandler {
	live := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			live[name] = p
		}
	}
	return &HealthHandler{checks: live, logger: logger}
}

// HealthCheck responds with the server status and the state of each backing
// dependency. Any failed check turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":       state,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
