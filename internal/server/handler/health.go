package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// checkTimeout bounds each dependency probe so one hung backend cannot
// stall the health endpoint.
const checkTimeout = 2 * time.Second

// HealthHandler reports process liveness and, when probes are
// registered, the reachability of backing services.
type HealthHandler struct {
	checks map[string]func(context.Context) error
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency
// name to its ping function; with a nil map the endpoint degrades to a
// bare liveness response.
func NewHealthHandler(checks map[string]func(context.Context) error, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck probes every registered dependency and answers 200 when
// all are reachable, 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "ok"
	results := make(map[string]string, len(h.checks))

	for name, ping := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := ping(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			results[name] = "unavailable"
			overall = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{
		"status":    overall,
		"service":   "tradecore",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(results) > 0 {
		body["checks"] = results
	}
	writeJSON(w, status, body)
}
