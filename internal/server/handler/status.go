package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves runtime status (mode, uptime) for dashboards.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt}
}

// GetStatus responds with the current run mode and process uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": uptime,
	})
}
