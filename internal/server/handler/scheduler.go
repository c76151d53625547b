package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// SchedulerHandler serves the deadline-sweep trigger endpoint.
type SchedulerHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending triggers one sweep
}

// NewSchedulerHandler creates a SchedulerHandler with the given logger.
func NewSchedulerHandler(logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{logger: logger}
}

// WithTriggerChannel sets the channel to send on when a sweep is requested.
// The sweep loop must receive from this channel to run one cycle.
func (h *SchedulerHandler) WithTriggerChannel(ch chan<- struct{}) *SchedulerHandler {
	h.triggerCh = ch
	return h
}

// TriggerSweep enqueues one deadline sweep. If a trigger channel is
// configured, a non-blocking send is performed so the sweep loop runs one
// cycle ahead of its next tick.
// POST /api/admin/scheduler/sweep
func (h *SchedulerHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: deadline sweep requested")
	if h.triggerCh != nil {
		select {
		case h.triggerCh <- struct{}{}:
		default:
			// already triggered and not yet consumed
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      "deadline sweep enqueued",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
