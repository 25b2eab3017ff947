package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	clock     domain.Clock
	startedAt time.Time
	running   func() bool
}

// NewHealthHandler creates a HealthHandler. running reports whether the
// scheduler loop is still active.
func NewHealthHandler(mode string, clock domain.Clock, running func() bool) *HealthHandler {
	return &HealthHandler{mode: mode, clock: clock, startedAt: clock.Now(), running: running}
}

// HealthCheck responds with the engine mode, uptime and scheduler state.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	status := http.StatusOK
	state := "ok"
	running := h.running == nil || h.running()
	if !running {
		status = http.StatusServiceUnavailable
		state = "stopped"
	}
	writeJSON(w, status, map[string]any{
		"status":         state,
		"mode":           h.mode,
		"running":        running,
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"timestamp":      now.Format(time.RFC3339),
	})
}
