package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// StrategyEngine exposes the scheduler's view of the strategies.
type StrategyEngine interface {
	Profiles() []strategy.Profile
	Running() bool
	Stop()
}

// StrategyHandler serves strategy runtime HTTP endpoints.
type StrategyHandler struct {
	engine StrategyEngine
	logger *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(engine StrategyEngine, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "strategies")),
	}
}

// ListProfiles returns run statistics per strategy in registration order.
// GET /api/strategies
func (h *StrategyHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := h.engine.Profiles()
	if profiles == nil {
		profiles = []strategy.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":    h.engine.Running(),
		"strategies": profiles,
	})
}

// Stop asks the scheduler to finish its current tick and exit.
// POST /api/strategies/stop
func (h *StrategyHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "stop requested over http",
		slog.String("remote_addr", r.RemoteAddr),
	)
	h.engine.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
