package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PortfolioEngine is what the portfolio handler needs from the engine.
// algorithm.Algorithm satisfies it.
type PortfolioEngine interface {
	GetPortfolios(ctx context.Context, scope domain.PortfolioScope) ([]domain.Portfolio, error)
	GetPositions(ctx context.Context, scope domain.PortfolioScope) ([]domain.Position, error)
	Snapshots(ctx context.Context) ([]domain.PortfolioSnapshot, error)
}

// PortfolioHandler serves portfolio and position HTTP endpoints.
type PortfolioHandler struct {
	engine PortfolioEngine
	logger *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(engine PortfolioEngine, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "portfolios")),
	}
}

// ListPortfolios returns the portfolios in scope.
// GET /api/portfolios?portfolio=main&market=BINANCE
func (h *PortfolioHandler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.engine.GetPortfolios(r.Context(), parseScope(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list portfolios", err)
		return
	}
	if portfolios == nil {
		portfolios = []domain.Portfolio{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolios": portfolios})
}

// ListPositions returns the positions of exactly one portfolio.
// GET /api/positions?portfolio=main
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.engine.GetPositions(r.Context(), parseScope(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// Valuation values every portfolio at current quotes.
// GET /api/valuation
func (h *PortfolioHandler) Valuation(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.engine.Snapshots(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "valuation", err)
		return
	}
	if snaps == nil {
		snaps = []domain.PortfolioSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolios": snaps})
}
