// Package server exposes the running engine over HTTP: ledger reads, manual
// orders, strategy profiles and a WebSocket stream of order events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/algoengine/internal/server/handler"
	"github.com/alanyoungcy/algoengine/internal/server/middleware"
	"github.com/alanyoungcy/algoengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr string
	// APIKey guards every route except health. Empty disables auth.
	APIKey string
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Orders     *handler.OrderHandler
	Portfolios *handler.PortfolioHandler
	Strategies *handler.StrategyHandler
}

// Server is the operator HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain. hub may
// be nil, in which case /ws is not served.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/portfolios", handlers.Portfolios.ListPortfolios)
	mux.HandleFunc("GET /api/positions", handlers.Portfolios.ListPositions)
	mux.HandleFunc("GET /api/valuation", handlers.Portfolios.Valuation)

	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("POST /api/orders", handlers.Orders.PlaceOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)

	mux.HandleFunc("GET /api/strategies", handlers.Strategies.ListProfiles)
	mux.HandleFunc("POST /api/strategies/stop", handlers.Strategies.Stop)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	h := middleware.Chain(mux,
		middleware.Recover(logger),
		middleware.Logging(logger),
		middleware.Auth(cfg.APIKey, "/api/health"),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests up to the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
