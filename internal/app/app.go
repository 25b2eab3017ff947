// Package app wires the engine together from configuration and runs it in
// the configured mode: live, stateless or backtest.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/algoengine/internal/config"
	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *strategy.Registry
	closers  []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "app")),
		registry: strategy.NewRegistry(),
	}
}

// Registry exposes the strategy registry so callers can add their own kinds
// before Run.
func (a *App) Registry() *strategy.Registry { return a.registry }

// Run wires dependencies, runs the selected mode and blocks until it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, domain.SystemClock{}, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch a.cfg.Mode {
	case config.ModeLive:
		return a.LiveMode(ctx, deps, false)
	case config.ModeStateless:
		return a.LiveMode(ctx, deps, true)
	case config.ModeBacktest:
		return a.BacktestMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
