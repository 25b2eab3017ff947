// Package algorithm is the facade strategies act through. It binds the
// scheduler to one ledger, one valuation service and one market data
// gateway, so a strategy sees the same state whether it runs live or inside
// a backtest.
package algorithm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/marketdata"
	"github.com/alanyoungcy/algoengine/internal/service"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// Services groups the collaborators an Algorithm is built from.
type Services struct {
	Portfolios *service.PortfolioService
	Positions  *service.PositionService
	Orders     *service.OrderService
	Valuation  *service.ValuationService
	Reconciler *service.ReconcileService
	Data       marketdata.Gateway
	Clock      domain.Clock
}

// Algorithm implements strategy.Algorithm and owns the strategy scheduler.
type Algorithm struct {
	portfolios *service.PortfolioService
	positions  *service.PositionService
	orders     *service.OrderService
	valuation  *service.ValuationService
	reconciler *service.ReconcileService
	data       marketdata.Gateway
	clock      domain.Clock
	scheduler  *strategy.Scheduler
	logger     *slog.Logger
}

// New creates an Algorithm and its scheduler.
func New(svc Services, logger *slog.Logger) *Algorithm {
	a := &Algorithm{
		portfolios: svc.Portfolios,
		positions:  svc.Positions,
		orders:     svc.Orders,
		valuation:  svc.Valuation,
		reconciler: svc.Reconciler,
		data:       svc.Data,
		clock:      svc.Clock,
		logger:     logger.With(slog.String("component", "algorithm")),
	}
	a.scheduler = strategy.NewScheduler(a, svc.Data, svc.Clock, logger)
	return a
}

// Scheduler exposes the underlying scheduler.
func (a *Algorithm) Scheduler() *strategy.Scheduler { return a.scheduler }

// AddStrategies registers strategies after those already present.
func (a *Algorithm) AddStrategies(strategies ...strategy.Strategy) error {
	return a.scheduler.Add(strategies...)
}

// Now returns the engine's current time, virtual during a backtest.
func (a *Algorithm) Now() time.Time { return a.clock.Now() }

// Run drives the scheduler. With stateless set it runs the due strategies once,
// reconciles once and returns. Otherwise it ticks until iterations ticks
// have run (0 means until Stop or ctx ends) while the reconciler polls the
// venues alongside.
func (a *Algorithm) Run(ctx context.Context, iterations int, stateless bool) error {
	if stateless {
		ran := a.scheduler.RunPending(ctx, a.clock.Now())
		a.logger.InfoContext(ctx, "stateless run complete", slog.Int("strategies", len(ran)))
		if a.reconciler != nil {
			if _, err := a.reconciler.Reconcile(ctx); err != nil {
				return fmt.Errorf("algorithm: reconcile: %w", err)
			}
		}
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return a.scheduler.Run(gctx, iterations)
	})
	if a.reconciler != nil {
		g.Go(func() error {
			err := a.reconciler.Run(gctx)
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Tick runs the strategies due at now. Used by the backtest driver, which
// owns the clock.
func (a *Algorithm) Tick(ctx context.Context, now time.Time) []string {
	return a.scheduler.Tick(ctx, now)
}

// Reconcile runs one reconciliation pass over every portfolio.
func (a *Algorithm) Reconcile(ctx context.Context) (service.ReconcileResult, error) {
	if a.reconciler == nil {
		return service.ReconcileResult{}, nil
	}
	return a.reconciler.Reconcile(ctx)
}

// CheckOrderStatus reconciles the open orders of the portfolios in scope
// right away instead of waiting for the reconciler's next pass.
func (a *Algorithm) CheckOrderStatus(ctx context.Context, scope domain.PortfolioScope) (service.ReconcileResult, error) {
	if a.reconciler == nil {
		return service.ReconcileResult{}, nil
	}
	portfolios, err := a.scoped(ctx, scope)
	if err != nil {
		return service.ReconcileResult{}, err
	}
	var total service.ReconcileResult
	for _, p := range portfolios {
		open, err := a.orders.List(ctx, domain.OrderQuery{PortfolioID: p.ID, Statuses: domain.NonTerminalStatuses})
		if err != nil {
			return total, err
		}
		res, err := a.reconciler.CheckOrderStatus(ctx, p, open)
		if err != nil {
			return total, err
		}
		total.Checked += res.Checked
		total.Updated += res.Updated
		total.Failed += res.Failed
	}
	return total, nil
}

// Stop ends a running Run after the current tick.
func (a *Algorithm) Stop() { a.scheduler.Stop() }

// Running reports whether Run is active.
func (a *Algorithm) Running() bool { return a.scheduler.Running() }

// Profiles returns the strategies' runtime records.
func (a *Algorithm) Profiles() []strategy.Profile { return a.scheduler.Profiles() }

// CreateOrder resolves the request's portfolio and records the order. With
// Execute set the order is submitted to the venue straight away.
func (a *Algorithm) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	p, err := a.portfolios.Resolve(ctx, req.Scope)
	if err != nil {
		return domain.Order{}, err
	}
	spec := domain.OrderSpec{
		PortfolioID:   p.ID,
		TargetSymbol:  req.TargetSymbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		AmountTarget:  req.AmountTarget,
		AmountTrading: req.AmountTrading,
	}
	return a.orders.Create(ctx, spec, req.Execute, req.Validate)
}

// CreateLimitOrder is CreateOrder for a validated LIMIT order sized in the
// target symbol.
func (a *Algorithm) CreateLimitOrder(
	ctx context.Context,
	scope domain.PortfolioScope,
	targetSymbol string,
	side domain.OrderSide,
	price, amount decimal.Decimal,
	execute bool,
) (domain.Order, error) {
	return a.CreateOrder(ctx, domain.OrderRequest{
		Scope:        scope,
		TargetSymbol: targetSymbol,
		Side:         side,
		Type:         domain.OrderTypeLimit,
		Price:        &price,
		AmountTarget: &amount,
		Execute:      execute,
		Validate:     true,
	})
}

// CreateMarketOrder is CreateOrder for a validated MARKET order sized in the
// target symbol.
func (a *Algorithm) CreateMarketOrder(
	ctx context.Context,
	scope domain.PortfolioScope,
	targetSymbol string,
	side domain.OrderSide,
	amount decimal.Decimal,
	execute bool,
) (domain.Order, error) {
	return a.CreateOrder(ctx, domain.OrderRequest{
		Scope:        scope,
		TargetSymbol: targetSymbol,
		Side:         side,
		Type:         domain.OrderTypeMarket,
		AmountTarget: &amount,
		Execute:      execute,
		Validate:     true,
	})
}

// CancelOrder cancels an order locally and, if it was submitted, at the
// venue.
func (a *Algorithm) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return a.orders.Cancel(ctx, orderID)
}

// GetOrder returns one order by ID.
func (a *Algorithm) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return a.orders.Get(ctx, orderID)
}

// GetOrders lists the orders of every portfolio in scope matching q, newest
// first. A scope matching no portfolio fails with domain.ErrNoPortfolioFound.
func (a *Algorithm) GetOrders(ctx context.Context, scope domain.PortfolioScope, q domain.OrderQuery) ([]domain.Order, error) {
	if q.PortfolioID != "" {
		return a.orders.List(ctx, q)
	}
	portfolios, err := a.scoped(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(portfolios) == 1 {
		q.PortfolioID = portfolios[0].ID
		return a.orders.List(ctx, q)
	}

	ids := make([]string, len(portfolios))
	for i, p := range portfolios {
		ids[i] = p.ID
	}
	limit := q.Limit
	q.Limit = 0
	all, err := a.orders.List(ctx, q)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if slices.Contains(ids, o.PortfolioID) {
			out = append(out, o)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// History returns every order in creation order.
func (a *Algorithm) History(ctx context.Context) ([]domain.Order, error) {
	orders, err := a.orders.List(ctx, domain.OrderQuery{})
	if err != nil {
		return nil, err
	}
	slices.Reverse(orders)
	return orders, nil
}

// GetPortfolio resolves exactly one portfolio.
func (a *Algorithm) GetPortfolio(ctx context.Context, scope domain.PortfolioScope) (domain.Portfolio, error) {
	return a.portfolios.Resolve(ctx, scope)
}

// GetPortfolios lists the portfolios in scope.
func (a *Algorithm) GetPortfolios(ctx context.Context, scope domain.PortfolioScope) ([]domain.Portfolio, error) {
	return a.portfolios.List(ctx, scope)
}

// GetPosition returns the position in symbol of the portfolio in scope.
func (a *Algorithm) GetPosition(ctx context.Context, symbol string, scope domain.PortfolioScope) (domain.Position, error) {
	p, err := a.portfolios.Resolve(ctx, scope)
	if err != nil {
		return domain.Position{}, err
	}
	return a.positions.Find(ctx, p.ID, symbol)
}

// GetPositions lists every position of the portfolio in scope.
func (a *Algorithm) GetPositions(ctx context.Context, scope domain.PortfolioScope) ([]domain.Position, error) {
	p, err := a.portfolios.Resolve(ctx, scope)
	if err != nil {
		return nil, err
	}
	return a.positions.List(ctx, domain.PositionQuery{PortfolioID: p.ID})
}

// GetUnallocated returns the free trading symbol balance.
func (a *Algorithm) GetUnallocated(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error) {
	return a.valuation.GetUnallocated(ctx, scope)
}

// GetAllocated returns the value of all positions.
func (a *Algorithm) GetAllocated(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error) {
	return a.valuation.GetAllocated(ctx, scope)
}

// GetTotalValue returns unallocated plus allocated.
func (a *Algorithm) GetTotalValue(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error) {
	return a.valuation.GetTotalValue(ctx, scope)
}

// GetPositionPercentage returns the share of allocated value held in symbol.
func (a *Algorithm) GetPositionPercentage(ctx context.Context, symbol string, scope domain.PortfolioScope) (decimal.Decimal, error) {
	return a.valuation.GetPositionPercentage(ctx, symbol, scope)
}

// Snapshots values every portfolio in creation order.
func (a *Algorithm) Snapshots(ctx context.Context) ([]domain.PortfolioSnapshot, error) {
	portfolios, err := a.portfolios.List(ctx, domain.PortfolioScope{})
	if err != nil {
		return nil, err
	}
	snaps := make([]domain.PortfolioSnapshot, 0, len(portfolios))
	for _, p := range portfolios {
		snap, err := a.valuation.SnapshotOf(ctx, p)
		if err != nil {
			return snaps, fmt.Errorf("algorithm: snapshot %s: %w", p.Identifier, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// GetTicker reads the current quote through the gateway.
func (a *Algorithm) GetTicker(ctx context.Context, symbol, market string) (domain.Ticker, error) {
	if a.data == nil {
		return domain.Ticker{}, fmt.Errorf("algorithm: no market data gateway: %w", domain.ErrDataUnavailable)
	}
	return a.data.GetTicker(ctx, symbol, market)
}

// GetOrderBook reads the current depth through the gateway.
func (a *Algorithm) GetOrderBook(ctx context.Context, symbol, market string) (domain.OrderBook, error) {
	if a.data == nil {
		return domain.OrderBook{}, fmt.Errorf("algorithm: no market data gateway: %w", domain.ErrDataUnavailable)
	}
	return a.data.GetOrderBook(ctx, symbol, market)
}

// GetOHLCV reads candles through the gateway.
func (a *Algorithm) GetOHLCV(ctx context.Context, symbol string, tf domain.TimeFrame, from time.Time, market string, to *time.Time) ([]domain.Candle, error) {
	if a.data == nil {
		return nil, fmt.Errorf("algorithm: no market data gateway: %w", domain.ErrDataUnavailable)
	}
	return a.data.GetOHLCV(ctx, symbol, tf, from, market, to)
}

func (a *Algorithm) scoped(ctx context.Context, scope domain.PortfolioScope) ([]domain.Portfolio, error) {
	portfolios, err := a.portfolios.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(portfolios) == 0 {
		return nil, fmt.Errorf("algorithm: scope %+v: %w", scope, domain.ErrNoPortfolioFound)
	}
	return portfolios, nil
}

var _ strategy.Algorithm = (*Algorithm)(nil)
