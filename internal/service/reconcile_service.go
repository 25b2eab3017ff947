package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// ReconcileResult counts what one reconciliation pass did.
type ReconcileResult struct {
	Checked int
	Updated int
	Failed  int
}

func (r *ReconcileResult) add(o ReconcileResult) {
	r.Checked += o.Checked
	r.Updated += o.Updated
	r.Failed += o.Failed
}

// ReconcileStats accumulates results over the service's lifetime.
type ReconcileStats struct {
	Passes  int64
	Checked int64
	Updated int64
	Failed  int64
	LastRun time.Time
}

// ReconcileService polls execution venues for orders the ledger still
// considers open and books whatever changed.
type ReconcileService struct {
	orders     *OrderService
	portfolios *PortfolioService
	venues     Venues
	notifier   Notifier
	interval   time.Duration
	clock      domain.Clock
	logger     *slog.Logger

	mu    sync.Mutex
	stats ReconcileStats
}

// NewReconcileService creates a ReconcileService. interval is how often Run
// polls; it defaults to five seconds.
func NewReconcileService(
	orders *OrderService,
	portfolios *PortfolioService,
	venues Venues,
	interval time.Duration,
	clock domain.Clock,
	logger *slog.Logger,
) *ReconcileService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ReconcileService{
		orders:     orders,
		portfolios: portfolios,
		venues:     venues,
		interval:   interval,
		clock:      clock,
		logger:     logger.With(slog.String("component", "reconciler")),
	}
}

// WithNotifier sends an order_filled alert whenever an order closes.
func (r *ReconcileService) WithNotifier(n Notifier) *ReconcileService {
	r.notifier = n
	return r
}

// Run reconciles every interval until ctx is done. Call in a goroutine.
func (r *ReconcileService) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconcile pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Reconcile checks the non-terminal orders of every portfolio.
func (r *ReconcileService) Reconcile(ctx context.Context) (ReconcileResult, error) {
	portfolios, err := r.portfolios.List(ctx, domain.PortfolioScope{})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconciler: %w", err)
	}
	var total ReconcileResult
	for _, p := range portfolios {
		open, err := r.orders.List(ctx, domain.OrderQuery{PortfolioID: p.ID, Statuses: domain.NonTerminalStatuses})
		if err != nil {
			r.logger.WarnContext(ctx, "list open orders failed",
				slog.String("portfolio", p.Identifier),
				slog.String("error", err.Error()),
			)
			continue
		}
		res, err := r.CheckOrderStatus(ctx, p, open)
		if err != nil {
			r.logger.WarnContext(ctx, "reconcile portfolio failed",
				slog.String("portfolio", p.Identifier),
				slog.String("error", err.Error()),
			)
			continue
		}
		total.add(res)
	}
	return total, nil
}

// CheckOrderStatus asks the portfolio's venue about each submitted,
// non-terminal order and applies any change. A failing order is logged and
// counted and left for the next pass; the rest of the batch still runs.
func (r *ReconcileService) CheckOrderStatus(ctx context.Context, p domain.Portfolio, orders []domain.Order) (ReconcileResult, error) {
	venue, err := r.venues.For(p.Market)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconciler: %w", err)
	}

	var res ReconcileResult
	for _, o := range orders {
		if o.PortfolioID != p.ID || o.Status.IsTerminal() || o.ExternalID == "" {
			continue
		}
		res.Checked++

		vs, err := venue.GetOrderStatus(ctx, o)
		if err != nil {
			res.Failed++
			r.logger.WarnContext(ctx, "order status lookup failed",
				slog.String("order_id", o.ID),
				slog.String("external_id", o.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !vs.Differs(o) {
			continue
		}

		updated, err := r.orders.ApplyVenueUpdate(ctx, o.ID, vs)
		if err != nil {
			res.Failed++
			r.logger.WarnContext(ctx, "apply venue update failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Updated++
		if updated.Status == domain.OrderStatusClosed {
			r.notifyFilled(ctx, p, updated)
		}
	}

	r.mu.Lock()
	r.stats.Passes++
	r.stats.Checked += int64(res.Checked)
	r.stats.Updated += int64(res.Updated)
	r.stats.Failed += int64(res.Failed)
	r.stats.LastRun = r.clock.Now()
	r.mu.Unlock()

	if res.Checked > 0 {
		r.logger.DebugContext(ctx, "reconciled",
			slog.String("portfolio", p.Identifier),
			slog.Int("checked", res.Checked),
			slog.Int("updated", res.Updated),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// Stats returns the accumulated counters.
func (r *ReconcileService) Stats() ReconcileStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *ReconcileService) notifyFilled(ctx context.Context, p domain.Portfolio, o domain.Order) {
	if r.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s %s %s @ %s (fee %s) in %s",
		o.Side, o.FilledAmount, o.Symbol(), o.FillPrice, o.Fee, p.Identifier)
	if err := r.notifier.Notify(ctx, "order_filled", "Order filled", msg); err != nil {
		r.logger.WarnContext(ctx, "notify failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}
