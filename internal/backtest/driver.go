package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/algoengine/internal/algorithm"
	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// Series names one historical candle series the replay depends on.
type Series struct {
	Symbol    string
	TimeFrame domain.TimeFrame
}

// SeriesFor collects the distinct series the strategies request data for.
func SeriesFor(strategies []strategy.Strategy) []Series {
	seen := make(map[Series]bool)
	var out []Series
	for _, st := range strategies {
		req, ok := st.(strategy.DataRequester)
		if !ok {
			continue
		}
		for _, dr := range req.DataRequests() {
			if dr.TimeFrame == "" {
				continue
			}
			s := Series{Symbol: dr.Symbol, TimeFrame: dr.TimeFrame}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Driver replays history through an Algorithm. Each step advances the
// virtual clock, runs the strategies due, lets the simulated venue fill what
// it can, and records the equity of every portfolio. Steps run strictly one
// after another.
type Driver struct {
	algo     *algorithm.Algorithm
	clock    *Clock
	provider domain.HistoricalDataProvider
	series   []Series
	logger   *slog.Logger
	stopped  atomic.Bool
}

// NewDriver creates a Driver. series lists the candle series that must have
// data; the replay ends early once all of them run out.
func NewDriver(
	algo *algorithm.Algorithm,
	clock *Clock,
	provider domain.HistoricalDataProvider,
	series []Series,
	logger *slog.Logger,
) *Driver {
	return &Driver{
		algo:     algo,
		clock:    clock,
		provider: provider,
		series:   series,
		logger:   logger.With(slog.String("component", "backtest")),
	}
}

// Stop ends the replay after the current step.
func (d *Driver) Stop() { d.stopped.Store(true) }

// preflight checks every series has data inside the replay window and
// returns the time the last of them ends.
func (d *Driver) preflight(ctx context.Context) (time.Time, error) {
	if len(d.series) == 0 {
		return time.Time{}, fmt.Errorf("backtest: no data series to replay: %w", domain.ErrDataUnavailable)
	}
	var dataEnd time.Time
	for _, s := range d.series {
		first, last, err := d.provider.Bounds(ctx, s.Symbol, s.TimeFrame)
		if err != nil {
			return time.Time{}, fmt.Errorf("backtest: preflight %s %s: %w", s.Symbol, s.TimeFrame, err)
		}
		if first.After(d.clock.End()) || last.Before(d.clock.Start()) {
			return time.Time{}, fmt.Errorf("backtest: %s %s data covers %s..%s, outside %s..%s: %w",
				s.Symbol, s.TimeFrame, first, last, d.clock.Start(), d.clock.End(), domain.ErrDataUnavailable)
		}
		if last.After(dataEnd) {
			dataEnd = last
		}
	}
	return dataEnd, nil
}

// Run replays from the clock's start to its end. When every series runs out
// before the end bound it returns the partial report together with
// domain.ErrReplayExhausted. A failed preflight returns no report.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	dataEnd, err := d.preflight(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Start: d.clock.Start(),
		End:   d.clock.End(),
		Step:  d.clock.Step().String(),
	}
	d.algo.Scheduler().Anchor(d.clock.Start())
	d.logger.InfoContext(ctx, "backtest started",
		slog.Time("start", report.Start),
		slog.Time("end", report.End),
		slog.Duration("step", d.clock.Step()),
		slog.Int("series", len(d.series)),
	)

	for !d.stopped.Load() && d.clock.Advance() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := d.clock.Now()
		if now.After(dataEnd) {
			report.Exhausted = true
			break
		}

		d.algo.Tick(ctx, now)
		if _, err := d.algo.Reconcile(ctx); err != nil {
			d.logger.WarnContext(ctx, "backtest reconcile failed",
				slog.Time("now", now),
				slog.String("error", err.Error()),
			)
		}
		d.recordEquity(ctx, report, now)
		report.Ticks++
	}
	report.ReachedAt = d.clock.Now()

	if err := d.finish(ctx, report); err != nil {
		return report, err
	}
	d.logger.InfoContext(ctx, "backtest finished",
		slog.Int("ticks", report.Ticks),
		slog.Int("orders", len(report.Orders)),
		slog.Bool("exhausted", report.Exhausted),
	)
	if report.Exhausted {
		return report, fmt.Errorf("backtest: data ends %s, before %s: %w", dataEnd, report.End, domain.ErrReplayExhausted)
	}
	return report, nil
}

func (d *Driver) recordEquity(ctx context.Context, report *Report, now time.Time) {
	snaps, err := d.algo.Snapshots(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "backtest valuation failed",
			slog.Time("now", now),
			slog.String("error", err.Error()),
		)
	}
	for _, s := range snaps {
		report.Equity = append(report.Equity, EquityPoint{
			Time:        now,
			Portfolio:   s.Identifier,
			Unallocated: s.Unallocated,
			TotalValue:  s.TotalValue,
		})
	}
}

func (d *Driver) finish(ctx context.Context, report *Report) error {
	snaps, err := d.algo.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("backtest: final snapshot: %w", err)
	}
	orders, err := d.algo.History(ctx)
	if err != nil {
		return fmt.Errorf("backtest: order history: %w", err)
	}
	report.Portfolios = snaps
	report.Orders = orders
	report.Strategies = d.algo.Profiles()
	return nil
}
