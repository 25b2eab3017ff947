package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

const (
	defaultStdDevThreshold = 2.0
	defaultWindow          = 20
)

// MeanReversion buys when the last close is significantly below the mean of
// the trailing window and sells the whole position when it is significantly
// above. "Significantly" is measured in multiples of the trailing standard
// deviation (the std_dev_threshold parameter).
type MeanReversion struct {
	name      string
	cadence   Cadence
	symbol    string
	target    string
	scope     domain.PortfolioScope
	timeFrame domain.TimeFrame
	window    int
	threshold float64
	size      decimal.Decimal
	logger    *slog.Logger
}

// NewMeanReversion creates a MeanReversion strategy. The following keys are
// read from cfg.Params:
//
//   - "symbol" (string, required): the TARGET/TRADING pair to trade.
//   - "market" and "portfolio" (string): the portfolio scope.
//   - "time_frame" (string): candle granularity, defaults to the cadence's
//     closest frame.
//   - "window" (int): number of candles in the mean. Defaults to 20.
//   - "std_dev_threshold" (float64): defaults to 2.0.
//   - "size" (string or number, required): trading symbol amount per entry.
func NewMeanReversion(cfg Config, logger *slog.Logger) (*MeanReversion, error) {
	symbol := paramString(cfg.Params, "symbol", "")
	target, _, err := domain.SplitPair(symbol)
	if err != nil {
		return nil, err
	}
	size, err := paramDecimal(cfg.Params, "size")
	if err != nil {
		return nil, err
	}
	if !size.IsPositive() {
		return nil, fmt.Errorf("mean_reversion: size must be positive: %w", domain.ErrValidation)
	}
	tf, err := domain.ParseTimeFrame(paramString(cfg.Params, "time_frame", string(frameFor(cfg.Cadence))))
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "mean_reversion"
	}
	return &MeanReversion{
		name:      name,
		cadence:   cfg.Cadence,
		symbol:    symbol,
		target:    target,
		scope:     domain.PortfolioScope{Market: paramString(cfg.Params, "market", ""), Identifier: paramString(cfg.Params, "portfolio", "")},
		timeFrame: tf,
		window:    paramInt(cfg.Params, "window", defaultWindow),
		threshold: paramFloat(cfg.Params, "std_dev_threshold", defaultStdDevThreshold),
		size:      size,
		logger:    logger.With(slog.String("strategy", name)),
	}, nil
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return mr.name }

// Cadence returns how often the strategy runs.
func (mr *MeanReversion) Cadence() Cadence { return mr.cadence }

// DataRequests asks for the trailing window of candles.
func (mr *MeanReversion) DataRequests() []DataRequest {
	return []DataRequest{{
		Symbol:    mr.symbol,
		Market:    mr.scope.Market,
		TimeFrame: mr.timeFrame,
		Window:    mr.window,
	}}
}

// Run evaluates the last close against the trailing window.
func (mr *MeanReversion) Run(ctx context.Context, algo Algorithm, data MarketData) error {
	candles := data.OHLCV[mr.symbol]
	if len(candles) < mr.window {
		return nil
	}
	candles = candles[len(candles)-mr.window:]

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}
	avg, vol := meanStdDev(closes)
	if vol == 0 {
		return nil
	}
	last := candles[len(candles)-1].Close
	deviation := (last.InexactFloat64() - avg) / vol

	open, err := algo.GetOrders(ctx, mr.scope, domain.OrderQuery{
		TargetSymbol: mr.target,
		Statuses:     domain.NonTerminalStatuses,
	})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return nil
	}

	held := decimal.Zero
	pos, err := algo.GetPosition(ctx, mr.target, mr.scope)
	switch {
	case err == nil:
		held = pos.Amount
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	switch {
	case deviation <= -mr.threshold && held.IsZero():
		mr.logger.InfoContext(ctx, "mean reversion BUY",
			slog.String("symbol", mr.symbol),
			slog.String("close", last.String()),
			slog.Float64("avg", avg),
			slog.Float64("deviation", deviation),
		)
		size := mr.size
		_, err = algo.CreateOrder(ctx, domain.OrderRequest{
			Scope:         mr.scope,
			TargetSymbol:  mr.target,
			Side:          domain.OrderSideBuy,
			Type:          domain.OrderTypeLimit,
			Price:         &last,
			AmountTrading: &size,
			Execute:       true,
			Validate:      true,
		})
		return err
	case deviation >= mr.threshold && held.IsPositive():
		mr.logger.InfoContext(ctx, "mean reversion SELL",
			slog.String("symbol", mr.symbol),
			slog.String("close", last.String()),
			slog.Float64("avg", avg),
			slog.Float64("deviation", deviation),
		)
		_, err = algo.CreateOrder(ctx, domain.OrderRequest{
			Scope:        mr.scope,
			TargetSymbol: mr.target,
			Side:         domain.OrderSideSell,
			Type:         domain.OrderTypeLimit,
			Price:        &last,
			AmountTarget: &held,
			Execute:      true,
			Validate:     true,
		})
		return err
	}
	return nil
}

func meanStdDev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// frameFor picks the candle frame closest to, but not longer than, c.
func frameFor(c Cadence) domain.TimeFrame {
	d := c.Duration()
	best := domain.TimeFrame1m
	for _, tf := range []domain.TimeFrame{domain.TimeFrame1m, domain.TimeFrame5m, domain.TimeFrame15m, domain.TimeFrame1h, domain.TimeFrame4h, domain.TimeFrame1d} {
		if tf.Duration() <= d {
			best = tf
		}
	}
	return best
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

func paramDecimal(params map[string]any, key string) (decimal.Decimal, error) {
	switch v := params[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("param %s: %w", key, domain.ErrValidation)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	}
	return decimal.Zero, fmt.Errorf("param %s is required: %w", key, domain.ErrValidation)
}
