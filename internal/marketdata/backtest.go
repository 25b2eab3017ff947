package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// LatestProvider is implemented by providers that can find the last candle
// at or before a time without loading the whole range.
type LatestProvider interface {
	Latest(ctx context.Context, symbol string, tf domain.TimeFrame, at time.Time) (domain.Candle, error)
}

// BacktestGateway serves historical data as of the clock's current time.
// Nothing timestamped after clock.Now() is ever returned. Tickers and order
// books are synthesised from the latest visible candle of the quote frame.
type BacktestGateway struct {
	provider domain.HistoricalDataProvider
	clock    domain.Clock
	quoteTF  domain.TimeFrame
}

// NewBacktestGateway creates a BacktestGateway. quoteTF is the candle frame
// tickers and order books are derived from.
func NewBacktestGateway(provider domain.HistoricalDataProvider, clock domain.Clock, quoteTF domain.TimeFrame) *BacktestGateway {
	return &BacktestGateway{provider: provider, clock: clock, quoteTF: quoteTF}
}

// GetOHLCV returns candles with from <= Timestamp <= min(to, now).
func (g *BacktestGateway) GetOHLCV(ctx context.Context, symbol string, tf domain.TimeFrame, from time.Time, _ string, to *time.Time) ([]domain.Candle, error) {
	symbol = normalise(symbol)
	now := g.clock.Now()
	end := now
	if to != nil && to.Before(now) {
		end = *to
	}
	if from.After(end) {
		return nil, fmt.Errorf("marketdata: ohlcv %s: from %s after %s: %w", symbol, from, end, domain.ErrDataUnavailable)
	}

	candles, err := g.provider.GetOHLCV(ctx, symbol, tf, from, end)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		if !c.Timestamp.After(now) {
			visible = append(visible, c)
		}
	}
	if len(visible) == 0 {
		return nil, fmt.Errorf("marketdata: no %s candles for %s in [%s, %s]: %w", tf, symbol, from, end, domain.ErrDataUnavailable)
	}
	return visible, nil
}

// GetTicker quotes the close of the latest visible candle.
func (g *BacktestGateway) GetTicker(ctx context.Context, symbol, _ string) (domain.Ticker, error) {
	symbol = normalise(symbol)
	c, err := g.Latest(ctx, symbol, g.quoteTF)
	if err != nil {
		return domain.Ticker{}, err
	}
	return tickerFromCandle(symbol, c), nil
}

// GetOrderBook returns a one-level book at the latest visible close.
func (g *BacktestGateway) GetOrderBook(ctx context.Context, symbol, _ string) (domain.OrderBook, error) {
	symbol = normalise(symbol)
	c, err := g.Latest(ctx, symbol, g.quoteTF)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return bookFromCandle(symbol, c), nil
}

// Latest returns the last candle of tf with Timestamp <= now.
func (g *BacktestGateway) Latest(ctx context.Context, symbol string, tf domain.TimeFrame) (domain.Candle, error) {
	now := g.clock.Now()
	if lp, ok := g.provider.(LatestProvider); ok {
		return lp.Latest(ctx, symbol, tf, now)
	}

	first, _, err := g.provider.Bounds(ctx, symbol, tf)
	if err != nil {
		return domain.Candle{}, err
	}
	if first.After(now) {
		return domain.Candle{}, fmt.Errorf("marketdata: %s data starts at %s: %w", symbol, first, domain.ErrDataUnavailable)
	}
	candles, err := g.GetOHLCV(ctx, symbol, tf, first, "", &now)
	if err != nil {
		return domain.Candle{}, err
	}
	return candles[len(candles)-1], nil
}

// Provider returns the underlying historical provider.
func (g *BacktestGateway) Provider() domain.HistoricalDataProvider { return g.provider }

// QuoteTimeFrame returns the frame tickers are derived from.
func (g *BacktestGateway) QuoteTimeFrame() domain.TimeFrame { return g.quoteTF }

var _ Gateway = (*BacktestGateway)(nil)
