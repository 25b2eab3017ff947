package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// LiveGateway routes reads to the venue adapter registered for a market.
// When a price cache is attached, every fetched ticker is written through to
// it and a failed ticker read falls back to a cached quote that is still
// fresh enough.
type LiveGateway struct {
	sources map[string]domain.MarketDataSource
	cache   domain.PriceCache
	maxAge  time.Duration
	clock   domain.Clock
	logger  *slog.Logger
}

// NewLiveGateway creates a LiveGateway. sources is keyed by upper-cased
// market name; the AnyMarket key serves markets without their own entry.
func NewLiveGateway(sources map[string]domain.MarketDataSource, clock domain.Clock, logger *slog.Logger) *LiveGateway {
	normalised := make(map[string]domain.MarketDataSource, len(sources))
	for market, src := range sources {
		normalised[strings.ToUpper(market)] = src
	}
	return &LiveGateway{
		sources: normalised,
		clock:   clock,
		logger:  logger.With(slog.String("component", "market_data")),
	}
}

// WithPriceCache enables ticker write-through and stale fallback up to
// maxAge.
func (g *LiveGateway) WithPriceCache(cache domain.PriceCache, maxAge time.Duration) *LiveGateway {
	g.cache = cache
	g.maxAge = maxAge
	return g
}

func (g *LiveGateway) source(market string) (domain.MarketDataSource, error) {
	if src, ok := g.sources[strings.ToUpper(market)]; ok {
		return src, nil
	}
	if src, ok := g.sources[AnyMarket]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("marketdata: no source for market %q: %w", market, domain.ErrDataUnavailable)
}

// GetTicker returns the venue's current quote for symbol.
func (g *LiveGateway) GetTicker(ctx context.Context, symbol, market string) (domain.Ticker, error) {
	symbol = normalise(symbol)
	src, err := g.source(market)
	if err != nil {
		return domain.Ticker{}, err
	}

	t, err := src.GetTicker(ctx, symbol)
	if err == nil {
		if t.Symbol == "" {
			t.Symbol = symbol
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = g.clock.Now()
		}
		if g.cache != nil {
			if cerr := g.cache.SetTicker(ctx, t); cerr != nil {
				g.logger.WarnContext(ctx, "price cache write failed",
					slog.String("symbol", symbol),
					slog.String("error", cerr.Error()),
				)
			}
		}
		return t, nil
	}

	if g.cache != nil {
		cached, cerr := g.cache.GetTicker(ctx, symbol)
		if cerr == nil && g.clock.Now().Sub(cached.Timestamp) <= g.maxAge {
			g.logger.WarnContext(ctx, "serving cached ticker",
				slog.String("symbol", symbol),
				slog.Time("cached_at", cached.Timestamp),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
	}
	return domain.Ticker{}, fmt.Errorf("marketdata: ticker %s: %w: %v", symbol, domain.ErrDataUnavailable, err)
}

// GetOrderBook returns the venue's depth snapshot for symbol.
func (g *LiveGateway) GetOrderBook(ctx context.Context, symbol, market string) (domain.OrderBook, error) {
	symbol = normalise(symbol)
	src, err := g.source(market)
	if err != nil {
		return domain.OrderBook{}, err
	}
	book, err := src.GetOrderBook(ctx, symbol)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("marketdata: order book %s: %w: %v", symbol, domain.ErrDataUnavailable, err)
	}
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return domain.OrderBook{}, fmt.Errorf("marketdata: order book %s is empty: %w", symbol, domain.ErrDataUnavailable)
	}
	return book, nil
}

// GetOHLCV returns the venue's candles for symbol between from and to.
func (g *LiveGateway) GetOHLCV(ctx context.Context, symbol string, tf domain.TimeFrame, from time.Time, market string, to *time.Time) ([]domain.Candle, error) {
	symbol = normalise(symbol)
	if tf.Duration() == 0 {
		return nil, fmt.Errorf("marketdata: time frame %q: %w", tf, domain.ErrValidation)
	}
	end := g.clock.Now()
	if to != nil {
		end = *to
	}
	if from.After(end) {
		return nil, fmt.Errorf("marketdata: ohlcv %s: from %s after to %s: %w", symbol, from, end, domain.ErrValidation)
	}

	src, err := g.source(market)
	if err != nil {
		return nil, err
	}
	candles, err := src.GetOHLCV(ctx, symbol, tf, from, end)
	if err != nil {
		return nil, fmt.Errorf("marketdata: ohlcv %s: %w: %v", symbol, domain.ErrDataUnavailable, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("marketdata: ohlcv %s %s: %w", symbol, tf, domain.ErrDataUnavailable)
	}
	return candles, nil
}

var _ Gateway = (*LiveGateway)(nil)
