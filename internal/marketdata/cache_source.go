package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// CacheSource implements domain.MarketDataSource over a shared price cache
// that an external collector keeps current, with candles served from a
// historical provider.
type CacheSource struct {
	cache   domain.PriceCache
	history domain.HistoricalDataProvider
}

// NewCacheSource creates a CacheSource. history may be nil, in which case
// candle reads report no data.
func NewCacheSource(cache domain.PriceCache, history domain.HistoricalDataProvider) *CacheSource {
	return &CacheSource{cache: cache, history: history}
}

// GetTicker returns the cached quote for symbol.
func (s *CacheSource) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	t, err := s.cache.GetTicker(ctx, symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Ticker{}, fmt.Errorf("marketdata: no cached ticker for %s: %w", symbol, domain.ErrDataUnavailable)
	}
	return t, err
}

// GetOrderBook returns a top-of-book snapshot built from the cached quote.
// Sizes are unknown and left at zero.
func (s *CacheSource) GetOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	t, err := s.GetTicker(ctx, symbol)
	if err != nil {
		return domain.OrderBook{}, err
	}
	book := domain.OrderBook{Symbol: t.Symbol, Timestamp: t.Timestamp}
	if t.Bid.IsPositive() {
		book.Bids = []domain.BookLevel{{Price: t.Bid}}
	}
	if t.Ask.IsPositive() {
		book.Asks = []domain.BookLevel{{Price: t.Ask}}
	}
	return book, nil
}

// GetOHLCV reads candles from the historical provider.
func (s *CacheSource) GetOHLCV(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Candle, error) {
	if s.history == nil {
		return nil, fmt.Errorf("marketdata: no candle history for %s: %w", symbol, domain.ErrDataUnavailable)
	}
	return s.history.GetOHLCV(ctx, symbol, tf, from, to)
}

var _ domain.MarketDataSource = (*CacheSource)(nil)
