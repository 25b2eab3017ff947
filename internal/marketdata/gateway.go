// Package marketdata serves tickers, order books and candles to strategies,
// either from live venue adapters or from historical data bounded by a
// virtual clock.
package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// AnyMarket is the source key used when no market-specific source exists.
const AnyMarket = "*"

// Gateway is the market data surface strategies read through. Every read is
// side-effect free as far as the ledger is concerned and may run
// concurrently. Missing data is reported as domain.ErrDataUnavailable.
type Gateway interface {
	GetTicker(ctx context.Context, symbol, market string) (domain.Ticker, error)
	GetOrderBook(ctx context.Context, symbol, market string) (domain.OrderBook, error)
	// GetOHLCV returns candles with from <= Timestamp <= to in ascending
	// order. A nil to means "up to now".
	GetOHLCV(ctx context.Context, symbol string, tf domain.TimeFrame, from time.Time, market string, to *time.Time) ([]domain.Candle, error)
}

func normalise(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// tickerFromCandle synthesises a quote from a closed bar.
func tickerFromCandle(symbol string, c domain.Candle) domain.Ticker {
	return domain.Ticker{
		Symbol:    symbol,
		Bid:       c.Close,
		Ask:       c.Close,
		Last:      c.Close,
		Timestamp: c.Timestamp,
	}
}

// bookFromCandle synthesises a one-level book at the close, sized by the
// bar's volume.
func bookFromCandle(symbol string, c domain.Candle) domain.OrderBook {
	level := []domain.BookLevel{{Price: c.Close, Amount: c.Volume}}
	return domain.OrderBook{
		Symbol:    symbol,
		Bids:      level,
		Asks:      []domain.BookLevel{{Price: c.Close, Amount: c.Volume}},
		Timestamp: c.Timestamp,
	}
}
