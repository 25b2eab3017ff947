package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionVenue is where orders are actually executed. Implementations own
// their own network timeouts.
type ExecutionVenue interface {
	SubmitOrder(ctx context.Context, order Order) (VenueAck, error)
	// GetOrderStatus looks the order up by its ExternalID.
	GetOrderStatus(ctx context.Context, order Order) (VenueOrderStatus, error)
	CancelOrder(ctx context.Context, order Order) error
	GetBalance(ctx context.Context) (map[string]decimal.Decimal, error)
}

// MarketDataSource is a live, read-only market data adapter.
type MarketDataSource interface {
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetOrderBook(ctx context.Context, symbol string) (OrderBook, error)
	GetOHLCV(ctx context.Context, symbol string, tf TimeFrame, from, to time.Time) ([]Candle, error)
}

// HistoricalDataProvider serves stored candles. GetOHLCV returns candles with
// from <= Timestamp <= to in ascending order; gaps are allowed.
type HistoricalDataProvider interface {
	GetOHLCV(ctx context.Context, symbol string, tf TimeFrame, from, to time.Time) ([]Candle, error)
	// Bounds returns the first and last candle timestamps held for symbol.
	Bounds(ctx context.Context, symbol string, tf TimeFrame) (first, last time.Time, err error)
}

// Clock supplies the current time: wall time when live, virtual time during
// a backtest.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator issues identifiers for new ledger records.
type IDGenerator interface {
	NewID() string
}
