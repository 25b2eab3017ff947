package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Strategy is an opaque callable run on a fixed cadence.
type Strategy interface {
	Name() string
	Cadence() Cadence
	Run(ctx context.Context, algo Algorithm, data MarketData) error
}

// DataRequester is implemented by strategies that want market data fetched
// for them before every run.
type DataRequester interface {
	DataRequests() []DataRequest
}

// DataRequest asks for the last Window candles of Symbol, and optionally its
// ticker, as seen at the tick time.
type DataRequest struct {
	Symbol    string
	Market    string
	TimeFrame domain.TimeFrame
	Window    int
	Ticker    bool
}

// MarketData is what the scheduler fetched for one run, keyed by symbol.
type MarketData struct {
	Now     time.Time
	OHLCV   map[string][]domain.Candle
	Tickers map[string]domain.Ticker
}

// DataSource is the read side of the market data gateway.
type DataSource interface {
	GetTicker(ctx context.Context, symbol, market string) (domain.Ticker, error)
	GetOHLCV(ctx context.Context, symbol string, tf domain.TimeFrame, from time.Time, market string, to *time.Time) ([]domain.Candle, error)
}

// Algorithm is the facade a strategy acts through. Every call is bound to
// the same ledger, valuation and market data the scheduler uses.
type Algorithm interface {
	DataSource

	Now() time.Time
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrders(ctx context.Context, scope domain.PortfolioScope, q domain.OrderQuery) ([]domain.Order, error)
	GetPortfolio(ctx context.Context, scope domain.PortfolioScope) (domain.Portfolio, error)
	GetPosition(ctx context.Context, symbol string, scope domain.PortfolioScope) (domain.Position, error)
	GetUnallocated(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error)
	GetAllocated(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error)
	GetPositionPercentage(ctx context.Context, symbol string, scope domain.PortfolioScope) (decimal.Decimal, error)
}

// Func is the signature of a strategy body.
type Func func(ctx context.Context, algo Algorithm, data MarketData) error

type funcStrategy struct {
	name     string
	cadence  Cadence
	fn       Func
	requests []DataRequest
}

// New wraps fn as a Strategy.
func New(name string, cadence Cadence, fn Func, requests ...DataRequest) Strategy {
	return &funcStrategy{name: name, cadence: cadence, fn: fn, requests: requests}
}

func (f *funcStrategy) Name() string               { return f.name }
func (f *funcStrategy) Cadence() Cadence           { return f.cadence }
func (f *funcStrategy) DataRequests() []DataRequest { return f.requests }

func (f *funcStrategy) Run(ctx context.Context, algo Algorithm, data MarketData) error {
	return f.fn(ctx, algo, data)
}

// Config describes a strategy built from configuration.
type Config struct {
	Name    string
	Kind    string
	Cadence Cadence
	Params  map[string]any
}
