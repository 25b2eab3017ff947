package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/algorithm"
	cachemem "github.com/alanyoungcy/algoengine/internal/cache/memory"
	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/marketdata"
	"github.com/alanyoungcy/algoengine/internal/service"
	storemem "github.com/alanyoungcy/algoengine/internal/store/memory"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// Options configures a replay.
type Options struct {
	Start time.Time
	End   time.Time
	// Step defaults to the greatest common divisor of the strategy cadences.
	Step time.Duration
	// TimeFrame is the candle frame used for quotes and fills.
	TimeFrame      domain.TimeFrame
	FeeBps         int64
	Seed           string
	ValuationScale int32
	Portfolios     []service.PortfolioSpec
	// Balances is what the simulated venue reports to portfolios that sync
	// their opening balance.
	Balances   map[string]decimal.Decimal
	Strategies []strategy.Strategy
	// Series defaults to every series the strategies request.
	Series []Series
}

// Replay is a fully wired backtest: an in-memory ledger, the simulated venue
// and the algorithm strategies run against.
type Replay struct {
	Driver    *Driver
	Algorithm *algorithm.Algorithm
	Clock     *Clock
	Venue     *Venue
	Gateway   *marketdata.BacktestGateway
}

// Prepare builds a Replay over provider. Identifiers are derived from
// opts.Seed, so two replays with the same inputs produce the same records.
func Prepare(ctx context.Context, opts Options, provider domain.HistoricalDataProvider, logger *slog.Logger) (*Replay, error) {
	if opts.TimeFrame.Duration() == 0 {
		return nil, fmt.Errorf("backtest: time frame %q: %w", opts.TimeFrame, domain.ErrValidation)
	}
	step := opts.Step
	if step <= 0 {
		cadences := make([]strategy.Cadence, 0, len(opts.Strategies))
		for _, st := range opts.Strategies {
			cadences = append(cadences, st.Cadence())
		}
		step = strategy.GreatestCommonStep(opts.TimeFrame.Duration(), cadences...)
	}
	clock, err := NewClock(opts.Start, opts.End, step)
	if err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == "" {
		seed = "backtest"
	}

	ids := service.NewSequenceGenerator(seed)
	gateway := marketdata.NewBacktestGateway(provider, clock, opts.TimeFrame)
	venue := NewVenue(gateway, clock, opts.TimeFrame, opts.FeeBps).WithBalances(opts.Balances)
	venues := service.Venues{service.AnyMarket: venue}

	portfolioStore := storemem.NewPortfolioStore()
	positionStore := storemem.NewPositionStore()
	orderStore := storemem.NewOrderStore()
	portfolios := service.NewPortfolioService(portfolioStore, venues, ids, clock, logger)
	positions := service.NewPositionService(positionStore, ids, clock, logger)
	orders := service.NewOrderService(orderStore, portfolios, positions, venues,
		cachemem.NewLockManager(), ids, clock, logger).
		WithPrices(gateway).
		WithTransactor(storemem.NewLedger(orderStore, positionStore, portfolioStore))
	valuation := service.NewValuationService(portfolios, positions, gateway, clock, logger)
	if opts.ValuationScale > 0 {
		valuation.WithScale(opts.ValuationScale)
	}
	reconciler := service.NewReconcileService(orders, portfolios, venues, step, clock, logger)

	algo := algorithm.New(algorithm.Services{
		Portfolios: portfolios,
		Positions:  positions,
		Orders:     orders,
		Valuation:  valuation,
		Reconciler: reconciler,
		Data:       gateway,
		Clock:      clock,
	}, logger)

	for _, spec := range opts.Portfolios {
		if _, err := portfolios.Initialize(ctx, spec); err != nil {
			return nil, fmt.Errorf("backtest: portfolio %s: %w", spec.Identifier, err)
		}
	}
	if err := algo.AddStrategies(opts.Strategies...); err != nil {
		return nil, err
	}

	series := opts.Series
	if len(series) == 0 {
		series = SeriesFor(opts.Strategies)
	}
	return &Replay{
		Driver:    NewDriver(algo, clock, provider, series, logger),
		Algorithm: algo,
		Clock:     clock,
		Venue:     venue,
		Gateway:   gateway,
	}, nil
}
