package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/algoengine/internal/algorithm"
	"github.com/alanyoungcy/algoengine/internal/backtest"
	cachemem "github.com/alanyoungcy/algoengine/internal/cache/memory"
	"github.com/alanyoungcy/algoengine/internal/config"
	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/marketdata"
	"github.com/alanyoungcy/algoengine/internal/notify"
	"github.com/alanyoungcy/algoengine/internal/platform/paper"
	"github.com/alanyoungcy/algoengine/internal/server"
	"github.com/alanyoungcy/algoengine/internal/server/handler"
	"github.com/alanyoungcy/algoengine/internal/server/ws"
	"github.com/alanyoungcy/algoengine/internal/service"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// LiveMode runs the strategies against wall time with the paper venue
// filling orders at the quotes an external collector keeps in the price
// cache. With stateless set every strategy runs once, open orders are
// reconciled once and LiveMode returns.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies, stateless bool) error {
	a.logger.InfoContext(ctx, "starting live mode", slog.Bool("stateless", stateless))

	clock := domain.SystemClock{}
	ids := service.UUIDGenerator{}

	var history domain.HistoricalDataProvider
	if dir := a.cfg.MarketData.CSVDir; dir != "" {
		history = marketdata.NewCSVDirProvider(dir)
	}
	// The shared cache is the source; a private one remembers the last good
	// quote for when the shared entry has expired.
	gateway := marketdata.NewLiveGateway(map[string]domain.MarketDataSource{
		marketdata.AnyMarket: marketdata.NewCacheSource(deps.PriceCache, history),
	}, clock, a.logger).WithPriceCache(cachemem.NewPriceCache(), a.cfg.MarketData.TickerMaxAge.Duration)

	balances, err := config.ParseBalances(a.cfg.Paper.Balances)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	venue := paper.NewVenue(gateway, clock, paper.Config{
		Market:      a.cfg.Paper.Market,
		SlippageBps: a.cfg.Paper.SlippageBps,
		FeeBps:      a.cfg.Paper.FeeBps,
		Balances:    balances,
	}).WithLogger(a.logger)
	venues := service.Venues{service.AnyMarket: venue}

	portfolios := service.NewPortfolioService(deps.PortfolioStore, venues, ids, clock, a.logger)
	positions := service.NewPositionService(deps.PositionStore, ids, clock, a.logger)
	orders := service.NewOrderService(deps.OrderStore, portfolios, positions, venues, deps.LockManager, ids, clock, a.logger).
		WithPrices(gateway).
		WithEvents(deps.SignalBus, deps.AuditStore).
		WithTransactor(deps.Ledger).
		WithLockTTL(a.cfg.Lock.TTL.Duration)
	valuation := service.NewValuationService(portfolios, positions, gateway, clock, a.logger).
		WithScale(a.cfg.Valuation.Scale).
		WithSnapshots(deps.SnapshotStore)

	unit, err := strategy.ParseTimeUnit(a.cfg.Reconciliation.TimeUnit)
	if err != nil {
		return fmt.Errorf("live mode: reconciliation: %w", err)
	}
	reconciler := service.NewReconcileService(orders, portfolios, venues,
		strategy.Every(a.cfg.Reconciliation.Interval, unit).Duration(), clock, a.logger).
		WithNotifier(deps.Notifier)

	algo := algorithm.New(algorithm.Services{
		Portfolios: portfolios,
		Positions:  positions,
		Orders:     orders,
		Valuation:  valuation,
		Reconciler: reconciler,
		Data:       gateway,
		Clock:      clock,
	}, a.logger)

	if err := a.initialize(ctx, portfolios, algo); err != nil {
		return fmt.Errorf("live mode: %w", err)
	}

	var runErr error
	if a.cfg.Server.Enabled && !stateless {
		runErr = a.runWithServer(ctx, deps, algo, clock)
	} else {
		runErr = algo.Run(ctx, a.cfg.Scheduler.Iterations, stateless)
	}

	// Shutdown work must outlive the cancelled run context.
	stopCtx := context.WithoutCancel(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.notify(stopCtx, deps, notify.EventReconcileFailed, "Engine error", runErr.Error())
	}
	a.finishLive(stopCtx, deps, portfolios, valuation)
	return runErr
}

// runWithServer runs the algorithm next to the operator API. The API stops
// when the algorithm does.
func (a *App) runWithServer(ctx context.Context, deps *Dependencies, algo *algorithm.Algorithm, clock domain.Clock) error {
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.WSChannels, func() any {
		return map[string]any{
			"mode":       a.cfg.Mode,
			"running":    algo.Running(),
			"strategies": algo.Profiles(),
		}
	}, a.logger)
	srv := server.NewServer(server.Config{
		Addr:   a.cfg.Server.Addr,
		APIKey: a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, clock, algo.Running),
		Orders:     handler.NewOrderHandler(algo, a.logger),
		Portfolios: handler.NewPortfolioHandler(algo, a.logger),
		Strategies: handler.NewStrategyHandler(algo, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		defer stopServer()
		return algo.Run(gctx, a.cfg.Scheduler.Iterations, false)
	})
	g.Go(func() error {
		err := hub.Run(srvCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-srvCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// initialize creates the declared portfolios and registers the strategies.
func (a *App) initialize(ctx context.Context, portfolios *service.PortfolioService, algo *algorithm.Algorithm) error {
	specs, err := portfolioSpecs(a.cfg)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		p, err := portfolios.Initialize(ctx, spec)
		if err != nil {
			return fmt.Errorf("portfolio %s: %w", spec.Identifier, err)
		}
		a.logger.InfoContext(ctx, "portfolio ready",
			slog.String("portfolio", p.Identifier),
			slog.String("market", p.Market),
			slog.String("unallocated", p.Unallocated.String()),
		)
	}
	strategies, err := buildStrategies(a.registry, a.cfg, a.logger)
	if err != nil {
		return err
	}
	return algo.AddStrategies(strategies...)
}

// finishLive snapshots every portfolio, archives closed ledger history when
// configured and announces the stop.
func (a *App) finishLive(ctx context.Context, deps *Dependencies, portfolios *service.PortfolioService, valuation *service.ValuationService) {
	all, err := portfolios.List(ctx, domain.PortfolioScope{})
	if err != nil {
		a.logger.WarnContext(ctx, "list portfolios for final snapshot failed", slog.String("error", err.Error()))
	}
	var summary []string
	for _, p := range all {
		snap, err := valuation.SnapshotOf(ctx, p)
		if err != nil {
			a.logger.WarnContext(ctx, "final snapshot failed",
				slog.String("portfolio", p.Identifier),
				slog.String("error", err.Error()),
			)
			continue
		}
		summary = append(summary, fmt.Sprintf("%s: %s %s", snap.Identifier, snap.TotalValue, snap.TradingSymbol))
	}

	if deps.Archiver != nil {
		now := domain.SystemClock{}.Now()
		n, err := deps.Archiver.ArchiveOrders(ctx, now)
		if err != nil {
			a.logger.WarnContext(ctx, "archive orders failed", slog.String("error", err.Error()))
		}
		for _, p := range all {
			if _, err := deps.Archiver.ArchiveSnapshots(ctx, p.ID, now); err != nil {
				a.logger.WarnContext(ctx, "archive snapshots failed",
					slog.String("portfolio", p.Identifier),
					slog.String("error", err.Error()),
				)
			}
		}
		a.logger.InfoContext(ctx, "ledger archived", slog.Int("orders", n))
	}

	a.notify(ctx, deps, notify.EventEngineStopped, "Engine stopped", strings.Join(summary, "\n"))
}

// BacktestMode replays history through the configured strategies and writes
// the report.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	bt := a.cfg.Backtest
	a.logger.InfoContext(ctx, "starting backtest mode",
		slog.Time("start", bt.Start),
		slog.Time("end", bt.End),
		slog.String("data_source", bt.DataSource),
	)

	var provider domain.HistoricalDataProvider
	switch bt.DataSource {
	case "s3":
		if deps.BlobReader == nil {
			return fmt.Errorf("backtest mode: data_source s3 requires [s3] enabled = true")
		}
		provider = marketdata.NewCSVBlobProvider(deps.BlobReader, bt.S3Prefix)
	default:
		provider = marketdata.NewCSVDirProvider(bt.DataDir)
	}

	tf, err := domain.ParseTimeFrame(bt.TimeFrame)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}
	specs, err := portfolioSpecs(a.cfg)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}
	strategies, err := buildStrategies(a.registry, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}
	balances, err := config.ParseBalances(bt.Balances)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	replay, err := backtest.Prepare(ctx, backtest.Options{
		Start:          bt.Start.UTC(),
		End:            bt.End.UTC(),
		Step:           bt.Step.Duration,
		TimeFrame:      tf,
		FeeBps:         bt.FeeBps,
		Seed:           bt.Seed,
		ValuationScale: a.cfg.Valuation.Scale,
		Portfolios:     specs,
		Balances:       balances,
		Strategies:     strategies,
	}, provider, a.logger)
	if err != nil {
		return fmt.Errorf("backtest mode: prepare: %w", err)
	}

	report, err := replay.Driver.Run(ctx)
	switch {
	case report != nil && errors.Is(err, domain.ErrReplayExhausted):
		a.logger.WarnContext(ctx, "history ended before the end bound, writing partial report",
			slog.Time("reached_at", report.ReachedAt),
			slog.String("error", err.Error()),
		)
	case err != nil:
		return fmt.Errorf("backtest mode: run: %w", err)
	}

	writer := backtest.NewReportWriter(bt.ReportDir, a.logger)
	if bt.UploadReport {
		if deps.BlobWriter == nil {
			a.logger.WarnContext(ctx, "backtest.upload_report is set but [s3] is disabled, report stays local")
		} else {
			writer.WithUpload(deps.BlobWriter, bt.ReportPrefix)
		}
	}
	location, err := writer.Write(ctx, report)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	summary := report.Summary()
	fmt.Fprint(os.Stdout, summary)
	a.notify(ctx, deps, notify.EventBacktestFinished, "Backtest finished", summary+"\n"+location)
	return nil
}

func (a *App) notify(ctx context.Context, deps *Dependencies, event, title, message string) {
	if deps.Notifier == nil {
		return
	}
	if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
