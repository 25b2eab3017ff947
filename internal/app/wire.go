package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/algoengine/internal/blob/s3"
	cachemem "github.com/alanyoungcy/algoengine/internal/cache/memory"
	"github.com/alanyoungcy/algoengine/internal/cache/redis"
	"github.com/alanyoungcy/algoengine/internal/config"
	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/notify"
	"github.com/alanyoungcy/algoengine/internal/service"
	storemem "github.com/alanyoungcy/algoengine/internal/store/memory"
	"github.com/alanyoungcy/algoengine/internal/store/postgres"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// Dependencies bundles the infrastructure the modes run on. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger stores. Nil in backtest mode, which keeps its own.
	PortfolioStore domain.PortfolioStore
	PositionStore  domain.PositionStore
	OrderStore     domain.OrderStore
	SnapshotStore  domain.SnapshotStore
	AuditStore     domain.AuditStore
	// Ledger books fills atomically across the order, position and
	// portfolio stores.
	Ledger domain.Transactor

	// Caches
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage. Nil unless [s3] is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs the concrete implementations selected by cfg and returns
// them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, clock domain.Clock, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	live := cfg.Mode != config.ModeBacktest

	// --- Ledger stores ---
	switch {
	case live && cfg.Postgres.Enabled:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PortfolioStore = postgres.NewPortfolioStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool, clock)
		deps.Ledger = postgres.NewLedger(pool)
	case live:
		logger.WarnContext(ctx, "postgres disabled, ledger is kept in memory and lost on exit")
		deps.PortfolioStore = storemem.NewPortfolioStore()
		deps.PositionStore = storemem.NewPositionStore()
		deps.OrderStore = storemem.NewOrderStore()
		deps.SnapshotStore = storemem.NewSnapshotStore()
		deps.AuditStore = storemem.NewAuditStore(clock)
		deps.Ledger = storemem.NewLedger(deps.OrderStore, deps.PositionStore, deps.PortfolioStore)
	}

	// --- Redis ---
	if live && cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close failed", slog.String("error", err.Error()))
			}
		})

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.MarketData.PriceCacheTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Lock.Backend == "redis" {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
	}
	if deps.PriceCache == nil {
		deps.PriceCache = cachemem.NewPriceCache()
	}
	if deps.SignalBus == nil {
		deps.SignalBus = cachemem.NewSignalBus()
	}
	if deps.LockManager == nil {
		deps.LockManager = cachemem.NewLockManager()
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		writer := s3blob.NewWriter(s3Client, cfg.S3.PartSizeMB<<20)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client)
		if live && cfg.S3.ArchiveOnShutdown {
			deps.Archiver = s3blob.NewArchiver(writer, deps.OrderStore, deps.SnapshotStore, deps.AuditStore, cfg.S3.ArchivePrefix)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// portfolioSpecs converts the declared portfolios.
func portfolioSpecs(cfg *config.Config) ([]service.PortfolioSpec, error) {
	specs := make([]service.PortfolioSpec, 0, len(cfg.Portfolios))
	for _, p := range cfg.Portfolios {
		spec := service.PortfolioSpec{
			Identifier:    p.Identifier,
			Market:        strings.ToUpper(p.Market),
			TradingSymbol: strings.ToUpper(p.TradingSymbol),
			SyncBalance:   p.SyncBalance,
		}
		if p.InitialBalance != "" {
			balance, err := decimal.NewFromString(p.InitialBalance)
			if err != nil {
				return nil, fmt.Errorf("portfolio %s: initial balance: %w", p.Identifier, err)
			}
			spec.InitialBalance = balance
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// buildStrategies builds the declared strategies through reg, in
// declaration order.
func buildStrategies(reg *strategy.Registry, cfg *config.Config, logger *slog.Logger) ([]strategy.Strategy, error) {
	out := make([]strategy.Strategy, 0, len(cfg.Strategies))
	for i, sc := range cfg.Strategies {
		unit, err := strategy.ParseTimeUnit(sc.TimeUnit)
		if err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", sc.Kind, i)
		}
		st, err := reg.Build(strategy.Config{
			Name:    name,
			Kind:    sc.Kind,
			Cadence: strategy.Every(sc.Interval, unit),
			Params:  sc.Params,
		}, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
