// Package config defines the engine configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Run modes.
const (
	ModeLive      = "live"
	ModeBacktest  = "backtest"
	ModeStateless = "stateless"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by ALGOENGINE_* environment variables.
type Config struct {
	Mode           string               `toml:"mode"`
	LogLevel       string               `toml:"log_level"`
	Portfolios     []PortfolioConfig    `toml:"portfolios"`
	Strategies     []StrategyConfig     `toml:"strategies"`
	Scheduler      SchedulerConfig      `toml:"scheduler"`
	Reconciliation ReconciliationConfig `toml:"reconciliation"`
	Backtest       BacktestConfig       `toml:"backtest"`
	Valuation      ValuationConfig      `toml:"valuation"`
	MarketData     MarketDataConfig     `toml:"market_data"`
	Lock           LockConfig           `toml:"lock"`
	Paper          PaperConfig          `toml:"paper"`
	Postgres       PostgresConfig       `toml:"postgres"`
	Redis          RedisConfig          `toml:"redis"`
	S3             S3Config             `toml:"s3"`
	Notify         NotifyConfig         `toml:"notify"`
	Server         ServerConfig         `toml:"server"`
}

// PortfolioConfig declares one portfolio.
type PortfolioConfig struct {
	Identifier     string `toml:"identifier"`
	Market         string `toml:"market"`
	TradingSymbol  string `toml:"trading_symbol"`
	InitialBalance string `toml:"initial_balance"`
	SyncBalance    bool   `toml:"sync_balance"`
}

// StrategyConfig declares one strategy instance.
type StrategyConfig struct {
	Name     string         `toml:"name"`
	Kind     string         `toml:"kind"`
	TimeUnit string         `toml:"time_unit"`
	Interval int            `toml:"interval"`
	Params   map[string]any `toml:"params"`
}

// SchedulerConfig bounds the live loop. Zero iterations runs until stopped.
type SchedulerConfig struct {
	Iterations int `toml:"iterations"`
}

// ReconciliationConfig sets how often open orders are checked.
type ReconciliationConfig struct {
	TimeUnit string `toml:"time_unit"`
	Interval int    `toml:"interval"`
}

// BacktestConfig describes a replay.
type BacktestConfig struct {
	Start     time.Time `toml:"start"`
	End       time.Time `toml:"end"`
	Step      duration  `toml:"step"`
	TimeFrame string    `toml:"time_frame"`
	// DataSource is "csv" (DataDir) or "s3" (S3Prefix in the [s3] bucket).
	DataSource   string            `toml:"data_source"`
	DataDir      string            `toml:"data_dir"`
	S3Prefix     string            `toml:"s3_prefix"`
	FeeBps       int64             `toml:"fee_bps"`
	Seed         string            `toml:"seed"`
	Balances     map[string]string `toml:"balances"`
	ReportDir    string            `toml:"report_dir"`
	UploadReport bool              `toml:"upload_report"`
	ReportPrefix string            `toml:"report_prefix"`
}

// ValuationConfig sets the rounding scale of reported values.
type ValuationConfig struct {
	Scale int32 `toml:"scale"`
}

// MarketDataConfig tunes the live gateway.
type MarketDataConfig struct {
	// TickerMaxAge bounds how old a cached quote may be when the live
	// source fails.
	TickerMaxAge  duration `toml:"ticker_max_age"`
	PriceCacheTTL duration `toml:"price_cache_ttl"`
	// CSVDir serves historical candles to live strategies.
	CSVDir string `toml:"csv_dir"`
}

// LockConfig selects the portfolio lock backend.
type LockConfig struct {
	Backend string   `toml:"backend"`
	TTL     duration `toml:"ttl"`
}

// PaperConfig tunes the simulated live venue.
type PaperConfig struct {
	Market      string            `toml:"market"`
	SlippageBps int64             `toml:"slippage_bps"`
	FeeBps      int64             `toml:"fee_bps"`
	Balances    map[string]string `toml:"balances"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled the
// ledger lives in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled           bool   `toml:"enabled"`
	Endpoint          string `toml:"endpoint"`
	Region            string `toml:"region"`
	Bucket            string `toml:"bucket"`
	AccessKey         string `toml:"access_key"`
	SecretKey         string `toml:"secret_key"`
	UseSSL            bool   `toml:"use_ssl"`
	ForcePathStyle    bool   `toml:"force_path_style"`
	PartSizeMB        int64  `toml:"part_size_mb"`
	ArchiveOnShutdown bool   `toml:"archive_on_shutdown"`
	ArchivePrefix     string `toml:"archive_prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig enables the operator HTTP API in live mode.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	APIKey  string `toml:"api_key"`

	// WSChannels are the signal bus channels streamed over /ws.
	WSChannels []string `toml:"ws_channels"`
}

// duration decodes TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with working values for a local
// paper-trading run.
func Defaults() Config {
	return Config{
		Mode:     ModeLive,
		LogLevel: "info",
		Reconciliation: ReconciliationConfig{
			TimeUnit: "SECOND",
			Interval: 30,
		},
		Backtest: BacktestConfig{
			TimeFrame:  "1h",
			DataSource: "csv",
			DataDir:    "data",
			Seed:       "backtest",
			ReportDir:  "reports",
		},
		Valuation: ValuationConfig{Scale: 8},
		MarketData: MarketDataConfig{
			TickerMaxAge:  duration{time.Minute},
			PriceCacheTTL: duration{10 * time.Minute},
		},
		Lock: LockConfig{
			Backend: "memory",
			TTL:     duration{30 * time.Second},
		},
		Paper: PaperConfig{
			Market:      "PAPER",
			SlippageBps: 5,
			FeeBps:      10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "algoengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "algoengine",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "algoengine",
			ForcePathStyle: true,
			PartSizeMB:     5,
			ArchivePrefix:  "ledger",
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "reconcile_failed", "backtest_finished", "engine_stopped"},
		},
		Server: ServerConfig{
			Addr:       ":8080",
			WSChannels: []string{"orders"},
		},
	}
}

// ApplyModeDefaults adjusts settings a mode cannot use. A backtest keeps its
// whole ledger in memory, so external stores and distributed locks are
// switched off.
func (c *Config) ApplyModeDefaults() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == ModeBacktest {
		c.Postgres.Enabled = false
		c.Redis.Enabled = false
		c.Lock.Backend = "memory"
		c.S3.ArchiveOnShutdown = false
		c.Server.Enabled = false
	}
}

var validModes = map[string]bool{
	ModeLive:      true,
	ModeBacktest:  true,
	ModeStateless: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTimeUnits = map[string]bool{
	"SECOND": true, "MINUTE": true, "HOUR": true, "DAY": true,
}

func validUnit(u string) bool {
	return validTimeUnits[strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(u)), "S")]
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: live, backtest, stateless)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if len(c.Portfolios) == 0 {
		add("portfolios: at least one [[portfolios]] entry is required")
	}
	seen := make(map[string]bool)
	for i, p := range c.Portfolios {
		id := strings.ToLower(p.Identifier)
		switch {
		case id == "":
			add("portfolios[%d]: identifier must not be empty", i)
		case seen[id]:
			add("portfolios[%d]: duplicate identifier %q", i, p.Identifier)
		}
		seen[id] = true
		if p.Market == "" {
			add("portfolios[%d]: market must not be empty", i)
		}
		if p.TradingSymbol == "" {
			add("portfolios[%d]: trading_symbol must not be empty", i)
		}
		if p.InitialBalance != "" {
			if d, err := decimal.NewFromString(p.InitialBalance); err != nil || d.IsNegative() {
				add("portfolios[%d]: initial_balance %q must be a non-negative decimal", i, p.InitialBalance)
			}
		}
	}

	if len(c.Strategies) == 0 {
		add("strategies: at least one [[strategies]] entry is required")
	}
	names := make(map[string]bool)
	for i, s := range c.Strategies {
		if s.Kind == "" {
			add("strategies[%d]: kind must not be empty", i)
		}
		if s.Name != "" && names[s.Name] {
			add("strategies[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true
		if !validUnit(s.TimeUnit) {
			add("strategies[%d]: unknown time_unit %q", i, s.TimeUnit)
		}
		if s.Interval <= 0 {
			add("strategies[%d]: interval must be > 0", i)
		}
	}

	if c.Scheduler.Iterations < 0 {
		add("scheduler: iterations must be >= 0")
	}
	if !validUnit(c.Reconciliation.TimeUnit) {
		add("reconciliation: unknown time_unit %q", c.Reconciliation.TimeUnit)
	}
	if c.Reconciliation.Interval <= 0 {
		add("reconciliation: interval must be > 0")
	}
	if c.Valuation.Scale < 0 {
		add("valuation: scale must be >= 0")
	}
	if c.Lock.Backend != "memory" && c.Lock.Backend != "redis" {
		add("lock: unknown backend %q (valid: memory, redis)", c.Lock.Backend)
	}
	if c.Lock.Backend == "redis" && !c.Redis.Enabled {
		add("lock: backend redis requires [redis] enabled = true")
	}
	if c.Paper.SlippageBps < 0 || c.Paper.FeeBps < 0 {
		add("paper: slippage_bps and fee_bps must be >= 0")
	}
	for sym, v := range c.Paper.Balances {
		if _, err := decimal.NewFromString(v); err != nil {
			add("paper: balance %s %q is not a decimal", sym, v)
		}
	}

	if strings.ToLower(c.Mode) == ModeBacktest {
		errs = append(errs, c.Backtest.problems()...)
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}
	if c.S3.ArchiveOnShutdown && !c.S3.Enabled {
		add("s3: archive_on_shutdown requires enabled = true")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (b BacktestConfig) problems() []string {
	var errs []string
	if b.Start.IsZero() || b.End.IsZero() {
		errs = append(errs, "backtest: start and end are required")
	} else if !b.End.After(b.Start) {
		errs = append(errs, "backtest: end must be after start")
	}
	if b.Step.Duration < 0 {
		errs = append(errs, "backtest: step must be >= 0")
	}
	if _, err := domain.ParseTimeFrame(b.TimeFrame); err != nil {
		errs = append(errs, fmt.Sprintf("backtest: unknown time_frame %q", b.TimeFrame))
	}
	switch b.DataSource {
	case "csv":
		if b.DataDir == "" {
			errs = append(errs, "backtest: data_dir is required for data_source csv")
		}
	case "s3":
	default:
		errs = append(errs, fmt.Sprintf("backtest: unknown data_source %q (valid: csv, s3)", b.DataSource))
	}
	if b.FeeBps < 0 {
		errs = append(errs, "backtest: fee_bps must be >= 0")
	}
	for sym, v := range b.Balances {
		if _, err := decimal.NewFromString(v); err != nil {
			errs = append(errs, fmt.Sprintf("backtest: balance %s %q is not a decimal", sym, v))
		}
	}
	return errs
}

// ParseBalances converts a symbol to decimal-string map, upper-casing
// symbols.
func ParseBalances(in map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(in))
	for sym, v := range in {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("config: balance %s: %w", sym, err)
		}
		out[strings.ToUpper(sym)] = d
	}
	return out, nil
}
