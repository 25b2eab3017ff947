package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "backtest"
log_level = "debug"

[[portfolios]]
identifier = "main"
market = "BINANCE"
trading_symbol = "USDT"
initial_balance = "1000.50"

[[strategies]]
name = "mr-btc"
kind = "mean_reversion"
time_unit = "HOUR"
interval = 1
[strategies.params]
symbol = "BTC"
window = 20

[backtest]
start = 2024-01-01T00:00:00Z
end = 2024-01-08T00:00:00Z
step = "1h"
time_frame = "1h"
fee_bps = 10

[postgres]
enabled = true
password = "secret"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Portfolios = []PortfolioConfig{{Identifier: "main", Market: "BINANCE", TradingSymbol: "USDT", InitialBalance: "100"}}
	cfg.Strategies = []StrategyConfig{{Name: "mr", Kind: "mean_reversion", TimeUnit: "MINUTE", Interval: 5}}
	return cfg
}

func TestLoadDecodesAndAppliesModeDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, ModeBacktest, cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Portfolios, 1)
	assert.Equal(t, "1000.50", cfg.Portfolios[0].InitialBalance)
	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "BTC", cfg.Strategies[0].Params["symbol"])
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), cfg.Backtest.End.UTC())
	assert.Equal(t, time.Hour, cfg.Backtest.Step.Duration)
	assert.EqualValues(t, 10, cfg.Backtest.FeeBps)

	assert.False(t, cfg.Postgres.Enabled, "backtest keeps the ledger in memory")
	assert.Equal(t, "memory", cfg.Lock.Backend)
	// Untouched defaults survive.
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL.Duration)
	assert.EqualValues(t, 8, cfg.Valuation.Scale)

	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "mode = \"live\"\nbogus = 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALGOENGINE_MODE", "STATELESS")
	t.Setenv("ALGOENGINE_LOCK_TTL", "5s")
	t.Setenv("ALGOENGINE_BACKTEST_START", "2024-02-01")
	t.Setenv("ALGOENGINE_SCHEDULER_ITERATIONS", "not-a-number")
	t.Setenv("ALGOENGINE_NOTIFY_EVENTS", "order_filled, ,engine_stopped")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeStateless, cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Lock.TTL.Duration)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), cfg.Backtest.Start)
	assert.Zero(t, cfg.Scheduler.Iterations, "unparseable values are ignored")
	assert.Equal(t, []string{"order_filled", "engine_stopped"}, cfg.Notify.Events)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		desc    string
		mutate  func(*Config)
		wantErr string
	}{
		{desc: "valid", mutate: func(*Config) {}},
		{desc: "unknown mode", mutate: func(c *Config) { c.Mode = "turbo" }, wantErr: "unknown mode"},
		{desc: "no portfolios", mutate: func(c *Config) { c.Portfolios = nil }, wantErr: "at least one [[portfolios]]"},
		{
			desc: "duplicate identifier ignores case",
			mutate: func(c *Config) {
				c.Portfolios = append(c.Portfolios, PortfolioConfig{Identifier: "MAIN", Market: "X", TradingSymbol: "USDT"})
			},
			wantErr: "duplicate identifier",
		},
		{desc: "negative balance", mutate: func(c *Config) { c.Portfolios[0].InitialBalance = "-1" }, wantErr: "initial_balance"},
		{desc: "bad time unit", mutate: func(c *Config) { c.Strategies[0].TimeUnit = "WEEK" }, wantErr: "unknown time_unit"},
		{desc: "plural time unit accepted", mutate: func(c *Config) { c.Strategies[0].TimeUnit = "minutes" }},
		{desc: "zero interval", mutate: func(c *Config) { c.Strategies[0].Interval = 0 }, wantErr: "interval must be > 0"},
		{desc: "redis lock without redis", mutate: func(c *Config) { c.Lock.Backend = "redis" }, wantErr: "requires [redis]"},
		{desc: "backtest window", mutate: func(c *Config) { c.Mode = ModeBacktest }, wantErr: "start and end are required"},
		{
			desc: "backtest bad source",
			mutate: func(c *Config) {
				c.Mode = ModeBacktest
				c.Backtest.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
				c.Backtest.End = c.Backtest.Start.Add(time.Hour)
				c.Backtest.DataSource = "ftp"
			},
			wantErr: "unknown data_source",
		},
		{desc: "archive needs s3", mutate: func(c *Config) { c.S3.ArchiveOnShutdown = true }, wantErr: "archive_on_shutdown"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.TelegramToken = "tg"
	cfg.Strategies[0].Params = map[string]any{"symbol": "BTC"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Strategies[0].Params["symbol"] = "ETH"
	assert.Equal(t, "pg", cfg.Postgres.Password)
	assert.Equal(t, "BTC", cfg.Strategies[0].Params["symbol"])
}

func TestParseBalances(t *testing.T) {
	got, err := ParseBalances(map[string]string{"usdt": "10.5"})
	require.NoError(t, err)
	assert.Equal(t, "10.5", got["USDT"].String())

	_, err = ParseBalances(map[string]string{"BTC": "x"})
	require.Error(t, err)
}
