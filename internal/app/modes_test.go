package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/config"
	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/marketdata"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

const threeDailyCandles = `timestamp,open,high,low,close,volume
2024-01-02T00:00:00Z,100,110,98,108,1
2024-01-03T00:00:00Z,108,110,95,102,1
2024-01-04T00:00:00Z,102,108,101,104,1
`

func backtestConfig(t *testing.T, end time.Time) *config.Config {
	t.Helper()
	dataDir, reportDir := t.TempDir(), t.TempDir()
	name := marketdata.FileName("BTC/USDT", domain.TimeFrame1d)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), []byte(threeDailyCandles), 0o644))

	cfg := config.Defaults()
	cfg.Mode = config.ModeBacktest
	cfg.Portfolios = []config.PortfolioConfig{{
		Identifier: "main", Market: "BITVAVO", TradingSymbol: "USDT", InitialBalance: "1000",
	}}
	cfg.Strategies = []config.StrategyConfig{{Name: "watch", Kind: "watch", TimeUnit: "DAY", Interval: 1}}
	cfg.Backtest.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.Backtest.End = end
	cfg.Backtest.Step.Duration = 24 * time.Hour
	cfg.Backtest.TimeFrame = "1d"
	cfg.Backtest.DataSource = "csv"
	cfg.Backtest.DataDir = dataDir
	cfg.Backtest.ReportDir = reportDir
	cfg.ApplyModeDefaults()
	require.NoError(t, cfg.Validate())
	return &cfg
}

func newBacktestApp(cfg *config.Config) *App {
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.Registry().Register("watch", func(sc strategy.Config, _ *slog.Logger) (strategy.Strategy, error) {
		return strategy.New(sc.Name, sc.Cadence,
			func(context.Context, strategy.Algorithm, strategy.MarketData) error { return nil },
			strategy.DataRequest{Symbol: "BTC/USDT", TimeFrame: domain.TimeFrame1d, Window: 1},
		), nil
	})
	return a
}

func readReport(t *testing.T, dir string) map[string]any {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "backtest_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func TestBacktestModeWritesReport(t *testing.T) {
	testCases := []struct {
		desc          string
		end           time.Time
		wantExhausted bool
	}{
		{desc: "data covers the window", end: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
		{desc: "data ends early, partial report", end: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), wantExhausted: true},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := backtestConfig(t, tc.end)
			a := newBacktestApp(cfg)

			require.NoError(t, a.BacktestMode(context.Background(), &Dependencies{}))

			report := readReport(t, cfg.Backtest.ReportDir)
			assert.Equal(t, tc.wantExhausted, report["exhausted"])
			assert.EqualValues(t, 3, report["ticks"])
		})
	}
}

func TestBacktestModeFailsWithoutData(t *testing.T) {
	cfg := backtestConfig(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC))
	cfg.Backtest.DataDir = t.TempDir()
	a := newBacktestApp(cfg)

	err := a.BacktestMode(context.Background(), &Dependencies{})
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	matches, err := filepath.Glob(filepath.Join(cfg.Backtest.ReportDir, "backtest_*.json"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
