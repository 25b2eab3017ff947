package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, loads .env when present,
// applies ALGOENGINE_* overrides and the mode defaults. An empty path skips
// the file. The result has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.ApplyModeDefaults()
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and switch modes at
// deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "ALGOENGINE_MODE")
	setStr(&cfg.LogLevel, "ALGOENGINE_LOG_LEVEL")
	setInt(&cfg.Scheduler.Iterations, "ALGOENGINE_SCHEDULER_ITERATIONS")
	setStr(&cfg.Reconciliation.TimeUnit, "ALGOENGINE_RECONCILIATION_TIME_UNIT")
	setInt(&cfg.Reconciliation.Interval, "ALGOENGINE_RECONCILIATION_INTERVAL")

	setTime(&cfg.Backtest.Start, "ALGOENGINE_BACKTEST_START")
	setTime(&cfg.Backtest.End, "ALGOENGINE_BACKTEST_END")
	setDuration(&cfg.Backtest.Step, "ALGOENGINE_BACKTEST_STEP")
	setStr(&cfg.Backtest.TimeFrame, "ALGOENGINE_BACKTEST_TIME_FRAME")
	setStr(&cfg.Backtest.DataSource, "ALGOENGINE_BACKTEST_DATA_SOURCE")
	setStr(&cfg.Backtest.DataDir, "ALGOENGINE_BACKTEST_DATA_DIR")
	setStr(&cfg.Backtest.S3Prefix, "ALGOENGINE_BACKTEST_S3_PREFIX")
	setInt64(&cfg.Backtest.FeeBps, "ALGOENGINE_BACKTEST_FEE_BPS")
	setStr(&cfg.Backtest.Seed, "ALGOENGINE_BACKTEST_SEED")
	setStr(&cfg.Backtest.ReportDir, "ALGOENGINE_BACKTEST_REPORT_DIR")
	setBool(&cfg.Backtest.UploadReport, "ALGOENGINE_BACKTEST_UPLOAD_REPORT")

	setDuration(&cfg.MarketData.TickerMaxAge, "ALGOENGINE_MARKET_DATA_TICKER_MAX_AGE")
	setStr(&cfg.MarketData.CSVDir, "ALGOENGINE_MARKET_DATA_CSV_DIR")
	setStr(&cfg.Lock.Backend, "ALGOENGINE_LOCK_BACKEND")
	setDuration(&cfg.Lock.TTL, "ALGOENGINE_LOCK_TTL")
	setInt64(&cfg.Paper.SlippageBps, "ALGOENGINE_PAPER_SLIPPAGE_BPS")
	setInt64(&cfg.Paper.FeeBps, "ALGOENGINE_PAPER_FEE_BPS")

	setBool(&cfg.Postgres.Enabled, "ALGOENGINE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ALGOENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ALGOENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ALGOENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ALGOENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ALGOENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ALGOENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ALGOENGINE_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "ALGOENGINE_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "ALGOENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ALGOENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ALGOENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ALGOENGINE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ALGOENGINE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ALGOENGINE_REDIS_KEY_PREFIX")

	setBool(&cfg.S3.Enabled, "ALGOENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ALGOENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ALGOENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ALGOENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ALGOENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ALGOENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ALGOENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ALGOENGINE_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveOnShutdown, "ALGOENGINE_S3_ARCHIVE_ON_SHUTDOWN")

	setStr(&cfg.Notify.TelegramToken, "ALGOENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ALGOENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ALGOENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ALGOENGINE_NOTIFY_EVENTS")

	setBool(&cfg.Server.Enabled, "ALGOENGINE_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "ALGOENGINE_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "ALGOENGINE_SERVER_API_KEY")
}

// Each setter only mutates the target when the variable is set, non-empty
// and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setTime accepts RFC 3339 or a bare date.
func setTime(dst *time.Time, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			*dst = t.UTC()
			return
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
