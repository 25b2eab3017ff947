package config

import "maps"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	// Copy reference types so the redacted copy cannot alias the original.
	out.Portfolios = append([]PortfolioConfig(nil), cfg.Portfolios...)
	out.Strategies = make([]StrategyConfig, len(cfg.Strategies))
	for i, s := range cfg.Strategies {
		s.Params = maps.Clone(s.Params)
		out.Strategies[i] = s
	}
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.WSChannels = append([]string(nil), cfg.Server.WSChannels...)
	out.Backtest.Balances = maps.Clone(cfg.Backtest.Balances)
	out.Paper.Balances = maps.Clone(cfg.Paper.Balances)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
