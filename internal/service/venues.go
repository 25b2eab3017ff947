package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// AnyMarket registers a venue that serves every market without its own entry.
const AnyMarket = "*"

// Venues maps a market name to the execution venue that serves it.
type Venues map[string]domain.ExecutionVenue

// For returns the venue for market, falling back to the AnyMarket entry.
func (v Venues) For(market string) (domain.ExecutionVenue, error) {
	if venue, ok := v[strings.ToUpper(market)]; ok {
		return venue, nil
	}
	if venue, ok := v[AnyMarket]; ok {
		return venue, nil
	}
	return nil, fmt.Errorf("venue for market %q: %w", market, domain.ErrNotFound)
}

// TickerSource supplies the prices used for valuation and market order
// checks. marketdata.Gateway satisfies it.
type TickerSource interface {
	GetTicker(ctx context.Context, symbol, market string) (domain.Ticker, error)
}

// Notifier delivers operator alerts. notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

func portfolioLockKey(portfolioID string) string {
	return "portfolio:" + portfolioID
}
