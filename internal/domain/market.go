package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pair builds the canonical TARGET/TRADING symbol.
func Pair(target, trading string) string {
	return strings.ToUpper(target) + "/" + strings.ToUpper(trading)
}

// SplitPair splits a TARGET/TRADING symbol into its two halves.
func SplitPair(symbol string) (target, trading string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol %q: expected TARGET/TRADING: %w", symbol, ErrValidation)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

// TimeFrame is a candle granularity.
type TimeFrame string

const (
	TimeFrame1m  TimeFrame = "1m"
	TimeFrame5m  TimeFrame = "5m"
	TimeFrame15m TimeFrame = "15m"
	TimeFrame1h  TimeFrame = "1h"
	TimeFrame4h  TimeFrame = "4h"
	TimeFrame1d  TimeFrame = "1d"
)

var timeFrameDurations = map[TimeFrame]time.Duration{
	TimeFrame1m:  time.Minute,
	TimeFrame5m:  5 * time.Minute,
	TimeFrame15m: 15 * time.Minute,
	TimeFrame1h:  time.Hour,
	TimeFrame4h:  4 * time.Hour,
	TimeFrame1d:  24 * time.Hour,
}

// ParseTimeFrame validates a time frame string.
func ParseTimeFrame(s string) (TimeFrame, error) {
	tf := TimeFrame(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeFrameDurations[tf]; !ok {
		return "", fmt.Errorf("time frame %q: %w", s, ErrValidation)
	}
	return tf, nil
}

// Duration returns the length of one candle, or 0 for an unknown frame.
func (tf TimeFrame) Duration() time.Duration {
	return timeFrameDurations[tf]
}

// Ticker is a top-of-book quote.
type Ticker struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// BookLevel is one price level of an order book.
type BookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBook is a depth snapshot, bids descending and asks ascending.
type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// Candle is one OHLCV bar. Timestamp marks the instant the bar is final,
// so a bar is visible to anything observing time t only when Timestamp <= t.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}
