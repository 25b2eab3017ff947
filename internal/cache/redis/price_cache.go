package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per symbol holding
// bid, ask, last and ts (unix nanoseconds). Entries expire after ttl so a
// dead feed cannot serve quotes forever.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries indefinitely.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) priceKey(symbol string) string {
	return pc.c.key("ticker", strings.ToUpper(symbol))
}

func tickerFields(t domain.Ticker) map[string]any {
	return map[string]any{
		"bid":  t.Bid.String(),
		"ask":  t.Ask.String(),
		"last": t.Last.String(),
		"ts":   strconv.FormatInt(t.Timestamp.UnixNano(), 10),
	}
}

func parseTicker(symbol string, vals map[string]string) (domain.Ticker, error) {
	t := domain.Ticker{Symbol: strings.ToUpper(symbol)}
	for field, dst := range map[string]*decimal.Decimal{"bid": &t.Bid, "ask": &t.Ask, "last": &t.Last} {
		raw, ok := vals[field]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Ticker{}, fmt.Errorf("redis: parse %s %s: %w", field, symbol, err)
		}
		*dst = d
	}
	if raw, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Ticker{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
		}
		t.Timestamp = time.Unix(0, ns).UTC()
	}
	return t, nil
}

// SetTicker stores the latest ticker for its symbol.
func (pc *PriceCache) SetTicker(ctx context.Context, t domain.Ticker) error {
	key := pc.priceKey(t.Symbol)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, tickerFields(t))
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set ticker %s: %w", t.Symbol, err)
	}
	return nil
}

// GetTicker returns domain.ErrNotFound when nothing is cached for symbol.
func (pc *PriceCache) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(symbol)).Result()
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: get ticker %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return parseTicker(symbol, vals)
}

var _ domain.PriceCache = (*PriceCache)(nil)
