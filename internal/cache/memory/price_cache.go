package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PriceCache implements domain.PriceCache with a map keyed by upper-cased
// symbol.
type PriceCache struct {
	mu      sync.RWMutex
	tickers map[string]domain.Ticker
}

// NewPriceCache returns an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{tickers: make(map[string]domain.Ticker)}
}

// SetTicker stores the latest ticker for its symbol.
func (c *PriceCache) SetTicker(_ context.Context, t domain.Ticker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[strings.ToUpper(t.Symbol)] = t
	return nil
}

// GetTicker returns domain.ErrNotFound when nothing is cached.
func (c *PriceCache) GetTicker(_ context.Context, symbol string) (domain.Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[strings.ToUpper(symbol)]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return t, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
