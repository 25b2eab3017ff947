package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

type seriesKey struct {
	symbol string
	tf     domain.TimeFrame
}

// MemoryProvider implements domain.HistoricalDataProvider over candles held
// in memory, sorted by timestamp.
type MemoryProvider struct {
	mu     sync.RWMutex
	series map[seriesKey][]domain.Candle
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{series: make(map[seriesKey][]domain.Candle)}
}

// Load replaces the series for (symbol, tf). Candles are sorted and, where
// two share a timestamp, the later one in the input wins.
func (p *MemoryProvider) Load(symbol string, tf domain.TimeFrame, candles []domain.Candle) {
	sorted := make([]domain.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	deduped := sorted[:0]
	for _, c := range sorted {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(c.Timestamp) {
			deduped[n-1] = c
			continue
		}
		deduped = append(deduped, c)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[seriesKey{symbol: normalise(symbol), tf: tf}] = deduped
}

func (p *MemoryProvider) get(symbol string, tf domain.TimeFrame) ([]domain.Candle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	candles, ok := p.series[seriesKey{symbol: normalise(symbol), tf: tf}]
	if !ok || len(candles) == 0 {
		return nil, fmt.Errorf("marketdata: no %s candles for %s: %w", tf, symbol, domain.ErrDataUnavailable)
	}
	return candles, nil
}

// GetOHLCV returns a copy of the candles with from <= Timestamp <= to.
func (p *MemoryProvider) GetOHLCV(_ context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Candle, error) {
	candles, err := p.get(symbol, tf)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(candles), func(i int) bool { return !candles[i].Timestamp.Before(from) })
	hi := sort.Search(len(candles), func(i int) bool { return candles[i].Timestamp.After(to) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]domain.Candle, hi-lo)
	copy(out, candles[lo:hi])
	return out, nil
}

// Bounds returns the first and last timestamps of the series.
func (p *MemoryProvider) Bounds(_ context.Context, symbol string, tf domain.TimeFrame) (time.Time, time.Time, error) {
	candles, err := p.get(symbol, tf)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return candles[0].Timestamp, candles[len(candles)-1].Timestamp, nil
}

// Latest returns the last candle with Timestamp <= at.
func (p *MemoryProvider) Latest(_ context.Context, symbol string, tf domain.TimeFrame, at time.Time) (domain.Candle, error) {
	candles, err := p.get(symbol, tf)
	if err != nil {
		return domain.Candle{}, err
	}
	idx := sort.Search(len(candles), func(i int) bool { return candles[i].Timestamp.After(at) })
	if idx == 0 {
		return domain.Candle{}, fmt.Errorf("marketdata: no %s candle for %s at %s: %w", tf, symbol, at, domain.ErrDataUnavailable)
	}
	return candles[idx-1], nil
}

var _ domain.HistoricalDataProvider = (*MemoryProvider)(nil)
