package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/cache/memory"
	"github.com/alanyoungcy/algoengine/internal/domain"
)

func TestCacheSource(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewPriceCache()

	src := NewCacheSource(cache, nil)
	_, err := src.GetTicker(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable, "nothing cached")
	_, err = src.GetOHLCV(ctx, "BTC/USDT", domain.TimeFrame1h, t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrDataUnavailable, "no history")

	require.NoError(t, cache.SetTicker(ctx, domain.Ticker{
		Symbol:    "BTC/USDT",
		Bid:       decimal.NewFromInt(99),
		Ask:       decimal.NewFromInt(101),
		Last:      decimal.NewFromInt(100),
		Timestamp: t0,
	}))
	ticker, err := src.GetTicker(ctx, "btc/usdt")
	require.NoError(t, err)
	assert.True(t, ticker.Last.Equal(decimal.NewFromInt(100)))

	book, err := src.GetOrderBook(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(99)))
	assert.True(t, book.Asks[0].Price.Equal(decimal.NewFromInt(101)))
	assert.Equal(t, t0, book.Timestamp)

	history := NewMemoryProvider()
	history.Load("BTC/USDT", domain.TimeFrame1h, hourly(4))
	src = NewCacheSource(cache, history)
	candles, err := src.GetOHLCV(ctx, "BTC/USDT", domain.TimeFrame1h, t0.Add(time.Hour), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, candles, 2)
}
