package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func hourly(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		p := decimal.NewFromInt(int64(100 + i))
		out[i] = domain.Candle{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      p,
			High:      p.Add(decimal.NewFromInt(2)),
			Low:       p.Sub(decimal.NewFromInt(2)),
			Close:     p.Add(decimal.NewFromInt(1)),
			Volume:    decimal.NewFromInt(10),
		}
	}
	return out
}

// Property: whatever the query window, nothing stamped after the clock is
// returned, and tickers quote a candle at or before the clock.
func TestProperty_NoLookAhead(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("reads never pass the clock", prop.ForAll(
		func(n, nowOffset, fromOffset, toOffset int) bool {
			mem := NewMemoryProvider()
			mem.Load("BTC/USDT", domain.TimeFrame1h, hourly(n))
			clock := &testClock{now: t0.Add(time.Duration(nowOffset) * 30 * time.Minute)}
			gw := NewBacktestGateway(mem, clock, domain.TimeFrame1h)

			from := t0.Add(time.Duration(fromOffset) * time.Hour)
			to := t0.Add(time.Duration(toOffset) * time.Hour)
			candles, err := gw.GetOHLCV(context.Background(), "BTC/USDT", domain.TimeFrame1h, from, "", &to)
			if err != nil && len(candles) > 0 {
				return false
			}
			for _, c := range candles {
				if c.Timestamp.After(clock.now) || c.Timestamp.Before(from) {
					return false
				}
			}

			ticker, err := gw.GetTicker(context.Background(), "BTC/USDT", "")
			if err == nil && ticker.Timestamp.After(clock.now) {
				return false
			}
			return true
		},
		gen.IntRange(1, 48),
		gen.IntRange(-4, 120),
		gen.IntRange(-4, 60),
		gen.IntRange(-4, 60),
	))

	properties.TestingRun(t)
}

func TestBacktestGatewayClampsToClock(t *testing.T) {
	mem := NewMemoryProvider()
	mem.Load("btc/usdt", domain.TimeFrame1h, hourly(10))
	clock := &testClock{now: t0.Add(3*time.Hour + 30*time.Minute)}
	gw := NewBacktestGateway(mem, clock, domain.TimeFrame1h)
	ctx := context.Background()

	candles, err := gw.GetOHLCV(ctx, "BTC/USDT", domain.TimeFrame1h, t0, "", nil)
	require.NoError(t, err)
	require.Len(t, candles, 4)
	assert.Equal(t, t0.Add(3*time.Hour), candles[3].Timestamp)

	far := t0.Add(100 * time.Hour)
	candles, err = gw.GetOHLCV(ctx, "BTC/USDT", domain.TimeFrame1h, t0.Add(2*time.Hour), "", &far)
	require.NoError(t, err)
	assert.Len(t, candles, 2)

	ticker, err := gw.GetTicker(ctx, "btc/usdt", "")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.True(t, ticker.Bid.Equal(decimal.NewFromInt(104)))
	assert.True(t, ticker.Ask.Equal(ticker.Last))

	book, err := gw.GetOrderBook(ctx, "BTC/USDT", "")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Asks[0].Amount.Equal(decimal.NewFromInt(10)))

	clock.now = t0.Add(-time.Minute)
	_, err = gw.GetTicker(ctx, "BTC/USDT", "")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	_, err = gw.GetOHLCV(ctx, "BTC/USDT", domain.TimeFrame1h, t0, "", nil)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	_, err = gw.GetOHLCV(ctx, "ETH/USDT", domain.TimeFrame1h, t0, "", nil)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

// boundsOnly hides MemoryProvider.Latest so the gateway's fallback path runs.
type boundsOnly struct{ domain.HistoricalDataProvider }

func TestBacktestGatewayLatestWithoutLatestProvider(t *testing.T) {
	mem := NewMemoryProvider()
	mem.Load("BTC/USDT", domain.TimeFrame1h, hourly(5))
	clock := &testClock{now: t0.Add(2 * time.Hour)}
	gw := NewBacktestGateway(boundsOnly{mem}, clock, domain.TimeFrame1h)

	c, err := gw.Latest(context.Background(), "BTC/USDT", domain.TimeFrame1h)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), c.Timestamp)
}

func TestMemoryProviderLoadSortsAndDedupes(t *testing.T) {
	candles := hourly(3)
	replaced := candles[1]
	replaced.Close = decimal.NewFromInt(999)
	mem := NewMemoryProvider()
	mem.Load("BTC/USDT", domain.TimeFrame1h, []domain.Candle{candles[2], candles[1], candles[0], replaced})

	first, last, err := mem.Bounds(context.Background(), "BTC/USDT", domain.TimeFrame1h)
	require.NoError(t, err)
	assert.Equal(t, t0, first)
	assert.Equal(t, t0.Add(2*time.Hour), last)

	got, err := mem.GetOHLCV(context.Background(), "BTC/USDT", domain.TimeFrame1h, t0, last)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[1].Close.Equal(decimal.NewFromInt(999)))

	_, _, err = mem.Bounds(context.Background(), "BTC/USDT", domain.TimeFrame1d)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}
