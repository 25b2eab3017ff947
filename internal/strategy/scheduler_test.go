package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newTestScheduler(data DataSource) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(nil, data, fixedClock{t: t0}, logger).WithAfter(immediately)
}

func counting(name string, c Cadence, calls *[]time.Time) Strategy {
	return New(name, c, func(_ context.Context, _ Algorithm, data MarketData) error {
		*calls = append(*calls, data.Now)
		return nil
	})
}

// Property: over a fixed number of ticks a strategy fires exactly
// floor(elapsed / interval) times, whatever the other cadences are.
func TestProperty_InvocationsPerCadence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("floor(T/N) invocations", prop.ForAll(
		func(a, b, ticks int) bool {
			var callsA, callsB []time.Time
			s := newTestScheduler(nil)
			if err := s.Add(
				counting("a", Every(a, Second), &callsA),
				counting("b", Every(b, Second), &callsB),
			); err != nil {
				return false
			}
			step := s.Step()
			if err := s.Run(context.Background(), ticks); err != nil {
				return false
			}
			elapsed := time.Duration(ticks) * step
			return len(callsA) == int(elapsed/(time.Duration(a)*time.Second)) &&
				len(callsB) == int(elapsed/(time.Duration(b)*time.Second))
		},
		gen.IntRange(1, 12),
		gen.IntRange(1, 12),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}

func TestTickTimesDoNotDrift(t *testing.T) {
	var calls []time.Time
	s := newTestScheduler(nil)
	require.NoError(t, s.Add(counting("every2", Every(2, Second), &calls)))
	require.NoError(t, s.Add(counting("every3", Every(3, Second), new([]time.Time))))
	assert.Equal(t, time.Second, s.Step())

	require.NoError(t, s.Run(context.Background(), 6))
	assert.Equal(t, []time.Time{t0.Add(2 * time.Second), t0.Add(4 * time.Second), t0.Add(6 * time.Second)}, calls)
}

func TestTickIsolatesFailures(t *testing.T) {
	s := newTestScheduler(nil)
	var ran []string
	require.NoError(t, s.Add(
		New("fails", Every(1, Second), func(context.Context, Algorithm, MarketData) error {
			ran = append(ran, "fails")
			return errors.New("boom")
		}),
		New("panics", Every(1, Second), func(context.Context, Algorithm, MarketData) error {
			ran = append(ran, "panics")
			panic("nil map")
		}),
		New("healthy", Every(1, Second), func(context.Context, Algorithm, MarketData) error {
			ran = append(ran, "healthy")
			return nil
		}),
	))
	s.Anchor(t0)

	due := s.Tick(context.Background(), t0.Add(time.Second))
	assert.Equal(t, []string{"fails", "panics", "healthy"}, due)
	assert.Equal(t, []string{"fails", "panics", "healthy"}, ran)

	// Same instant again: last run was set before the failing call, so nothing
	// is due twice.
	assert.Empty(t, s.Tick(context.Background(), t0.Add(time.Second)))

	profiles := s.Profiles()
	require.Len(t, profiles, 3)
	assert.EqualValues(t, 1, profiles[0].Errors)
	assert.Equal(t, "boom", profiles[0].LastError)
	assert.EqualValues(t, 1, profiles[1].Errors)
	assert.Contains(t, profiles[1].LastError, "panicked")
	assert.EqualValues(t, 1, profiles[2].Runs)
	require.NotNil(t, profiles[2].LastRun)
	assert.True(t, profiles[2].LastRun.Equal(t0.Add(time.Second)))
}

type stubData struct {
	candles []domain.Candle
	err     error
	from    time.Time
	to      *time.Time
}

func (d *stubData) GetTicker(context.Context, string, string) (domain.Ticker, error) {
	return domain.Ticker{}, d.err
}

func (d *stubData) GetOHLCV(_ context.Context, _ string, _ domain.TimeFrame, from time.Time, _ string, to *time.Time) ([]domain.Candle, error) {
	d.from, d.to = from, to
	return d.candles, d.err
}

func TestDataRequests(t *testing.T) {
	testCases := []struct {
		desc      string
		data      *stubData
		wantRuns  int64
		wantSkips int64
		wantErrs  int64
	}{
		{desc: "data served", data: &stubData{candles: []domain.Candle{{Timestamp: t0}}}, wantRuns: 1},
		{desc: "data unavailable skips", data: &stubData{err: domain.ErrDataUnavailable}, wantSkips: 1},
		{desc: "other errors count", data: &stubData{err: fmt.Errorf("%w: timeout", domain.ErrVenue)}, wantErrs: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			s := newTestScheduler(tc.data)
			var got MarketData
			require.NoError(t, s.Add(New("s", Every(1, Hour), func(_ context.Context, _ Algorithm, data MarketData) error {
				got = data
				return nil
			}, DataRequest{Symbol: "BTC/USDT", TimeFrame: domain.TimeFrame1h, Window: 3, Ticker: true})))
			s.Anchor(t0)

			now := t0.Add(time.Hour)
			s.Tick(context.Background(), now)
			p := s.Profiles()[0]
			assert.Equal(t, tc.wantRuns, p.Runs)
			assert.Equal(t, tc.wantSkips, p.Skips)
			assert.Equal(t, tc.wantErrs, p.Errors)
			assert.True(t, tc.data.from.Equal(now.Add(-3*time.Hour)))
			require.NotNil(t, tc.data.to)
			assert.True(t, tc.data.to.Equal(now))
			if tc.wantRuns == 1 {
				assert.Len(t, got.OHLCV["BTC/USDT"], 1)
				assert.Contains(t, got.Tickers, "BTC/USDT")
			}
		})
	}
}

func TestStopBetweenTicks(t *testing.T) {
	s := newTestScheduler(nil)
	var first, second int
	require.NoError(t, s.Add(
		New("stopper", Every(1, Second), func(context.Context, Algorithm, MarketData) error {
			first++
			if first == 3 {
				s.Stop()
			}
			return nil
		}),
		New("after", Every(1, Second), func(context.Context, Algorithm, MarketData) error {
			second++
			return nil
		}),
	))

	require.NoError(t, s.Run(context.Background(), 0))
	assert.Equal(t, 3, first)
	assert.Equal(t, 3, second, "the tick that called Stop still completes")
	assert.False(t, s.Running())
}

func TestRunHonoursContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(nil, nil, fixedClock{t: t0}, logger).
		WithAfter(func(time.Duration) <-chan time.Time { return nil })
	require.NoError(t, s.Add(New("idle", Every(1, Minute), func(context.Context, Algorithm, MarketData) error { return nil })))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx, 0), context.DeadlineExceeded)
}

func TestRunPendingRunsDueStrategies(t *testing.T) {
	testCases := []struct {
		desc     string
		anchor   bool
		at       []time.Duration
		wantRan  [][]string
		wantRuns map[string]int
	}{
		{
			desc:     "never run, everything is due",
			at:       []time.Duration{time.Second},
			wantRan:  [][]string{{"a", "b"}},
			wantRuns: map[string]int{"a": 1, "b": 1},
		},
		{
			desc:     "anchored, nothing due yet",
			anchor:   true,
			at:       []time.Duration{time.Second},
			wantRan:  [][]string{{}},
			wantRuns: map[string]int{},
		},
		{
			desc:     "anchored, only the elapsed cadence runs",
			anchor:   true,
			at:       []time.Duration{5 * time.Minute},
			wantRan:  [][]string{{"b"}},
			wantRuns: map[string]int{"b": 1},
		},
		{
			desc:     "second pass skips what just ran",
			at:       []time.Duration{time.Second, time.Minute, 6 * time.Minute},
			wantRan:  [][]string{{"a", "b"}, {}, {"b"}},
			wantRuns: map[string]int{"a": 1, "b": 2},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			runs := map[string]*[]time.Time{"a": {}, "b": {}}
			s := newTestScheduler(nil)
			require.NoError(t, s.Add(counting("a", Every(1, Day), runs["a"]), counting("b", Every(5, Minute), runs["b"])))
			if tc.anchor {
				s.Anchor(t0)
			}

			for i, at := range tc.at {
				ran := s.RunPending(context.Background(), t0.Add(at))
				assert.Equal(t, tc.wantRan[i], ran, "pass %d", i)
			}
			for name, got := range runs {
				assert.Len(t, *got, tc.wantRuns[name], name)
			}
		})
	}
}

func TestAddValidation(t *testing.T) {
	s := newTestScheduler(nil)
	noop := func(context.Context, Algorithm, MarketData) error { return nil }
	require.NoError(t, s.Add(New("x", Every(1, Second), noop)))
	assert.ErrorIs(t, s.Add(New("x", Every(2, Second), noop)), domain.ErrAlreadyExists)
	assert.ErrorIs(t, s.Add(New("y", Every(0, Second), noop)), domain.ErrValidation)
	assert.ErrorIs(t, s.Add(New("z", Cadence{Unit: "WEEK", Interval: 1}, noop)), domain.ErrValidation)

	empty := newTestScheduler(nil)
	assert.ErrorIs(t, empty.Run(context.Background(), 1), domain.ErrValidation)
}

func TestGreatestCommonStep(t *testing.T) {
	testCases := []struct {
		desc     string
		cadences []Cadence
		want     time.Duration
	}{
		{desc: "none uses fallback", want: time.Minute},
		{desc: "single", cadences: []Cadence{Every(5, Minute)}, want: 5 * time.Minute},
		{desc: "mixed units", cadences: []Cadence{Every(1, Hour), Every(90, Second)}, want: 90 * time.Second},
		{desc: "coprime", cadences: []Cadence{Every(2, Second), Every(3, Second)}, want: time.Second},
		{desc: "days and hours", cadences: []Cadence{Every(1, Day), Every(8, Hour)}, want: 8 * time.Hour},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, GreatestCommonStep(time.Minute, tc.cadences...))
		})
	}
}

func TestParseTimeUnit(t *testing.T) {
	for in, want := range map[string]TimeUnit{"second": Second, "MINUTES": Minute, " Hour ": Hour, "days": Day} {
		got, err := ParseTimeUnit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseTimeUnit("fortnight")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
