package marketdata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

func TestParseCandles(t *testing.T) {
	testCases := []struct {
		desc    string
		input   string
		wantTS  []time.Time
		wantErr bool
	}{
		{
			desc:   "rfc3339",
			input:  "timestamp,open,high,low,close,volume\n2024-03-01T00:00:00Z,1,2,0.5,1.5,10\n",
			wantTS: []time.Time{t0},
		},
		{
			desc:   "datetime and unix millis",
			input:  "timestamp,open,high,low,close,volume\n2024-03-01 00:00:00,1,2,0.5,1.5,10\n1709254800000,1,2,0.5,1.5,10\n",
			wantTS: []time.Time{t0, t0.Add(time.Hour)},
		},
		{
			desc:   "unix seconds with empty volume",
			input:  "timestamp,open,high,low,close,volume\n1709251200,1,2,0.5,1.5,\n",
			wantTS: []time.Time{t0},
		},
		{
			desc:    "bad price",
			input:   "timestamp,open,high,low,close,volume\n2024-03-01T00:00:00Z,1,two,0.5,1.5,10\n",
			wantErr: true,
		},
		{
			desc:    "bad timestamp",
			input:   "timestamp,open,high,low,close,volume\nyesterday,1,2,0.5,1.5,10\n",
			wantErr: true,
		},
		{
			desc:    "low above high",
			input:   "timestamp,open,high,low,close,volume\n2024-03-01T00:00:00Z,1,2,3,1.5,10\n",
			wantErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			candles, err := ParseCandles(strings.NewReader(tc.input))
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Len(t, candles, len(tc.wantTS))
			for i, ts := range tc.wantTS {
				assert.True(t, ts.Equal(candles[i].Timestamp), "row %d: %s", i, candles[i].Timestamp)
			}
			assert.True(t, candles[0].Low.Equal(decimal.RequireFromString("0.5")))
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BTC-USDT_1h.csv", FileName("btc/usdt", domain.TimeFrame1h))
	assert.Equal(t, "ETH-EUR_1d.csv", FileName(" ETH/EUR ", domain.TimeFrame1d))
}

func TestCSVDirProvider(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, WriteCandles(&buf, hourly(6)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName("BTC/USDT", domain.TimeFrame1h)), buf.Bytes(), 0o644))

	p := NewCSVDirProvider(dir)
	ctx := context.Background()

	first, last, err := p.Bounds(ctx, "BTC/USDT", domain.TimeFrame1h)
	require.NoError(t, err)
	assert.Equal(t, t0, first)
	assert.Equal(t, t0.Add(5*time.Hour), last)

	candles, err := p.GetOHLCV(ctx, "btc/usdt", domain.TimeFrame1h, t0.Add(time.Hour), t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(102)))

	c, err := p.Latest(ctx, "BTC/USDT", domain.TimeFrame1h, t0.Add(150*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), c.Timestamp)

	_, _, err = p.Bounds(ctx, "ETH/USDT", domain.TimeFrame1h)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

type fakeBlobs struct {
	files map[string]string
	gets  int
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f.gets++
	body, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func TestCSVBlobProviderLoadsOnce(t *testing.T) {
	blobs := &fakeBlobs{files: map[string]string{
		"ohlcv/ETH-EUR_1d.csv": "timestamp,open,high,low,close,volume\n2024-03-01,10,12,9,11,5\n2024-03-02,11,13,10,12,5\n",
	}}
	p := NewCSVBlobProvider(blobs, "ohlcv")
	ctx := context.Background()

	for range 3 {
		candles, err := p.GetOHLCV(ctx, "ETH/EUR", domain.TimeFrame1d, t0, t0.Add(48*time.Hour))
		require.NoError(t, err)
		assert.Len(t, candles, 2)
	}
	assert.Equal(t, 1, blobs.gets)

	_, err := p.GetOHLCV(ctx, "BTC/EUR", domain.TimeFrame1d, t0, t0.Add(48*time.Hour))
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}
