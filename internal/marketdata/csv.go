package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// csvCandle is one row of an OHLCV file. Columns are kept as strings so
// prices never pass through float64.
type csvCandle struct {
	Timestamp string `csv:"timestamp"`
	Open      string `csv:"open"`
	High      string `csv:"high"`
	Low       string `csv:"low"`
	Close     string `csv:"close"`
	Volume    string `csv:"volume"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FileName is the name an OHLCV file for symbol and tf is stored under,
// for example BTC-USDT_1h.csv.
func FileName(symbol string, tf domain.TimeFrame) string {
	return strings.ReplaceAll(normalise(symbol), "/", "-") + "_" + string(tf) + ".csv"
}

// ParseCandles reads OHLCV rows with the header
// timestamp,open,high,low,close,volume. Timestamps may be RFC 3339, a
// "2006-01-02 15:04:05" UTC datetime, or unix seconds or milliseconds.
func ParseCandles(r io.Reader) ([]domain.Candle, error) {
	var rows []*csvCandle
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("marketdata: parse csv: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := row.candle()
		if err != nil {
			return nil, fmt.Errorf("marketdata: csv row %d: %w", i+1, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (row *csvCandle) candle() (domain.Candle, error) {
	ts, err := parseTimestamp(row.Timestamp)
	if err != nil {
		return domain.Candle{}, err
	}
	c := domain.Candle{Timestamp: ts}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", row.Open, &c.Open},
		{"high", row.High, &c.High},
		{"low", row.Low, &c.Low},
		{"close", row.Close, &c.Close},
		{"volume", row.Volume, &c.Volume},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" && f.name == "volume" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("%s %q: %w", f.name, f.raw, domain.ErrValidation)
		}
		*f.dst = d
	}
	if c.Low.GreaterThan(c.High) {
		return domain.Candle{}, fmt.Errorf("low %s above high %s: %w", c.Low, c.High, domain.ErrValidation)
	}
	return c, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", raw, domain.ErrValidation)
	}
	// Anything past the year 33658 in seconds is taken as milliseconds.
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// WriteCandles writes candles in the format ParseCandles reads, with RFC 3339
// timestamps.
func WriteCandles(w io.Writer, candles []domain.Candle) error {
	rows := make([]*csvCandle, len(candles))
	for i, c := range candles {
		rows[i] = &csvCandle{
			Timestamp: c.Timestamp.UTC().Format(time.RFC3339),
			Open:      c.Open.String(),
			High:      c.High.String(),
			Low:       c.Low.String(),
			Close:     c.Close.String(),
			Volume:    c.Volume.String(),
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("marketdata: write csv: %w", err)
	}
	return nil
}

// CSVProvider serves historical candles from OHLCV files named by FileName,
// loading each series into memory the first time it is asked for.
type CSVProvider struct {
	open func(ctx context.Context, name string) (io.ReadCloser, error)
	mem  *MemoryProvider

	mu     sync.Mutex
	loaded map[seriesKey]error
}

// NewCSVDirProvider reads files from a local directory.
func NewCSVDirProvider(dir string) *CSVProvider {
	return newCSVProvider(func(_ context.Context, name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(dir, name))
	})
}

// NewCSVBlobProvider reads files from object storage under prefix.
func NewCSVBlobProvider(blobs domain.BlobReader, prefix string) *CSVProvider {
	return newCSVProvider(func(ctx context.Context, name string) (io.ReadCloser, error) {
		return blobs.Get(ctx, path.Join(prefix, name))
	})
}

func newCSVProvider(open func(ctx context.Context, name string) (io.ReadCloser, error)) *CSVProvider {
	return &CSVProvider{
		open:   open,
		mem:    NewMemoryProvider(),
		loaded: make(map[seriesKey]error),
	}
}

func (p *CSVProvider) ensure(ctx context.Context, symbol string, tf domain.TimeFrame) error {
	key := seriesKey{symbol: normalise(symbol), tf: tf}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.loaded[key]; ok {
		return err
	}
	err := p.load(ctx, key)
	if ctx.Err() == nil {
		p.loaded[key] = err
	}
	return err
}

func (p *CSVProvider) load(ctx context.Context, key seriesKey) error {
	name := FileName(key.symbol, key.tf)
	rc, err := p.open(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("marketdata: %s: %w", name, domain.ErrDataUnavailable)
		}
		return fmt.Errorf("marketdata: open %s: %w", name, err)
	}
	defer rc.Close()

	candles, err := ParseCandles(rc)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	p.mem.Load(key.symbol, key.tf, candles)
	return nil
}

// GetOHLCV returns the stored candles with from <= Timestamp <= to.
func (p *CSVProvider) GetOHLCV(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Candle, error) {
	if err := p.ensure(ctx, symbol, tf); err != nil {
		return nil, err
	}
	return p.mem.GetOHLCV(ctx, symbol, tf, from, to)
}

// Bounds returns the first and last stored timestamps.
func (p *CSVProvider) Bounds(ctx context.Context, symbol string, tf domain.TimeFrame) (time.Time, time.Time, error) {
	if err := p.ensure(ctx, symbol, tf); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return p.mem.Bounds(ctx, symbol, tf)
}

// Latest returns the last stored candle at or before at.
func (p *CSVProvider) Latest(ctx context.Context, symbol string, tf domain.TimeFrame, at time.Time) (domain.Candle, error) {
	if err := p.ensure(ctx, symbol, tf); err != nil {
		return domain.Candle{}, err
	}
	return p.mem.Latest(ctx, symbol, tf, at)
}

var (
	_ domain.HistoricalDataProvider = (*CSVProvider)(nil)
	_ LatestProvider                = (*CSVProvider)(nil)
)
