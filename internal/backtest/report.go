package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/strategy"
)

// EquityPoint is one portfolio's value after a replay step.
type EquityPoint struct {
	Time        time.Time       `json:"time"`
	Portfolio   string          `json:"portfolio"`
	Unallocated decimal.Decimal `json:"unallocated"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

type equityRow struct {
	Time        string `csv:"time"`
	Portfolio   string `csv:"portfolio"`
	Unallocated string `csv:"unallocated"`
	TotalValue  string `csv:"total_value"`
}

// Report is the artifact of one replay. It contains nothing that depends on
// wall time, so identical inputs give byte-identical JSON.
type Report struct {
	Start      time.Time                  `json:"start"`
	End        time.Time                  `json:"end"`
	Step       string                     `json:"step"`
	Ticks      int                        `json:"ticks"`
	ReachedAt  time.Time                  `json:"reached_at"`
	Exhausted  bool                       `json:"exhausted"`
	Portfolios []domain.PortfolioSnapshot `json:"portfolios"`
	Orders     []domain.Order             `json:"orders"`
	Equity     []EquityPoint              `json:"equity"`
	Strategies []strategy.Profile         `json:"strategies"`
}

// JSON renders the report with stable indentation.
func (r *Report) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backtest: marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// Summary renders a human readable overview of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest %s -> %s (step %s, %d ticks)\n",
		r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Step, r.Ticks)
	if r.Exhausted {
		fmt.Fprintf(&b, "Data exhausted at %s, results are partial\n", r.ReachedAt.Format(time.RFC3339))
	}

	counts := make(map[domain.OrderStatus]int)
	for _, o := range r.Orders {
		counts[o.Status]++
	}
	fmt.Fprintf(&b, "Orders: %d total, %d closed, %d open, %d cancelled\n\n",
		len(r.Orders), counts[domain.OrderStatusClosed], counts[domain.OrderStatusOpen]+counts[domain.OrderStatusPending],
		counts[domain.OrderStatusCancelled])

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORTFOLIO\tMARKET\tUNALLOCATED\tALLOCATED\tTOTAL\tGROWTH")
	for _, p := range r.Portfolios {
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
			p.Identifier, p.Market, p.Unallocated.StringFixed(2), p.TradingSymbol,
			p.Allocated.StringFixed(2), p.TotalValue.StringFixed(2), r.growth(p))
	}
	tw.Flush()

	if len(r.Strategies) > 0 {
		b.WriteString("\n")
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STRATEGY\tCADENCE\tRUNS\tSKIPS\tERRORS")
		for _, s := range r.Strategies {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", s.Name, s.Cadence, s.Runs, s.Skips, s.Errors)
		}
		tw.Flush()
	}
	return b.String()
}

// growth compares a portfolio's final value with its first equity point.
func (r *Report) growth(p domain.PortfolioSnapshot) string {
	for _, e := range r.Equity {
		if e.Portfolio != p.Identifier || e.TotalValue.IsZero() {
			continue
		}
		pct := p.TotalValue.Sub(e.TotalValue).Div(e.TotalValue).Mul(decimal.NewFromInt(100))
		return pct.StringFixed(2) + "%"
	}
	return "n/a"
}

// Name is the base file name reports of this run are stored under.
func (r *Report) Name() string {
	const layout = "20060102T150405"
	return "backtest_" + r.Start.UTC().Format(layout) + "_" + r.End.UTC().Format(layout)
}

// ReportWriter stores reports in a local directory and, optionally, in
// object storage.
type ReportWriter struct {
	dir    string
	blobs  domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// NewReportWriter creates a ReportWriter for dir. An empty dir skips the
// local copy.
func NewReportWriter(dir string, logger *slog.Logger) *ReportWriter {
	return &ReportWriter{
		dir:    dir,
		logger: logger.With(slog.String("component", "report_writer")),
	}
}

// WithUpload also uploads every report under prefix.
func (w *ReportWriter) WithUpload(blobs domain.BlobWriter, prefix string) *ReportWriter {
	w.blobs = blobs
	w.prefix = prefix
	return w
}

// Write stores the JSON report and its equity curve as CSV. It returns the
// local path of the JSON file, or its object key when nothing is written
// locally.
func (w *ReportWriter) Write(ctx context.Context, r *Report) (string, error) {
	report, err := r.JSON()
	if err != nil {
		return "", err
	}
	rows := make([]*equityRow, len(r.Equity))
	for i, e := range r.Equity {
		rows[i] = &equityRow{
			Time:        e.Time.UTC().Format(time.RFC3339),
			Portfolio:   e.Portfolio,
			Unallocated: e.Unallocated.String(),
			TotalValue:  e.TotalValue.String(),
		}
	}
	var equity bytes.Buffer
	if err := gocsv.Marshal(rows, &equity); err != nil {
		return "", fmt.Errorf("backtest: marshal equity: %w", err)
	}

	files := []struct {
		name        string
		data        []byte
		contentType string
	}{
		{r.Name() + ".json", report, "application/json"},
		{r.Name() + "_equity.csv", equity.Bytes(), "text/csv"},
	}

	var location string
	if w.dir != "" {
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			return "", fmt.Errorf("backtest: report dir: %w", err)
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(w.dir, f.name), f.data, 0o644); err != nil {
				return "", fmt.Errorf("backtest: write %s: %w", f.name, err)
			}
		}
		location = filepath.Join(w.dir, files[0].name)
	}

	if w.blobs != nil {
		for _, f := range files {
			key := path.Join(w.prefix, f.name)
			if err := w.blobs.Put(ctx, key, bytes.NewReader(f.data), f.contentType); err != nil {
				return location, fmt.Errorf("backtest: upload %s: %w", key, err)
			}
		}
		if location == "" {
			location = path.Join(w.prefix, files[0].name)
		}
	}

	w.logger.InfoContext(ctx, "backtest report written",
		slog.String("location", location),
		slog.Int("orders", len(r.Orders)),
	)
	return location, nil
}
