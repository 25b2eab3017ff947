package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Archiver copies finished ledger records to object storage as JSON Lines.
// Nothing is deleted from the primary store; pruning is a separate step
// once an archive has been checked.
type Archiver struct {
	writer    domain.BlobWriter
	orders    domain.OrderStore
	snapshots domain.SnapshotStore
	audit     domain.AuditStore
	prefix    string
}

// NewArchiver creates an Archiver writing under prefix. snapshots and audit
// may be nil.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore, snapshots domain.SnapshotStore, audit domain.AuditStore, prefix string) *Archiver {
	return &Archiver{writer: writer, orders: orders, snapshots: snapshots, audit: audit, prefix: prefix}
}

// ArchiveOrders uploads every terminal order created before the cutoff and
// returns how many were written.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int, error) {
	all, err := a.orders.List(ctx, domain.OrderQuery{Statuses: []domain.OrderStatus{
		domain.OrderStatusClosed, domain.OrderStatusCancelled,
		domain.OrderStatusExpired, domain.OrderStatusRejected,
	}})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	var old []domain.Order
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].CreatedAt.Before(before) {
			old = append(old, all[i])
		}
	}
	return archive(ctx, a, "orders", before, old)
}

// ArchiveSnapshots uploads the valuation history of one portfolio up to
// the cutoff.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, portfolioID string, before time.Time) (int, error) {
	if a.snapshots == nil {
		return 0, nil
	}
	snaps, err := a.snapshots.ListByPortfolio(ctx, portfolioID, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	return archive(ctx, a, "snapshots/"+portfolioID, before, snaps)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	path := archivePath(a.prefix, kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  len(records),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return len(records), fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return len(records), nil
}

// archivePath partitions archives by the cutoff, e.g.
// ledger/archive/orders/20240301T000000Z.jsonl.
func archivePath(prefix, kind string, before time.Time) string {
	p := fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("20060102T150405Z"))
	if prefix != "" {
		p = prefix + "/" + p
	}
	return p
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
