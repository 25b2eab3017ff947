package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists ledger orders. List returns newest first, ties broken
// by ID.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	Update(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, q OrderQuery) ([]Order, error)
	Count(ctx context.Context, q OrderQuery) (int64, error)
}

// PositionStore persists positions. List returns positions in creation order.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	List(ctx context.Context, q PositionQuery) ([]Position, error)
}

// PortfolioStore persists portfolios. List returns portfolios in creation order.
type PortfolioStore interface {
	Create(ctx context.Context, p Portfolio) error
	Update(ctx context.Context, p Portfolio) error
	GetByID(ctx context.Context, id string) (Portfolio, error)
	List(ctx context.Context, scope PortfolioScope) ([]Portfolio, error)
}

// LedgerWrites are the stores a unit of work writes through.
type LedgerWrites struct {
	Orders     OrderStore
	Positions  PositionStore
	Portfolios PortfolioStore
}

// Transactor runs fn as one unit of work over the ledger stores: every write
// made through w is kept when fn returns nil, and none is when it fails.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, w LedgerWrites) error) error
}

// SnapshotStore keeps a history of portfolio valuations.
type SnapshotStore interface {
	Insert(ctx context.Context, snap PortfolioSnapshot) error
	ListByPortfolio(ctx context.Context, portfolioID string, opts ListOpts) ([]PortfolioSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
