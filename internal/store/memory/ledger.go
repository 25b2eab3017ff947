package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Ledger implements domain.Transactor over in-memory stores. Updates go
// straight through to the stores; when the unit of work fails every row it
// updated is written back with its earlier value. Creates are not undone.
type Ledger struct {
	mu         sync.Mutex
	orders     domain.OrderStore
	positions  domain.PositionStore
	portfolios domain.PortfolioStore
}

// NewLedger creates a Ledger over the given stores.
func NewLedger(orders domain.OrderStore, positions domain.PositionStore, portfolios domain.PortfolioStore) *Ledger {
	return &Ledger{orders: orders, positions: positions, portfolios: portfolios}
}

type undoLog []func(ctx context.Context) error

// InTx runs fn with stores that record how to revert each update.
func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, w domain.LedgerWrites) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var undo undoLog
	w := domain.LedgerWrites{
		Orders:     &txOrders{OrderStore: l.orders, undo: &undo},
		Positions:  &txPositions{PositionStore: l.positions, undo: &undo},
		Portfolios: &txPortfolios{PortfolioStore: l.portfolios, undo: &undo},
	}
	err := fn(ctx, w)
	if err == nil {
		return nil
	}

	restoreCtx := context.WithoutCancel(ctx)
	for i := len(undo) - 1; i >= 0; i-- {
		if rerr := undo[i](restoreCtx); rerr != nil {
			err = errors.Join(err, fmt.Errorf("memory: ledger rollback: %w", rerr))
		}
	}
	return err
}

type txOrders struct {
	domain.OrderStore
	undo *undoLog
}

func (t *txOrders) Update(ctx context.Context, o domain.Order) error {
	prev, err := t.OrderStore.GetByID(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("memory: update order %s: %w", o.ID, err)
	}
	if err := t.OrderStore.Update(ctx, o); err != nil {
		return err
	}
	*t.undo = append(*t.undo, func(ctx context.Context) error { return t.OrderStore.Update(ctx, prev) })
	return nil
}

type txPositions struct {
	domain.PositionStore
	undo *undoLog
}

func (t *txPositions) Update(ctx context.Context, p domain.Position) error {
	prev, err := t.PositionStore.GetByID(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("memory: update position %s: %w", p.ID, err)
	}
	if err := t.PositionStore.Update(ctx, p); err != nil {
		return err
	}
	*t.undo = append(*t.undo, func(ctx context.Context) error { return t.PositionStore.Update(ctx, prev) })
	return nil
}

type txPortfolios struct {
	domain.PortfolioStore
	undo *undoLog
}

func (t *txPortfolios) Update(ctx context.Context, p domain.Portfolio) error {
	prev, err := t.PortfolioStore.GetByID(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("memory: update portfolio %s: %w", p.ID, err)
	}
	if err := t.PortfolioStore.Update(ctx, p); err != nil {
		return err
	}
	*t.undo = append(*t.undo, func(ctx context.Context) error { return t.PortfolioStore.Update(ctx, prev) })
	return nil
}

var _ domain.Transactor = (*Ledger)(nil)
