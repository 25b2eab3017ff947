package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger implements domain.Transactor with one database transaction per unit
// of work.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger on pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, w domain.LedgerWrites) error) error {
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return fn(ctx, domain.LedgerWrites{
			Orders:     &OrderStore{db: tx},
			Positions:  &PositionStore{db: tx},
			Portfolios: &PortfolioStore{db: tx},
		})
	})
	if err != nil {
		return fmt.Errorf("postgres: ledger tx: %w", err)
	}
	return nil
}

var (
	_ domain.Transactor = (*Ledger)(nil)
	_ dbtx              = (*pgxpool.Pool)(nil)
)
