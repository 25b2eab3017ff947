package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Position
// breakdowns are kept as JSONB next to the portfolio totals.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

type positionJSON struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

// Insert appends a snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PortfolioSnapshot) error {
	positions := make([]positionJSON, len(snap.Positions))
	for i, p := range snap.Positions {
		positions[i] = positionJSON(p)
	}
	posJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot positions: %w", err)
	}

	const query = `
		INSERT INTO portfolio_snapshots (
			portfolio_id, identifier, market, trading_symbol,
			unallocated, allocated, total_value, positions, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9)`
	if _, err := s.pool.Exec(ctx, query,
		snap.PortfolioID, snap.Identifier, snap.Market, snap.TradingSymbol,
		snap.Unallocated.String(), snap.Allocated.String(), snap.TotalValue.String(),
		posJSON, snap.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", snap.PortfolioID, err)
	}
	return nil
}

// ListByPortfolio returns a portfolio's snapshots, newest first.
func (s *SnapshotStore) ListByPortfolio(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error) {
	w := &whereBuilder{}
	w.add("portfolio_id = $%d", portfolioID)
	w.listOpts("created_at", opts)
	query := `SELECT portfolio_id, identifier, market, trading_symbol,
		unallocated::text, allocated::text, total_value::text, positions, created_at
		FROM portfolio_snapshots` + w.sql() + ` ORDER BY created_at DESC, id DESC` + w.page(opts)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.PortfolioSnapshot
	for rows.Next() {
		var snap domain.PortfolioSnapshot
		var unalloc, alloc, total string
		var posJSON []byte
		if err := rows.Scan(
			&snap.PortfolioID, &snap.Identifier, &snap.Market, &snap.TradingSymbol,
			&unalloc, &alloc, &total, &posJSON, &snap.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		if snap.Unallocated, err = parseDecimal("unallocated", unalloc); err != nil {
			return nil, err
		}
		if snap.Allocated, err = parseDecimal("allocated", alloc); err != nil {
			return nil, err
		}
		if snap.TotalValue, err = parseDecimal("total_value", total); err != nil {
			return nil, err
		}
		var positions []positionJSON
		if err := json.Unmarshal(posJSON, &positions); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal snapshot positions: %w", err)
		}
		for _, p := range positions {
			snap.Positions = append(snap.Positions, domain.PositionSnapshot(p))
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots rows: %w", err)
	}
	return out, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
