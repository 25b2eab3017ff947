package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	db dbtx
}

// NewPortfolioStore creates a new PortfolioStore backed by the given connection pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{db: pool}
}

const portfolioSelectCols = `id, identifier, market, trading_symbol, unallocated::text, created_at, updated_at`

func scanPortfolio(row pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	var unallocated string
	if err := row.Scan(&p.ID, &p.Identifier, &p.Market, &p.TradingSymbol, &unallocated, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Portfolio{}, err
	}
	var err error
	p.Unallocated, err = parseDecimal("unallocated", unallocated)
	return p, err
}

// Create inserts a new portfolio. Identifiers are unique ignoring case.
func (s *PortfolioStore) Create(ctx context.Context, p domain.Portfolio) error {
	const query = `
		INSERT INTO portfolios (id, identifier, market, trading_symbol, unallocated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`
	if _, err := s.db.Exec(ctx, query,
		p.ID, p.Identifier, p.Market, p.TradingSymbol, p.Unallocated.String(), p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return wrapWriteErr("create portfolio", p.Identifier, err)
	}
	return nil
}

// Update stores a portfolio's balance.
func (s *PortfolioStore) Update(ctx context.Context, p domain.Portfolio) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE portfolios SET unallocated = $2::numeric, updated_at = $3 WHERE id = $1`,
		p.ID, p.Unallocated.String(), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update portfolio %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update portfolio %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a single portfolio.
func (s *PortfolioStore) GetByID(ctx context.Context, id string) (domain.Portfolio, error) {
	p, err := scanPortfolio(s.db.QueryRow(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: get portfolio %s: %w", id, err)
	}
	return p, nil
}

// List returns portfolios inside scope in creation order.
func (s *PortfolioStore) List(ctx context.Context, scope domain.PortfolioScope) ([]domain.Portfolio, error) {
	w := &whereBuilder{}
	if scope.Market != "" {
		w.add("lower(market) = $%d", strings.ToLower(scope.Market))
	}
	if scope.Identifier != "" {
		w.add("lower(identifier) = $%d", strings.ToLower(scope.Identifier))
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios`+w.sql()+` ORDER BY created_at ASC, id ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ domain.PortfolioStore = (*PortfolioStore)(nil)
