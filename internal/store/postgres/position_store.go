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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db dbtx
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{db: pool}
}

const positionSelectCols = `id, portfolio_id, symbol, amount::text, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var amount string
	if err := row.Scan(&p.ID, &p.PortfolioID, &p.Symbol, &amount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	var err error
	p.Amount, err = parseDecimal("amount", amount)
	return p, err
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (id, portfolio_id, symbol, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`
	if _, err := s.db.Exec(ctx, query,
		p.ID, p.PortfolioID, p.Symbol, p.Amount.String(), p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return wrapWriteErr("create position", p.ID, err)
	}
	return nil
}

// Update stores a position's amount.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE positions SET amount = $2::numeric, updated_at = $3 WHERE id = $1`,
		p.ID, p.Amount.String(), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// List returns matching positions in creation order.
func (s *PositionStore) List(ctx context.Context, q domain.PositionQuery) ([]domain.Position, error) {
	w := &whereBuilder{}
	if q.PortfolioID != "" {
		w.add("portfolio_id = $%d", q.PortfolioID)
	}
	if q.Symbol != "" {
		w.add("upper(symbol) = $%d", strings.ToUpper(q.Symbol))
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions`+w.sql()+` ORDER BY created_at ASC, id ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ domain.PositionStore = (*PositionStore)(nil)
