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

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	db dbtx
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{db: pool}
}

const orderSelectCols = `id, external_id, portfolio_id, position_id,
	target_symbol, trading_symbol, side, order_type,
	price::text, amount_target::text, amount_trading::text,
	filled_amount::text, fill_price::text, fee::text,
	last_fill_id, status, reason,
	created_at, updated_at, submitted_at, filled_at`

func orderArgs(o domain.Order) []any {
	var price *string
	if o.Price != nil {
		s := o.Price.String()
		price = &s
	}
	return []any{
		o.ID, o.ExternalID, o.PortfolioID, o.PositionID,
		o.TargetSymbol, o.TradingSymbol, string(o.Side), string(o.Type),
		price, o.AmountTarget.String(), o.AmountTrading.String(),
		o.FilledAmount.String(), o.FillPrice.String(), o.Fee.String(),
		o.LastFillID, string(o.Status), o.Reason,
		o.CreatedAt, o.UpdatedAt, o.SubmittedAt, o.FilledAt,
	}
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, external_id, portfolio_id, position_id,
			target_symbol, trading_symbol, side, order_type,
			price, amount_target, amount_trading,
			filled_amount, fill_price, fee,
			last_fill_id, status, reason,
			created_at, updated_at, submitted_at, filled_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9::numeric, $10::numeric, $11::numeric,
			$12::numeric, $13::numeric, $14::numeric,
			$15, $16, $17,
			$18, $19, $20, $21
		)`
	if _, err := s.db.Exec(ctx, query, orderArgs(o)...); err != nil {
		return wrapWriteErr("create order", o.ID, err)
	}
	return nil
}

// Update overwrites every mutable column of an existing order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			external_id = $2, portfolio_id = $3, position_id = $4,
			target_symbol = $5, trading_symbol = $6, side = $7, order_type = $8,
			price = $9::numeric, amount_target = $10::numeric, amount_trading = $11::numeric,
			filled_amount = $12::numeric, fill_price = $13::numeric, fee = $14::numeric,
			last_fill_id = $15, status = $16, reason = $17,
			created_at = $18, updated_at = $19, submitted_at = $20, filled_at = $21
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, typ, status string
	var price *string
	var amtTarget, amtTrading, filled, fp, fee string
	if err := row.Scan(
		&o.ID, &o.ExternalID, &o.PortfolioID, &o.PositionID,
		&o.TargetSymbol, &o.TradingSymbol, &side, &typ,
		&price, &amtTarget, &amtTrading,
		&filled, &fp, &fee,
		&o.LastFillID, &status, &o.Reason,
		&o.CreatedAt, &o.UpdatedAt, &o.SubmittedAt, &o.FilledAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)

	var err error
	if price != nil {
		p, perr := parseDecimal("price", *price)
		if perr != nil {
			return domain.Order{}, perr
		}
		o.Price = &p
	}
	if o.AmountTarget, err = parseDecimal("amount_target", amtTarget); err != nil {
		return domain.Order{}, err
	}
	if o.AmountTrading, err = parseDecimal("amount_trading", amtTrading); err != nil {
		return domain.Order{}, err
	}
	if o.FilledAmount, err = parseDecimal("filled_amount", filled); err != nil {
		return domain.Order{}, err
	}
	if o.FillPrice, err = parseDecimal("fill_price", fp); err != nil {
		return domain.Order{}, err
	}
	if o.Fee, err = parseDecimal("fee", fee); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

func orderWhere(q domain.OrderQuery) *whereBuilder {
	w := &whereBuilder{}
	if len(q.IDs) > 0 {
		w.add("id = ANY($%d)", q.IDs)
	}
	if q.PortfolioID != "" {
		w.add("portfolio_id = $%d", q.PortfolioID)
	}
	if len(q.PositionIDs) > 0 {
		w.add("position_id = ANY($%d)", q.PositionIDs)
	}
	if q.ExternalID != "" {
		w.add("external_id = $%d", q.ExternalID)
	}
	if q.TargetSymbol != "" {
		w.add("upper(target_symbol) = $%d", strings.ToUpper(q.TargetSymbol))
	}
	if q.TradingSymbol != "" {
		w.add("upper(trading_symbol) = $%d", strings.ToUpper(q.TradingSymbol))
	}
	if q.Side != "" {
		w.add("side = $%d", string(q.Side))
	}
	if q.Type != "" {
		w.add("order_type = $%d", string(q.Type))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY($%d)", statuses)
	}
	return w
}

// List returns matching orders, newest first.
func (s *OrderStore) List(ctx context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	w := orderWhere(q)
	query := `SELECT ` + orderSelectCols + ` FROM orders` + w.sql() + ` ORDER BY created_at DESC, seq DESC`
	query += w.page(domain.ListOpts{Limit: q.Limit})

	rows, err := s.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return orders, nil
}

// Count returns the number of matching orders, ignoring q.Limit.
func (s *OrderStore) Count(ctx context.Context, q domain.OrderQuery) (int64, error) {
	w := orderWhere(q)
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM orders`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count orders: %w", err)
	}
	return n, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
