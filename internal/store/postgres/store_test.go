package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

func TestDSN(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  ClientConfig
		want string
	}{
		{desc: "explicit dsn wins", cfg: ClientConfig{DSN: "postgres://x", Host: "ignored"}, want: "postgres://x"},
		{desc: "defaults", cfg: ClientConfig{Host: "db", User: "u", Password: "p", Database: "algo"}, want: "postgres://u:p@db:5432/algo?sslmode=disable"},
		{desc: "custom port and ssl", cfg: ClientConfig{Host: "db", Port: 6543, User: "u", Database: "algo", SSLMode: "require"}, want: "postgres://u:@db:6543/algo?sslmode=require"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, DSN(tc.cfg))
		})
	}
}

func TestOrderWhereNumbersArguments(t *testing.T) {
	w := orderWhere(domain.OrderQuery{
		PortfolioID:  "p1",
		TargetSymbol: "btc",
		Statuses:     domain.NonTerminalStatuses,
	})
	assert.Equal(t, " WHERE portfolio_id = $1 AND upper(target_symbol) = $2 AND status = ANY($3)", w.sql())
	assert.Equal(t, " LIMIT $4", w.page(domain.ListOpts{Limit: 5}))
	assert.Equal(t, []any{"p1", "BTC", []string{"PENDING", "OPEN"}, 5}, w.args)

	empty := orderWhere(domain.OrderQuery{})
	assert.Empty(t, empty.sql())
}

// openTestClient connects to ALGOENGINE_TEST_POSTGRES_DSN or skips.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("ALGOENGINE_TEST_POSTGRES_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("ALGOENGINE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	return c
}

func TestLedgerRoundTrip(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	suffix := uuid.NewString()[:8]

	portfolios := NewPortfolioStore(c.Pool())
	p := domain.Portfolio{
		ID: "pf-" + suffix, Identifier: "Main-" + suffix, Market: "BINANCE", TradingSymbol: "USDT",
		Unallocated: decimal.RequireFromString("1000.12345678"), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, portfolios.Create(ctx, p))
	dup := p
	dup.ID = "pf2-" + suffix
	dup.Identifier = "MAIN-" + suffix
	assert.ErrorIs(t, portfolios.Create(ctx, dup), domain.ErrAlreadyExists)

	listed, err := portfolios.List(ctx, domain.PortfolioScope{Identifier: "main-" + suffix})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Unallocated.Equal(p.Unallocated))

	positions := NewPositionStore(c.Pool())
	pos := domain.Position{ID: "pos-" + suffix, PortfolioID: p.ID, Symbol: "BTC", Amount: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, positions.Create(ctx, pos))
	pos.Amount = decimal.RequireFromString("0.5")
	require.NoError(t, positions.Update(ctx, pos))
	got, err := positions.List(ctx, domain.PositionQuery{PortfolioID: p.ID, Symbol: "btc"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(pos.Amount))

	orders := NewOrderStore(c.Pool())
	price := decimal.RequireFromString("100.5")
	o := domain.Order{
		ID: "o-" + suffix, PortfolioID: p.ID, PositionID: pos.ID,
		TargetSymbol: "BTC", TradingSymbol: "USDT",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Price: &price,
		AmountTarget: decimal.NewFromInt(1), Status: domain.OrderStatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, orders.Create(ctx, o))
	o.Status = domain.OrderStatusClosed
	o.FilledAmount = decimal.NewFromInt(1)
	o.FillPrice = price
	o.FilledAt = &now
	require.NoError(t, orders.Update(ctx, o))

	back, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusClosed, back.Status)
	require.NotNil(t, back.Price)
	assert.True(t, back.Price.Equal(price))
	require.NotNil(t, back.FilledAt)
	assert.True(t, back.FilledAt.Equal(now))
	assert.Nil(t, back.SubmittedAt)

	n, err := orders.Count(ctx, domain.OrderQuery{PortfolioID: p.ID, Statuses: []domain.OrderStatus{domain.OrderStatusClosed}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	snaps := NewSnapshotStore(c.Pool())
	require.NoError(t, snaps.Insert(ctx, domain.PortfolioSnapshot{
		PortfolioID: p.ID, Identifier: p.Identifier, Market: p.Market, TradingSymbol: "USDT",
		Unallocated: p.Unallocated, Allocated: decimal.NewFromInt(50), TotalValue: decimal.RequireFromString("1050.12345678"),
		Positions: []domain.PositionSnapshot{{Symbol: "BTC", Amount: pos.Amount, Price: decimal.NewFromInt(100), Value: decimal.NewFromInt(50)}},
		CreatedAt: now,
	}))
	history, err := snaps.ListByPortfolio(ctx, p.ID, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].Positions, 1)
	assert.True(t, history[0].Positions[0].Value.Equal(decimal.NewFromInt(50)))
}

func TestLedgerRollsBack(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	suffix := uuid.NewString()[:8]

	portfolios := NewPortfolioStore(c.Pool())
	p := domain.Portfolio{
		ID: "pf-" + suffix, Identifier: "Tx-" + suffix, Market: "BINANCE", TradingSymbol: "USDT",
		Unallocated: decimal.NewFromInt(100), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, portfolios.Create(ctx, p))

	errBoom := errors.New("boom")
	err := NewLedger(c.Pool()).InTx(ctx, func(ctx context.Context, w domain.LedgerWrites) error {
		moved := p
		moved.Unallocated = decimal.NewFromInt(10)
		if err := w.Portfolios.Update(ctx, moved); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	back, err := portfolios.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, back.Unallocated.Equal(decimal.NewFromInt(100)))

	require.NoError(t, NewLedger(c.Pool()).InTx(ctx, func(ctx context.Context, w domain.LedgerWrites) error {
		moved := p
		moved.Unallocated = decimal.NewFromInt(10)
		return w.Portfolios.Update(ctx, moved)
	}))
	back, err = portfolios.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, back.Unallocated.Equal(decimal.NewFromInt(10)))
}
