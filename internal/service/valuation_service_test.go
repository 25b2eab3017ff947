package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
	storemem "github.com/alanyoungcy/algoengine/internal/store/memory"
)

func fill(t *testing.T, l *ledger, portfolioID, symbol, amount, price string) {
	t.Helper()
	ctx := context.Background()
	order, err := l.orders.Create(ctx, domain.OrderSpec{
		PortfolioID: portfolioID, TargetSymbol: symbol, Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Price: decp(price), AmountTarget: decp(amount),
	}, true, true)
	require.NoError(t, err)
	_, err = l.orders.ApplyVenueUpdate(ctx, order.ID, domain.VenueOrderStatus{
		Status: domain.OrderStatusClosed, FilledAmount: dec(amount), FillPrice: dec(price),
	})
	require.NoError(t, err)
}

func TestValuation(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	p := l.portfolio(t, "main", "BITVAVO", 1000)
	scope := domain.PortfolioScope{Market: "BITVAVO"}

	fill(t, l, p.ID, "BTC", "1", "100")
	fill(t, l, p.ID, "ETH", "3", "10")
	l.prices["BTC/USDT"] = domain.Ticker{Bid: dec("150"), Ask: dec("151")}
	l.prices["ETH/USDT"] = domain.Ticker{Bid: dec("16.66666666"), Ask: dec("17")}

	unallocated, err := l.valuation.GetUnallocated(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, "870", unallocated.String())

	allocated, err := l.valuation.GetAllocated(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, "199.99999998", allocated.String())

	total, err := l.valuation.GetTotalValue(ctx, scope)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("1069.99999998")))

	pct, err := l.valuation.GetPositionPercentage(ctx, "btc", scope)
	require.NoError(t, err)
	assert.Equal(t, "75", pct.String())

	_, err = l.valuation.GetPositionPercentage(ctx, "SOL", scope)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	delete(l.prices, "ETH/USDT")
	_, err = l.valuation.GetAllocated(ctx, scope)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestValuationRoundsToScale(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	p := l.portfolio(t, "main", "BITVAVO", 1000)
	fill(t, l, p.ID, "BTC", "1", "10")
	l.prices["BTC/USDT"] = domain.Ticker{Bid: dec("0.123456789")}

	allocated, err := l.valuation.WithScale(4).GetAllocated(ctx, domain.PortfolioScope{})
	require.NoError(t, err)
	assert.Equal(t, "0.1235", allocated.String())
}

func TestValuationEmptyAllocation(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	p := l.portfolio(t, "main", "BITVAVO", 1000)
	_, err := l.orders.Create(ctx, limitBuy(p.ID, "1", "10"), false, true)
	require.NoError(t, err)

	allocated, err := l.valuation.GetAllocated(ctx, domain.PortfolioScope{})
	require.NoError(t, err)
	assert.True(t, allocated.IsZero())

	pct, err := l.valuation.GetPositionPercentage(ctx, "BTC", domain.PortfolioScope{})
	require.NoError(t, err)
	assert.True(t, pct.IsZero())
}

// Two configured portfolios and a scope naming neither market nor identifier
// cannot be resolved.
func TestScopeResolution(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	_, err := l.valuation.GetAllocated(ctx, domain.PortfolioScope{})
	assert.ErrorIs(t, err, domain.ErrNoPortfolioFound)
	assert.ErrorIs(t, err, domain.ErrConfigurationAmbiguity)

	l.portfolio(t, "main", "BITVAVO", 1000)
	l.portfolio(t, "alt", "BINANCE", 500)

	testCases := []struct {
		desc    string
		scope   domain.PortfolioScope
		want    string
		wantErr error
	}{
		{desc: "no scope", scope: domain.PortfolioScope{}, wantErr: domain.ErrConfigurationAmbiguity},
		{desc: "by market", scope: domain.PortfolioScope{Market: "binance"}, want: "500"},
		{desc: "by identifier", scope: domain.PortfolioScope{Identifier: "main"}, want: "1000"},
		{desc: "unknown market", scope: domain.PortfolioScope{Market: "KRAKEN"}, wantErr: domain.ErrNoPortfolioFound},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := l.valuation.GetUnallocated(ctx, tc.scope)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestInitializeKeepsStoredStateAndSyncs(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	p := l.portfolio(t, "main", "bitvavo", 1000)
	assert.Equal(t, "BITVAVO", p.Market)

	again, err := l.portfolios.Initialize(ctx, PortfolioSpec{
		Identifier: "main", Market: "BITVAVO", TradingSymbol: "USDT", InitialBalance: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.True(t, again.Unallocated.Equal(decimal.NewFromInt(1000)))

	l.venue.balance = map[string]decimal.Decimal{"usdt": dec("1234.5")}
	synced, err := l.portfolios.Initialize(ctx, PortfolioSpec{
		Identifier: "main", Market: "BITVAVO", TradingSymbol: "USDT", SyncBalance: true,
	})
	require.NoError(t, err)
	assert.True(t, synced.Unallocated.Equal(dec("1234.5")))

	_, err = l.portfolios.Initialize(ctx, PortfolioSpec{Identifier: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSnapshotPersisted(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	p := l.portfolio(t, "main", "BITVAVO", 1000)
	fill(t, l, p.ID, "BTC", "2", "100")
	l.prices["BTC/USDT"] = domain.Ticker{Bid: dec("110")}

	store := storemem.NewSnapshotStore()
	snap, err := l.valuation.WithSnapshots(store).Snapshot(ctx, domain.PortfolioScope{Identifier: "main"})
	require.NoError(t, err)
	assert.Equal(t, "800", snap.Unallocated.String())
	assert.Equal(t, "220", snap.Allocated.String())
	assert.Equal(t, "1020", snap.TotalValue.String())
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "BTC", snap.Positions[0].Symbol)

	stored, err := store.ListByPortfolio(ctx, p.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
