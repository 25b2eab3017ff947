package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

func TestLedgerInTx(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")

	testCases := []struct {
		desc    string
		fail    bool
		wantBal int64
		wantAmt int64
		wantSt  domain.OrderStatus
	}{
		{desc: "commit keeps every write", wantBal: 90, wantAmt: 1, wantSt: domain.OrderStatusClosed},
		{desc: "failure reverts every write", fail: true, wantBal: 100, wantAmt: 0, wantSt: domain.OrderStatusOpen},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			orders, positions, portfolios := NewOrderStore(), NewPositionStore(), NewPortfolioStore()
			require.NoError(t, orders.Create(ctx, domain.Order{ID: "o1", Status: domain.OrderStatusOpen}))
			require.NoError(t, positions.Create(ctx, domain.Position{ID: "pos1", PortfolioID: "p1", Symbol: "BTC"}))
			require.NoError(t, portfolios.Create(ctx, domain.Portfolio{ID: "p1", Identifier: "main", Unallocated: decimal.NewFromInt(100)}))

			err := NewLedger(orders, positions, portfolios).InTx(ctx, func(ctx context.Context, w domain.LedgerWrites) error {
				if err := w.Orders.Update(ctx, domain.Order{ID: "o1", Status: domain.OrderStatusClosed}); err != nil {
					return err
				}
				if err := w.Positions.Update(ctx, domain.Position{ID: "pos1", PortfolioID: "p1", Symbol: "BTC", Amount: decimal.NewFromInt(1)}); err != nil {
					return err
				}
				// Two writes to one row revert to the value before the first.
				for _, bal := range []int64{95, 90} {
					p := domain.Portfolio{ID: "p1", Identifier: "main", Unallocated: decimal.NewFromInt(bal)}
					if err := w.Portfolios.Update(ctx, p); err != nil {
						return err
					}
				}
				if tc.fail {
					return errBoom
				}
				return nil
			})
			if tc.fail {
				assert.ErrorIs(t, err, errBoom)
			} else {
				require.NoError(t, err)
			}

			o, err := orders.GetByID(ctx, "o1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantSt, o.Status)
			pos, err := positions.GetByID(ctx, "pos1")
			require.NoError(t, err)
			assert.True(t, pos.Amount.Equal(decimal.NewFromInt(tc.wantAmt)), "amount %s", pos.Amount)
			p, err := portfolios.GetByID(ctx, "p1")
			require.NoError(t, err)
			assert.True(t, p.Unallocated.Equal(decimal.NewFromInt(tc.wantBal)), "unallocated %s", p.Unallocated)
		})
	}
}
