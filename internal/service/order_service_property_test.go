package service

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Property: creating any structurally valid order without executing it yields
// a PENDING order and leaves the portfolio balance untouched.
func TestProperty_CreateWithoutExecuteKeepsBalance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("pending order, unchanged balance", prop.ForAll(
		func(amountCents, priceCents int, sell, market bool) bool {
			ctx := context.Background()
			l := newLedger()
			p, err := l.portfolios.Initialize(ctx, PortfolioSpec{
				Identifier: "main", Market: "BITVAVO", TradingSymbol: "USDT",
				InitialBalance: decimal.NewFromInt(1000),
			})
			if err != nil {
				return false
			}

			amount := decimal.New(int64(amountCents), -2)
			spec := domain.OrderSpec{
				PortfolioID:  p.ID,
				TargetSymbol: "BTC",
				Side:         domain.OrderSideBuy,
				Type:         domain.OrderTypeLimit,
				AmountTarget: &amount,
			}
			if sell {
				spec.Side = domain.OrderSideSell
			}
			if market {
				spec.Type = domain.OrderTypeMarket
			} else {
				price := decimal.New(int64(priceCents), -2)
				spec.Price = &price
			}

			order, err := l.orders.Create(ctx, spec, false, false)
			if err != nil || order.Status != domain.OrderStatusPending {
				return false
			}
			after, err := l.portfolios.Get(ctx, p.ID)
			if err != nil {
				return false
			}
			held, err := l.positions.Amount(ctx, p.ID, "BTC")
			return err == nil && after.Unallocated.Equal(p.Unallocated) && held.IsZero()
		},
		gen.IntRange(1, 1_000_000),
		gen.IntRange(1, 1_000_000),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: however a fill arrives (one update or many partial ones, with
// repeats), an order that reaches CLOSED moves the balance by exactly
// filled x price + fee.
func TestProperty_ClosedAccountingIndependentOfPartials(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("balance delta equals cost plus fee", prop.ForAll(
		func(chunks []int, priceCents, feeBps int, sell bool) bool {
			if len(chunks) == 0 {
				chunks = []int{1}
			}
			ctx := context.Background()
			l := newLedger()
			p, err := l.portfolios.Initialize(ctx, PortfolioSpec{
				Identifier: "main", Market: "BITVAVO", TradingSymbol: "USDT",
				InitialBalance: decimal.NewFromInt(1_000_000_000),
			})
			if err != nil {
				return false
			}

			price := decimal.New(int64(priceCents), -2)
			bps := decimal.New(int64(feeBps), -4)
			total := decimal.Zero
			for _, c := range chunks {
				total = total.Add(decimal.New(int64(c), -2))
			}

			side := domain.OrderSideBuy
			if sell {
				side = domain.OrderSideSell
			}
			order, err := l.orders.Create(ctx, domain.OrderSpec{
				PortfolioID: p.ID, TargetSymbol: "BTC", Side: side,
				Type: domain.OrderTypeLimit, Price: &price, AmountTarget: &total,
			}, true, false)
			if err != nil {
				return false
			}

			cum := decimal.Zero
			for i, c := range chunks {
				cum = cum.Add(decimal.New(int64(c), -2))
				vs := domain.VenueOrderStatus{
					Status:       domain.OrderStatusOpen,
					FilledAmount: cum,
					FillPrice:    price,
					Fee:          cum.Mul(price).Mul(bps),
				}
				if i == len(chunks)-1 {
					vs.Status = domain.OrderStatusClosed
				}
				// Each report arrives twice.
				for j := 0; j < 2; j++ {
					if _, err := l.orders.ApplyVenueUpdate(ctx, order.ID, vs); err != nil {
						return false
					}
				}
			}

			after, err := l.portfolios.Get(ctx, p.ID)
			if err != nil {
				return false
			}
			cost := total.Mul(price)
			fee := total.Mul(price).Mul(bps)
			want := p.Unallocated.Sub(cost).Sub(fee)
			if sell {
				want = p.Unallocated.Add(cost).Sub(fee)
			}
			return after.Unallocated.Equal(want)
		},
		gen.SliceOf(gen.IntRange(1, 500)),
		gen.IntRange(1, 10_000_000),
		gen.IntRange(0, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
