package backtest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/marketdata"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// quantityScale bounds the precision of amounts derived from a trading
// symbol budget. Derived amounts are truncated so the cost never exceeds the
// budget.
const quantityScale int32 = 8

type simOrder struct {
	order       domain.Order
	submittedAt time.Time
	status      domain.VenueOrderStatus
}

// Venue is a simulated execution venue fed by the same historical candles
// strategies see. Fills are decided when the ledger asks for an order's
// status, using only candles at or before the virtual clock:
//
//   - MARKET fills at the close of the latest visible candle.
//   - LIMIT BUY fills at the limit price on the first candle after
//     submission whose low reaches the limit.
//   - LIMIT SELL fills at the limit price on the first candle after
//     submission whose high reaches the limit.
//
// Orders fill completely in one go. The fee is fee_bps of the fill cost.
type Venue struct {
	data    *marketdata.BacktestGateway
	clock   domain.Clock
	tf      domain.TimeFrame
	feeRate decimal.Decimal

	mu       sync.Mutex
	seq      int
	orders   map[string]*simOrder
	balances map[string]decimal.Decimal
}

// NewVenue creates a Venue reading candles of tf from data.
func NewVenue(data *marketdata.BacktestGateway, clock domain.Clock, tf domain.TimeFrame, feeBps int64) *Venue {
	return &Venue{
		data:     data,
		clock:    clock,
		tf:       tf,
		feeRate:  decimal.NewFromInt(feeBps).Div(bpsDivisor),
		orders:   make(map[string]*simOrder),
		balances: make(map[string]decimal.Decimal),
	}
}

// WithBalances sets what GetBalance reports, for portfolios that sync their
// opening balance from the venue.
func (v *Venue) WithBalances(balances map[string]decimal.Decimal) *Venue {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = maps.Clone(balances)
	return v
}

// SubmitOrder accepts every order and stamps it with the virtual time.
func (v *Venue) SubmitOrder(_ context.Context, order domain.Order) (domain.VenueAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	ref := fmt.Sprintf("bt-%06d", v.seq)
	order.ExternalID = ref
	v.orders[ref] = &simOrder{
		order:       order,
		submittedAt: v.clock.Now(),
		status:      domain.VenueOrderStatus{Status: domain.OrderStatusOpen},
	}
	return domain.VenueAck{ExternalID: ref, Accepted: true}, nil
}

// GetOrderStatus runs the fill rule for an open order and reports the
// result.
func (v *Venue) GetOrderStatus(ctx context.Context, order domain.Order) (domain.VenueOrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sim, ok := v.orders[order.ExternalID]
	if !ok {
		return domain.VenueOrderStatus{}, fmt.Errorf("backtest: order %s: %w", order.ExternalID, domain.ErrNotFound)
	}
	if sim.status.Status.IsTerminal() {
		return sim.status, nil
	}

	price, at, filled := v.match(ctx, sim)
	if !filled {
		return sim.status, nil
	}

	amount := sim.order.AmountTarget
	if !amount.IsPositive() {
		amount = sim.order.AmountTrading.Div(price).Truncate(quantityScale)
	}
	sim.status = domain.VenueOrderStatus{
		Status:       domain.OrderStatusClosed,
		FilledAmount: amount,
		FillPrice:    price,
		Fee:          amount.Mul(price).Mul(v.feeRate),
		FillID:       sim.order.ExternalID + "-1",
		UpdatedAt:    at,
	}
	return sim.status, nil
}

// match finds the fill price and time for sim, if it can fill by now. Missing
// data leaves the order open.
func (v *Venue) match(ctx context.Context, sim *simOrder) (decimal.Decimal, time.Time, bool) {
	symbol := sim.order.Symbol()
	now := v.clock.Now()

	if sim.order.Type == domain.OrderTypeMarket {
		c, err := v.data.Latest(ctx, symbol, v.tf)
		if err != nil {
			return decimal.Zero, time.Time{}, false
		}
		return c.Close, now, true
	}

	if sim.order.Price == nil || !now.After(sim.submittedAt) {
		return decimal.Zero, time.Time{}, false
	}
	limit := *sim.order.Price
	candles, err := v.data.GetOHLCV(ctx, symbol, v.tf, sim.submittedAt, "", &now)
	if err != nil {
		return decimal.Zero, time.Time{}, false
	}
	for _, c := range candles {
		if !c.Timestamp.After(sim.submittedAt) {
			continue
		}
		switch sim.order.Side {
		case domain.OrderSideBuy:
			if c.Low.LessThanOrEqual(limit) {
				return limit, c.Timestamp, true
			}
		case domain.OrderSideSell:
			if c.High.GreaterThanOrEqual(limit) {
				return limit, c.Timestamp, true
			}
		}
	}
	return decimal.Zero, time.Time{}, false
}

// CancelOrder cancels an open order. Cancelling a finished order is a no-op.
func (v *Venue) CancelOrder(_ context.Context, order domain.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	sim, ok := v.orders[order.ExternalID]
	if !ok {
		return fmt.Errorf("backtest: cancel %s: %w", order.ExternalID, domain.ErrNotFound)
	}
	if !sim.status.Status.IsTerminal() {
		sim.status.Status = domain.OrderStatusCancelled
		sim.status.UpdatedAt = v.clock.Now()
	}
	return nil
}

// GetBalance returns the balances set with WithBalances.
func (v *Venue) GetBalance(context.Context) (map[string]decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return maps.Clone(v.balances), nil
}

var _ domain.ExecutionVenue = (*Venue)(nil)
