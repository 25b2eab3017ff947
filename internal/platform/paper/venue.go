// Package paper is a simulated execution venue for live runs without an
// exchange adapter. Orders never leave the process; fills follow the live
// quotes.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

var bps = decimal.NewFromInt(10_000)

const refPrefix = "paper-"

// Quoter supplies live quotes.
type Quoter interface {
	GetTicker(ctx context.Context, symbol, market string) (domain.Ticker, error)
}

// Config tunes the simulation.
type Config struct {
	Market      string
	SlippageBps int64
	FeeBps      int64
	Balances    map[string]decimal.Decimal
}

type paperOrder struct {
	order  domain.Order
	status domain.VenueOrderStatus
}

// Venue fills orders against the current quote each time their status is
// requested. MARKET buys pay the ask plus slippage and MARKET sells receive
// the bid minus slippage. A LIMIT buy fills at its limit once the ask is at
// or below it, a LIMIT sell once the bid is at or above it.
type Venue struct {
	quotes   Quoter
	clock    domain.Clock
	market   string
	slippage decimal.Decimal
	feeRate  decimal.Decimal
	logger   *slog.Logger

	mu       sync.Mutex
	orders   map[string]*paperOrder
	balances map[string]decimal.Decimal
}

// NewVenue creates a paper Venue.
func NewVenue(quotes Quoter, clock domain.Clock, cfg Config) *Venue {
	return &Venue{
		quotes:   quotes,
		clock:    clock,
		market:   cfg.Market,
		slippage: decimal.NewFromInt(cfg.SlippageBps).Div(bps),
		feeRate:  decimal.NewFromInt(cfg.FeeBps).Div(bps),
		logger:   slog.Default().With(slog.String("component", "paper_venue")),
		orders:   make(map[string]*paperOrder),
		balances: maps.Clone(cfg.Balances),
	}
}

// WithLogger replaces the default logger.
func (v *Venue) WithLogger(logger *slog.Logger) *Venue {
	v.logger = logger.With(slog.String("component", "paper_venue"))
	return v
}

// SubmitOrder accepts the order.
func (v *Venue) SubmitOrder(_ context.Context, order domain.Order) (domain.VenueAck, error) {
	ref := refPrefix + uuid.NewString()
	order.ExternalID = ref

	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders[ref] = &paperOrder{
		order:  order,
		status: domain.VenueOrderStatus{Status: domain.OrderStatusOpen, UpdatedAt: v.clock.Now()},
	}
	return domain.VenueAck{ExternalID: ref, Accepted: true}, nil
}

// GetOrderStatus tries to fill an open order at the current quote. A paper
// reference this venue never issued belongs to an earlier process and is
// reported EXPIRED with whatever the ledger had already booked.
func (v *Venue) GetOrderStatus(ctx context.Context, order domain.Order) (domain.VenueOrderStatus, error) {
	v.mu.Lock()
	po, ok := v.orders[order.ExternalID]
	if !ok && strings.HasPrefix(order.ExternalID, refPrefix) {
		po = v.forget(ctx, order, domain.OrderStatusExpired)
		ok = true
	}
	if !ok {
		v.mu.Unlock()
		return domain.VenueOrderStatus{}, fmt.Errorf("paper: order %s: %w", order.ExternalID, domain.ErrNotFound)
	}
	if po.status.Status.IsTerminal() {
		status := po.status
		v.mu.Unlock()
		return status, nil
	}
	o := po.order
	v.mu.Unlock()

	t, err := v.quotes.GetTicker(ctx, o.Symbol(), v.market)
	if err != nil {
		return domain.VenueOrderStatus{}, fmt.Errorf("paper: quote %s: %w: %v", o.Symbol(), domain.ErrVenue, err)
	}
	price, ok := v.fillPrice(o, t)

	v.mu.Lock()
	defer v.mu.Unlock()
	if !ok || po.status.Status.IsTerminal() {
		return po.status, nil
	}
	amount := o.AmountTarget
	if !amount.IsPositive() {
		amount = o.AmountTrading.Div(price).Truncate(8)
	}
	po.status = domain.VenueOrderStatus{
		Status:       domain.OrderStatusClosed,
		FilledAmount: amount,
		FillPrice:    price,
		Fee:          amount.Mul(price).Mul(v.feeRate),
		FillID:       o.ExternalID,
		UpdatedAt:    v.clock.Now(),
	}
	return po.status, nil
}

// forget records a terminal status for a paper order issued by an earlier
// process, so it is logged once and answered the same way afterwards. The
// caller holds v.mu.
func (v *Venue) forget(ctx context.Context, order domain.Order, status domain.OrderStatus) *paperOrder {
	v.logger.WarnContext(ctx, "paper order unknown to this process, closing it",
		slog.String("order_id", order.ID),
		slog.String("external_id", order.ExternalID),
		slog.String("status", string(status)),
	)
	po := &paperOrder{
		order: order,
		status: domain.VenueOrderStatus{
			Status:       status,
			FilledAmount: order.FilledAmount,
			FillPrice:    order.FillPrice,
			Fee:          order.Fee,
			FillID:       order.LastFillID,
			UpdatedAt:    v.clock.Now(),
		},
	}
	v.orders[order.ExternalID] = po
	return po
}

func (v *Venue) fillPrice(o domain.Order, t domain.Ticker) (decimal.Decimal, bool) {
	ask, bid := t.Ask, t.Bid
	if !ask.IsPositive() {
		ask = t.Last
	}
	if !bid.IsPositive() {
		bid = t.Last
	}

	switch {
	case o.Type == domain.OrderTypeMarket && o.Side == domain.OrderSideBuy:
		return ask.Mul(decimal.NewFromInt(1).Add(v.slippage)), ask.IsPositive()
	case o.Type == domain.OrderTypeMarket:
		return bid.Mul(decimal.NewFromInt(1).Sub(v.slippage)), bid.IsPositive()
	case o.Price == nil:
		return decimal.Zero, false
	case o.Side == domain.OrderSideBuy:
		return *o.Price, ask.IsPositive() && ask.LessThanOrEqual(*o.Price)
	default:
		return *o.Price, bid.IsPositive() && bid.GreaterThanOrEqual(*o.Price)
	}
}

// CancelOrder cancels an unfilled order. Paper orders from an earlier
// process are recorded as cancelled.
func (v *Venue) CancelOrder(ctx context.Context, order domain.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	po, ok := v.orders[order.ExternalID]
	if !ok && strings.HasPrefix(order.ExternalID, refPrefix) {
		v.forget(ctx, order, domain.OrderStatusCancelled)
		return nil
	}
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", order.ExternalID, domain.ErrNotFound)
	}
	if !po.status.Status.IsTerminal() {
		po.status.Status = domain.OrderStatusCancelled
		po.status.UpdatedAt = v.clock.Now()
	}
	return nil
}

// GetBalance reports the configured balances.
func (v *Venue) GetBalance(context.Context) (map[string]decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return maps.Clone(v.balances), nil
}

var _ domain.ExecutionVenue = (*Venue)(nil)
