package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

const defaultLockTTL = 30 * time.Second

// OrderService is the order ledger: the only writer of orders, positions and
// portfolio balances. Every mutation runs inside the owning portfolio's
// exclusive scope; venue calls never do.
type OrderService struct {
	orders     domain.OrderStore
	portfolios *PortfolioService
	positions  *PositionService
	venues     Venues
	locks      domain.LockManager
	ids        domain.IDGenerator
	clock      domain.Clock
	prices     TickerSource
	bus        domain.SignalBus
	audit      domain.AuditStore
	tx         domain.Transactor
	lockTTL    time.Duration
	logger     *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	portfolios *PortfolioService,
	positions *PositionService,
	venues Venues,
	locks domain.LockManager,
	ids domain.IDGenerator,
	clock domain.Clock,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:     orders,
		portfolios: portfolios,
		positions:  positions,
		venues:     venues,
		locks:      locks,
		ids:        ids,
		clock:      clock,
		lockTTL:    defaultLockTTL,
		logger:     logger.With(slog.String("component", "order_service")),
	}
}

// WithPrices attaches the ticker source used to price MARKET orders during
// balance validation.
func (s *OrderService) WithPrices(prices TickerSource) *OrderService {
	s.prices = prices
	return s
}

// WithEvents publishes order transitions on bus and records them in audit.
// Either may be nil.
func (s *OrderService) WithEvents(bus domain.SignalBus, audit domain.AuditStore) *OrderService {
	s.bus = bus
	s.audit = audit
	return s
}

// WithTransactor books fills through tx so that the order row and the
// balances it moves are written together. Without one the order row is
// written first, so a failure part way through can leave a fill unbooked
// but never booked twice.
func (s *OrderService) WithTransactor(tx domain.Transactor) *OrderService {
	s.tx = tx
	return s
}

func (s *OrderService) inTx(ctx context.Context, fn func(ctx context.Context, w domain.LedgerWrites) error) error {
	if s.tx != nil {
		return s.tx.InTx(ctx, fn)
	}
	return fn(ctx, domain.LedgerWrites{
		Orders:     s.orders,
		Positions:  s.positions.positions,
		Portfolios: s.portfolios.portfolios,
	})
}

// WithLockTTL sets how long a portfolio scope may be held before a
// distributed lock expires on its own.
func (s *OrderService) WithLockTTL(ttl time.Duration) *OrderService {
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

func (s *OrderService) lock(ctx context.Context, portfolioID string) (func(), error) {
	unlock, err := s.locks.Acquire(ctx, portfolioLockKey(portfolioID), s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("order_service: lock portfolio %s: %w", portfolioID, err)
	}
	return unlock, nil
}

// Create records a new PENDING order. With validate set it also checks
// positivity and that the portfolio can afford a BUY or holds enough for a
// SELL. With execute set the order is submitted straight away.
func (s *OrderService) Create(ctx context.Context, spec domain.OrderSpec, execute, validate bool) (domain.Order, error) {
	if err := spec.Validate(); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
	}
	portfolio, err := s.portfolios.Get(ctx, spec.PortfolioID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
	}

	var refPrice decimal.Decimal
	if validate {
		if err := spec.CheckPositive(); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
		}
		refPrice, err = s.referencePrice(ctx, spec, portfolio)
		if err != nil {
			return domain.Order{}, err
		}
	}

	unlock, err := s.lock(ctx, portfolio.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.createLocked(ctx, spec, validate, refPrice)
	unlock()
	if err != nil {
		return domain.Order{}, err
	}

	s.emit(ctx, "order_created", order, nil)
	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol()),
		slog.String("side", string(order.Side)),
		slog.String("type", string(order.Type)),
	)

	if execute {
		return s.Submit(ctx, order.ID)
	}
	return order, nil
}

// referencePrice is the per-unit price used for balance checks: the limit
// price, or the current ask (BUY) / bid (SELL) for MARKET orders.
func (s *OrderService) referencePrice(ctx context.Context, spec domain.OrderSpec, p domain.Portfolio) (decimal.Decimal, error) {
	if spec.Price != nil {
		return *spec.Price, nil
	}
	symbol := domain.Pair(spec.TargetSymbol, p.TradingSymbol)
	if s.prices == nil {
		return decimal.Zero, fmt.Errorf("order_service: price %s: %w", symbol, domain.ErrDataUnavailable)
	}
	t, err := s.prices.GetTicker(ctx, symbol, p.Market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("order_service: price %s: %w", symbol, err)
	}
	price := t.Ask
	if spec.Side == domain.OrderSideSell {
		price = t.Bid
	}
	if !price.IsPositive() {
		price = t.Last
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("order_service: price %s: no quote: %w", symbol, domain.ErrDataUnavailable)
	}
	return price, nil
}

func (s *OrderService) createLocked(ctx context.Context, spec domain.OrderSpec, validate bool, refPrice decimal.Decimal) (domain.Order, error) {
	portfolio, err := s.portfolios.Get(ctx, spec.PortfolioID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
	}
	target := strings.ToUpper(spec.TargetSymbol)

	if validate {
		switch spec.Side {
		case domain.OrderSideBuy:
			cost := costOf(spec, refPrice)
			if portfolio.Unallocated.LessThan(cost) {
				return domain.Order{}, fmt.Errorf("order_service: buy %s costs %s, unallocated %s: %w",
					target, cost, portfolio.Unallocated, domain.ErrInsufficientFunds)
			}
		case domain.OrderSideSell:
			need := quantityOf(spec, refPrice)
			held, err := s.positions.Amount(ctx, portfolio.ID, target)
			if err != nil {
				return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
			}
			if held.LessThan(need) {
				return domain.Order{}, fmt.Errorf("order_service: sell %s %s, held %s: %w",
					need, target, held, domain.ErrInsufficientPosition)
			}
		}
	}

	pos, err := s.positions.Ensure(ctx, portfolio.ID, target)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:            s.ids.NewID(),
		PortfolioID:   portfolio.ID,
		PositionID:    pos.ID,
		TargetSymbol:  target,
		TradingSymbol: portfolio.TradingSymbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if spec.Price != nil {
		price := *spec.Price
		order.Price = &price
	}
	if spec.AmountTarget != nil {
		order.AmountTarget = *spec.AmountTarget
	}
	if spec.AmountTrading != nil {
		order.AmountTrading = *spec.AmountTrading
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create order: %w", err)
	}
	return order, nil
}

func costOf(spec domain.OrderSpec, price decimal.Decimal) decimal.Decimal {
	if spec.AmountTrading != nil {
		return *spec.AmountTrading
	}
	return spec.AmountTarget.Mul(price)
}

func quantityOf(spec domain.OrderSpec, price decimal.Decimal) decimal.Decimal {
	if spec.AmountTarget != nil {
		return *spec.AmountTarget
	}
	return spec.AmountTrading.Div(price)
}

// Submit sends a PENDING order to its portfolio's venue. Acceptance moves it
// to OPEN, rejection to REJECTED. A transport failure leaves it PENDING and
// returns an error wrapping domain.ErrVenue.
func (s *OrderService) Submit(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending || order.ExternalID != "" {
		return order, fmt.Errorf("order_service: submit %s in status %s: %w", order.ID, order.Status, domain.ErrInvalidTransition)
	}
	portfolio, err := s.portfolios.Get(ctx, order.PortfolioID)
	if err != nil {
		return order, fmt.Errorf("order_service: submit: %w", err)
	}
	venue, err := s.venues.For(portfolio.Market)
	if err != nil {
		return order, fmt.Errorf("order_service: submit: %w", err)
	}

	ack, err := venue.SubmitOrder(ctx, order)
	if err != nil {
		s.logger.WarnContext(ctx, "venue submit failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return order, fmt.Errorf("order_service: submit %s: %w: %w", order.ID, domain.ErrVenue, err)
	}

	unlock, err := s.lock(ctx, order.PortfolioID)
	if err != nil {
		return order, err
	}
	order, err = s.orders.GetByID(ctx, orderID)
	if err != nil {
		unlock()
		return domain.Order{}, fmt.Errorf("order_service: submit: %w", err)
	}
	orphaned := order.Status != domain.OrderStatusPending
	now := s.clock.Now()
	order.ExternalID = ack.ExternalID
	order.UpdatedAt = now
	if !orphaned {
		if ack.Accepted {
			order.Status = domain.OrderStatusOpen
			order.SubmittedAt = &now
		} else {
			order.Status = domain.OrderStatusRejected
			order.Reason = ack.Reason
		}
	}
	err = s.orders.Update(ctx, order)
	unlock()
	if err != nil {
		return order, fmt.Errorf("order_service: submit update: %w", err)
	}

	if orphaned {
		// Cancelled locally while the venue call was in flight.
		s.logger.WarnContext(ctx, "order left pending during submit, cancelling at venue",
			slog.String("order_id", order.ID),
			slog.String("status", string(order.Status)),
		)
		if ack.Accepted {
			if err := venue.CancelOrder(ctx, order); err != nil {
				s.logger.WarnContext(ctx, "venue cancel of orphaned order failed",
					slog.String("order_id", order.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		return order, nil
	}

	event := "order_submitted"
	if order.Status == domain.OrderStatusRejected {
		event = "order_rejected"
	}
	s.emit(ctx, event, order, nil)
	s.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", order.ID),
		slog.String("external_id", order.ExternalID),
		slog.String("status", string(order.Status)),
	)
	return order, nil
}

// ApplyVenueUpdate books a venue-reported status against the ledger. The
// venue reports cumulative fills; only the difference from what the ledger
// has already booked moves balances, so repeated or partial updates never
// double count. Updates to terminal orders are ignored.
func (s *OrderService) ApplyVenueUpdate(ctx context.Context, orderID string, vs domain.VenueOrderStatus) (domain.Order, error) {
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Status.IsTerminal() {
		return current, nil
	}

	unlock, err := s.lock(ctx, current.PortfolioID)
	if err != nil {
		return current, err
	}
	order, filled, changed, err := s.applyLocked(ctx, orderID, vs)
	unlock()
	if err != nil || !changed {
		return order, err
	}

	var extra map[string]any
	if filled.IsPositive() {
		extra = map[string]any{"fill_amount": filled.String()}
		s.appendFill(ctx, order, filled)
	}
	s.emit(ctx, "order_updated", order, extra)
	s.logger.InfoContext(ctx, "order updated",
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
		slog.String("filled_amount", order.FilledAmount.String()),
		slog.String("fill_price", order.FillPrice.String()),
	)
	return order, nil
}

func (s *OrderService) applyLocked(ctx context.Context, orderID string, vs domain.VenueOrderStatus) (domain.Order, decimal.Decimal, bool, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, decimal.Zero, false, fmt.Errorf("order_service: apply: %w", err)
	}
	if order.Status.IsTerminal() {
		return order, decimal.Zero, false, nil
	}

	status, err := nextStatus(vs.Status)
	if err != nil {
		return order, decimal.Zero, false, fmt.Errorf("order_service: apply %s: %w", order.ID, err)
	}

	dAmount, dCost, dFee := decimal.Zero, decimal.Zero, decimal.Zero
	sameFill := vs.FillID != "" && vs.FillID == order.LastFillID
	if !sameFill {
		dAmount = vs.FilledAmount.Sub(order.FilledAmount)
		dFee = vs.Fee.Sub(order.Fee)
		if dAmount.IsNegative() || dFee.IsNegative() {
			return order, decimal.Zero, false, fmt.Errorf(
				"order_service: apply %s: venue filled %s fee %s below booked %s fee %s: %w",
				order.ID, vs.FilledAmount, vs.Fee, order.FilledAmount, order.Fee, domain.ErrInvalidTransition)
		}
		dCost = vs.FilledAmount.Mul(vs.FillPrice).Sub(order.FilledCost())
	}

	booked := !dAmount.IsZero() || !dCost.IsZero() || !dFee.IsZero()
	if !booked && status == order.Status {
		return order, decimal.Zero, false, nil
	}

	prev := order
	if booked {
		order.FilledAmount = vs.FilledAmount
		order.FillPrice = vs.FillPrice
		order.Fee = vs.Fee
	}
	if vs.FillID != "" {
		order.LastFillID = vs.FillID
	}

	now := s.clock.Now()
	order.Status = status
	order.UpdatedAt = now
	if status == domain.OrderStatusClosed {
		filledAt := now
		if !vs.UpdatedAt.IsZero() {
			filledAt = vs.UpdatedAt
		}
		order.FilledAt = &filledAt
		if order.AmountTarget.IsZero() {
			order.AmountTarget = order.FilledAmount
		}
		if order.AmountTrading.IsZero() {
			order.AmountTrading = order.FilledCost()
		}
	}

	// The order row carries what has been booked, so it goes first.
	err = s.inTx(ctx, func(ctx context.Context, w domain.LedgerWrites) error {
		if err := w.Orders.Update(ctx, order); err != nil {
			return fmt.Errorf("order_service: apply update: %w", err)
		}
		if !booked {
			return nil
		}
		return s.book(ctx, w, order, dAmount, dCost, dFee)
	})
	if err != nil {
		return prev, decimal.Zero, false, err
	}
	return order, dAmount, true, nil
}

// book moves the position and the portfolio balance by one fill delta.
func (s *OrderService) book(ctx context.Context, w domain.LedgerWrites, order domain.Order, dAmount, dCost, dFee decimal.Decimal) error {
	portfolio, err := w.Portfolios.GetByID(ctx, order.PortfolioID)
	if err != nil {
		return fmt.Errorf("order_service: book portfolio %s: %w", order.PortfolioID, err)
	}
	pos, err := w.Positions.GetByID(ctx, order.PositionID)
	if err != nil {
		return fmt.Errorf("order_service: book position %s: %w", order.PositionID, err)
	}

	switch order.Side {
	case domain.OrderSideBuy:
		pos.Amount = pos.Amount.Add(dAmount)
		portfolio.Unallocated = portfolio.Unallocated.Sub(dCost.Add(dFee))
	case domain.OrderSideSell:
		next := pos.Amount.Sub(dAmount)
		if next.IsNegative() {
			s.logger.WarnContext(ctx, "sell fill exceeds position, clamping at zero",
				slog.String("order_id", order.ID),
				slog.String("position", pos.Amount.String()),
				slog.String("fill", dAmount.String()),
			)
			next = decimal.Zero
		}
		pos.Amount = next
		portfolio.Unallocated = portfolio.Unallocated.Add(dCost.Sub(dFee))
	}

	now := s.clock.Now()
	if !dAmount.IsZero() {
		pos.UpdatedAt = now
		if err := w.Positions.Update(ctx, pos); err != nil {
			return fmt.Errorf("order_service: book position %s: %w", pos.ID, err)
		}
	}
	portfolio.UpdatedAt = now
	if err := w.Portfolios.Update(ctx, portfolio); err != nil {
		return fmt.Errorf("order_service: book portfolio %s: %w", portfolio.ID, err)
	}
	return nil
}

func nextStatus(reported domain.OrderStatus) (domain.OrderStatus, error) {
	switch reported {
	case "", domain.OrderStatusPending, domain.OrderStatusOpen:
		return domain.OrderStatusOpen, nil
	case domain.OrderStatusClosed, domain.OrderStatusCancelled,
		domain.OrderStatusExpired, domain.OrderStatusRejected:
		return reported, nil
	}
	return "", fmt.Errorf("unknown venue status %q: %w", reported, domain.ErrInvalidTransition)
}

// Cancel cancels an order. Orders never sent to a venue are cancelled
// locally; otherwise the venue is asked first and whatever it reports back,
// including late fills, is booked before the order is marked CANCELLED.
func (s *OrderService) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status.IsTerminal() {
		return order, fmt.Errorf("order_service: cancel %s in status %s: %w", order.ID, order.Status, domain.ErrInvalidTransition)
	}

	if order.ExternalID == "" {
		return s.cancelLocal(ctx, order)
	}

	portfolio, err := s.portfolios.Get(ctx, order.PortfolioID)
	if err != nil {
		return order, fmt.Errorf("order_service: cancel: %w", err)
	}
	venue, err := s.venues.For(portfolio.Market)
	if err != nil {
		return order, fmt.Errorf("order_service: cancel: %w", err)
	}
	if err := venue.CancelOrder(ctx, order); err != nil {
		return order, fmt.Errorf("order_service: cancel %s: %w: %w", order.ID, domain.ErrVenue, err)
	}

	vs, err := venue.GetOrderStatus(ctx, order)
	if err != nil {
		s.logger.WarnContext(ctx, "status after cancel unavailable, keeping booked fills",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		vs = domain.VenueOrderStatus{
			FilledAmount: order.FilledAmount,
			FillPrice:    order.FillPrice,
			Fee:          order.Fee,
			FillID:       order.LastFillID,
		}
	}
	if !vs.Status.IsTerminal() {
		vs.Status = domain.OrderStatusCancelled
	}
	return s.ApplyVenueUpdate(ctx, order.ID, vs)
}

func (s *OrderService) cancelLocal(ctx context.Context, order domain.Order) (domain.Order, error) {
	unlock, err := s.lock(ctx, order.PortfolioID)
	if err != nil {
		return order, err
	}
	order, err = s.orders.GetByID(ctx, order.ID)
	if err != nil {
		unlock()
		return domain.Order{}, fmt.Errorf("order_service: cancel: %w", err)
	}
	if order.Status != domain.OrderStatusPending || order.ExternalID != "" {
		unlock()
		return order, fmt.Errorf("order_service: cancel %s in status %s: %w", order.ID, order.Status, domain.ErrInvalidTransition)
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = s.clock.Now()
	err = s.orders.Update(ctx, order)
	unlock()
	if err != nil {
		return order, fmt.Errorf("order_service: cancel update: %w", err)
	}
	s.emit(ctx, "order_cancelled", order, nil)
	s.logger.InfoContext(ctx, "order cancelled", slog.String("order_id", order.ID))
	return order, nil
}

// Get retrieves a single order by its ID.
func (s *OrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return order, nil
}

// Find returns the single order matching q: domain.ErrNotFound for none,
// domain.ErrAmbiguous for several.
func (s *OrderService) Find(ctx context.Context, q domain.OrderQuery) (domain.Order, error) {
	q.Limit = 2
	found, err := s.orders.List(ctx, q)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: find: %w", err)
	}
	switch len(found) {
	case 0:
		return domain.Order{}, fmt.Errorf("order_service: find: %w", domain.ErrNotFound)
	case 1:
		return found[0], nil
	}
	return domain.Order{}, fmt.Errorf("order_service: find: %w", domain.ErrAmbiguous)
}

// List returns orders matching q, newest first.
func (s *OrderService) List(ctx context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("order_service: list: %w", err)
	}
	return orders, nil
}

// Count returns the number of orders matching q.
func (s *OrderService) Count(ctx context.Context, q domain.OrderQuery) (int64, error) {
	n, err := s.orders.Count(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("order_service: count: %w", err)
	}
	return n, nil
}

func (s *OrderService) emit(ctx context.Context, event string, o domain.Order, extra map[string]any) {
	detail := map[string]any{
		"event":         event,
		"order_id":      o.ID,
		"external_id":   o.ExternalID,
		"portfolio_id":  o.PortfolioID,
		"symbol":        o.Symbol(),
		"side":          string(o.Side),
		"type":          string(o.Type),
		"status":        string(o.Status),
		"filled_amount": o.FilledAmount.String(),
		"fill_price":    o.FillPrice.String(),
		"fee":           o.Fee.String(),
	}
	for k, v := range extra {
		detail[k] = v
	}

	if s.bus != nil {
		evt, _ := json.Marshal(detail)
		if pubErr := s.bus.Publish(ctx, "orders", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "publish event failed",
				slog.String("order_id", o.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, event, detail); auditErr != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("order_id", o.ID),
				slog.String("error", auditErr.Error()),
			)
		}
	}
}

func (s *OrderService) appendFill(ctx context.Context, o domain.Order, amount decimal.Decimal) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"order_id": o.ID,
		"symbol":   o.Symbol(),
		"side":     string(o.Side),
		"amount":   amount.String(),
		"price":    o.FillPrice.String(),
		"at":       o.UpdatedAt.Format(time.RFC3339),
	})
	if err := s.bus.StreamAppend(ctx, "fills", payload); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "append fill failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}
