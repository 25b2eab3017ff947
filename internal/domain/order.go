package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide accepts any casing of BUY or SELL.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("order side %q: %w", s, ErrValidation)
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// ParseOrderType accepts any casing of LIMIT or MARKET.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderTypeLimit:
		return OrderTypeLimit, nil
	case OrderTypeMarket:
		return OrderTypeMarket, nil
	}
	return "", fmt.Errorf("order type %q: %w", s, ErrValidation)
}

// OrderStatus tracks the order lifecycle:
// PENDING -> OPEN -> {CLOSED, CANCELLED, EXPIRED, REJECTED}.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusClosed    OrderStatus = "CLOSED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusClosed, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// ParseOrderStatus accepts any casing of a known status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case OrderStatusPending, OrderStatusOpen, OrderStatusClosed,
		OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("order status %q: %w", s, ErrValidation)
}

// NonTerminalStatuses lists the states reconciliation still has to resolve.
var NonTerminalStatuses = []OrderStatus{OrderStatusPending, OrderStatusOpen}

// Order is a ledger order. Exactly one of AmountTarget and AmountTrading is
// set at creation; the other stays zero until a fill price is known.
// FilledAmount is always in target symbol units and FillPrice is the
// volume-weighted average over all fills.
type Order struct {
	ID            string
	ExternalID    string
	PortfolioID   string
	PositionID    string
	TargetSymbol  string
	TradingSymbol string
	Side          OrderSide
	Type          OrderType
	Price         *decimal.Decimal // nil for MARKET
	AmountTarget  decimal.Decimal
	AmountTrading decimal.Decimal
	FilledAmount  decimal.Decimal
	FillPrice     decimal.Decimal
	Fee           decimal.Decimal
	LastFillID    string
	Status        OrderStatus
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SubmittedAt   *time.Time
	FilledAt      *time.Time
}

// Symbol returns the TARGET/TRADING pair the order trades.
func (o Order) Symbol() string {
	return Pair(o.TargetSymbol, o.TradingSymbol)
}

// FilledCost is the trading symbol value of everything filled so far.
func (o Order) FilledCost() decimal.Decimal {
	return o.FilledAmount.Mul(o.FillPrice)
}

// OrderSpec is the input to order creation.
type OrderSpec struct {
	PortfolioID   string
	TargetSymbol  string
	Side          OrderSide
	Type          OrderType
	Price         *decimal.Decimal
	AmountTarget  *decimal.Decimal
	AmountTrading *decimal.Decimal
}

// Validate performs the structural checks every spec must pass, whether or
// not balance validation was requested.
func (s OrderSpec) Validate() error {
	var problems []string
	if s.PortfolioID == "" {
		problems = append(problems, "portfolio is required")
	}
	if strings.TrimSpace(s.TargetSymbol) == "" {
		problems = append(problems, "target symbol is required")
	}
	if s.Side != OrderSideBuy && s.Side != OrderSideSell {
		problems = append(problems, fmt.Sprintf("unknown side %q", s.Side))
	}
	switch s.Type {
	case OrderTypeLimit:
		if s.Price == nil {
			problems = append(problems, "limit order requires a price")
		}
	case OrderTypeMarket:
		if s.Price != nil {
			problems = append(problems, "market order must not carry a price")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown type %q", s.Type))
	}
	if (s.AmountTarget == nil) == (s.AmountTrading == nil) {
		problems = append(problems, "exactly one of amount_target_symbol and amount_trading_symbol is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// CheckPositive enforces strictly positive price and amounts.
func (s OrderSpec) CheckPositive() error {
	if s.Price != nil && !s.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrValidation, s.Price)
	}
	if s.AmountTarget != nil && !s.AmountTarget.IsPositive() {
		return fmt.Errorf("%w: amount_target_symbol must be positive, got %s", ErrValidation, s.AmountTarget)
	}
	if s.AmountTrading != nil && !s.AmountTrading.IsPositive() {
		return fmt.Errorf("%w: amount_trading_symbol must be positive, got %s", ErrValidation, s.AmountTrading)
	}
	return nil
}

// OrderRequest is what a strategy asks for. The portfolio is resolved from
// Scope before an OrderSpec is built.
type OrderRequest struct {
	Scope         PortfolioScope
	TargetSymbol  string
	Side          OrderSide
	Type          OrderType
	Price         *decimal.Decimal
	AmountTarget  *decimal.Decimal
	AmountTrading *decimal.Decimal
	Execute       bool
	Validate      bool
}

// OrderQuery filters orders by field equality and set membership. Zero
// fields do not filter.
type OrderQuery struct {
	IDs           []string
	PortfolioID   string
	PositionIDs   []string
	ExternalID    string
	TargetSymbol  string
	TradingSymbol string
	Side          OrderSide
	Type          OrderType
	Statuses      []OrderStatus
	Limit         int
}

// Matches reports whether o satisfies every set filter of q.
func (q OrderQuery) Matches(o Order) bool {
	if len(q.IDs) > 0 && !slices.Contains(q.IDs, o.ID) {
		return false
	}
	if q.PortfolioID != "" && q.PortfolioID != o.PortfolioID {
		return false
	}
	if len(q.PositionIDs) > 0 && !slices.Contains(q.PositionIDs, o.PositionID) {
		return false
	}
	if q.ExternalID != "" && q.ExternalID != o.ExternalID {
		return false
	}
	if q.TargetSymbol != "" && !strings.EqualFold(q.TargetSymbol, o.TargetSymbol) {
		return false
	}
	if q.TradingSymbol != "" && !strings.EqualFold(q.TradingSymbol, o.TradingSymbol) {
		return false
	}
	if q.Side != "" && q.Side != o.Side {
		return false
	}
	if q.Type != "" && q.Type != o.Type {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, o.Status) {
		return false
	}
	return true
}

// VenueAck is the venue's answer to an order submission.
type VenueAck struct {
	ExternalID string
	Accepted   bool
	Reason     string
}

// VenueOrderStatus is the venue's view of an order. Amounts and fees are
// cumulative over the order's life; FillPrice is the average fill price.
type VenueOrderStatus struct {
	Status       OrderStatus
	FilledAmount decimal.Decimal
	FillPrice    decimal.Decimal
	Fee          decimal.Decimal
	FillID       string
	UpdatedAt    time.Time
}

// Differs reports whether s carries anything the ledger has not booked yet.
func (s VenueOrderStatus) Differs(o Order) bool {
	if s.Status != "" && s.Status != OrderStatusPending && s.Status != o.Status {
		return true
	}
	if s.FillID != "" && s.FillID != o.LastFillID {
		return true
	}
	return !s.FilledAmount.Equal(o.FilledAmount) || !s.Fee.Equal(o.Fee)
}
