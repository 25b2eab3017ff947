package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/algoengine/internal/cache/memory"
	"github.com/alanyoungcy/algoengine/internal/domain"
	storemem "github.com/alanyoungcy/algoengine/internal/store/memory"
)

var errTransport = errors.New("connection reset")

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubVenue struct {
	mu        sync.Mutex
	n         int
	reject    bool
	submitErr error
	statuses  map[string]domain.VenueOrderStatus
	failing   map[string]bool
	cancelled []string
	balance   map[string]decimal.Decimal
}

func newStubVenue() *stubVenue {
	return &stubVenue{
		statuses: make(map[string]domain.VenueOrderStatus),
		failing:  make(map[string]bool),
	}
}

func (v *stubVenue) SubmitOrder(_ context.Context, _ domain.Order) (domain.VenueAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.submitErr != nil {
		return domain.VenueAck{}, v.submitErr
	}
	v.n++
	ref := fmt.Sprintf("ext-%d", v.n)
	if v.reject {
		return domain.VenueAck{ExternalID: ref, Reason: "post only"}, nil
	}
	return domain.VenueAck{ExternalID: ref, Accepted: true}, nil
}

func (v *stubVenue) GetOrderStatus(_ context.Context, o domain.Order) (domain.VenueOrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failing[o.ExternalID] {
		return domain.VenueOrderStatus{}, errTransport
	}
	vs, ok := v.statuses[o.ExternalID]
	if !ok {
		return domain.VenueOrderStatus{Status: domain.OrderStatusOpen}, nil
	}
	return vs, nil
}

func (v *stubVenue) CancelOrder(_ context.Context, o domain.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, o.ExternalID)
	return nil
}

func (v *stubVenue) GetBalance(context.Context) (map[string]decimal.Decimal, error) {
	return v.balance, nil
}

func (v *stubVenue) set(ref string, vs domain.VenueOrderStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses[ref] = vs
}

// failingOrders fails the next Update after failNext is set.
type failingOrders struct {
	domain.OrderStore
	failNext bool
}

func (f *failingOrders) Update(ctx context.Context, o domain.Order) error {
	if f.failNext {
		f.failNext = false
		return errTransport
	}
	return f.OrderStore.Update(ctx, o)
}

// failingPortfolios fails the next Update after failNext is set.
type failingPortfolios struct {
	domain.PortfolioStore
	failNext bool
}

func (f *failingPortfolios) Update(ctx context.Context, p domain.Portfolio) error {
	if f.failNext {
		f.failNext = false
		return errTransport
	}
	return f.PortfolioStore.Update(ctx, p)
}

type stubPrices map[string]domain.Ticker

func (p stubPrices) GetTicker(_ context.Context, symbol, _ string) (domain.Ticker, error) {
	t, ok := p[strings.ToUpper(symbol)]
	if !ok {
		return domain.Ticker{}, fmt.Errorf("%s: %w", symbol, domain.ErrDataUnavailable)
	}
	return t, nil
}

type ledger struct {
	venue      *stubVenue
	prices     stubPrices
	bus        *cachemem.SignalBus
	portfolios *PortfolioService
	positions  *PositionService
	orders     *OrderService
	valuation  *ValuationService
	reconciler *ReconcileService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger() *ledger {
	return newLedgerWith(storemem.NewOrderStore(), storemem.NewPortfolioStore(), true)
}

// newLedgerWith builds the ledger over the given stores. atomic selects
// whether fills are booked through a memory unit of work.
func newLedgerWith(orderStore domain.OrderStore, portfolioStore domain.PortfolioStore, atomic bool) *ledger {
	clock := fixedClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ids := NewSequenceGenerator("test")
	logger := discardLogger()
	venue := newStubVenue()
	venues := Venues{AnyMarket: venue}
	prices := stubPrices{}
	bus := cachemem.NewSignalBus()

	positionStore := storemem.NewPositionStore()
	portfolios := NewPortfolioService(portfolioStore, venues, ids, clock, logger)
	positions := NewPositionService(positionStore, ids, clock, logger)
	orders := NewOrderService(orderStore, portfolios, positions, venues,
		cachemem.NewLockManager(), ids, clock, logger).
		WithPrices(prices).
		WithEvents(bus, storemem.NewAuditStore(clock))
	if atomic {
		orders.WithTransactor(storemem.NewLedger(orderStore, positionStore, portfolioStore))
	}
	return &ledger{
		venue:      venue,
		prices:     prices,
		bus:        bus,
		portfolios: portfolios,
		positions:  positions,
		orders:     orders,
		valuation:  NewValuationService(portfolios, positions, prices, clock, logger),
		reconciler: NewReconcileService(orders, portfolios, venues, time.Second, clock, logger),
	}
}

func (l *ledger) portfolio(t *testing.T, identifier, market string, balance int64) domain.Portfolio {
	t.Helper()
	p, err := l.portfolios.Initialize(context.Background(), PortfolioSpec{
		Identifier:     identifier,
		Market:         market,
		TradingSymbol:  "USDT",
		InitialBalance: decimal.NewFromInt(balance),
	})
	require.NoError(t, err)
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func limitBuy(portfolioID, amount, price string) domain.OrderSpec {
	return domain.OrderSpec{
		PortfolioID:  portfolioID,
		TargetSymbol: "BTC",
		Side:         domain.OrderSideBuy,
		Type:         domain.OrderTypeLimit,
		Price:        decp(price),
		AmountTarget: decp(amount),
	}
}
