package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

const (
	// DefaultValuationScale is the number of decimal places values are
	// rounded to.
	DefaultValuationScale int32 = 8
	percentageScale       int32 = 4
)

var hundred = decimal.NewFromInt(100)

// ValuationService prices portfolios from ledger state and the current
// tickers. Nothing is cached: every call reads the ledger and the ticker
// source again, so backtest reads follow the virtual clock.
type ValuationService struct {
	portfolios *PortfolioService
	positions  *PositionService
	prices     TickerSource
	snapshots  domain.SnapshotStore
	clock      domain.Clock
	scale      int32
	logger     *slog.Logger
}

// NewValuationService creates a ValuationService.
func NewValuationService(
	portfolios *PortfolioService,
	positions *PositionService,
	prices TickerSource,
	clock domain.Clock,
	logger *slog.Logger,
) *ValuationService {
	return &ValuationService{
		portfolios: portfolios,
		positions:  positions,
		prices:     prices,
		clock:      clock,
		scale:      DefaultValuationScale,
		logger:     logger.With(slog.String("component", "valuation_service")),
	}
}

// WithScale overrides the rounding scale.
func (s *ValuationService) WithScale(scale int32) *ValuationService {
	if scale >= 0 {
		s.scale = scale
	}
	return s
}

// WithSnapshots persists every snapshot taken.
func (s *ValuationService) WithSnapshots(store domain.SnapshotStore) *ValuationService {
	s.snapshots = store
	return s
}

// GetUnallocated returns the cash balance of the portfolio in scope.
func (s *ValuationService) GetUnallocated(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error) {
	p, err := s.portfolios.Resolve(ctx, scope)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Unallocated.Round(s.scale), nil
}

// GetAllocated returns the value, in the trading symbol, of every position of
// the portfolio in scope other than the trading symbol itself, priced at bid.
func (s *ValuationService) GetAllocated(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error) {
	p, err := s.portfolios.Resolve(ctx, scope)
	if err != nil {
		return decimal.Zero, err
	}
	snap, err := s.value(ctx, p)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Allocated, nil
}

// GetTotalValue returns unallocated plus allocated.
func (s *ValuationService) GetTotalValue(ctx context.Context, scope domain.PortfolioScope) (decimal.Decimal, error) {
	p, err := s.portfolios.Resolve(ctx, scope)
	if err != nil {
		return decimal.Zero, err
	}
	snap, err := s.value(ctx, p)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.TotalValue, nil
}

// GetPositionPercentage returns the share of the allocated value held in
// symbol, as a percentage. It is zero when nothing is allocated.
func (s *ValuationService) GetPositionPercentage(ctx context.Context, symbol string, scope domain.PortfolioScope) (decimal.Decimal, error) {
	p, err := s.portfolios.Resolve(ctx, scope)
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := s.positions.Find(ctx, p.ID, symbol); err != nil {
		return decimal.Zero, err
	}
	snap, err := s.value(ctx, p)
	if err != nil {
		return decimal.Zero, err
	}
	if snap.Allocated.IsZero() {
		return decimal.Zero, nil
	}
	for _, ps := range snap.Positions {
		if strings.EqualFold(ps.Symbol, symbol) {
			return ps.Value.Mul(hundred).DivRound(snap.Allocated, percentageScale), nil
		}
	}
	return decimal.Zero, nil
}

// Snapshot values the portfolio in scope and stores the result when a
// snapshot store is attached.
func (s *ValuationService) Snapshot(ctx context.Context, scope domain.PortfolioScope) (domain.PortfolioSnapshot, error) {
	p, err := s.portfolios.Resolve(ctx, scope)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	return s.SnapshotOf(ctx, p)
}

// SnapshotOf values p directly.
func (s *ValuationService) SnapshotOf(ctx context.Context, p domain.Portfolio) (domain.PortfolioSnapshot, error) {
	snap, err := s.value(ctx, p)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.Insert(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "snapshot insert failed",
				slog.String("portfolio_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// value prices every position of p. A position with a non-zero amount and no
// ticker fails with domain.ErrDataUnavailable rather than being valued at 0.
func (s *ValuationService) value(ctx context.Context, p domain.Portfolio) (domain.PortfolioSnapshot, error) {
	positions, err := s.positions.List(ctx, domain.PositionQuery{PortfolioID: p.ID})
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}

	snap := domain.PortfolioSnapshot{
		PortfolioID:   p.ID,
		Identifier:    p.Identifier,
		Market:        p.Market,
		TradingSymbol: p.TradingSymbol,
		Unallocated:   p.Unallocated.Round(s.scale),
		Allocated:     decimal.Zero,
		CreatedAt:     s.clock.Now(),
	}
	for _, pos := range positions {
		if strings.EqualFold(pos.Symbol, p.TradingSymbol) {
			continue
		}
		ps := domain.PositionSnapshot{Symbol: pos.Symbol, Amount: pos.Amount, Price: decimal.Zero, Value: decimal.Zero}
		if !pos.Amount.IsZero() {
			pair := domain.Pair(pos.Symbol, p.TradingSymbol)
			t, err := s.prices.GetTicker(ctx, pair, p.Market)
			if err != nil {
				return domain.PortfolioSnapshot{}, fmt.Errorf("valuation_service: price %s: %w", pair, err)
			}
			ps.Price = t.Bid
			ps.Value = pos.Amount.Mul(t.Bid).Round(s.scale)
		}
		snap.Allocated = snap.Allocated.Add(ps.Value)
		snap.Positions = append(snap.Positions, ps)
	}
	snap.Allocated = snap.Allocated.Round(s.scale)
	snap.TotalValue = snap.Unallocated.Add(snap.Allocated)
	return snap, nil
}
