package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PortfolioSpec describes a configured portfolio.
type PortfolioSpec struct {
	Identifier     string
	Market         string
	TradingSymbol  string
	InitialBalance decimal.Decimal
	// SyncBalance replaces the unallocated balance with the venue's balance
	// for the trading symbol on every start.
	SyncBalance bool
}

// PortfolioService creates portfolios and resolves portfolio scopes.
type PortfolioService struct {
	portfolios domain.PortfolioStore
	venues     Venues
	ids        domain.IDGenerator
	clock      domain.Clock
	logger     *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(
	portfolios domain.PortfolioStore,
	venues Venues,
	ids domain.IDGenerator,
	clock domain.Clock,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		portfolios: portfolios,
		venues:     venues,
		ids:        ids,
		clock:      clock,
		logger:     logger.With(slog.String("component", "portfolio_service")),
	}
}

// Initialize creates the portfolio described by spec unless one with the same
// identifier already exists, in which case the stored state wins.
func (s *PortfolioService) Initialize(ctx context.Context, spec PortfolioSpec) (domain.Portfolio, error) {
	if spec.Identifier == "" || spec.Market == "" || spec.TradingSymbol == "" {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: identifier, market and trading symbol are required: %w", domain.ErrValidation)
	}
	if spec.InitialBalance.IsNegative() {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: negative initial balance %s: %w", spec.InitialBalance, domain.ErrValidation)
	}

	existing, err := s.portfolios.List(ctx, domain.PortfolioScope{Identifier: spec.Identifier})
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: lookup %q: %w", spec.Identifier, err)
	}

	now := s.clock.Now()
	p := domain.Portfolio{
		ID:            s.ids.NewID(),
		Identifier:    spec.Identifier,
		Market:        strings.ToUpper(spec.Market),
		TradingSymbol: strings.ToUpper(spec.TradingSymbol),
		Unallocated:   spec.InitialBalance,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(existing) > 0 {
		p = existing[0]
	}

	if spec.SyncBalance {
		balance, err := s.venueBalance(ctx, p)
		if err != nil {
			return domain.Portfolio{}, err
		}
		p.Unallocated = balance
		p.UpdatedAt = now
	}

	if len(existing) > 0 {
		if spec.SyncBalance {
			if err := s.portfolios.Update(ctx, p); err != nil {
				return domain.Portfolio{}, fmt.Errorf("portfolio_service: sync %q: %w", p.Identifier, err)
			}
		}
		s.logger.InfoContext(ctx, "portfolio loaded",
			slog.String("identifier", p.Identifier),
			slog.String("unallocated", p.Unallocated.String()),
		)
		return p, nil
	}

	if err := s.portfolios.Create(ctx, p); err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: create %q: %w", p.Identifier, err)
	}
	s.logger.InfoContext(ctx, "portfolio created",
		slog.String("identifier", p.Identifier),
		slog.String("market", p.Market),
		slog.String("trading_symbol", p.TradingSymbol),
		slog.String("unallocated", p.Unallocated.String()),
	)
	return p, nil
}

func (s *PortfolioService) venueBalance(ctx context.Context, p domain.Portfolio) (decimal.Decimal, error) {
	venue, err := s.venues.For(p.Market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("portfolio_service: sync %q: %w", p.Identifier, err)
	}
	balances, err := venue.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("portfolio_service: sync %q: %w: %w", p.Identifier, domain.ErrVenue, err)
	}
	for sym, amount := range balances {
		if strings.EqualFold(sym, p.TradingSymbol) {
			return amount, nil
		}
	}
	return decimal.Zero, nil
}

// Resolve returns the single portfolio in scope. No match yields
// domain.ErrNoPortfolioFound; several yield domain.ErrConfigurationAmbiguity.
func (s *PortfolioService) Resolve(ctx context.Context, scope domain.PortfolioScope) (domain.Portfolio, error) {
	found, err := s.portfolios.List(ctx, scope)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: resolve: %w", err)
	}
	switch len(found) {
	case 0:
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: market=%q identifier=%q: %w",
			scope.Market, scope.Identifier, domain.ErrNoPortfolioFound)
	case 1:
		return found[0], nil
	}
	return domain.Portfolio{}, fmt.Errorf("portfolio_service: market=%q identifier=%q matched %d portfolios, specify market or identifier: %w",
		scope.Market, scope.Identifier, len(found), domain.ErrConfigurationAmbiguity)
}

// Get returns a portfolio by id.
func (s *PortfolioService) Get(ctx context.Context, id string) (domain.Portfolio, error) {
	p, err := s.portfolios.GetByID(ctx, id)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: get %q: %w", id, err)
	}
	return p, nil
}

// List returns every portfolio in scope.
func (s *PortfolioService) List(ctx context.Context, scope domain.PortfolioScope) ([]domain.Portfolio, error) {
	out, err := s.portfolios.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list: %w", err)
	}
	return out, nil
}
