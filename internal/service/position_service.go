package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PositionService owns position lookup and lazy creation. Callers that
// change amounts must hold the portfolio's exclusive scope.
type PositionService struct {
	positions domain.PositionStore
	ids       domain.IDGenerator
	clock     domain.Clock
	logger    *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(
	positions domain.PositionStore,
	ids domain.IDGenerator,
	clock domain.Clock,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		ids:       ids,
		clock:     clock,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// Ensure returns the position for symbol in the portfolio, creating an empty
// one the first time the symbol is traded.
func (s *PositionService) Ensure(ctx context.Context, portfolioID, symbol string) (domain.Position, error) {
	pos, err := s.Find(ctx, portfolioID, symbol)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, err
	}

	now := s.clock.Now()
	pos = domain.Position{
		ID:          s.ids.NewID(),
		PortfolioID: portfolioID,
		Symbol:      strings.ToUpper(symbol),
		Amount:      decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.positions.Create(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.Find(ctx, portfolioID, symbol)
		}
		return domain.Position{}, fmt.Errorf("position_service: create %s: %w", symbol, err)
	}
	s.logger.DebugContext(ctx, "position created",
		slog.String("portfolio_id", portfolioID),
		slog.String("symbol", pos.Symbol),
	)
	return pos, nil
}

// Find returns the position for symbol, or domain.ErrNotFound.
func (s *PositionService) Find(ctx context.Context, portfolioID, symbol string) (domain.Position, error) {
	found, err := s.positions.List(ctx, domain.PositionQuery{PortfolioID: portfolioID, Symbol: symbol})
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: find %s: %w", symbol, err)
	}
	switch len(found) {
	case 0:
		return domain.Position{}, fmt.Errorf("position_service: %s in portfolio %s: %w", symbol, portfolioID, domain.ErrNotFound)
	case 1:
		return found[0], nil
	}
	return domain.Position{}, fmt.Errorf("position_service: %s in portfolio %s: %w", symbol, portfolioID, domain.ErrAmbiguous)
}

// Amount returns the held amount of symbol, zero when never traded.
func (s *PositionService) Amount(ctx context.Context, portfolioID, symbol string) (decimal.Decimal, error) {
	pos, err := s.Find(ctx, portfolioID, symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return pos.Amount, nil
}

// Get returns a position by id.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", id, err)
	}
	return pos, nil
}

// List returns the positions matching q.
func (s *PositionService) List(ctx context.Context, q domain.PositionQuery) ([]domain.Position, error) {
	out, err := s.positions.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("position_service: list: %w", err)
	}
	return out, nil
}
