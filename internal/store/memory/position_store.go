package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.Position
	order []string
}

// NewPositionStore returns an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{byID: make(map[string]domain.Position)}
}

// Create inserts a position. A portfolio holds at most one position per symbol.
func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; ok {
		return fmt.Errorf("memory: create position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	for _, existing := range s.byID {
		if existing.PortfolioID == p.PortfolioID && strings.EqualFold(existing.Symbol, p.Symbol) {
			return fmt.Errorf("memory: create position %s/%s: %w", p.PortfolioID, p.Symbol, domain.ErrAlreadyExists)
		}
	}
	s.byID[p.ID] = p
	s.order = append(s.order, p.ID)
	return nil
}

// Update replaces a stored position.
func (s *PositionStore) Update(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return fmt.Errorf("memory: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	s.byID[p.ID] = p
	return nil
}

// GetByID returns one position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// List returns matching positions in creation order.
func (s *PositionStore) List(_ context.Context, q domain.PositionQuery) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, id := range s.order {
		if p := s.byID[id]; q.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
