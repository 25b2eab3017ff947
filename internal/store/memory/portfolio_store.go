package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore.
type PortfolioStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.Portfolio
	order []string
}

// NewPortfolioStore returns an empty PortfolioStore.
func NewPortfolioStore() *PortfolioStore {
	return &PortfolioStore{byID: make(map[string]domain.Portfolio)}
}

// Create inserts a portfolio. Identifiers must be unique.
func (s *PortfolioStore) Create(_ context.Context, p domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; ok {
		return fmt.Errorf("memory: create portfolio %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	for _, existing := range s.byID {
		if existing.Identifier == p.Identifier {
			return fmt.Errorf("memory: create portfolio %q: %w", p.Identifier, domain.ErrAlreadyExists)
		}
	}
	s.byID[p.ID] = p
	s.order = append(s.order, p.ID)
	return nil
}

// Update replaces a stored portfolio.
func (s *PortfolioStore) Update(_ context.Context, p domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return fmt.Errorf("memory: update portfolio %s: %w", p.ID, domain.ErrNotFound)
	}
	s.byID[p.ID] = p
	return nil
}

// GetByID returns one portfolio.
func (s *PortfolioStore) GetByID(_ context.Context, id string) (domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.Portfolio{}, domain.ErrNotFound
	}
	return p, nil
}

// List returns the portfolios inside scope in creation order.
func (s *PortfolioStore) List(_ context.Context, scope domain.PortfolioScope) ([]domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Portfolio
	for _, id := range s.order {
		if p := s.byID[id]; scope.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ domain.PortfolioStore = (*PortfolioStore)(nil)
