// Package memory implements the domain store interfaces in process memory.
// Backtests run entirely on these stores; live mode uses them when no
// database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// OrderStore implements domain.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	seq    map[string]uint64
	next   uint64
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]domain.Order),
		seq:    make(map[string]uint64),
	}
}

// Create inserts a new order.
func (s *OrderStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("memory: create order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	s.orders[o.ID] = cloneOrder(o)
	s.next++
	s.seq[o.ID] = s.next
	return nil
}

// Update replaces a stored order.
func (s *OrderStore) Update(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("memory: update order %s: %w", o.ID, domain.ErrNotFound)
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

// GetByID returns a single order.
func (s *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return cloneOrder(o), nil
}

// List returns matching orders, newest first. Orders created at the same
// time come in reverse insertion order.
func (s *OrderStore) List(_ context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	s.mu.RLock()
	out := make([]domain.Order, 0, len(s.orders))
	seq := make(map[string]uint64, len(s.orders))
	for _, o := range s.orders {
		if q.Matches(o) {
			out = append(out, cloneOrder(o))
			seq[o.ID] = s.seq[o.ID]
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return seq[out[i].ID] > seq[out[j].ID]
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns the number of matching orders, ignoring q.Limit.
func (s *OrderStore) Count(_ context.Context, q domain.OrderQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, o := range s.orders {
		if q.Matches(o) {
			n++
		}
	}
	return n, nil
}

func cloneOrder(o domain.Order) domain.Order {
	if o.Price != nil {
		p := *o.Price
		o.Price = &p
	}
	if o.SubmittedAt != nil {
		t := *o.SubmittedAt
		o.SubmittedAt = &t
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		o.FilledAt = &t
	}
	return o
}

var _ domain.OrderStore = (*OrderStore)(nil)
