package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct {
	mu    sync.Mutex
	snaps []domain.PortfolioSnapshot
}

// NewSnapshotStore returns an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Insert appends a snapshot.
func (s *SnapshotStore) Insert(_ context.Context, snap domain.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

// ListByPortfolio returns a portfolio's snapshots, newest first.
func (s *SnapshotStore) ListByPortfolio(_ context.Context, portfolioID string, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PortfolioSnapshot
	for i := len(s.snaps) - 1; i >= 0; i-- {
		snap := s.snaps[i]
		if snap.PortfolioID != portfolioID || !inRange(snap.CreatedAt, opts) {
			continue
		}
		out = append(out, snap)
	}
	return paginate(out, opts), nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
