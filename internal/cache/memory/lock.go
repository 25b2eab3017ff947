// Package memory implements the domain cache interfaces in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// LockManager implements domain.LockManager with one semaphore per key.
// The ttl argument is ignored: an in-process holder cannot vanish without
// taking the whole process with it.
type LockManager struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{slots: make(map[string]chan struct{})}
}

func (lm *LockManager) slot(key string) chan struct{} {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	ch, ok := lm.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lm.slots[key] = ch
	}
	return ch
}

// Acquire blocks until key is free or ctx is done. The returned unlock
// function is safe to call more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	ch := lm.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

var _ domain.LockManager = (*LockManager)(nil)
