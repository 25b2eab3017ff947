package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const defaultLockPoll = 25 * time.Millisecond

// LockManager implements domain.LockManager with SET NX plus a TTL. Acquire
// polls until the key is free, so a holder that dies is released by expiry.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	poll     time.Duration
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		poll:     defaultLockPoll,
	}
}

// WithPollInterval sets how often a contended Acquire retries.
func (lm *LockManager) WithPollInterval(d time.Duration) *LockManager {
	if d > 0 {
		lm.poll = d
	}
	return lm
}

// TryAcquire makes one attempt and returns domain.ErrLockHeld when another
// holder has the key.
func (lm *LockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Acquire blocks until the lock is obtained or ctx is done.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	ticker := time.NewTicker(lm.poll)
	defer ticker.Stop()
	for {
		unlock, err := lm.TryAcquire(ctx, key, ttl)
		if !errors.Is(err, domain.ErrLockHeld) {
			return unlock, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
