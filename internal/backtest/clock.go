// Package backtest replays historical market data through the live strategy
// and ledger pipeline under a virtual clock.
package backtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Clock is the virtual time of a replay. It only moves forward, one step at
// a time, and never past its end bound.
type Clock struct {
	mu    sync.RWMutex
	now   time.Time
	start time.Time
	end   time.Time
	step  time.Duration
}

// NewClock creates a Clock at start.
func NewClock(start, end time.Time, step time.Duration) (*Clock, error) {
	if step <= 0 {
		return nil, fmt.Errorf("backtest: step must be positive, got %s: %w", step, domain.ErrValidation)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("backtest: end %s before start %s: %w", end, start, domain.ErrValidation)
	}
	return &Clock{now: start, start: start, end: end, step: step}, nil
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock one step forward, stopping at the end bound. It
// returns false once the clock already sits at the end.
func (c *Clock) Advance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now.Before(c.end) {
		return false
	}
	next := c.now.Add(c.step)
	if next.After(c.end) {
		next = c.end
	}
	c.now = next
	return true
}

// Done reports whether the clock has reached the end bound.
func (c *Clock) Done() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.now.Before(c.end)
}

// Start returns the start bound.
func (c *Clock) Start() time.Time { return c.start }

// End returns the end bound.
func (c *Clock) End() time.Time { return c.end }

// Step returns the step size.
func (c *Clock) Step() time.Duration { return c.step }

var _ domain.Clock = (*Clock)(nil)
