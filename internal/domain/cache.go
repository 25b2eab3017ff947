package domain

import (
	"context"
	"time"
)

// PriceCache keeps the latest ticker per symbol.
type PriceCache interface {
	SetTicker(ctx context.Context, ticker Ticker) error
	// GetTicker returns ErrNotFound when nothing is cached for symbol.
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
}

// LockManager provides per-key mutual exclusion. Acquire blocks until the
// lock is obtained or ctx is done.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub and durable streams for ledger events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
