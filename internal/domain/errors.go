package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAmbiguous         = errors.New("query matched more than one record")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrValidation marks an order spec rejected before it reaches the venue.
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")

	// ErrDataUnavailable means no market data exists for the requested
	// symbol or range. Strategies skip the tick when they see it.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrVenue wraps transient execution venue failures.
	ErrVenue = errors.New("execution venue error")

	// ErrConfigurationAmbiguity is returned when a portfolio scope matches
	// zero or several portfolios where exactly one was required.
	ErrConfigurationAmbiguity = errors.New("configuration ambiguity")
	ErrNoPortfolioFound       = fmt.Errorf("no portfolio found: %w", ErrConfigurationAmbiguity)

	// ErrReplayExhausted ends a backtest whose data ran out before the end bound.
	ErrReplayExhausted = errors.New("replay data exhausted")
)
