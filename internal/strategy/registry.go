package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// Factory builds a strategy from its configuration.
type Factory func(cfg Config, logger *slog.Logger) (Strategy, error)

// Registry maps strategy kinds to factories so strategies can be declared in
// configuration. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a Registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("mean_reversion", func(cfg Config, logger *slog.Logger) (Strategy, error) {
		return NewMeanReversion(cfg, logger)
	})
	return r
}

// Register adds a factory under kind, replacing any existing one.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(kind)] = f
}

// Build constructs the strategy described by cfg.
func (r *Registry) Build(cfg Config, logger *slog.Logger) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(cfg.Kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy kind %q: %w", cfg.Kind, domain.ErrNotFound)
	}
	if err := cfg.Cadence.Validate(); err != nil {
		return nil, fmt.Errorf("strategy %q: %w", cfg.Name, err)
	}
	s, err := f(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", cfg.Name, err)
	}
	return s, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
