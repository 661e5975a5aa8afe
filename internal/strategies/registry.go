// Package strategies hosts the Strategy registry and the built-in
// momentum rotation strategy. External strategy engines register through
// the same interface.
package strategies

import (
	"fmt"
	"sort"
	"sync"

	"github.com/polystrat/polystrat/internal/domain"
)

// Registry holds the strategies known to the engine, keyed by name
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.StrategyID]domain.Strategy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.StrategyID]domain.Strategy)}
}

// Register adds a strategy. Registering the same name twice is a
// programming error and is rejected.
func (r *Registry) Register(s domain.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if name == "" {
		return fmt.Errorf("strategy must have a name")
	}
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Get returns the strategy registered under name
func (r *Registry) Get(name domain.StrategyID) (domain.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// All returns every registered strategy sorted by name, so callers
// iterate deterministically.
func (r *Registry) All() []domain.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
