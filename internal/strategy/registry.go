package strategy

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrUnknownStrategy is returned for names nothing was registered under.
var ErrUnknownStrategy = errors.New("strategy: not registered")

// StrategyInfo is the per-strategy counter block reported by the API.
type StrategyInfo struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"` // pending, running, stopped
	TicksSeen   int64      `json:"ticks_seen"`
	SignalsSent int64      `json:"signals_sent"`
	Rejected    int64      `json:"rejected"`
	LastSignal  *time.Time `json:"last_signal,omitempty"`
	ErrorCount  int64      `json:"error_count"`
}

// Registry maps strategy names to instances.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Strategy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Strategy)}
}

// Register files s under its Name. A second strategy with the same name is
// an error; the first one stays.
func (r *Registry) Register(s Strategy) error {
	name := s.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("strategy: %q registered twice", name)
	}
	r.byName[name] = s
	return nil
}

// Get looks a strategy up by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	s, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// MustRegister is Register for wiring code whose names are fixed at compile
// time. It panics on a duplicate.
func (r *Registry) MustRegister(s Strategy) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}
