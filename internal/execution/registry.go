package execution

import (
	"fmt"
	"sort"
	"sync"

	"yqhp/load-engine/pkg/types"
)

// Registry manages execution mode factories.
type Registry struct {
	modes map[types.ExecutionMode]func() Mode
	mu    sync.RWMutex
}

// NewRegistry creates a new execution mode registry with default modes.
func NewRegistry() *Registry {
	r := &Registry{
		modes: make(map[types.ExecutionMode]func() Mode),
	}
	r.Register(types.ModeConstantVUs, func() Mode { return NewConstantVUsMode() })
	r.Register(types.ModeRampingVUs, func() Mode { return NewRampingVUsMode() })
	return r
}

// Register registers a mode factory.
func (r *Registry) Register(mode types.ExecutionMode, factory func() Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[mode] = factory
}

// Get returns a new instance of the specified mode.
func (r *Registry) Get(mode types.ExecutionMode) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.modes[mode]
	if !ok {
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
	return factory(), nil
}

// List returns all registered mode names, sorted.
func (r *Registry) List() []types.ExecutionMode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]types.ExecutionMode, 0, len(r.modes))
	for mode := range r.modes {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// DefaultRegistry is the default execution mode registry.
var DefaultRegistry = NewRegistry()

// GetMode returns a new instance of the specified mode from the default registry.
func GetMode(mode types.ExecutionMode) (Mode, error) {
	return DefaultRegistry.Get(mode)
}
