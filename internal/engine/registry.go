package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the engines a worker process can serve, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

// Register adds an engine to the registry under the given name.
func (r *Registry) Register(name string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = e
}

// Resolve returns the engine registered under the given name.
func (r *Registry) Resolve(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q is not registered", name)
	}
	return e, nil
}

// List returns the info of all registered engines, sorted by name for a
// stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.engines))
	for _, e := range r.engines {
		infos = append(infos, e.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
