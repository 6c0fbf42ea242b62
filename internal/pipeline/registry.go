package pipeline

import (
	"sort"
	"sync"

	"github.com/dandantas/scout/internal/model"
)

// Registry maps pipeline types to launchers
type Registry struct {
	mu        sync.RWMutex
	launchers map[model.PipelineType]Launcher
}

// NewRegistry creates a registry holding the given launchers
func NewRegistry(launchers ...Launcher) *Registry {
	r := &Registry{launchers: make(map[model.PipelineType]Launcher)}
	for _, l := range launchers {
		r.Register(l)
	}
	return r
}

// Register adds or replaces the launcher for its type
func (r *Registry) Register(l Launcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launchers[l.Type()] = l
}

// Get returns the launcher for a pipeline type
func (r *Registry) Get(t model.PipelineType) (Launcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.launchers[t]
	return l, ok
}

// Types lists the registered pipeline types
func (r *Registry) Types() []model.PipelineType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]model.PipelineType, 0, len(r.launchers))
	for t := range r.launchers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
