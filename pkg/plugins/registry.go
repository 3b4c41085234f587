package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the in-process source of truth for loaded plugins. At most
// one plugin per name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin, rejecting duplicate names.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("nil plugin")
	}
	name := p.Metadata().Name
	if name == "" {
		return fmt.Errorf("plugin has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.plugins[name] = p
	return nil
}

// Get looks up a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns plugins sorted by order, then name.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		mi, mj := out[i].Metadata(), out[j].Metadata()
		if mi.Order != mj.Order {
			return mi.Order < mj.Order
		}
		return mi.Name < mj.Name
	})
	return out
}

// Clear drops every registered plugin. Discovery calls this before each
// reload so config edits take effect without restart.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]Plugin)
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
