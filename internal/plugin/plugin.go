// Package plugin registers dev server plugins. A plugin wraps the frontend
// (non-proxied) handler; plugins listed first run outermost.
package plugin

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/rathix/devproxy/internal/config"
)

// Plugin contributes middleware to the frontend pipeline.
type Plugin interface {
	Name() string
	Wrap(next http.Handler) http.Handler
}

// Factory builds a plugin from its options.
type Factory func(options map[string]string) (Plugin, error)

// Registry maps plugin names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in plugins.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("react", newReact)
	r.Register("headers", newHeaders)
	r.Register("nocache", newNoCache)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates specs in order. An unknown name or a factory error
// fails the whole build.
func (r *Registry) Build(specs []config.PluginSpec) ([]Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]Plugin, 0, len(specs))
	for i, spec := range specs {
		f, ok := r.factories[spec.Name]
		if !ok {
			return nil, fmt.Errorf("plugins[%d].name: unknown plugin %q", i, spec.Name)
		}
		p, err := f(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("plugins[%d] (%s): %w", i, spec.Name, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// Chain wraps h with plugins so that plugins[0] sees the request first.
func Chain(plugins []Plugin, h http.Handler) http.Handler {
	for i := len(plugins) - 1; i >= 0; i-- {
		h = plugins[i].Wrap(h)
	}
	return h
}
