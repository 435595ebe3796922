// Package backend keeps the named generation backends a tier can fall back
// through.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

// Backend is one named generation target.
type Backend struct {
	Name      string
	Local     bool
	Generator ports.Generator
}

// Registry keeps a mapping from backend names to their implementations.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: map[string]Backend{}}
}

// Register adds or replaces a backend implementation.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backends == nil {
		r.backends = map[string]Backend{}
	}
	r.backends[b.Name] = b
}

// Resolve returns a backend by name. A missing or unconfigured backend yields
// an error wrapping domain.ErrBackendUnavailable.
func (r *Registry) Resolve(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok || b.Generator == nil {
		return Backend{}, fmt.Errorf("backend %s is not registered: %w", name, domain.ErrBackendUnavailable)
	}
	return b, nil
}

// IsLocal reports whether name is a registered on-device backend.
func (r *Registry) IsLocal(name string) bool {
	b, err := r.Resolve(name)
	return err == nil && b.Local
}

// Names lists registered backends in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
