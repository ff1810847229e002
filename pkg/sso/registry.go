package sso

import (
	"sort"
	"sync"
)

// Registry holds the live provider set. It is an owned value passed into the
// Manager, not a process-wide singleton, so multiple manager instances can
// coexist. Mutation is isolated per provider name: registering or removing
// one provider never disturbs in-flight handshakes for the others.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register validates and adds a provider, replacing any existing entry with
// the same name.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return newConfigError("", "", "provider is nil")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	return nil
}

// Remove deletes a provider by name. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
}

// Get returns the provider for a name, or a ConfigError if none is
// registered.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, newConfigError(name, "", "no such provider registered")
	}
	return p, nil
}

// List returns the registered provider names grouped by protocol, sorted.
func (r *Registry) List() map[Protocol][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Protocol][]string)
	for name, p := range r.providers {
		out[p.Protocol()] = append(out[p.Protocol()], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// Providers returns a point-in-time snapshot of the provider set.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
