package provider

import "sync"

// Registry holds all registered provider instances. Resolution prefers an
// exact instance id; a domain resolves to the first registered instance of
// that domain. An unknown handle resolves to nil, which callers treat as
// "no data", not an error.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider instance to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance := p.Instance()
	if _, ok := r.providers[instance]; !ok {
		r.order = append(r.order, instance)
	}
	r.providers[instance] = p
}

// Get resolves a provider by instance id or domain, or nil if none matches.
func (r *Registry) Get(domainOrInstance string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[domainOrInstance]; ok {
		return p
	}
	for _, instance := range r.order {
		if p := r.providers[instance]; p.Domain() == domainOrInstance {
			return p
		}
	}
	return nil
}

// Active returns all registered providers in registration order.
func (r *Registry) Active() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, instance := range r.order {
		out = append(out, r.providers[instance])
	}
	return out
}
