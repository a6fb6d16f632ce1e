package providers

import "sort"

// Registry tracks which providers are configured
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers every provider that is available
func NewRegistry(all ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
	}

	for _, p := range all {
		if p.IsAvailable() {
			r.providers[p.Name()] = p
		}
	}

	return r
}

// Get returns a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Available returns the sorted names of configured providers
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAvailable checks if a provider is registered
func (r *Registry) IsAvailable(name string) bool {
	_, ok := r.providers[name]
	return ok
}
