package provider

import (
	"fmt"
	"sort"
)

// Registry holds all configured providers and allows lookup by name.
// It performs no auth logic itself.
type Registry struct {
	providers map[string]IdentityProvider
}

// NewRegistry registers the given providers by name. Provider names must be
// unique.
func NewRegistry(list ...IdentityProvider) (*Registry, error) {
	m := make(map[string]IdentityProvider, len(list))
	for _, p := range list {
		if _, dup := m[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name())
		}
		m[p.Name()] = p
	}
	return &Registry{providers: m}, nil
}

// Get returns the provider by name or an error if not registered.
func (r *Registry) Get(name string) (IdentityProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown identity provider: %s", name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
