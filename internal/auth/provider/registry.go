package provider

import "fmt"

// Registry holds all configured OAuth providers and allows
// lookup by provider name. It performs no auth logic itself.
type Registry struct {
	providers   map[string]OAuthProvider
	defaultName string
}

// NewRegistry registers the given providers by name. The first one is the
// default unless SetDefault picks another.
func NewRegistry(list ...OAuthProvider) *Registry {
	r := &Registry{providers: make(map[string]OAuthProvider, len(list))}
	for _, p := range list {
		if r.defaultName == "" {
			r.defaultName = p.Name()
		}
		r.providers[p.Name()] = p
	}
	return r
}

// SetDefault selects the provider used when the caller names none.
func (r *Registry) SetDefault(name string) error {
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown oauth provider: %s", name)
	}
	r.defaultName = name
	return nil
}

// Get returns the provider by name, or the default when name is empty.
func (r *Registry) Get(name string) (OAuthProvider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider: %q", name)
	}
	return p, nil
}

func (r *Registry) Len() int {
	return len(r.providers)
}
