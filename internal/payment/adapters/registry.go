package adapters

import (
	"strings"

	"github.com/hooklane/hooklane/internal/payment/domain"
)

type Registry struct {
	providers map[string]domain.Provider
}

func NewRegistry(providers ...domain.Provider) *Registry {
	registry := &Registry{providers: map[string]domain.Provider{}}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			continue
		}
		registry.providers[name] = provider
	}
	return registry
}

func (r *Registry) Get(name string) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	name = strings.ToLower(strings.TrimSpace(name))
	provider, ok := r.providers[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}

func (r *Registry) Default() (domain.Provider, error) {
	return r.Get("stripe")
}
