package llm

import (
	"fmt"

	"github.com/remlabs/rem-engine/pkg/apperrors"
)

// Provider declares a named embedding provider: a model behind an
// EmbeddingClient with a fixed output dimension. Vectors with any other
// dimension are rejected, not silently truncated.
type Provider struct {
	Name      string
	Model     string
	Dimension int
	Client    EmbeddingClient
}

// Registry resolves provider names for the worker and the similarity ranker.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry creates a registry from the given providers.
func NewRegistry(providers ...*Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		if p.Name == "" || p.Model == "" {
			return nil, fmt.Errorf("provider name and model are required")
		}
		if p.Dimension <= 0 {
			return nil, fmt.Errorf("provider %q: dimension must be positive", p.Name)
		}
		if p.Client == nil {
			return nil, fmt.Errorf("provider %q: client is required", p.Name)
		}
		if _, exists := r.providers[p.Name]; exists {
			return nil, fmt.Errorf("duplicate provider %q", p.Name)
		}
		r.providers[p.Name] = p
	}
	return r, nil
}

// Get resolves a provider by name, returning ErrConfiguration for unknown
// names so callers fail fast rather than retrying.
func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q: %w", name, apperrors.ErrConfiguration)
	}
	return p, nil
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
