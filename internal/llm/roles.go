package llm

import (
	"fmt"
	"sync"
)

// Well-known model roles. A model selector is either one of these role names
// or an explicit model name registered alongside a role.
const (
	// RolePrimary is the main response-generation model.
	RolePrimary = "primary"

	// RoleAuxiliary serves cheaper side tasks: reformulation, reflection.
	RoleAuxiliary = "auxiliary"
)

// Registry maps model roles and explicit model names to configured text
// generators. Each named configuration carries its own endpoint, credentials
// and token limit via the factory.
type Registry struct {
	mu      sync.RWMutex
	byRole  map[string]TextGenerator
	byModel map[string]TextGenerator
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		byRole:  make(map[string]TextGenerator),
		byModel: make(map[string]TextGenerator),
	}
}

// Register builds a client for the configuration and binds it to the role.
// The client is also resolvable by its explicit model name.
func (r *Registry) Register(role string, cfg ProviderConfig) error {
	if role == "" {
		return fmt.Errorf("model role is required")
	}
	gen, err := NewTextGenerator(cfg)
	if err != nil {
		return fmt.Errorf("register role %q: %w", role, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRole[role] = gen
	if cfg.Model != "" {
		r.byModel[cfg.Model] = gen
	}
	return nil
}

// RegisterClient binds an already-built generator to a role. Used by tests
// and by callers that wrap clients (e.g. with the resilience layer).
func (r *Registry) RegisterClient(role string, gen TextGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRole[role] = gen
	if model := gen.GetModel(); model != "" {
		r.byModel[model] = gen
	}
}

// Resolve returns the generator for a selector: role names take precedence,
// then explicit model names.
func (r *Registry) Resolve(selector string) (TextGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if gen, ok := r.byRole[selector]; ok {
		return gen, nil
	}
	if gen, ok := r.byModel[selector]; ok {
		return gen, nil
	}
	return nil, fmt.Errorf("no model registered for selector %q", selector)
}
