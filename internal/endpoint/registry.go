package endpoint

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a source adapter instance.
type Factory func() (Source, error)

// Registry holds source adapter factories indexed by kind.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for the given kind.
// Panics if the kind is already registered.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		panic(fmt.Sprintf("source adapter already registered: %s", kind))
	}
	r.factories[kind] = factory
}

// Get returns the factory for the given kind.
func (r *Registry) Get(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[kind]
	return factory, ok
}

// List returns all registered kinds, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe returns the descriptor of every registered kind, sorted by kind.
func (r *Registry) Describe() ([]*Descriptor, error) {
	kinds := r.List()
	out := make([]*Descriptor, 0, len(kinds))
	for _, kind := range kinds {
		src, err := r.Create(kind)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", kind, err)
		}
		d := src.GetDescriptor()
		if d == nil {
			d = &Descriptor{}
		}
		d.ID = kind
		out = append(out, d)
	}
	return out, nil
}

// Create instantiates the adapter for kind. Unknown kinds are a
// ConfigurationError so they surface before any connection attempt.
func (r *Registry) Create(kind string) (Source, error) {
	factory, ok := r.Get(kind)
	if !ok {
		return nil, Errorf(KindConfiguration, CodeUnknownAdapter, "unsupported source kind %q", kind)
	}
	return factory()
}

// --- Default Global Registry ---

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global adapter registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a factory to the default registry.
func Register(kind string, factory Factory) {
	defaultRegistry.Register(kind, factory)
}
