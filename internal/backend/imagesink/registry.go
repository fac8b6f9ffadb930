package imagesink

import (
	"fmt"
	"sort"
)

// Factory creates a sink from configuration.
type Factory func(cfg Config) (Sink, error)

// Registry manages the registration and creation of image sinks
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a new sink registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a sink factory to the registry
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("sink name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("sink factory cannot be nil")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("sink %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates a sink by name
func (r *Registry) Create(name string, cfg Config) (Sink, error) {
	factory, exists := r.factories[name]
	if !exists {
		return nil, fmt.Errorf("unknown image sink: %s", name)
	}

	sink, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create image sink %s: %w", name, err)
	}

	return sink, nil
}

// IsRegistered checks if a sink with the given name is registered
func (r *Registry) IsRegistered(name string) bool {
	_, exists := r.factories[name]
	return exists
}

// RegisteredNames returns the sorted names of all registered sinks
func (r *Registry) RegisteredNames() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in sinks.
var DefaultRegistry = NewRegistry()

func init() {
	for name, factory := range map[string]Factory{
		TypeCloudinary: NewCloudinarySink,
		TypeS3:         NewS3Sink,
	} {
		if err := DefaultRegistry.Register(name, factory); err != nil {
			panic(fmt.Sprintf("failed to register image sink %s: %v", name, err))
		}
	}
}
