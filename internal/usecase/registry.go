package usecase

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/usecase/model"
)

// Factory builds a use case bound to a container.
type Factory func(c model.Container) (UseCase, error)

// Registry holds named use cases for lookup and introspection.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]UseCase
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]UseCase)}
}

// Register adds a use case under name. Names must be unique.
func (r *Registry) Register(name string, uc UseCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("usecase: %q already registered", name)
	}
	r.entries[name] = uc
	return nil
}

// Provide builds a use case from the container and registers it.
func (r *Registry) Provide(c model.Container, name string, f Factory) error {
	uc, err := f(c)
	if err != nil {
		return fmt.Errorf("usecase: building %q: %w", name, err)
	}
	return r.Register(name, uc)
}

// Get returns the use case registered under name.
func (r *Registry) Get(name string) (UseCase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uc, ok := r.entries[name]
	return uc, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the descriptor of one use case.
func (r *Registry) Describe(name string) (model.UseCaseDescriptor, bool) {
	uc, ok := r.Get(name)
	if !ok {
		return model.UseCaseDescriptor{}, false
	}
	return describe(name, uc), true
}

// DescribeAll returns the descriptors of all use cases, sorted by name.
func (r *Registry) DescribeAll() []model.UseCaseDescriptor {
	names := r.Names()
	out := make([]model.UseCaseDescriptor, 0, len(names))
	for _, name := range names {
		if d, ok := r.Describe(name); ok {
			out = append(out, d)
		}
	}
	return out
}

func describe(name string, uc UseCase) model.UseCaseDescriptor {
	ifaces := uc.Interfaces()
	d := model.UseCaseDescriptor{
		Name:       name,
		Interfaces: make([]model.InterfaceDescriptor, 0, len(ifaces)),
	}
	for _, iface := range ifaces {
		d.Interfaces = append(d.Interfaces, iface.Describe())
	}
	return d
}
