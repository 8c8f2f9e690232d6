// Package container implements the dependency container use cases are
// built from. Dependencies are registered by identity and constructed
// lazily, once per container.
package container

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/pitabwire/usecase/model"
)

// ErrNotRegistered is returned when resolving an unknown identity.
var ErrNotRegistered = errors.New("container: dependency not registered")

// Provider constructs a dependency. Nested dependencies must be resolved
// through r.
type Provider func(r model.Container) (any, error)

type entry struct {
	mu       sync.Mutex
	provider Provider
	value    any
	built    bool
}

// Container holds providers and the instances built from them.
type Container struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []any // built instances, in construction order
}

var _ model.Container = (*Container)(nil)

// New creates an empty Container.
func New() *Container {
	return &Container{entries: make(map[string]*entry)}
}

// Register adds a lazily constructed dependency. Identities must be unique.
func (c *Container) Register(id string, p Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; exists {
		return fmt.Errorf("container: %q already registered", id)
	}
	c.entries[id] = &entry{provider: p}
	return nil
}

// Set adds an already constructed dependency.
func (c *Container) Set(id string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; exists {
		return fmt.Errorf("container: %q already registered", id)
	}
	c.entries[id] = &entry{value: v, built: true}
	return nil
}

// Resolve returns the dependency registered under id, constructing it on
// first use. Subsequent calls return the same instance.
func (c *Container) Resolve(id string) (any, error) {
	return c.resolve(id, nil)
}

// IDs returns all registered identities, sorted.
func (c *Container) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Container) resolve(id string, chain []string) (any, error) {
	if slices.Contains(chain, id) {
		return nil, fmt.Errorf("container: dependency cycle %s", strings.Join(append(chain, id), " -> "))
	}

	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return e.value, nil
	}

	v, err := e.provider(scope{c: c, chain: append(slices.Clone(chain), id)})
	if err != nil {
		return nil, fmt.Errorf("container: building %q: %w", id, err)
	}
	e.value, e.built = v, true

	c.mu.Lock()
	c.order = append(c.order, v)
	c.mu.Unlock()
	return v, nil
}

// Close releases every constructed dependency in reverse construction
// order. Dependencies implementing Shutdown(ctx) error, Close() error or
// Close() are released; all errors are joined.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	built := slices.Clone(c.order)
	c.order = nil
	c.mu.Unlock()

	var errs []error
	for i := len(built) - 1; i >= 0; i-- {
		switch v := built[i].(type) {
		case interface{ Shutdown(context.Context) error }:
			errs = append(errs, v.Shutdown(ctx))
		case interface{ Close() error }:
			errs = append(errs, v.Close())
		case interface{ Close() }:
			v.Close()
		}
	}
	return errors.Join(errs...)
}

// scope resolves nested dependencies while tracking the resolution chain.
type scope struct {
	c     *Container
	chain []string
}

func (s scope) Resolve(id string) (any, error) {
	return s.c.resolve(id, s.chain)
}

// Get resolves id and asserts its type.
func Get[T any](c model.Container, id string) (T, error) {
	var zero T
	v, err := c.Resolve(id)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: %q is %T, not %v", id, v, reflect.TypeFor[T]())
	}
	return t, nil
}
