package schema

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// Catalog is an in-memory index of named schemas keyed by their name in
// components.schemas.
type Catalog struct {
	schemas map[string]*Schema
}

// LoadFile reads and indexes an OpenAPI document from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %s: %w", path, err)
	}
	return Load(data)
}

// Load parses and indexes an OpenAPI document. The document is validated
// before any schema is indexed.
func Load(data []byte) (*Catalog, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("schema: loading document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("schema: validating document: %w", err)
	}

	c := &Catalog{schemas: make(map[string]*Schema)}
	if doc.Components == nil {
		return c, nil
	}
	for name, ref := range doc.Components.Schemas {
		if ref == nil || ref.Value == nil {
			continue
		}
		c.schemas[name] = New(name, ref.Value)
	}
	return c, nil
}

// Get returns the schema registered under name.
func (c *Catalog) Get(name string) (*Schema, bool) {
	s, ok := c.schemas[name]
	return s, ok
}

// Lookup returns the schema registered under name or an error.
func (c *Catalog) Lookup(name string) (*Schema, error) {
	s, ok := c.schemas[name]
	if !ok {
		return nil, fmt.Errorf("schema: %q not found", name)
	}
	return s, nil
}

// Names returns all schema names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
