package model

import (
	"context"
	"encoding/json"
	"reflect"
)

// DefaultAction is the implicit action name of a use case exposing a
// single action.
const DefaultAction = "default"

// SchemaContext carries contextual values a schema needs to validate, such
// as the current actor.
type SchemaContext map[string]any

// Schema translates raw payloads into trusted, validated mappings.
type Schema interface {
	// Name identifies the schema in descriptors and errors.
	Name() string

	// RequiresContext reports whether Load needs a non-nil SchemaContext.
	RequiresContext() bool

	// Load validates raw against the schema and returns the validated
	// mapping, or a *ValidationError enumerating the offending fields.
	Load(ctx context.Context, raw map[string]any, sctx SchemaContext) (map[string]any, error)

	// Document returns a JSON-serialisable description of the schema for
	// form generation.
	Document() any
}

// Interface describes one invokable action of a use case and the schema
// validating its input. Schema is nil when the action takes no structured
// input.
type Interface struct {
	Action string
	Schema Schema
}

// SchemaName returns the schema name, or "" when the action has no schema.
func (i Interface) SchemaName() string {
	if i.Schema == nil {
		return ""
	}
	return i.Schema.Name()
}

// Equal reports whether two descriptors document the same action with the
// same schema. Schemas of a comparable type must be the same instance;
// others are matched by name.
func (i Interface) Equal(other Interface) bool {
	return i.Action == other.Action && sameSchema(i.Schema, other.Schema)
}

// sameSchema compares schemas by identity when their dynamic type is
// comparable and by name otherwise.
func sameSchema(a, b Schema) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return a.Name() == b.Name()
}

// InterfaceDescriptor is the serialised form of an Interface sent to UI
// builders.
type InterfaceDescriptor struct {
	Action string            `json:"action"`
	Schema *SchemaDescriptor `json:"schema,omitempty"`
}

// SchemaDescriptor names a schema and carries its document.
type SchemaDescriptor struct {
	Name     string `json:"name"`
	Document any    `json:"document,omitempty"`
}

// Describe returns the serialisable descriptor.
func (i Interface) Describe() InterfaceDescriptor {
	d := InterfaceDescriptor{Action: i.Action}
	if i.Schema != nil {
		d.Schema = &SchemaDescriptor{Name: i.Schema.Name(), Document: i.Schema.Document()}
	}
	return d
}

// MarshalJSON implements json.Marshaler.
func (i Interface) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Describe())
}

// UseCaseDescriptor lists the interfaces of one named use case.
type UseCaseDescriptor struct {
	Name       string                `json:"name"`
	Interfaces []InterfaceDescriptor `json:"interfaces"`
}

// Container resolves dependencies by identity. Resolution is deterministic
// for the lifetime of a container.
type Container interface {
	Resolve(id string) (any, error)
}
