// Package schema validates use-case payloads against OpenAPI 3 schemas and
// loads named schemas from the components section of an OpenAPI document.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/usecase/model"
)

// ContextExtension is the property extension binding a property to a key
// of the schema context. A bound property is always taken from the context,
// never from the caller.
const ContextExtension = "x-context"

// Error codes reported in field errors.
const (
	CodeRequired       = "REQUIRED"
	CodeUnknownField   = "UNKNOWN_FIELD"
	CodeInvalidFormat  = "INVALID_FORMAT"
	CodeInvalidLength  = "INVALID_LENGTH"
	CodeInvalidValue   = "INVALID_VALUE"
	CodeMissingContext = "MISSING_CONTEXT"
)

// Schema is a model.Schema backed by an OpenAPI schema object.
type Schema struct {
	name     string
	doc      *openapi3.Schema
	bindings map[string]string // property -> context key
}

var _ model.Schema = (*Schema)(nil)

// New wraps an OpenAPI schema. Top-level properties carrying the
// x-context extension become context bindings.
func New(name string, doc *openapi3.Schema) *Schema {
	s := &Schema{name: name, doc: doc, bindings: map[string]string{}}
	for prop, ref := range doc.Properties {
		if ref == nil || ref.Value == nil {
			continue
		}
		if key, ok := ref.Value.Extensions[ContextExtension].(string); ok && key != "" {
			s.bindings[prop] = key
		}
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// RequiresContext reports whether any property is bound to the context.
func (s *Schema) RequiresContext() bool {
	return len(s.bindings) > 0
}

// Bindings returns the property to context key bindings.
func (s *Schema) Bindings() map[string]string {
	out := make(map[string]string, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out
}

// Document returns the OpenAPI schema object.
func (s *Schema) Document() any {
	return s.doc
}

// Load fills context-bound properties, applies defaults and validates the
// payload. Every violation is reported, not only the first.
func (s *Schema) Load(_ context.Context, raw map[string]any, sctx model.SchemaContext) (map[string]any, error) {
	value := make(map[string]any, len(raw)+len(s.bindings))
	for k, v := range raw {
		value[k] = normalise(v)
	}

	var details []model.FieldError
	for prop, key := range s.bindings {
		v, ok := sctx[key]
		if !ok || v == nil {
			details = append(details, model.FieldError{
				Field:   prop,
				Code:    CodeMissingContext,
				Message: fmt.Sprintf("context value %q is not available", key),
			})
			delete(value, prop)
			continue
		}
		value[prop] = normalise(v)
	}
	if len(details) > 0 {
		return nil, s.invalid(details)
	}

	err := s.doc.VisitJSON(value,
		openapi3.MultiErrors(),
		openapi3.VisitAsRequest(),
		openapi3.DefaultsSet(func() {}),
	)
	if err != nil {
		return nil, s.invalid(fieldErrors(err))
	}
	return value, nil
}

func (s *Schema) invalid(details []model.FieldError) *model.ValidationError {
	sort.SliceStable(details, func(i, j int) bool { return details[i].Field < details[j].Field })
	return &model.ValidationError{Schema: s.name, Details: details}
}

// fieldErrors flattens kin-openapi errors into field errors.
func fieldErrors(err error) []model.FieldError {
	var me openapi3.MultiError
	if errors.As(err, &me) {
		var out []model.FieldError
		for _, e := range me {
			out = append(out, fieldErrors(e)...)
		}
		return out
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		field := strings.Join(se.JSONPointer(), ".")
		if field == "" {
			field = model.OperationErrorKey
		}
		return []model.FieldError{{Field: field, Code: codeFor(se.SchemaField), Message: se.Reason}}
	}

	return []model.FieldError{{Field: model.OperationErrorKey, Code: CodeInvalidValue, Message: err.Error()}}
}

func codeFor(schemaField string) string {
	switch schemaField {
	case "required":
		return CodeRequired
	case "properties", "additionalProperties":
		return CodeUnknownField
	case "pattern", "format":
		return CodeInvalidFormat
	case "minLength", "maxLength":
		return CodeInvalidLength
	default:
		return CodeInvalidValue
	}
}

// normalise converts typed slices into the generic forms the validator
// understands.
func normalise(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
