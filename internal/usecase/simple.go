package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pitabwire/usecase/model"
)

// ContextProvider supplies the schema context for validation.
type ContextProvider func(ctx context.Context) (model.SchemaContext, error)

// Handler performs the domain operation of a Simple use case. Returning a
// *model.UseCaseError reports a business failure.
type Handler func(ctx context.Context, action string, validated map[string]any) (map[string]any, error)

// Simple is the default use case: one implicit action bound to one schema.
// Concrete use cases embed it and override IsAvailable, and sometimes
// Validate or Execute.
type Simple struct {
	name     string
	action   string
	schema   model.Schema
	provider ContextProvider
	handler  Handler

	once       sync.Once
	interfaces []model.Interface
}

// SimpleOption configures a Simple use case.
type SimpleOption func(*Simple)

// WithAction overrides the implicit action name.
func WithAction(action string) SimpleOption {
	return func(s *Simple) { s.action = action }
}

// WithContextProvider sets the schema context provider.
func WithContextProvider(p ContextProvider) SimpleOption {
	return func(s *Simple) { s.provider = p }
}

// WithHandler sets the execution handler.
func WithHandler(h Handler) SimpleOption {
	return func(s *Simple) { s.handler = h }
}

// NewSimple creates a Simple use case. schema may be nil for an action that
// takes no structured input.
func NewSimple(name string, schema model.Schema, opts ...SimpleOption) *Simple {
	s := &Simple{
		name:   name,
		action: model.DefaultAction,
		schema: schema,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the use case name.
func (s *Simple) Name() string {
	return s.name
}

// Schema returns the schema bound to the implicit action.
func (s *Simple) Schema() model.Schema {
	return s.schema
}

// Interfaces returns a single descriptor binding the implicit action to the
// schema. It is computed once per instance.
func (s *Simple) Interfaces() []model.Interface {
	s.once.Do(func() {
		s.interfaces = []model.Interface{{Action: s.action, Schema: s.schema}}
	})
	return slices.Clone(s.interfaces)
}

// IsAvailable is always true.
func (s *Simple) IsAvailable(context.Context, model.Input) (bool, error) {
	return true, nil
}

// GetContext returns the schema context, or model.ErrContextNotSupported
// when no provider was configured.
func (s *Simple) GetContext(ctx context.Context) (model.SchemaContext, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("usecase %s: %w", s.name, model.ErrContextNotSupported)
	}
	return s.provider(ctx)
}

// Validate loads the payload through the schema. The schema context is
// built only when the schema requires one.
func (s *Simple) Validate(ctx context.Context, in model.Input) (map[string]any, error) {
	raw := in.Data()
	if raw == nil {
		raw = map[string]any{}
	}
	if s.schema == nil {
		return raw, nil
	}

	var sctx model.SchemaContext
	if s.schema.RequiresContext() {
		var err error
		if sctx, err = s.GetContext(ctx); err != nil {
			return nil, err
		}
	}
	return s.schema.Load(ctx, raw, sctx)
}

// Execute runs the handler and wraps its output into a Result. A
// *model.UseCaseError returned by the handler becomes a failed Result.
func (s *Simple) Execute(ctx context.Context, action string, validated map[string]any) (model.Result, error) {
	if s.handler == nil {
		return model.Result{}, fmt.Errorf("usecase %s: %w", s.name, model.ErrExecuteNotImplemented)
	}
	if action == "" {
		action = s.action
	}
	data, err := s.handler(ctx, action, validated)
	if err != nil {
		return ResultFromError(err)
	}
	return model.Success(data), nil
}

// ResultFromError converts a business error into a failed Result and
// returns every other error unchanged.
func ResultFromError(err error) (model.Result, error) {
	var ucErr *model.UseCaseError
	if errors.As(err, &ucErr) {
		return model.FailureFor(ucErr), nil
	}
	return model.Result{}, err
}

// ActorContext is a ContextProvider exposing the current actor.
func ActorContext(ctx context.Context) (model.SchemaContext, error) {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return nil, fmt.Errorf("usecase: no actor in context: %w", model.ErrContextNotSupported)
	}
	return rctx.SchemaContext(), nil
}
