// Package usecase implements the invocation protocol shared by every
// business operation: availability check, input validation, execution.
package usecase

import (
	"context"
	"fmt"

	"github.com/pitabwire/usecase/model"
)

// UseCase is the capability set every business operation implements.
type UseCase interface {
	// Interfaces enumerates every action the use case exposes with the
	// schema validating its input.
	Interfaces() []model.Interface

	// IsAvailable reports whether the operation may be invoked for the
	// given input. It must not have side effects; it is also called for
	// probes that carry no data.
	IsAvailable(ctx context.Context, in model.Input) (bool, error)

	// Validate turns the raw payload into a trusted mapping, or fails with
	// a *model.ValidationError.
	Validate(ctx context.Context, in model.Input) (map[string]any, error)

	// Execute performs the operation on already validated input. Business
	// failures are reported in the returned Result, not as errors.
	Execute(ctx context.Context, action string, validated map[string]any) (model.Result, error)
}

// Named is implemented by use cases that carry a stable name.
type Named interface {
	Name() string
}

// NameOf returns the name of a use case, falling back to its Go type.
func NameOf(uc UseCase) string {
	if n, ok := uc.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", uc)
}

var defaultInvoker = NewInvoker()

// Invoke runs the invocation protocol with default settings: check
// availability once, propagate validation errors, no telemetry.
func Invoke(ctx context.Context, uc UseCase, in model.Input) (model.Result, error) {
	return defaultInvoker.Invoke(ctx, uc, in)
}
