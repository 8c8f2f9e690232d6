package usecase

import (
	"context"
	"fmt"
	"sync"
)

// AvailabilityMode controls how the gap between the availability check and
// execution is handled.
type AvailabilityMode int

const (
	// CheckOnce evaluates availability once before validation. A condition
	// that changes before execution must be caught by Execute itself.
	CheckOnce AvailabilityMode = iota

	// RecheckInTransaction evaluates availability again inside the
	// Transactor's boundary immediately before Execute.
	RecheckInTransaction
)

// String implements fmt.Stringer.
func (m AvailabilityMode) String() string {
	switch m {
	case RecheckInTransaction:
		return "recheck_in_transaction"
	default:
		return "check_once"
	}
}

// ParseAvailabilityMode parses a configuration value.
func ParseAvailabilityMode(s string) (AvailabilityMode, error) {
	switch s {
	case "", "check_once":
		return CheckOnce, nil
	case "recheck_in_transaction":
		return RecheckInTransaction, nil
	default:
		return CheckOnce, fmt.Errorf("usecase: unknown availability mode %q", s)
	}
}

// ValidationPolicy controls how validation failures reach the caller.
type ValidationPolicy int

const (
	// PropagateValidationErrors returns the *model.ValidationError as an
	// error, distinct from business failures in the Result.
	PropagateValidationErrors ValidationPolicy = iota

	// FoldValidationErrors converts validation failures into a failed
	// Result keyed by field.
	FoldValidationErrors
)

// String implements fmt.Stringer.
func (p ValidationPolicy) String() string {
	switch p {
	case FoldValidationErrors:
		return "fold"
	default:
		return "propagate"
	}
}

// ParseValidationPolicy parses a configuration value.
func ParseValidationPolicy(s string) (ValidationPolicy, error) {
	switch s {
	case "", "propagate":
		return PropagateValidationErrors, nil
	case "fold":
		return FoldValidationErrors, nil
	default:
		return PropagateValidationErrors, fmt.Errorf("usecase: unknown validation policy %q", s)
	}
}

// Transactor runs fn inside a transaction. The context passed to fn carries
// the transaction; repositories that understand it must use it. Returning
// an error from fn rolls the transaction back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactorFunc adapts a function to the Transactor interface.
type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// WithinTransaction implements Transactor.
func (f TransactorFunc) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// passthrough runs fn without any isolation. The recheck still narrows the
// window but cannot close it.
type passthrough struct{}

func (passthrough) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// MutexTransactor serialises every transaction through a single lock. It
// closes the check-then-act window for stores living in one process.
type MutexTransactor struct {
	mu sync.Mutex
}

// NewMutexTransactor creates a MutexTransactor.
func NewMutexTransactor() *MutexTransactor {
	return &MutexTransactor{}
}

// WithinTransaction implements Transactor.
func (t *MutexTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}
