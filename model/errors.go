package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrLogicError      = "LOGIC_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Sentinel errors of the invocation protocol.
var (
	// ErrNotAvailable is matched by every *LogicError raised because a use
	// case reported itself unavailable for the given input.
	ErrNotAvailable = errors.New("use case not available")

	// ErrPreconditionChanged is matched by a *LogicError raised when the
	// availability check passed but failed again when re-checked right
	// before execution.
	ErrPreconditionChanged = errors.New("use case precondition changed before execution")

	// ErrContextNotSupported is returned by a use case that was asked for a
	// schema context it does not provide.
	ErrContextNotSupported = errors.New("schema context not supported")

	// ErrExecuteNotImplemented is returned by a default use case that has no
	// execution handler.
	ErrExecuteNotImplemented = errors.New("execute not implemented")
)

// LogicError signals that the caller attempted an invocation the protocol
// forbids in the current state. It is never folded into a Result.
type LogicError struct {
	UseCase string
	Action  string
	Reason  error
}

// Error implements the error interface.
func (e *LogicError) Error() string {
	reason := ErrNotAvailable
	if e.Reason != nil {
		reason = e.Reason
	}
	if e.Action != "" {
		return fmt.Sprintf("usecase %s (action %s): %v", e.UseCase, e.Action, reason)
	}
	return fmt.Sprintf("usecase %s: %v", e.UseCase, reason)
}

// Is reports whether target is ErrNotAvailable or the wrapped reason. Every
// logic error is an availability failure.
func (e *LogicError) Is(target error) bool {
	return target == ErrNotAvailable
}

// Unwrap returns the reason.
func (e *LogicError) Unwrap() error {
	return e.Reason
}

// NewLogicError returns a LogicError for an unavailable use case.
func NewLogicError(useCase, action string) *LogicError {
	return &LogicError{UseCase: useCase, Action: action, Reason: ErrNotAvailable}
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError is raised when a raw payload does not satisfy a schema.
// Details are keyed by field; a whole-payload failure uses OperationErrorKey.
type ValidationError struct {
	Schema  string
	Details []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Schema, strings.Join(parts, "; "))
}

// Fields returns the sorted, de-duplicated names of the offending fields.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]bool, len(e.Details))
	fields := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if seen[d.Field] {
			continue
		}
		seen[d.Field] = true
		fields = append(fields, d.Field)
	}
	sort.Strings(fields)
	return fields
}

// HasField reports whether the given field is among the offending fields.
func (e *ValidationError) HasField(field string) bool {
	for _, d := range e.Details {
		if d.Field == field {
			return true
		}
	}
	return false
}

// Errors converts the details into Result errors, keeping the first detail
// per field.
func (e *ValidationError) Errors() map[string]*UseCaseError {
	out := make(map[string]*UseCaseError, len(e.Details))
	for _, d := range e.Details {
		if _, ok := out[d.Field]; ok {
			continue
		}
		out[d.Field] = &UseCaseError{Field: d.Field, Code: d.Code, Message: d.Message}
	}
	return out
}

// UseCaseError is a business-level failure carried inside a Result.
type UseCaseError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface so domain services may return it
// directly.
func (e *UseCaseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Field, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewUseCaseError returns a business error for the given field. An empty
// field means the whole operation.
func NewUseCaseError(field, code, message string) *UseCaseError {
	return &UseCaseError{Field: field, Code: code, Message: message}
}

// ErrorEnvelope is the standard error response envelope returned over HTTP.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationErrorEnvelope returns a VALIDATION_ERROR with field-level details.
func NewValidationErrorEnvelope(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewLogicErrorEnvelope returns a LOGIC_ERROR for a forbidden invocation.
func NewLogicErrorEnvelope(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrLogicError, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// EnvelopeFor translates an invocation error into an ErrorEnvelope.
// Unknown errors become INTERNAL_ERROR so internals never leak.
func EnvelopeFor(err error) *ErrorEnvelope {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return NewValidationErrorEnvelope(ve.Details)
	}
	var le *LogicError
	if errors.As(err, &le) {
		return NewLogicErrorEnvelope(le.Error())
	}
	return NewInternalError()
}
