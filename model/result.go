package model

import (
	"encoding/json"
	"maps"
	"reflect"
)

// OperationErrorKey is the Result error key used for failures that concern
// the whole operation rather than a single field.
const OperationErrorKey = "__all__"

// Result is the outcome of one invocation: output data and/or field-keyed
// errors. Success is derived from the absence of errors.
type Result struct {
	data   map[string]any
	errors map[string]*UseCaseError
}

// NewResult creates a Result. Both maps are copied.
func NewResult(data map[string]any, errs map[string]*UseCaseError) Result {
	r := Result{
		data:   map[string]any{},
		errors: map[string]*UseCaseError{},
	}
	maps.Copy(r.data, data)
	maps.Copy(r.errors, errs)
	return r
}

// Success creates a successful Result with the given output.
func Success(data map[string]any) Result {
	return NewResult(data, nil)
}

// Failure creates a failed Result with the given errors and no output.
func Failure(errs map[string]*UseCaseError) Result {
	return NewResult(nil, errs)
}

// FailureFor creates a failed Result with a single error. An empty field is
// recorded under OperationErrorKey.
func FailureFor(err *UseCaseError) Result {
	key := err.Field
	if key == "" {
		key = OperationErrorKey
	}
	return Failure(map[string]*UseCaseError{key: err})
}

// IsSuccess reports whether the Result carries no errors.
func (r Result) IsSuccess() bool {
	return len(r.errors) == 0
}

// Data returns a copy of the output data.
func (r Result) Data() map[string]any {
	out := make(map[string]any, len(r.data))
	maps.Copy(out, r.data)
	return out
}

// Value returns one output value.
func (r Result) Value(name string) (any, bool) {
	v, ok := r.data[name]
	return v, ok
}

// Errors returns a copy of the error mapping.
func (r Result) Errors() map[string]*UseCaseError {
	out := make(map[string]*UseCaseError, len(r.errors))
	maps.Copy(out, r.errors)
	return out
}

// Error returns the error recorded for the given key, or nil.
func (r Result) Error(key string) *UseCaseError {
	return r.errors[key]
}

// Equal reports whether two results carry equal data and errors.
func (r Result) Equal(other Result) bool {
	if len(r.data) != len(other.data) || len(r.errors) != len(other.errors) {
		return false
	}
	return reflect.DeepEqual(r.Data(), other.Data()) && reflect.DeepEqual(r.Errors(), other.Errors())
}

type resultJSON struct {
	Success bool                     `json:"success"`
	Data    map[string]any           `json:"data"`
	Errors  map[string]*UseCaseError `json:"errors"`
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Success: r.IsSuccess(),
		Data:    r.Data(),
		Errors:  r.Errors(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The "success" key is ignored;
// it is always derived from errors.
func (r *Result) UnmarshalJSON(b []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = NewResult(raw.Data, raw.Errors)
	return nil
}
