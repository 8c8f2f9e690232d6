package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Use case not found"}
	want := "NOT_FOUND: Use case not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLogicError_IsNotAvailable(t *testing.T) {
	err := fmt.Errorf("invoke: %w", NewLogicError("users.invite", ""))
	if !errors.Is(err, ErrNotAvailable) {
		t.Error("errors.Is(err, ErrNotAvailable) = false, want true")
	}
	var le *LogicError
	if !errors.As(err, &le) {
		t.Fatal("errors.As(*LogicError) = false")
	}
	if le.UseCase != "users.invite" {
		t.Errorf("UseCase = %q, want users.invite", le.UseCase)
	}
	if got := le.Error(); got != "usecase users.invite: use case not available" {
		t.Errorf("Error() = %q", got)
	}
}

func TestLogicError_PreconditionChanged(t *testing.T) {
	err := &LogicError{UseCase: "users.invite", Action: "default", Reason: ErrPreconditionChanged}
	if !errors.Is(err, ErrPreconditionChanged) {
		t.Error("errors.Is(err, ErrPreconditionChanged) = false, want true")
	}
	if !errors.Is(err, ErrNotAvailable) {
		t.Error("every logic error should match ErrNotAvailable")
	}
}

func TestValidationError_Fields(t *testing.T) {
	err := &ValidationError{
		Schema: "InviteUser",
		Details: []FieldError{
			{Field: "email", Code: "INVALID_VALUE", Message: "bad pattern"},
			{Field: "email", Code: "INVALID_VALUE", Message: "too long"},
			{Field: "name", Code: "REQUIRED", Message: "name is required"},
		},
	}
	fields := err.Fields()
	if len(fields) != 2 || fields[0] != "email" || fields[1] != "name" {
		t.Errorf("Fields() = %v, want [email name]", fields)
	}
	if !err.HasField("email") {
		t.Error("HasField(email) = false")
	}
	errs := err.Errors()
	if errs["email"].Message != "bad pattern" {
		t.Errorf("Errors()[email] = %+v, want first detail", errs["email"])
	}
}

func TestUseCaseError_Error(t *testing.T) {
	tests := []struct {
		err  *UseCaseError
		want string
	}{
		{NewUseCaseError("token", "INVITATION_USED", "already used"), "token: INVITATION_USED: already used"},
		{NewUseCaseError("", "CONFLICT", "try again"), "CONFLICT: try again"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestEnvelopeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"logic", NewLogicError("users.invite", ""), ErrLogicError},
		{"validation", &ValidationError{Details: []FieldError{{Field: "email"}}}, ErrValidationError},
		{"envelope", NewForbiddenError("nope"), ErrForbidden},
		{"wrapped logic", fmt.Errorf("x: %w", NewLogicError("a", "b")), ErrLogicError},
		{"unknown", errors.New("db down"), ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnvelopeFor(tt.err).Code; got != tt.want {
				t.Errorf("EnvelopeFor().Code = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewValidationErrorEnvelope(t *testing.T) {
	e := NewValidationErrorEnvelope([]FieldError{{Field: "email", Code: "REQUIRED", Message: "Email is required"}})
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 || e.Details[0].Field != "email" {
		t.Errorf("Details = %+v", e.Details)
	}
}
