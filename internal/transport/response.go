// Package transport exposes registered use cases over HTTP: listing,
// interface introspection, availability probes and invocation.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/usecase/internal/observability"
	"github.com/pitabwire/usecase/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:      http.StatusBadRequest,
	model.ErrUnauthorized:    http.StatusUnauthorized,
	model.ErrForbidden:       http.StatusForbidden,
	model.ErrNotFound:        http.StatusNotFound,
	model.ErrConflict:        http.StatusConflict,
	model.ErrValidationError: http.StatusUnprocessableEntity,
	model.ErrLogicError:      http.StatusConflict,
	model.ErrInternalError:   http.StatusInternalServerError,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Errors that are not envelopes are translated by model.EnvelopeFor, so
// unknown failures become a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee := model.EnvelopeFor(err)

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if r != nil && ee.TraceID == "" {
		out := *ee
		out.TraceID = observability.TraceIDFromContext(r.Context())
		ee = &out
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, msg string) {
	WriteError(w, r, model.NewNotFoundError(msg))
}
