package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/usecase/internal/observability"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

// ProbeRecorder records availability probe answers.
type ProbeRecorder interface {
	RecordProbe(useCase string, available bool)
}

type useCaseHandlers struct {
	registry *usecase.Registry
	invoker  *usecase.Invoker
	probes   ProbeRecorder
	logger   *zap.Logger
}

type listResponse struct {
	UseCases []model.UseCaseDescriptor `json:"usecases"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

func (h *useCaseHandlers) list(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, listResponse{UseCases: h.registry.DescribeAll()})
}

func (h *useCaseHandlers) interfaces(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, ok := h.registry.Describe(name)
	if !ok {
		WriteNotFound(w, r, "use case "+name+" not found")
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

func (h *useCaseHandlers) availability(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	uc, ok := h.registry.Get(name)
	if !ok {
		WriteNotFound(w, r, "use case "+name+" not found")
		return
	}
	in, err := decodeInput(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := observability.WithInvocation(r.Context(), name, in.Action())
	ctx, span := observability.StartSpan(ctx, "usecase.probe")
	available, err := h.invoker.Probe(ctx, uc, in)
	span.SetAttributes(observability.AttrAvailable.Bool(available))
	observability.EndSpanWithError(span, err)
	if err != nil {
		observability.InvocationLogger(ctx, h.logger).Error("availability probe failed", zap.Error(err))
		WriteError(w, r, err)
		return
	}
	if h.probes != nil {
		h.probes.RecordProbe(name, available)
	}
	WriteJSON(w, http.StatusOK, availabilityResponse{Available: available})
}

func (h *useCaseHandlers) invoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	uc, ok := h.registry.Get(name)
	if !ok {
		WriteNotFound(w, r, "use case "+name+" not found")
		return
	}
	in, err := decodeInput(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := observability.WithInvocation(r.Context(), name, in.Action())
	logger := observability.InvocationLogger(ctx, h.logger)
	if ce := logger.Check(zap.DebugLevel, "invoking use case"); ce != nil {
		ce.Write(zap.Any("data", observability.RedactBody(in.Data(), nil)))
	}

	result, err := h.invoker.Invoke(ctx, uc, in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// decodeInput reads an {"action", "data"} body. An empty body is an
// availability probe for the implicit action.
func decodeInput(r *http.Request) (model.Input, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.Input{}, model.NewBadRequestError("request body too large")
		}
		return model.Input{}, model.NewBadRequestError("unable to read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return model.Probe(""), nil
	}

	var in model.Input
	if err := json.Unmarshal(body, &in); err != nil {
		return model.Input{}, model.NewBadRequestError("invalid JSON body")
	}
	return in, nil
}
