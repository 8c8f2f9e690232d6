package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/usecase/internal/config"
	"github.com/pitabwire/usecase/internal/observability"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Registry           *usecase.Registry
	Invoker            *usecase.Invoker
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Metrics            *observability.Metrics
	Gatherer           prometheus.Gatherer
	Readiness          observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	invoker := deps.Invoker
	if invoker == nil {
		invoker = usecase.NewInvoker(usecase.WithLogger(logger))
	}
	registry := deps.Registry
	if registry == nil {
		registry = usecase.NewRegistry()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(observability.TracingMiddleware)

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled && deps.Gatherer != nil {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &useCaseHandlers{registry: registry, invoker: invoker, logger: logger}
	if deps.Metrics != nil {
		h.probes = deps.Metrics
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(MaxBody(deps.Config.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))

		r.Get("/usecases", h.list)
		r.Get("/usecases/{name}/interfaces", h.interfaces)
		r.Post("/usecases/{name}/availability", h.availability)
		r.Post("/usecases/{name}/invoke", h.invoke)
	})

	return r
}
