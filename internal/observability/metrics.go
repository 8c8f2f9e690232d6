package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/usecase/internal/usecase"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	invokeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments of the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Invocation metrics
	InvocationsTotal        *prometheus.CounterVec
	InvocationDuration      *prometheus.HistogramVec
	ValidationFailuresTotal *prometheus.CounterVec
	AvailabilityProbesTotal *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter

	// System metrics
	UseCasesRegistered prometheus.Gauge
}

var _ usecase.Observer = (*Metrics)(nil)

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Invocations
		InvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_invocations_total",
			Help: "Total number of use case invocations by outcome.",
		}, []string{"usecase", "outcome"}),
		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_invocation_duration_seconds",
			Help:    "Use case invocation duration in seconds.",
			Buckets: invokeDurationBuckets,
		}, []string{"usecase"}),
		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_validation_failures_total",
			Help: "Total number of rejected payloads by offending field.",
		}, []string{"usecase", "field"}),
		AvailabilityProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_availability_probes_total",
			Help: "Total number of availability probes by answer.",
		}, []string{"usecase", "available"}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usecase_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usecase_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),

		// System
		UseCasesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usecase_registered",
			Help: "Number of registered use cases.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.InvocationsTotal,
		m.InvocationDuration,
		m.ValidationFailuresTotal,
		m.AvailabilityProbesTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.UseCasesRegistered,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// OnInvoked implements usecase.Observer. Invalid payloads also count once
// per offending field.
func (m *Metrics) OnInvoked(_ context.Context, e usecase.Event) {
	m.InvocationsTotal.WithLabelValues(e.UseCase, e.Outcome).Inc()
	m.InvocationDuration.WithLabelValues(e.UseCase).Observe(e.Duration.Seconds())
	if e.Outcome == usecase.OutcomeInvalid {
		for _, field := range e.Fields {
			m.ValidationFailuresTotal.WithLabelValues(e.UseCase, field).Inc()
		}
	}
}

// RecordProbe records the answer of an availability probe.
func (m *Metrics) RecordProbe(useCase string, available bool) {
	m.AvailabilityProbesTotal.WithLabelValues(useCase, strconv.FormatBool(available)).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// SetUseCasesRegistered sets the number of registered use cases.
func (m *Metrics) SetUseCasesRegistered(count int) {
	m.UseCasesRegistered.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
