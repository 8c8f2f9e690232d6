package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return InitMetrics(reg), reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/usecases", 200, time.Millisecond, 0, 100)
	m.OnInvoked(context.Background(), usecase.Event{UseCase: "users.invite", Outcome: usecase.OutcomeInvalid, Fields: []string{"email"}})
	m.RecordProbe("users.invite", true)
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.SetUseCasesRegistered(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range []string{
		"usecase_http_requests_total",
		"usecase_http_request_duration_seconds",
		"usecase_http_request_size_bytes",
		"usecase_http_response_size_bytes",
		"usecase_invocations_total",
		"usecase_invocation_duration_seconds",
		"usecase_validation_failures_total",
		"usecase_availability_probes_total",
		"usecase_capability_cache_hits_total",
		"usecase_capability_cache_misses_total",
		"usecase_registered",
	} {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestOnInvoked(t *testing.T) {
	tests := []struct {
		name        string
		event       usecase.Event
		wantInvalid map[string]float64
	}{
		{
			name:  "success",
			event: usecase.Event{UseCase: "users.invite", Outcome: usecase.OutcomeSuccess, Duration: 3 * time.Millisecond},
		},
		{
			name:        "invalid counts each field",
			event:       usecase.Event{UseCase: "users.invite", Outcome: usecase.OutcomeInvalid, Fields: []string{"email", "invited_by"}},
			wantInvalid: map[string]float64{"email": 1, "invited_by": 1},
		},
		{
			name:        "business failure is not a validation failure",
			event:       usecase.Event{UseCase: "users.accept_invitation", Outcome: usecase.OutcomeFailure, Fields: []string{"token"}},
			wantInvalid: map[string]float64{"token": 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMetrics(t)
			m.OnInvoked(context.Background(), tt.event)

			if got := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues(tt.event.UseCase, tt.event.Outcome)); got != 1 {
				t.Errorf("invocations = %v, want 1", got)
			}
			if got := testutil.CollectAndCount(m.InvocationDuration); got != 1 {
				t.Errorf("duration series = %d, want 1", got)
			}
			for field, want := range tt.wantInvalid {
				if got := testutil.ToFloat64(m.ValidationFailuresTotal.WithLabelValues(tt.event.UseCase, field)); got != want {
					t.Errorf("validation failures[%s] = %v, want %v", field, got, want)
				}
			}
		})
	}
}

func TestInvokerReportsToMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)
	iv := usecase.NewInvoker(usecase.WithObserver(m))
	uc := usecase.NewSimple("noop", nil, usecase.WithHandler(
		func(context.Context, string, map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		}))

	for i := 0; i < 2; i++ {
		if _, err := iv.Invoke(context.Background(), uc, model.NewInput("", map[string]any{})); err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
	}
	if got := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("noop", usecase.OutcomeSuccess)); got != 2 {
		t.Errorf("invocations = %v, want 2", got)
	}
}

func TestRecordProbe(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordProbe("users.accept_invitation", false)
	m.RecordProbe("users.accept_invitation", false)
	m.RecordProbe("users.accept_invitation", true)

	if got := testutil.ToFloat64(m.AvailabilityProbesTotal.WithLabelValues("users.accept_invitation", "false")); got != 2 {
		t.Errorf("unavailable probes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AvailabilityProbesTotal.WithLabelValues("users.accept_invitation", "true")); got != 1 {
		t.Errorf("available probes = %v, want 1", got)
	}
}

func TestRecordCapabilityCache(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()

	if got := testutil.ToFloat64(m.CapabilityCacheHitsTotal); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CapabilityCacheMissesTotal); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		status  int
		pattern string
		chi     bool
	}{
		{"route pattern", http.MethodPost, "/usecases/users.invite/invoke", http.StatusOK, "/usecases/{name}/invoke", true},
		{"status captured", http.MethodPost, "/usecases/users.invite/invoke", http.StatusConflict, "/usecases/{name}/invoke", true},
		{"raw path without chi", http.MethodGet, "/raw/path", http.StatusOK, "/raw/path", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMetrics(t)
			h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"success":true}`))
			})

			var handler http.Handler
			if tt.chi {
				r := chi.NewRouter()
				r.Use(m.MetricsMiddleware)
				r.Method(tt.method, "/usecases/{name}/invoke", h)
				handler = r
			} else {
				handler = m.MetricsMiddleware(h)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(tt.method, tt.pattern, strconv.Itoa(tt.status)))
			if got != 1 {
				t.Errorf("requests{%s %s %d} = %v, want 1", tt.method, tt.pattern, tt.status, got)
			}
			if testutil.CollectAndCount(m.HTTPResponseSizeBytes) == 0 {
				t.Error("expected response size histogram to have observations")
			}
		})
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.SetUseCasesRegistered(2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "usecase_registered 2") {
		t.Errorf("metrics body missing usecase_registered:\n%s", rec.Body.String())
	}
}

func TestHistogramBuckets(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":   httpDurationBuckets,
		"invoke": invokeDurationBuckets,
		"body":   bodySizeBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d", name, i)
			}
		}
	}
}
