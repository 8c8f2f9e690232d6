package transport

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/usecase/model"
)

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/usecases", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if env := decodeError(t, w); env.Code != model.ErrInternalError {
		t.Errorf("code = %q", env.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("panic value leaked into response")
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Errorf("logged = %v, want one panic entry", logs.All())
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"propagated", "corr-1"},
		{"generated", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Correlation-Id", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get("X-Correlation-Id")
			if got == "" || got != seen {
				t.Fatalf("header = %q, context = %q", got, seen)
			}
			if tt.header != "" && got != tt.header {
				t.Errorf("correlation id = %q, want %q", got, tt.header)
			}
		})
	}
}

type fakeResolver struct {
	caps model.CapabilitySet
	err  error
	seen *model.RequestContext
}

func (f *fakeResolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	f.seen = rctx
	return f.caps, f.err
}

func TestResolveCapabilities(t *testing.T) {
	tests := []struct {
		name     string
		resolver *fakeResolver
		rctx     *model.RequestContext
		want     bool
	}{
		{"resolved", &fakeResolver{caps: model.CapabilitySet{"users:invite": true}}, &model.RequestContext{SubjectID: "u"}, true},
		{"resolver error", &fakeResolver{err: errors.New("policy down")}, &model.RequestContext{SubjectID: "u"}, false},
		{"anonymous", &fakeResolver{caps: model.CapabilitySet{"users:invite": true}}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			h := ResolveCapabilities(tt.resolver, zap.NewNop())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = model.CapabilitiesFrom(r.Context()).HasAll("users:invite")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.rctx != nil {
				req = req.WithContext(model.WithRequestContext(req.Context(), tt.rctx))
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("has users:invite = %v, want %v", got, tt.want)
			}
			if tt.rctx == nil && tt.resolver.seen != nil {
				t.Error("resolver called for anonymous request")
			}
		})
	}
}

func TestHandlerTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := HandlerTimeout(time.Minute)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !ok {
		t.Fatal("no deadline set")
	}
	if until := time.Until(deadline); until <= 0 || until > time.Minute {
		t.Errorf("deadline in %v, want within a minute", until)
	}

	HandlerTimeout(0)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("zero timeout set a deadline")
		}
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(4)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))

	var tooLarge *http.MaxBytesError
	if !errors.As(readErr, &tooLarge) {
		t.Errorf("read error = %v, want *http.MaxBytesError", readErr)
	}
}

func TestRequestLogging(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusConflict, zapcore.WarnLevel},
		{http.StatusInternalServerError, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			h := RequestID(RequestLogging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/usecases/users.invite/invoke", nil))

			entries := logs.FilterMessage("request").All()
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tt.level {
				t.Errorf("level = %v, want %v", entries[0].Level, tt.level)
			}
			fields := entries[0].ContextMap()
			if fields["status"] != int64(tt.status) {
				t.Errorf("status field = %v", fields["status"])
			}
			if fields["correlation_id"] == "" {
				t.Error("correlation_id missing")
			}
		})
	}
}
