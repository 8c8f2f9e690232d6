// Package integration provides a reusable test harness for end-to-end
// testing of the use-case server. It starts a full HTTP server over a
// memory or Redis store with a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/usecase/internal/capability"
	"github.com/pitabwire/usecase/internal/config"
	"github.com/pitabwire/usecase/internal/container"
	"github.com/pitabwire/usecase/internal/observability"
	"github.com/pitabwire/usecase/internal/transport"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/internal/users"
)

// DefaultPolicy grants inviting to the inviter role and to the onboarding
// service account.
const DefaultPolicy = `
roles:
  inviter:
    - users:invite
subjects:
  svc-onboarding:
    - users:invite
`

// TestHarness encapsulates a fully wired server for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry  *usecase.Registry
	Store     users.Store
	Redis     *miniredis.Miniredis
	Metrics   *observability.Metrics
	Gatherer  *prometheus.Registry
	Container *container.Container

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	driver         string
	policy         string
	mode           usecase.AvailabilityMode
	validation     usecase.ValidationPolicy
	invitationTTL  time.Duration
	handlerTimeout time.Duration
	anonymous      bool
}

// WithStore selects the storage driver: memory or redis.
func WithStore(driver string) HarnessOption {
	return func(c *harnessConfig) { c.driver = driver }
}

// WithPolicy sets the static capability policy YAML.
func WithPolicy(policy string) HarnessOption {
	return func(c *harnessConfig) { c.policy = policy }
}

// WithAvailabilityMode sets how availability is checked around execution.
func WithAvailabilityMode(m usecase.AvailabilityMode) HarnessOption {
	return func(c *harnessConfig) { c.mode = m }
}

// WithValidationPolicy sets how validation failures are reported.
func WithValidationPolicy(p usecase.ValidationPolicy) HarnessOption {
	return func(c *harnessConfig) { c.validation = p }
}

// WithInvitationTTL sets how long invitations stay valid.
func WithInvitationTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.invitationTTL = d }
}

// WithAnonymous allows requests without a token.
func WithAnonymous() HarnessOption {
	return func(c *harnessConfig) { c.anonymous = true }
}

// NewTestHarness creates and starts a full server instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		driver:         config.DriverMemory,
		policy:         DefaultPolicy,
		invitationTTL:  time.Hour,
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t, issuer: newTokenIssuer(t), Container: container.New()}
	t.Cleanup(func() { _ = h.Container.Close(context.Background()) })

	// Step 1: Build the store.
	var transactor usecase.Transactor = usecase.NewMutexTransactor()
	switch hc.driver {
	case config.DriverRedis:
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h.Store = users.NewRedisStore(client, "it").WithRetention(time.Hour)
	case config.DriverMemory:
		h.Store = users.NewMemoryStore()
	default:
		t.Fatalf("unsupported harness store %q", hc.driver)
	}

	catalog, err := users.LoadSchemas()
	if err != nil {
		t.Fatalf("load schemas: %v", err)
	}
	for id, v := range map[string]any{
		users.DepUserRepo:       h.Store,
		users.DepInvitationRepo: h.Store,
		users.DepSchemas:        catalog,
	} {
		if err := h.Container.Set(id, v); err != nil {
			t.Fatalf("container set %s: %v", id, err)
		}
	}

	// Step 2: Register use cases.
	h.Registry = usecase.NewRegistry()
	if err := users.Register(h.Registry, h.Container, users.WithInvitationTTL(hc.invitationTTL)); err != nil {
		t.Fatalf("register use cases: %v", err)
	}

	// Step 3: Telemetry.
	h.Gatherer = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Gatherer)
	h.Metrics.SetUseCasesRegistered(len(h.Registry.Names()))

	// Step 4: Capability resolver.
	policy, err := capability.ParseStaticPolicy([]byte(hc.policy))
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	resolver := capability.NewResolver(policy, 0).WithMetrics(h.Metrics)

	// Step 5: Invoker.
	invoker := usecase.NewInvoker(
		usecase.WithLogger(zap.NewNop()),
		usecase.WithObserver(h.Metrics),
		usecase.WithAvailabilityMode(hc.mode),
		usecase.WithValidationPolicy(hc.validation),
		usecase.WithTransactor(transactor),
	)

	// Step 6: Config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Identity.Issuer = h.issuer.issuer
	h.cfg.Identity.Audience = h.issuer.audience
	h.cfg.Identity.AllowAnonymous = hc.anonymous

	readiness := observability.ReadinessChecks{
		UseCasesLoaded: func() bool { return len(h.Registry.Names()) > 0 },
	}
	if hcheck, ok := h.Store.(observability.HealthChecker); ok {
		readiness.Store = hcheck
	}

	// Step 7: Router with the full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Logger:             zap.NewNop(),
		Registry:           h.Registry,
		Invoker:            invoker,
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, h.issuer.secret),
		CapabilityResolver: resolver,
		Metrics:            h.Metrics,
		Gatherer:           h.Gatherer,
		Readiness:          readiness,
	})

	// Step 8: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body. A nil body
// sends no payload.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// Invoke posts an {"action", "data"} body to the use case.
func (h *TestHarness) Invoke(name string, data map[string]any, token string) *http.Response {
	h.t.Helper()
	return h.POST("/usecases/"+name+"/invoke", map[string]any{"data": data}, token)
}

// Available probes the use case and returns its answer.
func (h *TestHarness) Available(name string, data map[string]any, token string) bool {
	h.t.Helper()
	var body any
	if data != nil {
		body = map[string]any{"data": data}
	}
	resp := h.POST("/usecases/"+name+"/availability", body, token)
	var out struct {
		Available bool `json:"available"`
	}
	h.AssertJSON(h.t, resp, http.StatusOK, &out)
	return out.Available
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Response shapes ---

// ResultBody is the JSON form of an invocation Result.
type ResultBody struct {
	Success bool                      `json:"success"`
	Data    map[string]any            `json:"data"`
	Errors  map[string]map[string]any `json:"errors"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error struct {
		Code    string           `json:"code"`
		Message string           `json:"message"`
		Details []map[string]any `json:"details"`
		TraceID string           `json:"trace_id"`
	} `json:"error"`
}

// --- Default test claims ---

// InviterClaims returns TestClaims for a user allowed to invite.
func InviterClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-inviter",
		TenantID:  "acme-corp",
		Email:     "inviter@acme.example.com",
		Roles:     []string{"inviter"},
	}
}

// GuestClaims returns TestClaims for an authenticated user without grants.
func GuestClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-guest",
		TenantID:  "acme-corp",
		Email:     "guest@acme.example.com",
	}
}

// ServiceClaims returns TestClaims for the onboarding service account.
func ServiceClaims() TestClaims {
	return TestClaims{SubjectID: "svc-onboarding", TenantID: "acme-corp"}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
