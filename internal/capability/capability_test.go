package capability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pitabwire/usecase/model"
)

func testRctx(roles ...string) *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-1",
		TenantID:  "tenant-1",
		Roles:     roles,
	}
}

// --- StaticPolicy tests ---

func TestStaticPolicy_Capabilities(t *testing.T) {
	p, err := NewStaticPolicy("testdata/policies.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicy() error = %v", err)
	}

	caps, err := p.Capabilities(testRctx("inviter"))
	if err != nil {
		t.Fatalf("Capabilities() error = %v", err)
	}
	if !caps.Has("users:invite") {
		t.Error("inviter should have users:invite")
	}
	if !caps.Has("users:accept") {
		t.Error("every authenticated actor should have users:accept")
	}
	if caps.Has("users:list") {
		t.Error("inviter should not have users:list")
	}
}

func TestStaticPolicy_Grants(t *testing.T) {
	p, _ := NewStaticPolicy("testdata/policies.yaml")

	tests := []struct {
		name string
		rctx *model.RequestContext
		cap  string
		want bool
	}{
		{"multiple roles", testRctx("inviter", "auditor"), "users:list", true},
		{"wildcard role", testRctx("admin"), "users:anything:at:all", true},
		{"unknown role", testRctx("nonexistent"), "users:invite", false},
		{"subject grant", &model.RequestContext{SubjectID: "svc-onboarding"}, "users:invite", true},
		{"anonymous", &model.RequestContext{}, "users:accept", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps, err := p.Capabilities(tt.rctx)
			if err != nil {
				t.Fatalf("Capabilities() error = %v", err)
			}
			if got := caps.Has(tt.cap); got != tt.want {
				t.Errorf("Has(%s) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestStaticPolicy_BadFile(t *testing.T) {
	if _, err := NewStaticPolicy("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing policy file")
	}
	if _, err := ParseStaticPolicy([]byte("roles: [not, a, map]")); err == nil {
		t.Fatal("expected error for malformed policy")
	}
}

func TestStaticPolicy_Sync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("roles:\n  inviter: [users:invite]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := NewStaticPolicy(path)
	if err != nil {
		t.Fatalf("NewStaticPolicy() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("roles:\n  inviter: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	caps, _ := p.Capabilities(testRctx("inviter"))
	if caps.Has("users:invite") {
		t.Error("Sync should drop revoked grants")
	}
}

// --- Resolver tests ---

func TestResolver_ResolveAndCache(t *testing.T) {
	calls := 0
	src := sourceFunc(func(*model.RequestContext) (model.CapabilitySet, error) {
		calls++
		return model.CapabilitySet{"users:invite": true}, nil
	})
	r := NewResolver(src, 5*time.Minute)

	for i := 0; i < 3; i++ {
		caps, err := r.Resolve(testRctx("inviter"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !caps.Has("users:invite") {
			t.Error("should have users:invite")
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	// A different role set is a different cache entry.
	_, _ = r.Resolve(testRctx("auditor"))
	if calls != 2 {
		t.Errorf("calls = %d after role change, want 2", calls)
	}
}

func TestResolver_Anonymous(t *testing.T) {
	r := NewResolver(sourceFunc(func(*model.RequestContext) (model.CapabilitySet, error) {
		t.Fatal("source must not be consulted without an actor")
		return nil, nil
	}), time.Minute)

	caps, err := r.Resolve(nil)
	if err != nil || len(caps) != 0 {
		t.Errorf("Resolve(nil) = %v, %v", caps, err)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	calls := 0
	r := NewResolver(sourceFunc(func(*model.RequestContext) (model.CapabilitySet, error) {
		calls++
		return model.CapabilitySet{}, nil
	}), 5*time.Minute)
	rctx := testRctx()

	_, _ = r.Resolve(rctx)
	_, _ = r.Resolve(rctx)
	if calls != 1 {
		t.Fatalf("calls = %d after cache hit, want 1", calls)
	}

	r.Invalidate("user-1", "tenant-1")
	_, _ = r.Resolve(rctx)
	if calls != 2 {
		t.Fatalf("calls = %d after invalidate, want 2", calls)
	}

	r.Purge()
	_, _ = r.Resolve(rctx)
	if calls != 3 {
		t.Fatalf("calls = %d after purge, want 3", calls)
	}
}

func TestResolver_TTLExpiry(t *testing.T) {
	calls := 0
	r := NewResolver(sourceFunc(func(*model.RequestContext) (model.CapabilitySet, error) {
		calls++
		return model.CapabilitySet{}, nil
	}), time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, _ = r.Resolve(testRctx())
	now = now.Add(2 * time.Minute)
	_, _ = r.Resolve(testRctx())

	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (TTL expired)", calls)
	}
}

type sourceFunc func(*model.RequestContext) (model.CapabilitySet, error)

func (f sourceFunc) Capabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	return f(rctx)
}

type countingMetrics struct{ hits, misses int }

func (c *countingMetrics) RecordCapabilityCacheHit()  { c.hits++ }
func (c *countingMetrics) RecordCapabilityCacheMiss() { c.misses++ }

func TestResolver_Metrics(t *testing.T) {
	m := &countingMetrics{}
	r := NewResolver(sourceFunc(func(*model.RequestContext) (model.CapabilitySet, error) {
		return model.CapabilitySet{"users:accept": true}, nil
	}), time.Minute).WithMetrics(m)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(testRctx()); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if m.misses != 1 || m.hits != 2 {
		t.Errorf("misses = %d, hits = %d, want 1 and 2", m.misses, m.hits)
	}
}
