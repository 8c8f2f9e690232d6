// Package capability resolves which use cases an actor may see as
// available, from a static role policy with a short-lived cache.
package capability

import (
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/usecase/model"
)

// Source computes the capability set of an actor.
type Source interface {
	Capabilities(rctx *model.RequestContext) (model.CapabilitySet, error)
}

// CacheMetrics records cache effectiveness.
type CacheMetrics interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache.
type Resolver struct {
	source Source
	ttl    time.Duration
	now    func() time.Time
	stats  CacheMetrics

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

var _ model.CapabilityResolver = (*Resolver)(nil)

// NewResolver creates a Resolver over source. A zero ttl disables caching.
func NewResolver(source Source, ttl time.Duration) *Resolver {
	return &Resolver{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// WithMetrics reports cache hits and misses to m.
func (r *Resolver) WithMetrics(m CacheMetrics) *Resolver {
	r.stats = m
	return r
}

func cacheKey(rctx *model.RequestContext) string {
	return rctx.SubjectID + ":" + rctx.TenantID + ":" + strings.Join(rctx.Roles, ",")
}

// Resolve returns the capability set for the actor, cached for the
// configured TTL. An anonymous context has no capabilities.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	if rctx == nil {
		return model.CapabilitySet{}, nil
	}
	key := cacheKey(rctx)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expires) {
		r.mu.RUnlock()
		if r.stats != nil {
			r.stats.RecordCapabilityCacheHit()
		}
		return entry.caps, nil
	}
	r.mu.RUnlock()
	if r.stats != nil {
		r.stats.RecordCapabilityCacheMiss()
	}

	caps, err := r.source.Capabilities(rctx)
	if err != nil {
		return nil, err
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[key] = cacheEntry{caps: caps, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return caps, nil
}

// Invalidate drops cached capabilities of one actor in one tenant.
func (r *Resolver) Invalidate(subjectID, tenantID string) {
	prefix := subjectID + ":" + tenantID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Purge drops every cached entry.
func (r *Resolver) Purge() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}
