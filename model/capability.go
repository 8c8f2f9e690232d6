package model

import (
	"context"
	"strings"
)

// CapabilitySet is a set of capabilities granted to an actor. Each key is a
// capability string (e.g. "users:invite") and may include wildcards
// (e.g. "users:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities (including
// via wildcards).
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
//
//	"*"              matches anything
//	"users:*"        matches "users:invite"
//	"users:invite"   does NOT match "users:invite:bulk"
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the capability set of an actor.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)
}

type capabilitiesKey struct{}

// WithCapabilities attaches a resolved CapabilitySet to the context.
func WithCapabilities(ctx context.Context, caps CapabilitySet) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, caps)
}

// CapabilitiesFrom extracts the CapabilitySet from the context, or nil.
func CapabilitiesFrom(ctx context.Context) CapabilitySet {
	caps, _ := ctx.Value(capabilitiesKey{}).(CapabilitySet)
	return caps
}
