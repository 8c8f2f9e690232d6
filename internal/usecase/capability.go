package usecase

import (
	"context"
	"slices"

	"github.com/pitabwire/usecase/model"
)

// capabilityGate makes a use case available only to actors holding every
// required capability.
type capabilityGate struct {
	UseCase
	caps []string
}

// RequireCapabilities wraps uc so that it is available only when the
// capabilities carried by the context include all of caps and uc itself
// reports availability.
func RequireCapabilities(uc UseCase, caps ...string) UseCase {
	return &capabilityGate{UseCase: uc, caps: slices.Clone(caps)}
}

func (g *capabilityGate) Name() string {
	return NameOf(g.UseCase)
}

// Capabilities returns the required capabilities.
func (g *capabilityGate) Capabilities() []string {
	return slices.Clone(g.caps)
}

func (g *capabilityGate) IsAvailable(ctx context.Context, in model.Input) (bool, error) {
	if !model.CapabilitiesFrom(ctx).HasAll(g.caps...) {
		return false, nil
	}
	return g.UseCase.IsAvailable(ctx, in)
}
