package users

import (
	"github.com/pitabwire/usecase/internal/container"
	"github.com/pitabwire/usecase/internal/schema"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

// Container identities the factories resolve.
const (
	DepUserRepo       = "users.repo"
	DepInvitationRepo = "users.invitations"
	DepSchemas        = "users.schemas"
)

type deps struct {
	users       UserRepo
	invitations InvitationRepo
	catalog     *schema.Catalog
}

func resolve(c model.Container) (deps, error) {
	var d deps
	var err error
	if d.users, err = container.Get[UserRepo](c, DepUserRepo); err != nil {
		return deps{}, err
	}
	if d.invitations, err = container.Get[InvitationRepo](c, DepInvitationRepo); err != nil {
		return deps{}, err
	}
	if d.catalog, err = container.Get[*schema.Catalog](c, DepSchemas); err != nil {
		return deps{}, err
	}
	return d, nil
}

// ProvideInviteUser returns a factory building InviteUser from a container.
func ProvideInviteUser(opts ...Option) usecase.Factory {
	return func(c model.Container) (usecase.UseCase, error) {
		d, err := resolve(c)
		if err != nil {
			return nil, err
		}
		s, err := d.catalog.Lookup(InviteUserSchema)
		if err != nil {
			return nil, err
		}
		return NewInviteUser(d.users, d.invitations, s, opts...), nil
	}
}

// ProvideAcceptInvitation returns a factory building AcceptInvitation from
// a container.
func ProvideAcceptInvitation(opts ...Option) usecase.Factory {
	return func(c model.Container) (usecase.UseCase, error) {
		d, err := resolve(c)
		if err != nil {
			return nil, err
		}
		s, err := d.catalog.Lookup(AcceptInvitationSchema)
		if err != nil {
			return nil, err
		}
		return NewAcceptInvitation(d.users, d.invitations, s, opts...), nil
	}
}

// Register builds both use cases from c and adds them to reg. Inviting
// requires CapabilityInvite.
func Register(reg *usecase.Registry, c model.Container, opts ...Option) error {
	invite := ProvideInviteUser(opts...)
	gated := func(c model.Container) (usecase.UseCase, error) {
		uc, err := invite(c)
		if err != nil {
			return nil, err
		}
		return usecase.RequireCapabilities(uc, CapabilityInvite), nil
	}
	if err := reg.Provide(c, InviteUserName, gated); err != nil {
		return err
	}
	return reg.Provide(c, AcceptInvitationName, ProvideAcceptInvitation(opts...))
}
