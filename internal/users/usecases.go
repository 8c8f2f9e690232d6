package users

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/usecase/internal/schema"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

//go:embed schemas.yaml
var schemaDocument []byte

// LoadSchemas parses the embedded schema catalog.
func LoadSchemas() (*schema.Catalog, error) {
	return schema.Load(schemaDocument)
}

// Use case names.
const (
	InviteUserName       = "users.invite"
	AcceptInvitationName = "users.accept_invitation"
)

// CapabilityInvite is required to invite users.
const CapabilityInvite = "users:invite"

// DefaultInvitationTTL is how long an invitation stays valid.
const DefaultInvitationTTL = 72 * time.Hour

type options struct {
	ttl time.Duration
	now func() time.Time
}

// Option configures the invitation use cases.
type Option func(*options)

// WithInvitationTTL sets the invitation validity period.
func WithInvitationTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{ttl: DefaultInvitationTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// InviteUser issues an invitation for an email that is not registered yet.
// The inviter is taken from the current actor.
type InviteUser struct {
	*usecase.Simple
	users       UserRepo
	invitations InvitationRepo
	opts        options
}

// InvitateUser is the historical name of InviteUser.
type InvitateUser = InviteUser

// NewInviteUser creates the use case. s validates the payload and binds
// invited_by to the actor.
func NewInviteUser(users UserRepo, invitations InvitationRepo, s model.Schema, opts ...Option) *InviteUser {
	u := &InviteUser{users: users, invitations: invitations, opts: newOptions(opts)}
	u.Simple = usecase.NewSimple(InviteUserName, s,
		usecase.WithContextProvider(usecase.ActorContext),
		usecase.WithHandler(u.invite),
	)
	return u
}

// IsAvailable reports whether the email is still free. A probe without an
// email is available.
func (u *InviteUser) IsAvailable(ctx context.Context, in model.Input) (bool, error) {
	input := InviteUserInputFrom(in)
	if input.Email == "" {
		return true, nil
	}
	taken, err := u.users.IsEmailTaken(ctx, input.Email)
	if err != nil {
		return false, fmt.Errorf("users: checking email: %w", err)
	}
	return !taken, nil
}

func (u *InviteUser) invite(ctx context.Context, _ string, validated map[string]any) (map[string]any, error) {
	input := decodeInviteUserInput(payload(validated))

	taken, err := u.users.IsEmailTaken(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("users: checking email: %w", err)
	}
	if taken {
		return nil, asUseCaseError(ErrEmailTaken)
	}

	now := u.opts.now().UTC()
	inv := Invitation{
		Token:     NewInvitationToken(),
		Email:     input.Email,
		InvitedBy: input.InvitedBy,
		CreatedAt: now,
		ExpiresAt: now.Add(u.opts.ttl),
	}
	if err := u.invitations.CreateInvitation(ctx, inv); err != nil {
		return nil, asUseCaseError(err)
	}

	return map[string]any{
		"token":      inv.Token.String(),
		"email":      inv.Email.String(),
		"expires_at": inv.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// AcceptInvitation creates the account an invitation was issued for.
type AcceptInvitation struct {
	*usecase.Simple
	users       UserRepo
	invitations InvitationRepo
	opts        options
}

// NewAcceptInvitation creates the use case.
func NewAcceptInvitation(users UserRepo, invitations InvitationRepo, s model.Schema, opts ...Option) *AcceptInvitation {
	a := &AcceptInvitation{users: users, invitations: invitations, opts: newOptions(opts)}
	a.Simple = usecase.NewSimple(AcceptInvitationName, s, usecase.WithHandler(a.accept))
	return a
}

// IsAvailable reports whether the email is free and the token names a
// valid invitation issued for that email.
func (a *AcceptInvitation) IsAvailable(ctx context.Context, in model.Input) (bool, error) {
	input := AcceptInvitationInputFrom(in)

	taken, err := a.users.IsEmailTaken(ctx, input.Email)
	if err != nil {
		return false, fmt.Errorf("users: checking email: %w", err)
	}
	if taken {
		return false, nil
	}

	inv, err := a.lookup(ctx, input.Token)
	if err != nil {
		return false, err
	}
	return IsInvitationValid(inv, input.Email, a.opts.now()), nil
}

func (a *AcceptInvitation) accept(ctx context.Context, _ string, validated map[string]any) (map[string]any, error) {
	input := decodeAcceptInvitationInput(payload(validated))
	now := a.opts.now().UTC()

	inv, err := a.lookup(ctx, input.Token)
	if err != nil {
		return nil, err
	}
	if err := CheckInvitation(inv, input.Email, now); err != nil {
		return nil, asUseCaseError(err)
	}

	user := User{
		ID:        NewUserID(),
		Email:     input.Email,
		InvitedBy: inv.InvitedBy,
		Token:     inv.Token,
		CreatedAt: now,
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, asUseCaseError(err)
	}
	if err := a.invitations.MarkUsed(ctx, inv.Token, now); err != nil {
		return nil, asUseCaseError(err)
	}

	return map[string]any{
		"user_id": user.ID,
		"email":   user.Email.String(),
	}, nil
}

// lookup returns nil without error for an unknown token.
func (a *AcceptInvitation) lookup(ctx context.Context, token InvitationToken) (*Invitation, error) {
	if token == "" {
		return nil, nil
	}
	inv, err := a.invitations.GetByToken(ctx, token)
	if errors.Is(err, ErrInvitationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: loading invitation: %w", err)
	}
	return &inv, nil
}
