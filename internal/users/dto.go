package users

import (
	"fmt"

	"github.com/pitabwire/usecase/model"
)

// Schema names in the embedded catalog.
const (
	InviteUserSchema       = "InviteUser"
	AcceptInvitationSchema = "AcceptInvitation"
)

// fieldSource is satisfied by model.Input and by validated payloads.
type fieldSource interface {
	Field(name string) (any, bool)
}

type payload map[string]any

func (p payload) Field(name string) (any, bool) {
	v, ok := p[name]
	return v, ok
}

func stringField(src fieldSource, name string) string {
	v, ok := src.Field(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// InviteUserInput is the payload of InviteUser.
type InviteUserInput struct {
	Email     Email
	InvitedBy string
}

func decodeInviteUserInput(src fieldSource) InviteUserInput {
	return InviteUserInput{
		Email:     NormaliseEmail(stringField(src, "email")),
		InvitedBy: stringField(src, "invited_by"),
	}
}

// InviteUserInputFrom decodes the raw invocation input.
func InviteUserInputFrom(in model.Input) InviteUserInput {
	return decodeInviteUserInput(in)
}

// Input returns the invocation input carrying the payload.
func (i InviteUserInput) Input() model.Input {
	return model.NewInput("", map[string]any{"email": i.Email.String()})
}

// AcceptInvitationInput is the payload of AcceptInvitation.
type AcceptInvitationInput struct {
	Email Email
	Token InvitationToken
}

func decodeAcceptInvitationInput(src fieldSource) AcceptInvitationInput {
	return AcceptInvitationInput{
		Email: NormaliseEmail(stringField(src, "email")),
		Token: InvitationToken(stringField(src, "token")),
	}
}

// AcceptInvitationInputFrom decodes the raw invocation input.
func AcceptInvitationInputFrom(in model.Input) AcceptInvitationInput {
	return decodeAcceptInvitationInput(in)
}

// Input returns the invocation input carrying the payload.
func (a AcceptInvitationInput) Input() model.Input {
	return model.NewInput("", map[string]any{
		"email": a.Email.String(),
		"token": a.Token.String(),
	})
}
