package users

import (
	"context"
	"time"
)

// UserRepo persists users. Email is unique across all users.
type UserRepo interface {
	// IsEmailTaken reports whether a user with the given email exists.
	IsEmailTaken(ctx context.Context, email Email) (bool, error)

	// CreateUser persists a new user. Returns ErrEmailTaken when the email
	// is already registered.
	CreateUser(ctx context.Context, user User) error

	// GetUserByEmail returns the user registered under email, or
	// ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email Email) (User, error)
}

// InvitationRepo persists invitations.
type InvitationRepo interface {
	// CreateInvitation persists a new invitation.
	CreateInvitation(ctx context.Context, inv Invitation) error

	// GetByToken returns the invitation for token, or
	// ErrInvitationNotFound.
	GetByToken(ctx context.Context, token InvitationToken) (Invitation, error)

	// MarkUsed records that the invitation was accepted at the given time.
	// Returns ErrInvitationUsed when it was already accepted.
	MarkUsed(ctx context.Context, token InvitationToken, at time.Time) error
}

// Store is a repository serving both users and invitations.
type Store interface {
	UserRepo
	InvitationRepo
}
