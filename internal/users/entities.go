// Package users implements the invitation domain: inviting a person by
// email and accepting the invitation to create an account.
package users

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Email is a normalised email address.
type Email string

// NormaliseEmail trims and lower-cases an address.
func NormaliseEmail(s string) Email {
	return Email(strings.ToLower(strings.TrimSpace(s)))
}

// String implements fmt.Stringer.
func (e Email) String() string {
	return string(e)
}

// InvitationToken identifies one invitation.
type InvitationToken string

// NewInvitationToken returns a random token.
func NewInvitationToken() InvitationToken {
	return InvitationToken(uuid.NewString())
}

// String implements fmt.Stringer.
func (t InvitationToken) String() string {
	return string(t)
}

// Invitation grants the holder of Token the right to create an account for
// Email until ExpiresAt.
type Invitation struct {
	Token     InvitationToken `json:"token"`
	Email     Email           `json:"email"`
	InvitedBy string          `json:"invited_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	UsedAt    *time.Time      `json:"used_at,omitempty"`
}

// Used reports whether the invitation was already accepted.
func (i Invitation) Used() bool {
	return i.UsedAt != nil
}

// Expired reports whether the invitation expired at the given time.
func (i Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// User is a registered account.
type User struct {
	ID        string          `json:"id"`
	Email     Email           `json:"email"`
	InvitedBy string          `json:"invited_by,omitempty"`
	Token     InvitationToken `json:"token,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewUserID returns a random user id.
func NewUserID() string {
	return uuid.NewString()
}
