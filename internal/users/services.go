package users

import (
	"errors"
	"time"

	"github.com/pitabwire/usecase/model"
)

// Domain errors.
var (
	ErrEmailTaken         = errors.New("users: email already registered")
	ErrUserNotFound       = errors.New("users: user not found")
	ErrInvitationNotFound = errors.New("users: invitation not found")
	ErrInvitationUsed     = errors.New("users: invitation already used")
	ErrInvitationExpired  = errors.New("users: invitation expired")
	ErrInvitationMismatch = errors.New("users: invitation issued for another email")
)

// CheckInvitation returns nil when inv may be accepted for email at now,
// or the domain error explaining why not.
func CheckInvitation(inv *Invitation, email Email, now time.Time) error {
	switch {
	case inv == nil:
		return ErrInvitationNotFound
	case inv.Used():
		return ErrInvitationUsed
	case inv.Expired(now):
		return ErrInvitationExpired
	case inv.Email != email:
		return ErrInvitationMismatch
	default:
		return nil
	}
}

// IsInvitationValid reports whether inv exists, is unused, unexpired and
// was issued for email.
func IsInvitationValid(inv *Invitation, email Email, now time.Time) bool {
	return CheckInvitation(inv, email, now) == nil
}

var domainErrors = []struct {
	err     error
	field   string
	code    string
	message string
}{
	{ErrEmailTaken, "email", "EMAIL_TAKEN", "Email is already registered"},
	{ErrInvitationNotFound, "token", "INVITATION_NOT_FOUND", "Invitation does not exist"},
	{ErrInvitationUsed, "token", "INVITATION_USED", "Invitation was already used"},
	{ErrInvitationExpired, "token", "INVITATION_EXPIRED", "Invitation has expired"},
	{ErrInvitationMismatch, "token", "INVITATION_MISMATCH", "Invitation was issued for another email"},
}

// asUseCaseError converts a domain error into a business error keyed by the
// offending field. Other errors are returned unchanged.
func asUseCaseError(err error) error {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return model.NewUseCaseError(d.field, d.code, d.message)
		}
	}
	return err
}
