package users

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-instance
// deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[Email]User
	invitations map[InvitationToken]Invitation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[Email]User),
		invitations: make(map[InvitationToken]Invitation),
	}
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// IsEmailTaken reports whether a user with the given email exists.
func (s *MemoryStore) IsEmailTaken(_ context.Context, email Email) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[email]
	return ok, nil
}

// CreateUser persists a new user.
func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Email]; exists {
		return ErrEmailTaken
	}
	s.users[user.Email] = user
	return nil
}

// GetUserByEmail returns the user registered under email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email Email) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// CreateInvitation persists a new invitation.
func (s *MemoryStore) CreateInvitation(_ context.Context, inv Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations[inv.Token] = inv
	return nil
}

// GetByToken returns the invitation for token.
func (s *MemoryStore) GetByToken(_ context.Context, token InvitationToken) (Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[token]
	if !ok {
		return Invitation{}, ErrInvitationNotFound
	}
	return inv, nil
}

// MarkUsed records that the invitation was accepted.
func (s *MemoryStore) MarkUsed(_ context.Context, token InvitationToken, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[token]
	if !ok {
		return ErrInvitationNotFound
	}
	if inv.Used() {
		return ErrInvitationUsed
	}
	inv.UsedAt = &at
	s.invitations[token] = inv
	return nil
}

// Len returns the number of users. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
