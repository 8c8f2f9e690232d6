package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps expired invitations readable so acceptance can
// report them as expired rather than unknown.
const DefaultRetention = 24 * time.Hour

// RedisStore is a Redis-backed Store. Users are indexed by email with
// SETNX; invitations expire on their own once past expiry plus retention.
// The key format is "{prefix}:user:{email}" and
// "{prefix}:invitation:{token}".
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis store. An empty prefix defaults to
// "usecase".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "usecase"
	}
	return &RedisStore{client: client, prefix: prefix, retention: DefaultRetention, now: time.Now}
}

// WithRetention overrides how long invitations outlive their expiry.
func (s *RedisStore) WithRetention(d time.Duration) *RedisStore {
	if d > 0 {
		s.retention = d
	}
	return s
}

// HealthCheck pings the server.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) userKey(email Email) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, email)
}

func (s *RedisStore) invitationKey(token InvitationToken) string {
	return fmt.Sprintf("%s:invitation:%s", s.prefix, token)
}

// IsEmailTaken reports whether a user with the given email exists.
func (s *RedisStore) IsEmailTaken(ctx context.Context, email Email) (bool, error) {
	n, err := s.client.Exists(ctx, s.userKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", email, err)
	}
	return n > 0, nil
}

// CreateUser stores the user under its email if no user holds it yet.
func (s *RedisStore) CreateUser(ctx context.Context, user User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.userKey(user.Email), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %q: %w", user.Email, err)
	}
	if !ok {
		return ErrEmailTaken
	}
	return nil
}

// GetUserByEmail returns the user registered under email.
func (s *RedisStore) GetUserByEmail(ctx context.Context, email Email) (User, error) {
	raw, err := s.client.Get(ctx, s.userKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("redis get %q: %w", email, err)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return User{}, fmt.Errorf("unmarshal user %q: %w", email, err)
	}
	return u, nil
}

// CreateInvitation stores the invitation until its expiry plus retention.
// An invitation already past that point is rejected with
// ErrInvitationExpired.
func (s *RedisStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	ttl := inv.ExpiresAt.Sub(s.now()) + s.retention
	if ttl <= 0 {
		return ErrInvitationExpired
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invitation: %w", err)
	}
	if err := s.client.Set(ctx, s.invitationKey(inv.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", inv.Token, err)
	}
	return nil
}

// GetByToken returns the invitation for token.
func (s *RedisStore) GetByToken(ctx context.Context, token InvitationToken) (Invitation, error) {
	return s.getInvitation(ctx, s.client, token)
}

func (s *RedisStore) getInvitation(ctx context.Context, c redis.Cmdable, token InvitationToken) (Invitation, error) {
	raw, err := c.Get(ctx, s.invitationKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Invitation{}, ErrInvitationNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("redis get %q: %w", token, err)
	}
	var inv Invitation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invitation{}, fmt.Errorf("unmarshal invitation %q: %w", token, err)
	}
	return inv, nil
}

// MarkUsed sets UsedAt under optimistic locking on the invitation key.
func (s *RedisStore) MarkUsed(ctx context.Context, token InvitationToken, at time.Time) error {
	key := s.invitationKey(token)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		inv, err := s.getInvitation(ctx, tx, token)
		if err != nil {
			return err
		}
		if inv.Used() {
			return ErrInvitationUsed
		}
		inv.UsedAt = &at
		data, err := json.Marshal(inv)
		if err != nil {
			return fmt.Errorf("marshal invitation: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrInvitationUsed
	}
	return err
}
