package users

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_Users(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateUser(ctx, User{ID: "u-1", Email: "ada@example.com"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := store.CreateUser(ctx, User{ID: "u-2", Email: "ada@example.com"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate CreateUser() = %v, want ErrEmailTaken", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
	if taken, _ := store.IsEmailTaken(ctx, "ada@example.com"); !taken {
		t.Error("IsEmailTaken() = false, want true")
	}
	if _, err := store.GetUserByEmail(ctx, "bob@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUserByEmail(missing) = %v, want ErrUserNotFound", err)
	}
}

func TestMemoryStore_MarkUsed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	inv := Invitation{Token: NewInvitationToken(), Email: "ada@example.com", ExpiresAt: testNow.Add(time.Hour)}
	_ = store.CreateInvitation(ctx, inv)

	if err := store.MarkUsed(ctx, inv.Token, testNow); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}
	if err := store.MarkUsed(ctx, inv.Token, testNow); !errors.Is(err, ErrInvitationUsed) {
		t.Errorf("second MarkUsed() = %v, want ErrInvitationUsed", err)
	}
	if err := store.MarkUsed(ctx, NewInvitationToken(), testNow); !errors.Is(err, ErrInvitationNotFound) {
		t.Errorf("MarkUsed(missing) = %v, want ErrInvitationNotFound", err)
	}

	got, _ := store.GetByToken(ctx, inv.Token)
	if got.UsedAt == nil || !got.UsedAt.Equal(testNow) {
		t.Errorf("UsedAt = %v, want %v", got.UsedAt, testNow)
	}
}
