package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pitabwire/usecase/internal/container"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type fixture struct {
	store  *MemoryStore
	invite *InviteUser
	accept *AcceptInvitation
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	catalog, err := LoadSchemas()
	if err != nil {
		t.Fatalf("LoadSchemas() error = %v", err)
	}
	store := NewMemoryStore()
	inviteSchema, _ := catalog.Lookup(InviteUserSchema)
	acceptSchema, _ := catalog.Lookup(AcceptInvitationSchema)
	return fixture{
		store:  store,
		invite: NewInviteUser(store, store, inviteSchema, WithClock(testClock), WithInvitationTTL(time.Hour)),
		accept: NewAcceptInvitation(store, store, acceptSchema, WithClock(testClock)),
	}
}

func actorCtx() context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{SubjectID: "admin-1"})
}

func (f fixture) seedUser(t *testing.T, email string) {
	t.Helper()
	if err := f.store.CreateUser(context.Background(), User{ID: NewUserID(), Email: NormaliseEmail(email), CreatedAt: testNow}); err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
}

func (f fixture) seedInvitation(t *testing.T, email string, expires time.Time) InvitationToken {
	t.Helper()
	inv := Invitation{Token: NewInvitationToken(), Email: NormaliseEmail(email), CreatedAt: testNow, ExpiresAt: expires}
	if err := f.store.CreateInvitation(context.Background(), inv); err != nil {
		t.Fatalf("CreateInvitation error: %v", err)
	}
	return inv.Token
}

// --- services ---

func TestCheckInvitation(t *testing.T) {
	used := testNow.Add(-time.Minute)
	valid := &Invitation{Email: "a@example.com", ExpiresAt: testNow.Add(time.Hour)}

	tests := []struct {
		name  string
		inv   *Invitation
		email Email
		want  error
	}{
		{"valid", valid, "a@example.com", nil},
		{"missing", nil, "a@example.com", ErrInvitationNotFound},
		{"used", &Invitation{Email: "a@example.com", ExpiresAt: testNow.Add(time.Hour), UsedAt: &used}, "a@example.com", ErrInvitationUsed},
		{"expired", &Invitation{Email: "a@example.com", ExpiresAt: testNow}, "a@example.com", ErrInvitationExpired},
		{"mismatch", valid, "b@example.com", ErrInvitationMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInvitation(tt.inv, tt.email, testNow)
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckInvitation() = %v, want %v", err, tt.want)
			}
			if got := IsInvitationValid(tt.inv, tt.email, testNow); got != (tt.want == nil) {
				t.Errorf("IsInvitationValid() = %v", got)
			}
		})
	}
}

func TestNormaliseEmail(t *testing.T) {
	if got := NormaliseEmail("  Ada@Example.COM "); got != "ada@example.com" {
		t.Errorf("NormaliseEmail() = %q", got)
	}
}

// --- invite flow ---

func TestInviteUser_IsAvailable(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "taken@example.com")

	tests := []struct {
		name  string
		input model.Input
		want  bool
	}{
		{"free email", InviteUserInput{Email: "new@example.com"}.Input(), true},
		{"taken email", InviteUserInput{Email: "taken@example.com"}.Input(), false},
		{"taken email differently cased", model.NewInput("", map[string]any{"email": "Taken@Example.com"}), false},
		{"probe", model.Probe(""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.invite.IsAvailable(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("IsAvailable() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsAvailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInviteUser_InvokeTakenEmailRaisesLogicError(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "taken@example.com")

	_, err := usecase.Invoke(actorCtx(), f.invite, InviteUserInput{Email: "taken@example.com"}.Input())
	var le *model.LogicError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LogicError", err)
	}
	if le.UseCase != InviteUserName {
		t.Errorf("UseCase = %q", le.UseCase)
	}
}

func TestInviteUser_Invoke(t *testing.T) {
	f := newFixture(t)

	result, err := usecase.Invoke(actorCtx(), f.invite, model.NewInput("", map[string]any{"email": "New@Example.com"}))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("result errors = %v", result.Errors())
	}

	token, _ := result.Value("token")
	inv, err := f.store.GetByToken(context.Background(), InvitationToken(token.(string)))
	if err != nil {
		t.Fatalf("GetByToken() error = %v", err)
	}
	if inv.Email != "new@example.com" {
		t.Errorf("Email = %q, want normalised", inv.Email)
	}
	if inv.InvitedBy != "admin-1" {
		t.Errorf("InvitedBy = %q, want admin-1", inv.InvitedBy)
	}
	if !inv.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", inv.ExpiresAt)
	}
}

func TestInviteUser_InvokeValidation(t *testing.T) {
	f := newFixture(t)

	_, err := usecase.Invoke(actorCtx(), f.invite, model.NewInput("", map[string]any{"email": "not-an-email"}))
	var verr *model.ValidationError
	if !errors.As(err, &verr) || !verr.HasField("email") {
		t.Fatalf("err = %v, want validation error on email", err)
	}
}

func TestInviteUser_InvokeWithoutActor(t *testing.T) {
	f := newFixture(t)

	_, err := usecase.Invoke(context.Background(), f.invite, InviteUserInput{Email: "new@example.com"}.Input())
	if !errors.Is(err, model.ErrContextNotSupported) {
		t.Fatalf("err = %v, want ErrContextNotSupported", err)
	}
}

func TestInviteUser_ExecuteReportsTakenEmail(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "late@example.com")

	result, err := f.invite.Execute(actorCtx(), "", map[string]any{"email": "late@example.com", "invited_by": "admin-1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if e := result.Error("email"); e == nil || e.Code != "EMAIL_TAKEN" {
		t.Errorf("errors = %v, want EMAIL_TAKEN on email", result.Errors())
	}
}

// --- accept flow ---

func TestAcceptInvitation_IsAvailable(t *testing.T) {
	f := newFixture(t)
	valid := f.seedInvitation(t, "ada@example.com", testNow.Add(time.Hour))
	expired := f.seedInvitation(t, "ada@example.com", testNow.Add(-time.Hour))
	f.seedUser(t, "taken@example.com")
	takenInv := f.seedInvitation(t, "taken@example.com", testNow.Add(time.Hour))

	tests := []struct {
		name  string
		email Email
		token InvitationToken
		want  bool
	}{
		{"valid", "ada@example.com", valid, true},
		{"expired", "ada@example.com", expired, false},
		{"mismatched email", "bob@example.com", valid, false},
		{"unknown token", "ada@example.com", NewInvitationToken(), false},
		{"email taken", "taken@example.com", takenInv, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := AcceptInvitationInput{Email: tt.email, Token: tt.token}.Input()
			got, err := f.accept.IsAvailable(context.Background(), in)
			if err != nil {
				t.Fatalf("IsAvailable() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsAvailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAcceptInvitation_Invoke(t *testing.T) {
	f := newFixture(t)
	token := f.seedInvitation(t, "ada@example.com", testNow.Add(time.Hour))
	in := AcceptInvitationInput{Email: "ada@example.com", Token: token}.Input()

	result, err := usecase.Invoke(context.Background(), f.accept, in)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("result errors = %v", result.Errors())
	}

	user, err := f.store.GetUserByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if id, _ := result.Value("user_id"); id != user.ID {
		t.Errorf("user_id = %v, want %s", id, user.ID)
	}
	inv, _ := f.store.GetByToken(context.Background(), token)
	if !inv.Used() {
		t.Error("invitation should be marked used")
	}

	// The email is now taken, so accepting again is a logic error.
	if _, err := usecase.Invoke(context.Background(), f.accept, in); !errors.Is(err, model.ErrNotAvailable) {
		t.Errorf("second Invoke() err = %v, want ErrNotAvailable", err)
	}
}

func TestAcceptInvitation_ExecuteReportsDomainErrors(t *testing.T) {
	f := newFixture(t)
	expired := f.seedInvitation(t, "ada@example.com", testNow.Add(-time.Hour))

	result, err := f.accept.Execute(context.Background(), "", map[string]any{
		"email": "ada@example.com",
		"token": expired.String(),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if e := result.Error("token"); e == nil || e.Code != "INVITATION_EXPIRED" {
		t.Errorf("errors = %v, want INVITATION_EXPIRED on token", result.Errors())
	}
	if f.store.Len() != 0 {
		t.Error("no user should be created")
	}
}

func TestAcceptInvitation_InvokeValidation(t *testing.T) {
	f := newFixture(t)
	token := f.seedInvitation(t, "ada@example.com", testNow.Add(time.Hour))

	_, err := usecase.Invoke(context.Background(), f.accept, model.NewInput("", map[string]any{
		"email": "ada@example.com",
		"token": token.String(),
		"admin": true,
	}))
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

// --- wiring ---

func TestRegister(t *testing.T) {
	catalog, err := LoadSchemas()
	if err != nil {
		t.Fatalf("LoadSchemas() error = %v", err)
	}
	store := NewMemoryStore()
	c := container.New()
	_ = c.Set(DepUserRepo, store)
	_ = c.Set(DepInvitationRepo, store)
	_ = c.Set(DepSchemas, catalog)

	reg := usecase.NewRegistry()
	if err := Register(reg, c, WithClock(testClock)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if names := reg.Names(); len(names) != 2 || names[0] != AcceptInvitationName || names[1] != InviteUserName {
		t.Fatalf("Names() = %v", names)
	}

	invite, _ := reg.Get(InviteUserName)
	in := InviteUserInput{Email: "new@example.com"}.Input()
	if _, err := usecase.Invoke(actorCtx(), invite, in); !errors.Is(err, model.ErrNotAvailable) {
		t.Errorf("invite without capability err = %v, want ErrNotAvailable", err)
	}
	ctx := model.WithCapabilities(actorCtx(), model.CapabilitySet{CapabilityInvite: true})
	if _, err := usecase.Invoke(ctx, invite, in); err != nil {
		t.Errorf("invite with capability err = %v", err)
	}

	d, _ := reg.Describe(AcceptInvitationName)
	if len(d.Interfaces) != 1 || d.Interfaces[0].Schema.Name != AcceptInvitationSchema {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestRegister_MissingDependency(t *testing.T) {
	reg := usecase.NewRegistry()
	if err := Register(reg, container.New()); !errors.Is(err, container.ErrNotRegistered) {
		t.Errorf("Register() err = %v, want ErrNotRegistered", err)
	}
}

func TestInvitateUserAlias(t *testing.T) {
	f := newFixture(t)
	var alias *InvitateUser = f.invite
	if alias.Name() != InviteUserName {
		t.Errorf("Name() = %q", alias.Name())
	}
}
