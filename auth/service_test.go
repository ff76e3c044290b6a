package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"campusswap/apperr"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret").WithSignupPoints(250)

	req := RegisterRequest{
		Email:       "alice@campus.edu",
		Password:    "supersafe",
		DisplayName: "Alice",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if user.Role != RoleStudent {
		t.Fatalf("register: expected default role %s got %s", RoleStudent, user.Role)
	}
	if user.PointsBalance != 250 {
		t.Fatalf("register: expected opening balance 250 got %d", user.PointsBalance)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}

	actor, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if actor.ID != user.ID || actor.Role != RoleStudent {
		t.Fatalf("verify token: got %+v", actor)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@campus.edu",
		Password:    "short",
		DisplayName: "Alice",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterRequest{Password: "strongpassword"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for missing fields, got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterRequest{
		Email:       "mod@campus.edu",
		Password:    "strongpassword",
		DisplayName: "Mod",
		Role:        RoleModerator,
	})
	if !errors.Is(err, ErrPrivilegedRole) {
		t.Fatalf("expected ErrPrivilegedRole, got %v", err)
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	req := RegisterRequest{
		Email:       "alice@campus.edu",
		Password:    "strongpassword",
		DisplayName: "Alice",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@campus.edu",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_VerifyTokenRejectsExpiredAndForeign(t *testing.T) {
	issuedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := issuedAt
	svc := NewService(newFakeRepository(), "test-secret").
		WithTokenTTL(time.Hour).
		WithClock(func() time.Time { return clock })

	token, err := svc.IssueToken(Actor{ID: "user-1", Role: RoleModerator})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if actor, err := svc.VerifyToken(token); err != nil || !actor.IsResolver() {
		t.Fatalf("expected moderator actor, got %+v, %v", actor, err)
	}

	clock = issuedAt.Add(2 * time.Hour)
	if _, err := svc.VerifyToken(token); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other := NewService(newFakeRepository(), "other-secret").WithClock(func() time.Time { return issuedAt })
	clock = issuedAt
	if _, err := other.VerifyToken(token); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}

	if _, err := svc.IssueToken(SystemActor); !errors.Is(err, ErrPrivilegedRole) {
		t.Fatalf("system actor must not receive tokens, got %v", err)
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++

	user := User{
		ID:            id,
		Email:         params.Email,
		DisplayName:   params.DisplayName,
		PasswordHash:  params.PasswordHash,
		Role:          params.Role,
		PointsBalance: params.PointsBalance,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
