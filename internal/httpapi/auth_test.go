package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"serene/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"moderator": {Username: "moderator", Password: "plain-pass-123", Role: domain.RoleModerator, Active: true},
		},
	}
	auth := NewAuthManager(strings.Repeat("s", 32), time.Hour, store)

	if store.updates != 1 {
		t.Fatalf("expected plain password to be rehashed once, got %d updates", store.updates)
	}
	if !isPasswordHash(store.users["moderator"].Password) {
		t.Fatalf("expected stored password to be a bcrypt hash")
	}

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "Moderator", Password: "plain-pass-123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleModerator {
		t.Fatalf("expected moderator role, got %s", resp.Role)
	}
}

func TestEnsureOperatorCreatesAndRotates(t *testing.T) {
	store := &userStoreStub{}
	auth := NewAuthManager(strings.Repeat("s", 32), time.Hour, store)
	ctx := context.Background()

	if err := auth.EnsureOperator(ctx, "Admin", "first-password", domain.RoleAdmin); err != nil {
		t.Fatalf("ensure operator: %v", err)
	}
	created := store.users["admin"]
	if created.Role != domain.RoleAdmin || !created.Active {
		t.Fatalf("unexpected operator record: %+v", created)
	}

	if err := auth.EnsureOperator(ctx, "admin", "first-password", domain.RoleAdmin); err != nil {
		t.Fatalf("ensure operator again: %v", err)
	}
	if store.updates != 0 {
		t.Fatalf("unchanged password must not be rewritten, got %d updates", store.updates)
	}

	if err := auth.EnsureOperator(ctx, "admin", "second-password", domain.RoleAdmin); err != nil {
		t.Fatalf("rotate password: %v", err)
	}
	if store.updates != 1 {
		t.Fatalf("expected one password rotation, got %d", store.updates)
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{Username: "admin", Password: "first-password"}); err == nil {
		t.Fatalf("expected old password to be rejected")
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{Username: "admin", Password: "second-password"}); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}

	if err := auth.EnsureOperator(ctx, "cashier", "whatever-pass", "cashier"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestParseTokenRoundTripAndTamper(t *testing.T) {
	auth := NewAuthManager(strings.Repeat("k", 32), time.Hour, nil)
	token, err := auth.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(strings.Repeat("x", 32), time.Hour, nil)
	if _, err := other.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := auth.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := auth.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
