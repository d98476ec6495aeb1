package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lpgdepot/backend/internal/domain"
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

func (s *userStoreStub) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, errNoSuchUser
	}
	return &user, nil
}

func (s *userStoreStub) ListUsers(_ context.Context, ownerID string) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		if user.OwnerID == ownerID {
			out = append(out, user)
		}
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

var errNoSuchUser = errors.New("no such user")

func newStubWithOwner(t *testing.T, password string) *userStoreStub {
	t.Helper()
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				ID:        "usr-test-owner",
				Username:  "owner",
				Password:  hash,
				Role:      domain.RoleOwner,
				OwnerID:   "usr-test-owner",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestLoginIssuesParseableToken(t *testing.T) {
	store := newStubWithOwner(t, "owner123")
	manager := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleOwner {
		t.Fatalf("expected owner role, got %s", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.ID != "usr-test-owner" || actor.Username != "owner" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if actor.Role != domain.RoleOwner || actor.OwnerID != "usr-test-owner" {
		t.Fatalf("unexpected actor role/owner %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	store := newStubWithOwner(t, "owner123")
	manager := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "not-the-password",
	}); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := newStubWithOwner(t, "owner123")
	user := store.users["owner"]
	user.Active = false
	store.users["owner"] = user

	manager := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestLoginUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				ID:       "usr-test-owner",
				Username: "owner",
				Password: "owner123",
				Role:     domain.RoleOwner,
				OwnerID:  "usr-test-owner",
				Active:   true,
			},
		},
	}

	manager := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if store.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", store.updates)
	}
	if !strings.HasPrefix(store.users["owner"].Password, "$2") {
		t.Fatalf("expected stored password to be a bcrypt hash")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	store := newStubWithOwner(t, "owner123")
	issuer := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)
	verifier := NewAuthManager("a-completely-different-hmac-secret", time.Hour, store)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	store := newStubWithOwner(t, "owner123")
	manager := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)
	actor := domain.Actor{ID: "usr-test-owner", Username: "owner", Role: domain.RoleOwner, OwnerID: "usr-test-owner"}

	created, err := manager.CreateStaff(context.Background(), actor, domain.StaffCreateRequest{
		Username: "deliveryguy",
		Password: "secret99",
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if created.Username != "deliveryguy" || created.Role != domain.RoleStaff {
		t.Fatalf("unexpected staff account %+v", created)
	}

	saved := store.users["deliveryguy"]
	if saved.Password == "secret99" {
		t.Fatalf("expected staff password to be hashed")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}
	if saved.OwnerID != "usr-test-owner" {
		t.Fatalf("expected staff scoped to owner, got %s", saved.OwnerID)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "deliveryguy",
		Password: "secret99",
	}); err != nil {
		t.Fatalf("login with new staff account failed: %v", err)
	}
}

func TestCreateStaffValidation(t *testing.T) {
	store := newStubWithOwner(t, "owner123")
	manager := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)
	actor := domain.Actor{ID: "usr-test-owner", Username: "owner", Role: domain.RoleOwner, OwnerID: "usr-test-owner"}
	ctx := context.Background()

	cases := []domain.StaffCreateRequest{
		{Username: "ab", Password: "secret99"},
		{Username: "validname", Password: "short"},
		{Username: "validname", Password: "secret99", Role: domain.RoleOwner},
		{Username: "owner", Password: "secret99"},
	}
	for i, req := range cases {
		if _, err := manager.CreateStaff(ctx, actor, req); err == nil {
			t.Fatalf("case %d: expected create staff to fail for %+v", i, req)
		}
	}
}

func TestListStaffOmitsOwnerAccount(t *testing.T) {
	store := newStubWithOwner(t, "owner123")
	manager := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, store)
	actor := domain.Actor{ID: "usr-test-owner", Username: "owner", Role: domain.RoleOwner, OwnerID: "usr-test-owner"}
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha"} {
		if _, err := manager.CreateStaff(ctx, actor, domain.StaffCreateRequest{
			Username: name,
			Password: "secret99",
		}); err != nil {
			t.Fatalf("create staff %s failed: %v", name, err)
		}
	}

	staff, err := manager.ListStaff(ctx, actor)
	if err != nil {
		t.Fatalf("list staff failed: %v", err)
	}
	if len(staff) != 2 {
		t.Fatalf("expected 2 staff accounts, got %d", len(staff))
	}
	if staff[0].Username != "alpha" || staff[1].Username != "zeta" {
		t.Fatalf("expected staff sorted by username, got %+v", staff)
	}
}
