package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dukapos/internal/domain"
	"dukapos/internal/store/memory"
)

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "nope"}); err == nil {
		t.Fatalf("expected login failure")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "admin123"}); err == nil {
		t.Fatalf("expected login failure for unknown user")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	if _, err := auth.ParseToken("not-a-token"); err == nil {
		t.Fatalf("expected parse failure")
	}

	// A token signed with a different secret must not validate.
	other := NewAuthManager("another-secret-entirely", time.Hour, memory.New())
	resp, err := other.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected cross-secret token to be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	token, err := auth.sign("admin", domain.RoleAdmin, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestCreateCashierValidation(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	cases := []domain.CashierCreateRequest{
		{Username: "abc", Password: "secret123"},
		{Username: "with space", Password: "secret123"},
		{Username: "newcashier", Password: "short"},
		{Username: "cashier", Password: "secret123"}, // seeded already
	}
	for _, req := range cases {
		if _, err := auth.CreateCashier(req); err == nil {
			t.Fatalf("expected rejection for %+v", req)
		}
	}

	cashier, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "wanjiku", Password: "secret123"})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if cashier.Role != domain.RoleCashier || !cashier.Active {
		t.Fatalf("unexpected cashier %+v", cashier)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "wanjiku", Password: "secret123"}); err != nil {
		t.Fatalf("new cashier should be able to log in: %v", err)
	}
}

func TestListCashiersExcludesAdmin(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	for _, cashier := range auth.ListCashiers() {
		if cashier.Role != domain.RoleCashier {
			t.Fatalf("non-cashier in list: %+v", cashier)
		}
	}
}

func TestBootstrapUpgradesPlainTextPasswords(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "legacy",
		Password:  "plaintextpw",
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	if _, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plaintextpw"}); err != nil {
		t.Fatalf("legacy user should log in: %v", err)
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, user := range users {
		if user.Username != "legacy" {
			continue
		}
		if !strings.HasPrefix(user.Password, "$2") {
			t.Fatalf("expected stored password to be bcrypt hashed, got %q", user.Password)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("plaintextpw")); err != nil {
			t.Fatalf("upgraded hash does not verify: %v", err)
		}
	}
}
