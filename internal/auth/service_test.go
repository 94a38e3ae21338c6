package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/otpay/internal/ledger"
)

func newAuthService(t *testing.T) (*Service, ledger.Account) {
	t.Helper()
	store := ledger.NewInMemory()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account := ledger.Account{
		ID:           uuid.NewString(),
		Name:         "Andres Lacra",
		Address:      "andres.lacra@example.com",
		Balance:      decimal.NewFromInt(10_000),
		PasswordHash: hash,
	}
	if err := store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return NewService(store, "test-secret", "otpay", time.Hour), account
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, account := newAuthService(t)

	session, err := svc.Login(context.Background(), Credentials{Email: "Andres.Lacra@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.AccountID != account.ID {
		t.Fatalf("expected account %s, got %s", account.ID, session.AccountID)
	}

	claims, err := svc.ParseToken(session.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != account.ID || claims.Name != "Andres Lacra" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	if _, err := svc.Login(ctx, Credentials{Email: "andres.lacra@example.com", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, Credentials{Email: "ghost@example.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown address, got %v", err)
	}
}

func TestParseTokenRejectsForgedAndExpired(t *testing.T) {
	svc, account := newAuthService(t)

	token, _, err := svc.Issue(account)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other := NewService(nil, "another-secret", "otpay", time.Hour)
	if _, err := other.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected forged token to fail, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if _, err := svc.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}
