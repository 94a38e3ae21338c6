package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/otpay/internal/ledger"
)

func TestProvisionStoresHashedPassword(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, bcrypt.MinCost)
	ctx := context.Background()

	account, err := svc.Provision(ctx, ProvisionInput{
		Name:           "Maria Cruz",
		Email:          "Maria.Cruz@example.com",
		Password:       "password123",
		OpeningBalance: decimal.NewFromInt(10_000),
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if account.Address != "maria.cruz@example.com" {
		t.Fatalf("expected normalised address, got %s", account.Address)
	}

	stored, err := store.GetAccountByAddress(ctx, "maria.cruz@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !stored.Balance.Equal(decimal.NewFromInt(10_000)) {
		t.Fatalf("unexpected opening balance %s", stored.Balance)
	}
	if err := bcrypt.CompareHashAndPassword(stored.PasswordHash, []byte("password123")); err != nil {
		t.Fatalf("password hash mismatch: %v", err)
	}
}

func TestProvisionValidation(t *testing.T) {
	svc := NewService(ledger.NewInMemory(), bcrypt.MinCost)
	ctx := context.Background()

	cases := []struct {
		name string
		in   ProvisionInput
		want error
	}{
		{"missing name", ProvisionInput{Email: "a@example.com", Password: "password123"}, ledger.ErrInvalidInput},
		{"bad address", ProvisionInput{Name: "A", Email: "nope", Password: "password123"}, ledger.ErrInvalidAddress},
		{"short password", ProvisionInput{Name: "A", Email: "a@example.com", Password: "123"}, ErrWeakPassword},
		{"negative balance", ProvisionInput{Name: "A", Email: "a@example.com", Password: "password123", OpeningBalance: decimal.NewFromInt(-1)}, ledger.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Provision(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestProvisionRejectsDuplicateAddress(t *testing.T) {
	svc := NewService(ledger.NewInMemory(), bcrypt.MinCost)
	ctx := context.Background()
	in := ProvisionInput{Name: "Andres", Email: "andres@example.com", Password: "password123"}

	if _, err := svc.Provision(ctx, in); err != nil {
		t.Fatalf("first provision: %v", err)
	}
	if _, err := svc.Provision(ctx, in); !errors.Is(err, ledger.ErrAccountExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
