package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that overwrites the balance for an account
// when using the in-memory ledger.
func SeedBalance(s Store, id string, amount int64) {
	if mem, ok := s.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		account := mem.accounts[id]
		account.Balance = decimal.NewFromInt(amount)
		mem.accounts[id] = account
	}
}

// MustCreateAccount provisions an account with the given opening balance and
// panics on failure. Intended for tests.
func MustCreateAccount(s Store, name, address string, balance int64) Account {
	account := Account{
		ID:      uuid.NewString(),
		Name:    name,
		Address: address,
		Balance: decimal.NewFromInt(balance),
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		panic(err)
	}
	created, err := s.GetAccountByID(context.Background(), account.ID)
	if err != nil {
		panic(err)
	}
	return created
}
