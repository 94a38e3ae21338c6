// Package identity provisions account holders with hashed credentials.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/otpay/internal/ledger"
)

// Service creates accounts in the ledger.
type Service struct {
	accounts   ledger.Store
	bcryptCost int
}

// NewService creates a new identity service. A cost outside bcrypt's range
// falls back to bcrypt.DefaultCost.
func NewService(accounts ledger.Store, bcryptCost int) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{accounts: accounts, bcryptCost: bcryptCost}
}

// Provision creates an account with a bcrypt password hash and an opening
// balance. It fails with ledger.ErrAccountExists for a taken address.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (ledger.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return ledger.Account{}, fmt.Errorf("%w: name is required", ledger.ErrInvalidInput)
	}
	address, err := ledger.NormalizeAddress(in.Email)
	if err != nil {
		return ledger.Account{}, err
	}
	if len(in.Password) < MinPasswordLength {
		return ledger.Account{}, ErrWeakPassword
	}
	if in.OpeningBalance.IsNegative() || in.OpeningBalance.Exponent() < -ledger.AmountScale {
		return ledger.Account{}, ledger.ErrInvalidAmount
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return ledger.Account{}, err
	}

	account := ledger.Account{
		ID:           uuid.New().String(),
		Name:         name,
		Address:      address,
		Phone:        strings.TrimSpace(in.Phone),
		Balance:      in.OpeningBalance,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return ledger.Account{}, err
	}
	return account, nil
}
