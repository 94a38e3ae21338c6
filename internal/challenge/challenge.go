// Package challenge issues and verifies the one-time codes that authorise a
// pending transfer.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/otpay/internal/ledger"
)

var (
	// ErrNotFound is returned for unknown challenge ids.
	ErrNotFound = errors.New("challenge not found")
	// ErrForbidden is returned when the caller does not own the challenge.
	ErrForbidden = errors.New("challenge belongs to another account")
	// ErrAlreadyUsed is returned once a challenge has authorised a transfer.
	ErrAlreadyUsed = errors.New("challenge already used")
	// ErrExpired is returned when the code is submitted after expiry.
	ErrExpired = errors.New("challenge expired")
	// ErrCodeMismatch is returned when the submitted code is wrong.
	ErrCodeMismatch = errors.New("incorrect code")
)

// MismatchError reports a wrong code together with the attempts remaining
// before lockout.
type MismatchError struct {
	AttemptsLeft int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("incorrect code, %d attempt(s) left", e.AttemptsLeft)
}

func (e *MismatchError) Is(target error) bool { return target == ErrCodeMismatch }

// Challenge is a code bound to one pending {payer, payee, amount} transfer.
// Only the hash of the code is kept.
type Challenge struct {
	ID            string
	AccountID     string
	CodeHash      string
	ReceiverID    string
	Amount        decimal.Decimal
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Verified      bool
	VerifiedAt    time.Time
	TransactionID string
}

// Expired is evaluated at the decision point; expiry is never stored.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Open reports whether the challenge can still be verified at now.
func (c Challenge) Open(now time.Time) bool {
	return !c.Verified && !c.Expired(now)
}

// Repository persists challenges.
type Repository interface {
	Create(ctx context.Context, c Challenge) error
	Get(ctx context.Context, id string) (Challenge, error)
	// MarkVerified flips the verified flag once and links the transaction as
	// part of the ledger unit tx. It returns ErrAlreadyUsed when the flag is
	// already set.
	MarkVerified(ctx context.Context, tx ledger.Tx, id, transactionID string, at time.Time) error
	// ExpireOpen pulls the expiry of the account's open challenges to at.
	ExpireOpen(ctx context.Context, accountID string, at time.Time) (int64, error)
	// Active returns the newest open challenge for the account.
	Active(ctx context.Context, accountID string, now time.Time) (Challenge, error)
	// DeleteExpired removes unverified challenges that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
