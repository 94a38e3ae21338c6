package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound indicates no account matches the id or address.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance occurs when the payer lacks the balance to cover
	// a requested transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSelfTransfer rejects transfers where payer and payee are the same account.
	ErrSelfTransfer = errors.New("cannot transfer to the same account")

	// ErrDuplicateTransaction indicates a transaction already exists for the
	// authorising challenge, so the transfer must not be applied again.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrNegativeBalance guards the non-negative balance invariant at the store level.
	ErrNegativeBalance = errors.New("balance cannot be negative")

	// ErrAccountExists is returned when provisioning a duplicate address.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidInput is the parent of all malformed-input errors.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidAmount flags a non-positive or over-precise amount.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be a positive value with at most %d decimal places", ErrInvalidInput, AmountScale)

	// ErrInvalidAddress flags a malformed contact address.
	ErrInvalidAddress = fmt.Errorf("%w: malformed address", ErrInvalidInput)
)

const (
	// StatusCompleted is the only status a persisted transaction carries.
	StatusCompleted = "completed"

	// DefaultHistoryLimit bounds transaction history listings.
	DefaultHistoryLimit = 50
)

// Account is a balance-holding ledger account.
type Account struct {
	ID           string
	Name         string
	Address      string
	Phone        string
	Balance      decimal.Decimal
	PasswordHash []byte
	CreatedAt    time.Time
}

// Transaction is an immutable record of a completed transfer.
type Transaction struct {
	ID          string
	SenderID    string
	ReceiverID  string
	Amount      decimal.Decimal
	Status      string
	ChallengeID string
	CreatedAt   time.Time
}

// TransactionInput describes a transaction to append inside an atomic unit.
type TransactionInput struct {
	SenderID    string
	ReceiverID  string
	Amount      decimal.Decimal
	Status      string
	ChallengeID string
}

// TransactionView is a transaction joined with both parties' display data.
type TransactionView struct {
	Transaction
	SenderName      string
	SenderAddress   string
	ReceiverName    string
	ReceiverAddress string
}

// Store is the durable source of truth for accounts and transactions.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccountByID(ctx context.Context, id string) (Account, error)
	GetAccountByAddress(ctx context.Context, address string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListTransactionsForAccount(ctx context.Context, id string, limit int) ([]TransactionView, error)

	// Atomically runs fn as one unit of work. Every mutation made through
	// the Tx is committed if fn returns nil and discarded otherwise.
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the mutations that are only legal inside an atomic unit.
type Tx interface {
	// LockAccounts loads and locks the given accounts in ascending id order.
	// It must be called at most once per unit, before any SetBalance.
	LockAccounts(ctx context.Context, ids ...string) (map[string]Account, error)
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error
	AppendTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	// AfterCommit queues fn to run once the unit has committed. Queued
	// functions are dropped on rollback.
	AfterCommit(fn func())
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultHistoryLimit {
		return DefaultHistoryLimit
	}
	return limit
}
