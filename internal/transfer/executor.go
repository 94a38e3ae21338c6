// Package transfer applies a confirmed transfer to the ledger as one atomic unit.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/otpay/internal/ledger"
)

// ErrExecutionFailed hides internal failures of the atomic unit. Balances are
// untouched when it is returned and the caller may retry.
var ErrExecutionFailed = errors.New("transfer could not be completed")

// Request describes one transfer to apply.
type Request struct {
	PayerID     string
	PayeeID     string
	Amount      decimal.Decimal
	ChallengeID string
	// Confirm runs inside the unit once the transaction row is written. An
	// error from it rolls the whole transfer back.
	Confirm func(ctx context.Context, tx ledger.Tx, txn ledger.Transaction) error
}

// Result carries the committed transaction and both new balances.
type Result struct {
	TransactionID string
	PayerBalance  decimal.Decimal
	PayeeBalance  decimal.Decimal
	CreatedAt     time.Time
}

// Executor debits the payer, credits the payee and records the transaction.
type Executor struct {
	store  ledger.Store
	logger *slog.Logger
}

// NewExecutor wires the executor to a ledger store.
func NewExecutor(store ledger.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, logger: logger}
}

// Execute re-validates every precondition under the account locks and
// commits debit, credit and transaction together.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		return Result{}, err
	}
	if req.PayerID == req.PayeeID {
		return Result{}, ledger.ErrSelfTransfer
	}

	var result Result
	err := e.store.Atomically(ctx, func(ctx context.Context, tx ledger.Tx) error {
		accounts, err := tx.LockAccounts(ctx, req.PayerID, req.PayeeID)
		if err != nil {
			return err
		}
		payer, payee := accounts[req.PayerID], accounts[req.PayeeID]
		if payer.Balance.LessThan(req.Amount) {
			return ledger.ErrInsufficientBalance
		}

		payerBalance := payer.Balance.Sub(req.Amount)
		payeeBalance := payee.Balance.Add(req.Amount)
		if err := tx.SetBalance(ctx, payer.ID, payerBalance); err != nil {
			return fmt.Errorf("debit payer: %w", err)
		}
		if err := tx.SetBalance(ctx, payee.ID, payeeBalance); err != nil {
			return fmt.Errorf("credit payee: %w", err)
		}
		txn, err := tx.AppendTransaction(ctx, ledger.TransactionInput{
			SenderID:    payer.ID,
			ReceiverID:  payee.ID,
			Amount:      req.Amount,
			Status:      ledger.StatusCompleted,
			ChallengeID: req.ChallengeID,
		})
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		if req.Confirm != nil {
			if err := req.Confirm(ctx, tx, txn); err != nil {
				return fmt.Errorf("confirm transfer: %w", err)
			}
		}

		result = Result{
			TransactionID: txn.ID,
			PayerBalance:  payerBalance,
			PayeeBalance:  payeeBalance,
			CreatedAt:     txn.CreatedAt,
		}
		return nil
	})
	if err == nil {
		return result, nil
	}
	if isDomainError(err) {
		return Result{}, err
	}

	e.logger.Error("transfer execution failed",
		slog.String("payer_id", req.PayerID),
		slog.String("payee_id", req.PayeeID),
		slog.String("challenge_id", req.ChallengeID),
		slog.Any("err", err),
	)
	return Result{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ledger.ErrAccountNotFound,
		ledger.ErrInsufficientBalance,
		ledger.ErrSelfTransfer,
		ledger.ErrInvalidInput,
		ledger.ErrDuplicateTransaction,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
