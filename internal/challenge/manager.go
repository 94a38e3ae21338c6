package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/otpay/internal/ledger"
	"github.com/congo-pay/otpay/internal/throttle"
	"github.com/congo-pay/otpay/internal/transfer"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

// Executor applies the transfer a verified challenge authorises.
type Executor interface {
	Execute(ctx context.Context, req transfer.Request) (transfer.Result, error)
}

// Options tunes code issuance.
type Options struct {
	CodeLength int
	TTL        time.Duration
	Clock      func() time.Time
	// Locker serialises work per account. It defaults to NewMemoryLocker.
	Locker Locker
}

// Manager drives the challenge state machine:
// Created -> Verified | Expired | Superseded.
type Manager struct {
	repo     Repository
	accounts ledger.Store
	throttle *throttle.Throttle
	executor Executor
	locker   Locker
	logger   *slog.Logger

	codeLength int
	ttl        time.Duration
	now        func() time.Time
}

// NewManager wires the manager to its collaborators.
func NewManager(repo Repository, accounts ledger.Store, th *throttle.Throttle, executor Executor, logger *slog.Logger, opts Options) *Manager {
	if opts.CodeLength <= 0 {
		opts.CodeLength = DefaultCodeLength
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Locker == nil {
		opts.Locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:       repo,
		accounts:   accounts,
		throttle:   th,
		executor:   executor,
		locker:     opts.Locker,
		logger:     logger,
		codeLength: opts.CodeLength,
		ttl:        opts.TTL,
		now:        opts.Clock,
	}
}

// TTL returns the validity of newly issued codes.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issued is returned once per challenge; Code is never retrievable again.
type Issued struct {
	ChallengeID string
	Code        string
	Amount      decimal.Decimal
	ExpiresAt   time.Time
}

// Issue creates a challenge for payer -> payee. Open challenges the payer
// already holds are superseded.
func (m *Manager) Issue(ctx context.Context, payerID, payeeID string, amount decimal.Decimal) (Issued, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return Issued{}, err
	}
	if payerID == payeeID {
		return Issued{}, ledger.ErrSelfTransfer
	}

	unlock, err := m.locker.Lock(ctx, payerID)
	if err != nil {
		return Issued{}, fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	if err := m.throttle.Check(ctx, payerID); err != nil {
		return Issued{}, err
	}

	payer, err := m.accounts.GetAccountByID(ctx, payerID)
	if err != nil {
		return Issued{}, err
	}
	if _, err := m.accounts.GetAccountByID(ctx, payeeID); err != nil {
		return Issued{}, err
	}
	if payer.Balance.LessThan(amount) {
		return Issued{}, ledger.ErrInsufficientBalance
	}

	code, err := GenerateCode(m.codeLength)
	if err != nil {
		return Issued{}, fmt.Errorf("generate code: %w", err)
	}
	now := m.now()
	c := Challenge{
		ID:         uuid.NewString(),
		AccountID:  payerID,
		ReceiverID: payeeID,
		Amount:     amount,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	c.CodeHash = HashCode(c.ID, code)

	superseded, err := m.repo.ExpireOpen(ctx, payerID, now)
	if err != nil {
		return Issued{}, fmt.Errorf("supersede challenges: %w", err)
	}
	if err := m.repo.Create(ctx, c); err != nil {
		return Issued{}, fmt.Errorf("store challenge: %w", err)
	}

	m.logger.Info("challenge issued",
		slog.String("challenge_id", c.ID),
		slog.String("account_id", payerID),
		slog.Int64("superseded", superseded),
	)
	return Issued{ChallengeID: c.ID, Code: code, Amount: amount, ExpiresAt: c.ExpiresAt}, nil
}

// VerifyInput is one code submission.
type VerifyInput struct {
	ChallengeID string
	Code        string
	CallerID    string
	Origin      string
}

// Verified describes the transfer a successful verification executed.
type Verified struct {
	ChallengeID   string
	TransactionID string
	PayerID       string
	PayeeID       string
	Amount        decimal.Decimal
	PayerBalance  decimal.Decimal
	PayeeBalance  decimal.Decimal
	CompletedAt   time.Time
}

// Verify checks a submitted code and, on a match, executes the transfer.
//
// Failures are reported in this order: locked, not found, forbidden, already
// used, expired, code mismatch. Expired and mismatched submissions count
// towards the lockout. A mismatch that reaches the limit is reported as a
// *throttle.LockedError with Triggered set. Submissions by one caller are
// evaluated one at a time, so concurrent guesses cannot outrun the lockout.
func (m *Manager) Verify(ctx context.Context, in VerifyInput) (Verified, error) {
	unlock, err := m.locker.Lock(ctx, in.CallerID)
	if err != nil {
		return Verified{}, fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	if err := m.throttle.Check(ctx, in.CallerID); err != nil {
		return Verified{}, err
	}

	c, err := m.repo.Get(ctx, in.ChallengeID)
	if err != nil {
		return Verified{}, err
	}
	if c.AccountID != in.CallerID {
		return Verified{}, ErrForbidden
	}
	if c.Verified {
		return Verified{}, ErrAlreadyUsed
	}

	attempt := throttle.Attempt{
		AccountID:   in.CallerID,
		ChallengeID: c.ID,
		Code:        in.Code,
		Origin:      in.Origin,
	}
	now := m.now()
	if c.Expired(now) {
		if _, err := m.throttle.RecordFailure(ctx, attempt); err != nil {
			return Verified{}, err
		}
		return Verified{}, ErrExpired
	}

	if !CodeMatches(c.ID, in.Code, c.CodeHash) {
		status, err := m.throttle.RecordFailure(ctx, attempt)
		if err != nil {
			return Verified{}, err
		}
		if status.Locked {
			m.logger.Warn("account locked after failed codes",
				slog.String("account_id", in.CallerID),
				slog.String("origin", in.Origin),
				slog.Int("failures", status.Failures),
			)
			return Verified{}, &throttle.LockedError{Remaining: status.Remaining, Triggered: true}
		}
		return Verified{}, &MismatchError{AttemptsLeft: status.AttemptsLeft}
	}

	if err := m.throttle.RecordSuccess(ctx, attempt); err != nil {
		return Verified{}, err
	}

	res, err := m.executor.Execute(ctx, transfer.Request{
		PayerID:     c.AccountID,
		PayeeID:     c.ReceiverID,
		Amount:      c.Amount,
		ChallengeID: c.ID,
		Confirm: func(ctx context.Context, tx ledger.Tx, txn ledger.Transaction) error {
			err := m.repo.MarkVerified(ctx, tx, c.ID, txn.ID, m.now())
			if errors.Is(err, ErrAlreadyUsed) {
				return ledger.ErrDuplicateTransaction
			}
			return err
		},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return Verified{}, ErrAlreadyUsed
		}
		return Verified{}, err
	}

	return Verified{
		ChallengeID:   c.ID,
		TransactionID: res.TransactionID,
		PayerID:       c.AccountID,
		PayeeID:       c.ReceiverID,
		Amount:        c.Amount,
		PayerBalance:  res.PayerBalance,
		PayeeBalance:  res.PayeeBalance,
		CompletedAt:   res.CreatedAt,
	}, nil
}

// Active returns the newest open challenge for the account, or ErrNotFound.
func (m *Manager) Active(ctx context.Context, accountID string) (Challenge, error) {
	return m.repo.Active(ctx, accountID, m.now())
}
