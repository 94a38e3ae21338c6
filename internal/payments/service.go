package payments

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/otpay/internal/challenge"
	"github.com/congo-pay/otpay/internal/ledger"
	"github.com/congo-pay/otpay/internal/notification"
	"github.com/congo-pay/otpay/internal/telemetry"
	"github.com/congo-pay/otpay/internal/throttle"
	"github.com/congo-pay/otpay/internal/transfer"
)

// Directions of a history entry relative to the viewing account.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Deps are the collaborators of the payment service.
type Deps struct {
	Accounts   ledger.Store
	Challenges *challenge.Manager
	Throttle   *throttle.Throttle
	Hub        *notification.Hub
	// Notifier fans events out; it defaults to Hub for single-instance runs.
	Notifier notification.Notifier
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// Service is the boundary the HTTP shell calls into.
type Service struct {
	accounts   ledger.Store
	challenges *challenge.Manager
	throttle   *throttle.Throttle
	hub        *notification.Hub
	notifier   notification.Notifier
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// NewService constructs a payment service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Notifier == nil && d.Hub != nil {
		d.Notifier = d.Hub
	}
	return &Service{
		accounts:   d.Accounts,
		challenges: d.Challenges,
		throttle:   d.Throttle,
		hub:        d.Hub,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		logger:     d.Logger,
	}
}

// RequestInput starts a transfer.
type RequestInput struct {
	PayerID         string
	ReceiverAddress string
	Amount          decimal.Decimal
}

// Receiver summarises the payee for confirmation screens.
type Receiver struct {
	Name    string
	Address string
}

// RequestResult carries the issued code; it is shown once.
type RequestResult struct {
	ChallengeID      string
	Code             string
	Amount           decimal.Decimal
	ExpiresAt        time.Time
	ExpiresInMinutes int
	Receiver         Receiver
}

// RequestTransfer resolves the receiver by address and issues a challenge.
// A locked payer is refused before the address is looked up.
func (s *Service) RequestTransfer(ctx context.Context, in RequestInput) (RequestResult, error) {
	if s.throttle != nil {
		if err := s.throttle.Check(ctx, in.PayerID); err != nil {
			return RequestResult{}, err
		}
	}
	address, err := ledger.NormalizeAddress(in.ReceiverAddress)
	if err != nil {
		return RequestResult{}, err
	}
	receiver, err := s.accounts.GetAccountByAddress(ctx, address)
	if err != nil {
		return RequestResult{}, err
	}

	issued, err := s.challenges.Issue(ctx, in.PayerID, receiver.ID, in.Amount)
	if err != nil {
		return RequestResult{}, err
	}
	s.metrics.ChallengeIssued(ctx)

	s.publish(ctx, in.PayerID, notification.KindChallengeIssued, map[string]any{
		"challenge_id":  issued.ChallengeID,
		"amount":        issued.Amount.StringFixed(ledger.AmountScale),
		"receiver_name": receiver.Name,
		"expires_at":    issued.ExpiresAt,
	})

	return RequestResult{
		ChallengeID:      issued.ChallengeID,
		Code:             issued.Code,
		Amount:           issued.Amount,
		ExpiresAt:        issued.ExpiresAt,
		ExpiresInMinutes: wholeMinutes(s.challenges.TTL()),
		Receiver:         Receiver{Name: receiver.Name, Address: receiver.Address},
	}, nil
}

// SubmitInput is one code submission from a caller.
type SubmitInput struct {
	ChallengeID string
	Code        string
	CallerID    string
	Origin      string
}

// SubmitResult describes the completed transfer.
type SubmitResult struct {
	TransactionID string
	ReceiverName  string
	Amount        decimal.Decimal
	NewBalance    decimal.Decimal
	CompletedAt   time.Time
}

// SubmitCode verifies the code and, on success, informs both parties.
func (s *Service) SubmitCode(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	verified, err := s.challenges.Verify(ctx, challenge.VerifyInput{
		ChallengeID: in.ChallengeID,
		Code:        in.Code,
		CallerID:    in.CallerID,
		Origin:      in.Origin,
	})
	if err != nil {
		s.metrics.Verification(ctx, outcomeOf(err))
		var locked *throttle.LockedError
		if errors.As(err, &locked) && locked.Triggered {
			s.metrics.Lockout(ctx)
			s.publish(ctx, in.CallerID, notification.KindLockout, map[string]any{
				"lockout_minutes": locked.Minutes(),
			})
		}
		return SubmitResult{}, err
	}
	s.metrics.Verification(ctx, telemetry.OutcomeSuccess)
	s.metrics.TransferCompleted(ctx, verified.Amount.InexactFloat64())

	var receiverName string
	payee, err := s.accounts.GetAccountByID(ctx, verified.PayeeID)
	if err != nil {
		s.logger.Warn("load payee after transfer", slog.String("payee_id", verified.PayeeID), slog.Any("err", err))
	} else {
		receiverName = payee.Name
	}
	payer, err := s.accounts.GetAccountByID(ctx, verified.PayerID)
	if err != nil {
		s.logger.Warn("load payer after transfer", slog.String("payer_id", verified.PayerID), slog.Any("err", err))
	}

	amount := verified.Amount.StringFixed(ledger.AmountScale)
	s.publish(ctx, verified.PayerID, notification.KindTransferSucceeded, map[string]any{
		"transaction_id": verified.TransactionID,
		"amount":         amount,
		"receiver_name":  receiverName,
		"new_balance":    verified.PayerBalance.StringFixed(ledger.AmountScale),
	})
	s.publish(ctx, verified.PayeeID, notification.KindTransferReceived, map[string]any{
		"transaction_id": verified.TransactionID,
		"amount":         amount,
		"sender_name":    payer.Name,
		"new_balance":    verified.PayeeBalance.StringFixed(ledger.AmountScale),
	})

	return SubmitResult{
		TransactionID: verified.TransactionID,
		ReceiverName:  receiverName,
		Amount:        verified.Amount,
		NewBalance:    verified.PayerBalance,
		CompletedAt:   verified.CompletedAt,
	}, nil
}

// Subscribe opens the account's live event stream, replacing an older one.
func (s *Service) Subscribe(accountID string) *notification.Subscription {
	return s.hub.Subscribe(accountID)
}

// Unsubscribe closes a stream opened by Subscribe.
func (s *Service) Unsubscribe(sub *notification.Subscription) {
	s.hub.Unsubscribe(sub)
}

// HistoryEntry is a transaction seen from one account.
type HistoryEntry struct {
	TransactionID       string
	Amount              decimal.Decimal
	Timestamp           time.Time
	CounterpartyName    string
	CounterpartyAddress string
	Direction           string
}

// ListRecentTransactions returns up to limit entries, newest first. A limit
// outside 1..50 means 50.
func (s *Service) ListRecentTransactions(ctx context.Context, accountID string, limit int) ([]HistoryEntry, error) {
	views, err := s.accounts.ListTransactionsForAccount(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(views))
	for _, v := range views {
		entry := HistoryEntry{TransactionID: v.ID, Amount: v.Amount, Timestamp: v.CreatedAt}
		if v.SenderID == accountID {
			entry.Direction = DirectionSent
			entry.CounterpartyName = v.ReceiverName
			entry.CounterpartyAddress = v.ReceiverAddress
		} else {
			entry.Direction = DirectionReceived
			entry.CounterpartyName = v.SenderName
			entry.CounterpartyAddress = v.SenderAddress
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// OTPStatus reports the caller's lockout and challenge state.
type OTPStatus struct {
	Locked                 bool
	LockoutMinutes         int
	AttemptsLeft           int
	MaxAttempts            int
	WindowMinutes          int
	LockoutDurationMinutes int
	HasActiveChallenge     bool
	ActiveExpiresAt        time.Time
}

// OTPStatus derives the lock state and whether a code is pending.
func (s *Service) OTPStatus(ctx context.Context, accountID string) (OTPStatus, error) {
	status, err := s.throttle.Status(ctx, accountID)
	if err != nil {
		return OTPStatus{}, err
	}
	policy := s.throttle.Policy()
	out := OTPStatus{
		Locked:                 status.Locked,
		LockoutMinutes:         status.RemainingMinutes(),
		AttemptsLeft:           status.AttemptsLeft,
		MaxAttempts:            policy.MaxAttempts,
		WindowMinutes:          wholeMinutes(policy.Window),
		LockoutDurationMinutes: wholeMinutes(policy.Lockout),
	}

	active, err := s.challenges.Active(ctx, accountID)
	switch {
	case err == nil:
		out.HasActiveChallenge = true
		out.ActiveExpiresAt = active.ExpiresAt
	case errors.Is(err, challenge.ErrNotFound):
	default:
		return OTPStatus{}, err
	}
	return out, nil
}

// Profile returns the caller's account.
func (s *Service) Profile(ctx context.Context, accountID string) (ledger.Account, error) {
	return s.accounts.GetAccountByID(ctx, accountID)
}

// Recipients lists every account the caller can pay.
func (s *Service) Recipients(ctx context.Context, accountID string) ([]ledger.Account, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.ID != accountID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, accountID, kind string, data map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, accountID, notification.NewEvent(kind, data)); err != nil {
		s.logger.Warn("publish event", slog.String("kind", kind), slog.String("account_id", accountID), slog.Any("err", err))
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, throttle.ErrLocked):
		return telemetry.OutcomeLocked
	case errors.Is(err, challenge.ErrCodeMismatch):
		return telemetry.OutcomeMismatch
	case errors.Is(err, challenge.ErrExpired):
		return telemetry.OutcomeExpired
	case errors.Is(err, transfer.ErrExecutionFailed):
		return telemetry.OutcomeFailed
	default:
		return telemetry.OutcomeRejected
	}
}

func wholeMinutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}
