// Package notification pushes advisory, real-time account events to live
// subscribers. Events are never queued for later delivery.
package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindChallengeIssued tells the payer a code is waiting.
	KindChallengeIssued = "challenge_issued"
	// KindLockout tells the payer verification is temporarily barred.
	KindLockout = "lockout"
	// KindTransferSucceeded goes to the payer after a committed transfer.
	KindTransferSucceeded = "transfer_succeeded"
	// KindTransferReceived goes to the payee after a committed transfer.
	KindTransferReceived = "transfer_received"

	// KindConnected and KindPing only exist on the event stream itself.
	KindConnected = "connected"
	KindPing      = "ping"
)

// Event is one notification for an account.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, data map[string]any) Event {
	return Event{Type: kind, Data: data, At: time.Now().UTC()}
}

// Notifier delivers events addressed to an account.
type Notifier interface {
	Publish(ctx context.Context, accountID string, event Event) error
}

// LoggingNotifier records every event before handing it to the next notifier.
type LoggingNotifier struct {
	next   Notifier
	logger *slog.Logger
}

// NewLoggingNotifier decorates next. A nil next only logs.
func NewLoggingNotifier(next Notifier, logger *slog.Logger) *LoggingNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingNotifier{next: next, logger: logger}
}

// Publish logs the event and forwards it.
func (n *LoggingNotifier) Publish(ctx context.Context, accountID string, event Event) error {
	n.logger.Info("notification", "kind", event.Type, "account_id", accountID)
	if n.next == nil {
		return nil
	}
	if err := n.next.Publish(ctx, accountID, event); err != nil {
		n.logger.Warn("notification delivery failed", "kind", event.Type, "account_id", accountID, "err", err)
		return err
	}
	return nil
}
