// Package throttle derives OTP lockouts from the log of verification attempts.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrLocked reports that the account is temporarily barred from verifying codes.
var ErrLocked = errors.New("too many failed attempts")

// LockedError carries the remaining lockout duration.
type LockedError struct {
	Remaining time.Duration
	// Triggered is set when the failure being reported caused the lockout.
	Triggered bool
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, try again in %d minute(s)", e.Minutes())
}

// Is lets errors.Is(err, ErrLocked) match.
func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// Minutes rounds the remaining lockout up to whole minutes.
func (e *LockedError) Minutes() int { return ceilMinutes(e.Remaining) }

// Attempt is one append-only verification attempt.
type Attempt struct {
	ID          string
	AccountID   string
	ChallengeID string
	Code        string
	Success     bool
	Origin      string
	AttemptedAt time.Time
}

// Log persists attempts and answers failure-window queries.
type Log interface {
	Record(ctx context.Context, attempt Attempt) error
	// FailuresSince returns failed attempt times at or after since, newest first.
	FailuresSince(ctx context.Context, accountID string, since time.Time) ([]time.Time, error)
}

// Policy configures the sliding window and lockout.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// DefaultPolicy allows 3 failures per 5 minutes and locks for 10 minutes.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Window: 5 * time.Minute, Lockout: 10 * time.Minute}
}

// Status is the lock state derived from the attempt log at a point in time.
type Status struct {
	Locked       bool
	Remaining    time.Duration
	Failures     int
	AttemptsLeft int
}

// RemainingMinutes rounds the remaining lockout up to whole minutes.
func (s Status) RemainingMinutes() int { return ceilMinutes(s.Remaining) }

// Throttle counts recent failures per account. Lock state is never stored; it
// is recomputed from the log on every call.
type Throttle struct {
	log    Log
	policy Policy
	now    func() time.Time
}

// New builds a throttle. A nil clock uses the wall clock.
func New(log Log, policy Policy, clock func() time.Time) *Throttle {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	return &Throttle{log: log, policy: policy, now: clock}
}

// Policy returns the active policy.
func (t *Throttle) Policy() Policy { return t.policy }

// Status derives the current lock state for the account.
//
// A failure locks the account when it is at least the MaxAttempts-th failure
// inside a trailing Window ending at that failure. The lock lasts Lockout
// from the newest such failure, even after the window itself slides past it.
func (t *Throttle) Status(ctx context.Context, accountID string) (Status, error) {
	now := t.now()
	failures, err := t.log.FailuresSince(ctx, accountID, now.Add(-(t.policy.Window + t.policy.Lockout)))
	if err != nil {
		return Status{}, fmt.Errorf("load attempts: %w", err)
	}

	recent := countWithin(failures, now.Add(-t.policy.Window), now)
	status := Status{Failures: recent, AttemptsLeft: t.policy.MaxAttempts - recent}
	if status.AttemptsLeft < 0 {
		status.AttemptsLeft = 0
	}

	for _, at := range failures {
		until := at.Add(t.policy.Lockout)
		if !now.Before(until) {
			// older failures can only produce earlier unlock times
			break
		}
		if countWithin(failures, at.Add(-t.policy.Window), at) >= t.policy.MaxAttempts {
			status.Locked = true
			status.Remaining = until.Sub(now)
			status.AttemptsLeft = 0
			break
		}
	}
	return status, nil
}

// Check returns a *LockedError when the account is locked.
func (t *Throttle) Check(ctx context.Context, accountID string) error {
	status, err := t.Status(ctx, accountID)
	if err != nil {
		return err
	}
	if status.Locked {
		return &LockedError{Remaining: status.Remaining}
	}
	return nil
}

// RecordFailure appends a failed attempt and returns the resulting status.
func (t *Throttle) RecordFailure(ctx context.Context, attempt Attempt) (Status, error) {
	attempt.Success = false
	if err := t.record(ctx, attempt); err != nil {
		return Status{}, err
	}
	return t.Status(ctx, attempt.AccountID)
}

// RecordSuccess appends a successful attempt. Earlier failures are kept and
// age out of the window on their own.
func (t *Throttle) RecordSuccess(ctx context.Context, attempt Attempt) error {
	attempt.Success = true
	return t.record(ctx, attempt)
}

func (t *Throttle) record(ctx context.Context, attempt Attempt) error {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = t.now()
	}
	if err := t.log.Record(ctx, attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// countWithin counts times in [from, to].
func countWithin(times []time.Time, from, to time.Time) int {
	n := 0
	for _, at := range times {
		if !at.Before(from) && !at.After(to) {
			n++
		}
	}
	return n
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}
