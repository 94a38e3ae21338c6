package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newThrottle() (*Throttle, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
	return New(NewMemoryLog(), DefaultPolicy(), clock.Now), clock
}

func failure(accountID string) Attempt {
	return Attempt{AccountID: accountID, ChallengeID: uuid.NewString(), Code: "000000", Origin: "127.0.0.1"}
}

func TestThrottle_LocksOnThirdFailure(t *testing.T) {
	th, clock := newThrottle()
	ctx := context.Background()
	account := uuid.NewString()

	for i := 1; i <= 2; i++ {
		status, err := th.RecordFailure(ctx, failure(account))
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if status.Locked {
			t.Fatalf("locked after %d failures", i)
		}
		if status.AttemptsLeft != 3-i {
			t.Fatalf("expected %d attempts left, got %d", 3-i, status.AttemptsLeft)
		}
		clock.Advance(30 * time.Second)
	}

	status, err := th.RecordFailure(ctx, failure(account))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected lock on third failure")
	}
	if status.RemainingMinutes() != 10 {
		t.Fatalf("expected 10 minute lockout, got %d", status.RemainingMinutes())
	}

	err = th.Check(ctx, account)
	var locked *LockedError
	if !errors.As(err, &locked) || !errors.Is(err, ErrLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}
}

func TestThrottle_LockoutOutlivesWindow(t *testing.T) {
	th, clock := newThrottle()
	ctx := context.Background()
	account := uuid.NewString()

	for i := 0; i < 3; i++ {
		if _, err := th.RecordFailure(ctx, failure(account)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	clock.Advance(7 * time.Minute)
	status, err := th.Status(ctx, account)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Locked {
		t.Fatal("expected lock to hold past the attempt window")
	}
	if status.RemainingMinutes() != 3 {
		t.Fatalf("expected 3 minutes remaining, got %d", status.RemainingMinutes())
	}

	clock.Advance(3 * time.Minute)
	status, err = th.Status(ctx, account)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Locked {
		t.Fatal("expected lock to elapse after 10 minutes")
	}
	if status.AttemptsLeft != 3 {
		t.Fatalf("expected fresh attempts, got %d", status.AttemptsLeft)
	}
}

func TestThrottle_FailuresOutsideWindowDoNotCount(t *testing.T) {
	th, clock := newThrottle()
	ctx := context.Background()
	account := uuid.NewString()

	th.RecordFailure(ctx, failure(account))
	th.RecordFailure(ctx, failure(account))
	clock.Advance(6 * time.Minute)

	status, err := th.RecordFailure(ctx, failure(account))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if status.Locked {
		t.Fatal("old failures should have aged out of the window")
	}
	if status.AttemptsLeft != 2 {
		t.Fatalf("expected 2 attempts left, got %d", status.AttemptsLeft)
	}
}

func TestThrottle_SuccessKeepsFailureHistory(t *testing.T) {
	th, _ := newThrottle()
	ctx := context.Background()
	account := uuid.NewString()

	th.RecordFailure(ctx, failure(account))
	th.RecordFailure(ctx, failure(account))
	if err := th.RecordSuccess(ctx, failure(account)); err != nil {
		t.Fatalf("record success: %v", err)
	}

	status, err := th.Status(ctx, account)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.AttemptsLeft != 1 {
		t.Fatalf("expected one attempt left after success, got %d", status.AttemptsLeft)
	}
}

func TestThrottle_AccountsAreIndependent(t *testing.T) {
	th, _ := newThrottle()
	ctx := context.Background()
	locked, other := uuid.NewString(), uuid.NewString()

	for i := 0; i < 3; i++ {
		th.RecordFailure(ctx, failure(locked))
	}
	if err := th.Check(ctx, other); err != nil {
		t.Fatalf("unrelated account should not be locked: %v", err)
	}
}

func TestPostgresLog_MalformedAccountIDFailsClosed(t *testing.T) {
	ctx := context.Background()
	log := NewPostgresLog(nil)

	if _, err := log.FailuresSince(ctx, "not-a-uuid", time.Now()); err == nil {
		t.Fatal("expected an error for a malformed account id")
	}

	th := New(log, DefaultPolicy(), nil)
	err := th.Check(ctx, "not-a-uuid")
	if err == nil {
		t.Fatal("expected Check to fail instead of reporting an unlocked account")
	}
	if errors.Is(err, ErrLocked) {
		t.Fatalf("expected a lookup error, got %v", err)
	}
}
