package challenge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLocker_SerialisesPerAccount(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "acct-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	other, err := locker.Lock(ctx, "acct-2")
	if err != nil {
		t.Fatalf("other account should not wait: %v", err)
	}
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(waitCtx, "acct-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the held lock to block until the deadline, got %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		again, err := locker.Lock(ctx, "acct-1")
		if err != nil {
			t.Errorf("relock: %v", err)
			close(acquired)
			return
		}
		again()
		close(acquired)
	}()

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("released lock was not handed over")
	}

	if n := len(locker.(*keyedLocker).slots); n != 0 {
		t.Fatalf("expected idle slots to be dropped, %d left", n)
	}
}
