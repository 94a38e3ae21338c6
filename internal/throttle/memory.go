package throttle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryLog struct {
	mu       sync.RWMutex
	attempts []Attempt
}

// NewMemoryLog constructs an in-memory attempt log for tests and local runs.
func NewMemoryLog() Log {
	return &memoryLog{}
}

func (l *memoryLog) Record(_ context.Context, attempt Attempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempt)
	return nil
}

func (l *memoryLog) FailuresSince(_ context.Context, accountID string, since time.Time) ([]time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []time.Time
	for _, a := range l.attempts {
		if a.AccountID == accountID && !a.Success && !a.AttemptedAt.Before(since) {
			out = append(out, a.AttemptedAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}
