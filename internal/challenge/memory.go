package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/congo-pay/otpay/internal/ledger"
)

type memoryRepository struct {
	mu         sync.RWMutex
	challenges map[string]Challenge
}

// NewMemoryRepository returns an in-memory challenge repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{challenges: make(map[string]Challenge)}
}

func (r *memoryRepository) Create(_ context.Context, c Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[c.ID] = c
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.challenges[id]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	return c, nil
}

// MarkVerified checks the flag inside the unit and flips it once the unit
// commits.
func (r *memoryRepository) MarkVerified(_ context.Context, tx ledger.Tx, id, transactionID string, at time.Time) error {
	r.mu.RLock()
	c, ok := r.challenges[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if c.Verified {
		return ErrAlreadyUsed
	}
	tx.AfterCommit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		c, ok := r.challenges[id]
		if !ok {
			return
		}
		c.Verified = true
		c.VerifiedAt = at
		c.TransactionID = transactionID
		r.challenges[id] = c
	})
	return nil
}

func (r *memoryRepository) ExpireOpen(_ context.Context, accountID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.challenges {
		if c.AccountID == accountID && c.Open(at) {
			c.ExpiresAt = at
			r.challenges[id] = c
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) Active(_ context.Context, accountID string, now time.Time) (Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		newest Challenge
		found  bool
	)
	for _, c := range r.challenges {
		if c.AccountID != accountID || !c.Open(now) {
			continue
		}
		if !found || c.CreatedAt.After(newest.CreatedAt) {
			newest, found = c, true
		}
	}
	if !found {
		return Challenge{}, ErrNotFound
	}
	return newest, nil
}

func (r *memoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.challenges {
		if !c.Verified && c.ExpiresAt.Before(now) {
			delete(r.challenges, id)
			n++
		}
	}
	return n, nil
}
