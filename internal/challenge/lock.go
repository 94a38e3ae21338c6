package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Locker serialises issue and verify calls for one account. The returned
// function releases the lock and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, accountID string) (func(), error)
}

type keyedLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	held chan struct{}
	refs int
}

// NewMemoryLocker returns a Locker scoped to this process.
func NewMemoryLocker() Locker {
	return &keyedLocker{slots: make(map[string]*lockSlot)}
}

func (l *keyedLocker) Lock(ctx context.Context, accountID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[accountID]
	if !ok {
		slot = &lockSlot{held: make(chan struct{}, 1)}
		l.slots[accountID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.held <- struct{}{}:
	case <-ctx.Done():
		l.drop(accountID, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.held
			l.drop(accountID, slot)
		})
	}, nil
}

func (l *keyedLocker) drop(accountID string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, accountID)
	}
}

const advisoryUnlockTimeout = 5 * time.Second

// PostgresLocker takes a session advisory lock per account so every API
// instance sharing the database observes the same critical section.
type PostgresLocker struct {
	db *pgxpool.Pool
}

// NewPostgresLocker builds a Locker on the shared pool.
func NewPostgresLocker(db *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// Lock holds one pooled connection until the returned function runs.
func (l *PostgresLocker) Lock(ctx context.Context, accountID string) (func(), error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	key := "otpay:verify:" + accountID

	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), advisoryUnlockTimeout)
			defer cancel()
			if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				// A session still holding the lock must not return to the pool.
				_ = conn.Conn().Close(unlockCtx)
			}
			conn.Release()
		})
	}, nil
}
