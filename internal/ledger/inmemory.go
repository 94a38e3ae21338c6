package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	accounts     map[string]Account
	byAddress    map[string]string
	locks        map[string]*sync.Mutex
	transactions []Transaction
	byChallenge  map[string]string
	now          func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests and local development. Accounts are locked individually so transfers
// between unrelated accounts never wait on each other.
func NewInMemory() Store {
	return &inMemoryLedger{
		accounts:    make(map[string]Account),
		byAddress:   make(map[string]string),
		locks:       make(map[string]*sync.Mutex),
		byChallenge: make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) CreateAccount(_ context.Context, account Account) error {
	if account.ID == "" {
		return errors.New("account id is required")
	}
	if account.Balance.IsNegative() {
		return ErrNegativeBalance
	}
	key := strings.ToLower(account.Address)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	if _, exists := l.byAddress[key]; exists {
		return ErrAccountExists
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = l.now()
	}
	l.accounts[account.ID] = account
	l.byAddress[key] = account.ID
	l.locks[account.ID] = &sync.Mutex{}
	return nil
}

func (l *inMemoryLedger) GetAccountByID(_ context.Context, id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	account, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (l *inMemoryLedger) GetAccountByAddress(_ context.Context, address string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byAddress[strings.ToLower(strings.TrimSpace(address))]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return l.accounts[id], nil
}

func (l *inMemoryLedger) ListAccounts(_ context.Context) ([]Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Account, 0, len(l.accounts))
	for _, account := range l.accounts {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *inMemoryLedger) ListTransactionsForAccount(_ context.Context, id string, limit int) ([]TransactionView, error) {
	limit = normalizeLimit(limit)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.accounts[id]; !ok {
		return nil, ErrAccountNotFound
	}

	var out []TransactionView
	// transactions are appended in commit order, so walking backwards yields newest first
	for i := len(l.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		tx := l.transactions[i]
		if tx.SenderID != id && tx.ReceiverID != id {
			continue
		}
		sender := l.accounts[tx.SenderID]
		receiver := l.accounts[tx.ReceiverID]
		out = append(out, TransactionView{
			Transaction:     tx,
			SenderName:      sender.Name,
			SenderAddress:   sender.Address,
			ReceiverName:    receiver.Name,
			ReceiverAddress: receiver.Address,
		})
	}
	return out, nil
}

func (l *inMemoryLedger) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{ledger: l, balances: make(map[string]decimal.Decimal)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.commit(tx); err != nil {
		return err
	}
	for _, fn := range tx.afterCommit {
		fn()
	}
	return nil
}

func (l *inMemoryLedger) commit(tx *memoryTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, staged := range tx.transactions {
		if staged.ChallengeID == "" {
			continue
		}
		if _, exists := l.byChallenge[staged.ChallengeID]; exists {
			return ErrDuplicateTransaction
		}
	}

	for id, balance := range tx.balances {
		account := l.accounts[id]
		account.Balance = balance
		l.accounts[id] = account
	}
	for _, staged := range tx.transactions {
		l.transactions = append(l.transactions, staged)
		if staged.ChallengeID != "" {
			l.byChallenge[staged.ChallengeID] = staged.ID
		}
	}
	return nil
}

// memoryTx stages writes until commit; dropping it is the rollback.
type memoryTx struct {
	ledger       *inMemoryLedger
	held         []*sync.Mutex
	locked       map[string]Account
	balances     map[string]decimal.Decimal
	transactions []Transaction
	afterCommit  []func()
}

func (t *memoryTx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *memoryTx) LockAccounts(_ context.Context, ids ...string) (map[string]Account, error) {
	if t.locked != nil {
		return nil, errors.New("accounts already locked in this unit")
	}

	ordered := uniqueSorted(ids)
	mutexes := make([]*sync.Mutex, 0, len(ordered))

	t.ledger.mu.RLock()
	for _, id := range ordered {
		m, ok := t.ledger.locks[id]
		if !ok {
			t.ledger.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		mutexes = append(mutexes, m)
	}
	t.ledger.mu.RUnlock()

	for _, m := range mutexes {
		m.Lock()
		t.held = append(t.held, m)
	}

	t.locked = make(map[string]Account, len(ordered))
	t.ledger.mu.RLock()
	for _, id := range ordered {
		t.locked[id] = t.ledger.accounts[id]
	}
	t.ledger.mu.RUnlock()

	out := make(map[string]Account, len(t.locked))
	for id, account := range t.locked {
		out[id] = account
	}
	return out, nil
}

func (t *memoryTx) SetBalance(_ context.Context, id string, balance decimal.Decimal) error {
	if _, ok := t.locked[id]; !ok {
		return fmt.Errorf("account %s is not locked in this unit", id)
	}
	if balance.IsNegative() {
		return ErrNegativeBalance
	}
	t.balances[id] = balance
	return nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, input TransactionInput) (Transaction, error) {
	if err := ValidateAmount(input.Amount); err != nil {
		return Transaction{}, err
	}
	if input.ChallengeID != "" {
		t.ledger.mu.RLock()
		_, exists := t.ledger.byChallenge[input.ChallengeID]
		t.ledger.mu.RUnlock()
		if exists {
			return Transaction{}, ErrDuplicateTransaction
		}
	}
	status := input.Status
	if status == "" {
		status = StatusCompleted
	}
	tx := Transaction{
		ID:          uuid.NewString(),
		SenderID:    input.SenderID,
		ReceiverID:  input.ReceiverID,
		Amount:      input.Amount,
		Status:      status,
		ChallengeID: input.ChallengeID,
		CreatedAt:   t.ledger.now(),
	}
	t.transactions = append(t.transactions, tx)
	return tx, nil
}

func (t *memoryTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
