package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/otpay/internal/ledger"
	"github.com/congo-pay/otpay/internal/logging"
)

func newExecutor(t *testing.T, store ledger.Store) *Executor {
	t.Helper()
	return NewExecutor(store, logging.Discard())
}

func balanceOf(t *testing.T, store ledger.Store, id string) decimal.Decimal {
	t.Helper()
	account, err := store.GetAccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance
}

func TestExecute_MovesFundsAndRecordsTransaction(t *testing.T) {
	store := ledger.NewInMemory()
	payer := ledger.MustCreateAccount(store, "Andres Lacra", "andres.lacra@example.com", 10_000)
	payee := ledger.MustCreateAccount(store, "Maria Cruz", "maria.cruz@example.com", 3_000)
	exec := newExecutor(t, store)

	res, err := exec.Execute(context.Background(), Request{
		PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.NewFromInt(500), ChallengeID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.PayerBalance.Equal(decimal.NewFromInt(9_500)) || !res.PayeeBalance.Equal(decimal.NewFromInt(3_500)) {
		t.Fatalf("unexpected result balances %s/%s", res.PayerBalance, res.PayeeBalance)
	}
	before := decimal.NewFromInt(13_000)
	after := balanceOf(t, store, payer.ID).Add(balanceOf(t, store, payee.ID))
	if !before.Equal(after) {
		t.Fatalf("balances not conserved: %s != %s", before, after)
	}

	history, err := store.ListTransactionsForAccount(context.Background(), payer.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != res.TransactionID || history[0].Status != ledger.StatusCompleted {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestExecute_RejectsInvalidRequests(t *testing.T) {
	store := ledger.NewInMemory()
	payer := ledger.MustCreateAccount(store, "Andres", "andres@example.com", 100)
	payee := ledger.MustCreateAccount(store, "Maria", "maria@example.com", 0)
	exec := newExecutor(t, store)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"zero amount", Request{PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.Zero}, ledger.ErrInvalidInput},
		{"self transfer", Request{PayerID: payer.ID, PayeeID: payer.ID, Amount: decimal.NewFromInt(1)}, ledger.ErrSelfTransfer},
		{"unknown payee", Request{PayerID: payer.ID, PayeeID: uuid.NewString(), Amount: decimal.NewFromInt(1)}, ledger.ErrAccountNotFound},
		{"overdraft", Request{PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.NewFromInt(101)}, ledger.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := exec.Execute(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if !balanceOf(t, store, payer.ID).Equal(decimal.NewFromInt(100)) {
		t.Fatal("rejected transfers must not touch balances")
	}
}

func TestExecute_ConcurrentOverdraftCommitsOnce(t *testing.T) {
	store := ledger.NewInMemory()
	payer := ledger.MustCreateAccount(store, "Andres", "andres@example.com", 1_000)
	payee := ledger.MustCreateAccount(store, "Maria", "maria@example.com", 0)
	exec := newExecutor(t, store)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		overdraft int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Execute(context.Background(), Request{
				PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.NewFromInt(700), ChallengeID: uuid.NewString(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ledger.ErrInsufficientBalance):
				overdraft++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || overdraft != 1 {
		t.Fatalf("expected one success and one overdraft, got %d/%d", successes, overdraft)
	}
	if !balanceOf(t, store, payer.ID).Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected payer balance 300, got %s", balanceOf(t, store, payer.ID))
	}
	if !balanceOf(t, store, payee.ID).Equal(decimal.NewFromInt(700)) {
		t.Fatalf("expected payee balance 700, got %s", balanceOf(t, store, payee.ID))
	}
}

func TestExecute_DuplicateChallengePassesThrough(t *testing.T) {
	store := ledger.NewInMemory()
	payer := ledger.MustCreateAccount(store, "Andres", "andres@example.com", 1_000)
	payee := ledger.MustCreateAccount(store, "Maria", "maria@example.com", 0)
	exec := newExecutor(t, store)
	req := Request{PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.NewFromInt(10), ChallengeID: uuid.NewString()}

	if _, err := exec.Execute(context.Background(), req); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if _, err := exec.Execute(context.Background(), req); !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

type failingStore struct {
	ledger.Store
}

func (s failingStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.Store.Atomically(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, failingTx{Tx: tx})
	})
}

type failingTx struct {
	ledger.Tx
}

func (failingTx) AppendTransaction(context.Context, ledger.TransactionInput) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("connection reset")
}

func TestExecute_FailureRollsBackBalances(t *testing.T) {
	store := ledger.NewInMemory()
	payer := ledger.MustCreateAccount(store, "Andres", "andres@example.com", 1_000)
	payee := ledger.MustCreateAccount(store, "Maria", "maria@example.com", 50)
	exec := newExecutor(t, failingStore{Store: store})

	_, err := exec.Execute(context.Background(), Request{PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.NewFromInt(200)})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if !balanceOf(t, store, payer.ID).Equal(decimal.NewFromInt(1_000)) || !balanceOf(t, store, payee.ID).Equal(decimal.NewFromInt(50)) {
		t.Fatal("balances changed after failed execution")
	}
}

func TestExecute_ConfirmRunsInsideUnit(t *testing.T) {
	store := ledger.NewInMemory()
	payer := ledger.MustCreateAccount(store, "Andres", "andres@example.com", 1_000)
	payee := ledger.MustCreateAccount(store, "Maria", "maria@example.com", 0)
	exec := newExecutor(t, store)
	ctx := context.Background()

	_, err := exec.Execute(ctx, Request{
		PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.NewFromInt(100), ChallengeID: uuid.NewString(),
		Confirm: func(context.Context, ledger.Tx, ledger.Transaction) error {
			return ledger.ErrDuplicateTransaction
		},
	})
	if !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected confirm error to pass through, got %v", err)
	}
	if !balanceOf(t, store, payer.ID).Equal(decimal.NewFromInt(1_000)) {
		t.Fatal("rejected confirmation still debited the payer")
	}
	if history, _ := store.ListTransactionsForAccount(ctx, payer.ID, 10); len(history) != 0 {
		t.Fatalf("rejected confirmation left %d transactions", len(history))
	}

	var committed bool
	res, err := exec.Execute(ctx, Request{
		PayerID: payer.ID, PayeeID: payee.ID, Amount: decimal.NewFromInt(100), ChallengeID: uuid.NewString(),
		Confirm: func(_ context.Context, tx ledger.Tx, txn ledger.Transaction) error {
			if txn.ID == "" {
				t.Error("confirm saw no transaction id")
			}
			tx.AfterCommit(func() { committed = true })
			return nil
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !committed || !res.PayerBalance.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected committed transfer, got committed=%v result=%+v", committed, res)
	}
}
