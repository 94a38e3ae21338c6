package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

const accountColumns = `id, name, address, phone, balance, password_hash, created_at`

// PostgresStore persists accounts and transactions in PostgreSQL.
type PostgresStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed ledger store. timeout bounds
// each atomic unit; zero disables the bound.
func NewPostgresStore(db *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

// CreateAccount inserts a provisioned account.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return fmt.Errorf("%w: account id", ErrInvalidInput)
	}
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.Exec(ctx, `INSERT INTO accounts (id, name, address, phone, balance, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, account.Name, strings.ToLower(account.Address), account.Phone, account.Balance, account.PasswordHash, createdAt.UTC())
	return translate(err)
}

// GetAccountByID fetches an account by identifier.
func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// GetAccountByAddress fetches an account by its contact address.
func (s *PostgresStore) GetAccountByAddress(ctx context.Context, address string) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = $1`,
		strings.ToLower(strings.TrimSpace(address)))
	return scanAccount(row)
}

// ListAccounts returns every account ordered by name.
func (s *PostgresStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

// ListTransactionsForAccount returns the most recent transactions the account
// took part in, newest first.
func (s *PostgresStore) ListTransactionsForAccount(ctx context.Context, id string, limit int) ([]TransactionView, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	const query = `
        SELECT t.id, t.sender_id, t.receiver_id, t.amount, t.status, t.challenge_id, t.created_at,
               sender.name, sender.address, receiver.name, receiver.address
        FROM transactions t
        JOIN accounts sender ON sender.id = t.sender_id
        JOIN accounts receiver ON receiver.id = t.receiver_id
        WHERE t.sender_id = $1 OR t.receiver_id = $1
        ORDER BY t.created_at DESC, t.id
        LIMIT $2`
	rows, err := s.db.Query(ctx, query, accountID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionView
	for rows.Next() {
		var (
			view               TransactionView
			txID, sender, recv uuid.UUID
			challengeID        pgtype.UUID
		)
		if err := rows.Scan(&txID, &sender, &recv, &view.Amount, &view.Status, &challengeID, &view.CreatedAt,
			&view.SenderName, &view.SenderAddress, &view.ReceiverName, &view.ReceiverAddress); err != nil {
			return nil, err
		}
		view.ID = txID.String()
		view.SenderID = sender.String()
		view.ReceiverID = recv.String()
		if challengeID.Valid {
			view.ChallengeID = uuid.UUID(challengeID.Bytes).String()
		}
		view.CreatedAt = view.CreatedAt.UTC()
		out = append(out, view)
	}
	return out, rows.Err()
}

// Atomically runs fn inside a database transaction. The transaction is
// rolled back unless fn succeeds and the commit goes through.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	unit := &postgresTx{tx: tx}
	if err := fn(ctx, unit); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, fn := range unit.afterCommit {
		fn()
	}
	return nil
}

// SQLTx is implemented by units backed by a database transaction so writes
// to other tables can join the unit.
type SQLTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type postgresTx struct {
	tx          pgx.Tx
	locked      bool
	afterCommit []func()
}

func (t *postgresTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

func (t *postgresTx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *postgresTx) LockAccounts(ctx context.Context, ids ...string) (map[string]Account, error) {
	if t.locked {
		return nil, errors.New("accounts already locked in this unit")
	}
	t.locked = true

	ordered := uniqueSorted(ids)
	parsed := make([]uuid.UUID, 0, len(ordered))
	for _, id := range ordered {
		accountID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		parsed = append(parsed, accountID)
	}

	rows, err := t.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts
        WHERE id = ANY($1) ORDER BY id FOR UPDATE`, parsed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Account, len(parsed))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[account.ID] = account
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ordered {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
	}
	return out, nil
}

func (t *postgresTx) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrNegativeBalance
	}
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrAccountNotFound
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, balance, accountID)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	if err := ValidateAmount(input.Amount); err != nil {
		return Transaction{}, err
	}
	sender, err := uuid.Parse(input.SenderID)
	if err != nil {
		return Transaction{}, ErrAccountNotFound
	}
	receiver, err := uuid.Parse(input.ReceiverID)
	if err != nil {
		return Transaction{}, ErrAccountNotFound
	}
	var challengeID pgtype.UUID
	if input.ChallengeID != "" {
		parsed, err := uuid.Parse(input.ChallengeID)
		if err != nil {
			return Transaction{}, fmt.Errorf("%w: challenge id", ErrInvalidInput)
		}
		challengeID = pgtype.UUID{Bytes: parsed, Valid: true}
	}
	status := input.Status
	if status == "" {
		status = StatusCompleted
	}

	txID := uuid.New()
	var createdAt time.Time
	err = t.tx.QueryRow(ctx, `INSERT INTO transactions (id, sender_id, receiver_id, amount, status, challenge_id)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		txID, sender, receiver, input.Amount, status, challengeID).Scan(&createdAt)
	if err != nil {
		return Transaction{}, translate(err)
	}

	return Transaction{
		ID:          txID.String(),
		SenderID:    input.SenderID,
		ReceiverID:  input.ReceiverID,
		Amount:      input.Amount,
		Status:      status,
		ChallengeID: input.ChallengeID,
		CreatedAt:   createdAt.UTC(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		account   Account
		id        uuid.UUID
		phone     pgtype.Text
		createdAt time.Time
	)
	if err := row.Scan(&id, &account.Name, &account.Address, &phone, &account.Balance, &account.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	account.ID = id.String()
	account.Phone = phone.String
	account.CreatedAt = createdAt.UTC()
	return account, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "transactions_challenge_id_key":
			return ErrDuplicateTransaction
		case pgErr.Code == pgUniqueViolation:
			return ErrAccountExists
		case pgErr.Code == pgCheckViolation:
			return ErrNegativeBalance
		}
	}
	return err
}
