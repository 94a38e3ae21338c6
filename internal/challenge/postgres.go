package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/otpay/internal/ledger"
)

const challengeColumns = `id, account_id, code_hash, receiver_id, amount, created_at, expires_at, verified, verified_at, transaction_id`

// PostgresRepository stores challenges in the otp_challenges table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed challenge repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a freshly issued challenge.
func (r *PostgresRepository) Create(ctx context.Context, c Challenge) error {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return fmt.Errorf("challenge id: %w", err)
	}
	accountID, err := uuid.Parse(c.AccountID)
	if err != nil {
		return fmt.Errorf("challenge account id: %w", err)
	}
	receiverID, err := uuid.Parse(c.ReceiverID)
	if err != nil {
		return fmt.Errorf("challenge receiver id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO otp_challenges (id, account_id, code_hash, receiver_id, amount, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, accountID, c.CodeHash, receiverID, c.Amount, c.CreatedAt.UTC(), c.ExpiresAt.UTC())
	return err
}

// Get loads a challenge by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Challenge, error) {
	challengeID, err := uuid.Parse(id)
	if err != nil {
		return Challenge{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM otp_challenges WHERE id = $1`, challengeID)
	return scanChallenge(row)
}

// MarkVerified sets the verified flag only if it is still clear. The update
// joins the ledger's database transaction.
func (r *PostgresRepository) MarkVerified(ctx context.Context, tx ledger.Tx, id, transactionID string, at time.Time) error {
	unit, ok := tx.(ledger.SQLTx)
	if !ok {
		return errors.New("challenge verification needs a database-backed ledger unit")
	}
	challengeID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	txID, err := uuid.Parse(transactionID)
	if err != nil {
		return fmt.Errorf("transaction id: %w", err)
	}
	cmd, err := unit.Exec(ctx, `UPDATE otp_challenges
        SET verified = TRUE, verified_at = $2, transaction_id = $3
        WHERE id = $1 AND verified = FALSE`, challengeID, at.UTC(), txID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyUsed
	}
	return nil
}

// ExpireOpen supersedes the account's open challenges.
func (r *PostgresRepository) ExpireOpen(ctx context.Context, accountID string, at time.Time) (int64, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return 0, nil
	}
	cmd, err := r.db.Exec(ctx, `UPDATE otp_challenges SET expires_at = $2
        WHERE account_id = $1 AND verified = FALSE AND expires_at > $2`, id, at.UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// Active returns the newest open challenge for the account.
func (r *PostgresRepository) Active(ctx context.Context, accountID string, now time.Time) (Challenge, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return Challenge{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM otp_challenges
        WHERE account_id = $1 AND verified = FALSE AND expires_at >= $2
        ORDER BY created_at DESC LIMIT 1`, id, now.UTC())
	return scanChallenge(row)
}

// DeleteExpired prunes unverified challenges past expiry.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM otp_challenges WHERE verified = FALSE AND expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (Challenge, error) {
	var (
		c                       Challenge
		id, accountID, receiver uuid.UUID
		verifiedAt              pgtype.Timestamptz
		transactionID           pgtype.UUID
	)
	err := row.Scan(&id, &accountID, &c.CodeHash, &receiver, &c.Amount, &c.CreatedAt, &c.ExpiresAt,
		&c.Verified, &verifiedAt, &transactionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, err
	}
	c.ID = id.String()
	c.AccountID = accountID.String()
	c.ReceiverID = receiver.String()
	c.CreatedAt = c.CreatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	if verifiedAt.Valid {
		c.VerifiedAt = verifiedAt.Time.UTC()
	}
	if transactionID.Valid {
		c.TransactionID = uuid.UUID(transactionID.Bytes).String()
	}
	return c, nil
}
