package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog stores attempts in the otp_attempts table.
type PostgresLog struct {
	db *pgxpool.Pool
}

// NewPostgresLog builds an attempt log backed by PostgreSQL.
func NewPostgresLog(db *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{db: db}
}

// Record appends an attempt row.
func (l *PostgresLog) Record(ctx context.Context, attempt Attempt) error {
	accountID, err := uuid.Parse(attempt.AccountID)
	if err != nil {
		return fmt.Errorf("attempt account id: %w", err)
	}
	challengeID, err := uuid.Parse(attempt.ChallengeID)
	if err != nil {
		return fmt.Errorf("attempt challenge id: %w", err)
	}
	id := uuid.New()
	if attempt.ID != "" {
		if parsed, err := uuid.Parse(attempt.ID); err == nil {
			id = parsed
		}
	}
	_, err = l.db.Exec(ctx, `INSERT INTO otp_attempts (id, account_id, challenge_id, code, success, origin, attempted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, accountID, challengeID, attempt.Code, attempt.Success, attempt.Origin, attempt.AttemptedAt.UTC())
	return err
}

// FailuresSince returns failed attempt timestamps newest first.
func (l *PostgresLog) FailuresSince(ctx context.Context, accountID string, since time.Time) ([]time.Time, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, fmt.Errorf("attempt account id: %w", err)
	}
	rows, err := l.db.Query(ctx, `SELECT attempted_at FROM otp_attempts
        WHERE account_id = $1 AND success = FALSE AND attempted_at >= $2
        ORDER BY attempted_at DESC`, id, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		out = append(out, at.UTC())
	}
	return out, rows.Err()
}
