package queries

import (
	"context"
	"database/sql"
	"time"
)

// AuthAttempt is one audit row for a login attempt, written by the backoff
// service regardless of outcome.
type AuthAttempt struct {
	ID                    int
	AttemptAtUtc          time.Time
	Username              *string
	IPAddress             string
	Success               bool
	FailCountForKey       int
	BackoffSecondsApplied int
	Reason                *string
}

type AuthAttemptRepository struct {
	db *sql.DB
}

func NewAuthAttemptRepository(db *sql.DB) *AuthAttemptRepository {
	return &AuthAttemptRepository{db: db}
}

func (r *AuthAttemptRepository) Insert(ctx context.Context, attempt *AuthAttempt) error {
	query := `
		INSERT INTO auth_attempt_logs
			(attempt_at_utc, username, ip_address, success, fail_count_for_key, backoff_seconds_applied, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		attempt.AttemptAtUtc, attempt.Username, attempt.IPAddress, attempt.Success,
		attempt.FailCountForKey, attempt.BackoffSecondsApplied, attempt.Reason,
	)
	return err
}

func (r *AuthAttemptRepository) GetRecent(ctx context.Context, since time.Time, limit int) ([]AuthAttempt, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, attempt_at_utc, username, ip_address, success, fail_count_for_key, backoff_seconds_applied, reason
		FROM auth_attempt_logs
		WHERE attempt_at_utc >= $1
		ORDER BY attempt_at_utc DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []AuthAttempt
	for rows.Next() {
		var a AuthAttempt
		err := rows.Scan(&a.ID, &a.AttemptAtUtc, &a.Username, &a.IPAddress, &a.Success,
			&a.FailCountForKey, &a.BackoffSecondsApplied, &a.Reason)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// CountOutcomes returns how many attempts since the cutoff succeeded and
// how many failed.
func (r *AuthAttemptRepository) CountOutcomes(ctx context.Context, since time.Time) (success, failed int, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success)
		FROM auth_attempt_logs
		WHERE attempt_at_utc >= $1`

	err = r.db.QueryRowContext(ctx, query, since).Scan(&success, &failed)
	return success, failed, err
}
