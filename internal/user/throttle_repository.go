package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultCleanupBatch     = 500
	defaultCleanupRetention = 30 * 24 * time.Hour
)

func (r *Repository) GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error) {
	var failures int
	var lockedUntil sql.NullTime
	row := r.db.QueryRowContext(ctx, `SELECT failures, locked_until FROM login_failures WHERE username = $1`, username)
	switch err := row.Scan(&failures, &lockedUntil); {
	case errors.Is(err, sql.ErrNoRows):
		return LoginAttempt{Username: username}, nil
	case err != nil:
		return LoginAttempt{}, fmt.Errorf("query login failures: %w", err)
	}

	attempt := LoginAttempt{Username: username, FailedAttempts: failures}
	if lockedUntil.Valid {
		until := lockedUntil.Time.UTC()
		attempt.LockedUntil = &until
	}
	return attempt, nil
}

// RegisterFailedAttempt bumps the failure counter in one statement. When
// the counter reaches maxAttempts the row is locked until now+lockDuration
// and the counter starts over. A lock that is still running is left as is.
// The returned time is non-nil while the username is locked.
func (r *Repository) RegisterFailedAttempt(ctx context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	now = now.UTC()
	lockUntil := now.Add(lockDuration)

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO login_failures AS lf (username, failures, locked_until, last_failed_at)
		VALUES (
			$1,
			CASE WHEN $2 <= 1 THEN 0 ELSE 1 END,
			CASE WHEN $2 <= 1 THEN $4::timestamptz END,
			$3
		)
		ON CONFLICT (username) DO UPDATE SET
			failures = CASE
				WHEN lf.locked_until > $3 THEN lf.failures
				WHEN lf.failures + 1 >= $2 THEN 0
				ELSE lf.failures + 1
			END,
			locked_until = CASE
				WHEN lf.locked_until > $3 THEN lf.locked_until
				WHEN lf.failures + 1 >= $2 THEN $4::timestamptz
			END,
			last_failed_at = $3
		RETURNING locked_until
	`, username, maxAttempts, now, lockUntil).Scan(&lockedUntil)
	if err != nil {
		return nil, fmt.Errorf("record login failure: %w", err)
	}

	if !lockedUntil.Valid || !lockedUntil.Time.After(now) {
		return nil, nil
	}
	until := lockedUntil.Time.UTC()
	return &until, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, username string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM login_failures WHERE username = $1`, username); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	return nil
}

// AllowLoginIP satisfies auth.LoginIPStore with a fixed window per address
// kept in Postgres, so every instance shares one budget.
func (r *Repository) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	now = now.UTC()

	var attempts int
	var windowStart time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO login_ip_windows AS w (client_ip, window_start, attempts, last_seen_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (client_ip) DO UPDATE SET
			attempts = CASE WHEN w.window_start > $3 THEN w.attempts + 1 ELSE 1 END,
			window_start = CASE WHEN w.window_start > $3 THEN w.window_start ELSE $2 END,
			last_seen_at = $2
		RETURNING attempts, window_start
	`, ip, now, now.Add(-window)).Scan(&attempts, &windowStart)
	if err != nil {
		return false, 0, fmt.Errorf("count login ip attempt: %w", err)
	}

	if attempts <= maxHits {
		return true, 0, nil
	}
	return false, max(windowStart.Add(window).Sub(now), time.Second), nil
}

// CleanupStaleAuthData deletes throttling rows untouched for longer than
// retention. Rows are removed batchSize at a time until none are left or
// ctx ends. Running locks are kept.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, retention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatch
	}
	if retention <= 0 {
		retention = defaultCleanupRetention
	}
	now := time.Now().UTC()
	cutoff := now.Add(-retention)

	var result CleanupResult
	var err error

	result.DeletedLoginAttempts, err = r.purge(ctx, `
		DELETE FROM login_failures
		WHERE ctid IN (
			SELECT ctid FROM login_failures
			WHERE last_failed_at < $1 AND (locked_until IS NULL OR locked_until < $3)
			LIMIT $2
		)
	`, batchSize, cutoff, batchSize, now)
	if err != nil {
		return result, fmt.Errorf("purge login failures: %w", err)
	}

	result.DeletedIPLimits, err = r.purge(ctx, `
		DELETE FROM login_ip_windows
		WHERE ctid IN (
			SELECT ctid FROM login_ip_windows
			WHERE last_seen_at < $1
			LIMIT $2
		)
	`, batchSize, cutoff, batchSize)
	if err != nil {
		return result, fmt.Errorf("purge login ip windows: %w", err)
	}

	return result, nil
}

// purge repeats a batched delete until a batch comes back short.
func (r *Repository) purge(ctx context.Context, query string, batchSize int, args ...any) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}

		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}
