package user

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casetrack/internal/auth"
)

const aliceID = "0192b0a0-0000-7000-8000-000000000001"

var userRowColumns = []string{"id", "username", "email", "password_hash", "first_name", "last_name", "phone_no", "role", "created_on", "updated_on"}

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		database.Close()
	})
	return NewRepository(database), mock
}

func aliceRow(created time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(userRowColumns).
		AddRow(aliceID, "alice", "alice@example.com", "hash", "Alice", "Liddell", nil, "USER", created, created)
}

func TestFindPrincipal(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT id, username, role\s+FROM users\s+WHERE id = \$1`).
		WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "role"}).AddRow(aliceID, "alice", "ADMIN"))

	p, err := repo.FindPrincipal(context.Background(), aliceID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, auth.Principal{ID: aliceID, Username: "alice", Role: auth.RoleAdmin}, *p)
}

func TestFindPrincipal_Absent(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT id, username, role\s+FROM users`).
		WithArgs(aliceID).
		WillReturnError(sql.ErrNoRows)

	p, err := repo.FindPrincipal(context.Background(), aliceID)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = repo.FindPrincipal(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFindPrincipal_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT id, username, role\s+FROM users`).
		WithArgs(aliceID).
		WillReturnError(errors.New("db down"))

	_, err := repo.FindPrincipal(context.Background(), aliceID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestFindByUsername(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, username, .* FROM users WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(aliceRow(created))

	u, err := repo.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, aliceID, u.ID)
	assert.Nil(t, u.PhoneNo)
	assert.Equal(t, auth.RoleUser, u.Role)
}

func TestCreate_UniqueViolations(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{"users_username_key", ErrUsernameTaken},
		{"users_email_key", ErrEmailTaken},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			mock.ExpectQuery(`INSERT INTO users`).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tt.constraint})

			_, err := repo.Create(context.Background(), User{ID: aliceID, Username: "alice", Role: auth.RoleUser})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO users \(id, username, email, password_hash, first_name, last_name, role, created_on, updated_on\)`).
		WithArgs(aliceID, "alice", "alice@example.com", "hash", "Alice", "Liddell", "USER", created).
		WillReturnRows(aliceRow(created))

	u, err := repo.Create(context.Background(), User{
		ID: aliceID, Username: "alice", Email: "alice@example.com", PasswordHash: "hash",
		FirstName: "Alice", LastName: "Liddell", Role: auth.RoleUser, CreatedOn: created,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestList_Filters(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM users WHERE role = \$1 AND created_on::date = \$2::date ORDER BY created_on DESC`).
		WithArgs("USER", "2026-03-01").
		WillReturnRows(aliceRow(created))

	users, err := repo.List(context.Background(), ListFilter{Role: auth.RoleUser, CreatedOn: &day})
	require.NoError(t, err)
	require.Len(t, users, 1)

	mock.ExpectQuery(`FROM users ORDER BY created_on DESC`).
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	users, err = repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NotNil(t, users)
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`DELETE FROM users\s+WHERE id = \$1\s+RETURNING`).
		WithArgs(aliceID).
		WillReturnRows(aliceRow(created))
	u, err := repo.Delete(context.Background(), aliceID)
	require.NoError(t, err)
	require.NotNil(t, u)

	mock.ExpectQuery(`DELETE FROM users`).
		WithArgs(aliceID).
		WillReturnError(sql.ErrNoRows)
	u, err = repo.Delete(context.Background(), aliceID)
	require.NoError(t, err)
	assert.Nil(t, u)

	mock.ExpectQuery(`DELETE FROM users`).
		WithArgs(aliceID).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "cases_assignee_fkey"})
	_, err = repo.Delete(context.Background(), aliceID)
	require.ErrorIs(t, err, ErrUserReferenced)

	mock.ExpectQuery(`DELETE FROM users`).
		WithArgs(aliceID).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "case_status_history_changed_by_fkey"})
	_, err = repo.Delete(context.Background(), aliceID)
	require.ErrorIs(t, err, ErrUserHasHistory)
	assert.NotErrorIs(t, err, ErrUserReferenced)
}

func TestUpdatePasswordHash_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE users\s+SET password_hash = \$2, updated_on = \$3\s+WHERE id = \$1`).
		WithArgs(aliceID, "new-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePasswordHash(context.Background(), aliceID, "new-hash", now)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterFailedAttempt_LocksAtThreshold(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)

	mock.ExpectQuery(`INSERT INTO login_failures AS lf .+ON CONFLICT \(username\) DO UPDATE.+RETURNING locked_until`).
		WithArgs("alice", 5, now, until).
		WillReturnRows(sqlmock.NewRows([]string{"locked_until"}).AddRow(until))

	lockedUntil, err := repo.RegisterFailedAttempt(context.Background(), "alice", 5, 15*time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, lockedUntil)
	assert.Equal(t, until, *lockedUntil)
}

func TestRegisterFailedAttempt_BelowThreshold(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO login_failures`).
		WithArgs("alice", 5, now, now.Add(15*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"locked_until"}).AddRow(nil))

	lockedUntil, err := repo.RegisterFailedAttempt(context.Background(), "alice", 5, 15*time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, lockedUntil)
}

func TestRegisterFailedAttempt_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO login_failures`).
		WillReturnError(errors.New("db down"))

	_, err := repo.RegisterFailedAttempt(context.Background(), "alice", 5, 15*time.Minute, now)
	require.Error(t, err)
}

func TestGetLoginAttempt(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	until := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT failures, locked_until FROM login_failures WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"failures", "locked_until"}).AddRow(2, until))

	attempt, err := repo.GetLoginAttempt(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt.FailedAttempts)
	require.NotNil(t, attempt.LockedUntil)
	assert.Equal(t, until, *attempt.LockedUntil)

	mock.ExpectQuery(`FROM login_failures`).
		WithArgs("bob").
		WillReturnError(sql.ErrNoRows)

	attempt, err = repo.GetLoginAttempt(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, LoginAttempt{Username: "bob"}, attempt)
}

func TestAllowLoginIP(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	windowStart := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO login_ip_windows AS w .+RETURNING attempts, window_start`).
		WithArgs("10.0.0.1", now, now.Add(-time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "window_start"}).AddRow(3, windowStart))

	allowed, _, err := repo.AllowLoginIP(context.Background(), "10.0.0.1", 3, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, allowed)

	mock.ExpectQuery(`INSERT INTO login_ip_windows`).
		WithArgs("10.0.0.1", now, now.Add(-time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "window_start"}).AddRow(4, windowStart))

	allowed, retryAfter, err := repo.AllowLoginIP(context.Background(), "10.0.0.1", 3, time.Minute, now)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Second, retryAfter)
}

func TestCleanupStaleAuthData(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM login_failures`).
		WithArgs(sqlmock.AnyArg(), 100, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec(`DELETE FROM login_ip_windows`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := repo.CleanupStaleAuthData(context.Background(), 24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{DeletedLoginAttempts: 7, DeletedIPLimits: 2}, result)
}

func TestCleanupStaleAuthData_RepeatsFullBatches(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM login_failures`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM login_failures`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM login_ip_windows`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := repo.CleanupStaleAuthData(context.Background(), 24*time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.DeletedLoginAttempts)
	assert.Zero(t, result.DeletedIPLimits)
}
