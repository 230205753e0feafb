package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"casetrack/internal/auth"
	"casetrack/internal/db"
)

// historyAuthorConstraint ties case_status_history.changed_by to users.
const historyAuthorConstraint = "case_status_history_changed_by_fkey"

const userColumns = `id, username, email, password_hash, first_name, last_name, phone_no, role, created_on, updated_on`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var phone sql.NullString
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &phone, &role, &u.CreatedOn, &u.UpdatedOn); err != nil {
		return User{}, err
	}
	if phone.Valid {
		value := phone.String
		u.PhoneNo = &value
	}
	u.Role = auth.Role(role)
	return u, nil
}

// FindPrincipal satisfies auth.PrincipalStore. Ids that are not UUIDs can
// never match a row and are reported as absent.
func (r *Repository) FindPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var p auth.Principal
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, role
		FROM users
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Username, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query principal: %w", err)
	}
	p.Role = auth.Role(role)

	return &p, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *Repository) findOne(ctx context.Context, query string, arg string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	created, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, first_name, last_name, role, created_on, updated_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+userColumns,
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role), u.CreatedOn,
	))
	if err != nil {
		if constraint, ok := db.UniqueViolation(err); ok {
			return User{}, uniqueError(constraint)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return created, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var conditions []string
	var args []any
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.CreatedOn != nil {
		args = append(args, filter.CreatedOn.Format(time.DateOnly))
		conditions = append(conditions, fmt.Sprintf("created_on::date = $%d::date", len(args)))
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_on DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (r *Repository) Update(ctx context.Context, id string, changes Changes, now time.Time) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users
		SET email = COALESCE($2, email),
			first_name = COALESCE($3, first_name),
			last_name = COALESCE($4, last_name),
			phone_no = COALESCE($5, phone_no),
			updated_on = $6
		WHERE id = $1
		RETURNING `+userColumns,
		id, changes.Email, changes.FirstName, changes.LastName, changes.PhoneNo, now.UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if constraint, ok := db.UniqueViolation(err); ok {
			return nil, uniqueError(constraint)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	return &u, nil
}

func (r *Repository) SetRole(ctx context.Context, id string, role auth.Role, now time.Time) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users
		SET role = $2, updated_on = $3
		WHERE id = $1
		RETURNING `+userColumns,
		id, string(role), now.UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("set user role: %w", err)
	}

	return &u, nil
}

func (r *Repository) Delete(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		DELETE FROM users
		WHERE id = $1
		RETURNING `+userColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if constraint, ok := db.ForeignKeyViolation(err); ok {
			if constraint == historyAuthorConstraint {
				return nil, ErrUserHasHistory
			}
			return nil, ErrUserReferenced
		}
		return nil, fmt.Errorf("delete user: %w", err)
	}

	return &u, nil
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_on = $3
		WHERE id = $1
	`, id, hash, now.UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpsertAdmin creates the account or promotes an existing one with the
// same username, replacing its password.
func (r *Repository) UpsertAdmin(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, created_on, updated_on)
		VALUES ($1, $2, $3, $4, 'ADMIN', $5, $5)
		ON CONFLICT (username)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = 'ADMIN',
			updated_on = EXCLUDED.updated_on
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedOn.UTC())
	if err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}

	return nil
}

func uniqueError(constraint string) error {
	if strings.Contains(constraint, "email") {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}
