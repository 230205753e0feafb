package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"casetrack/internal/db"
)

const caseColumns = `id, title, description, status, created_on, created_by, updated_on, updated_by, status_change_reason, comment, assignee, watchers`

// distinctColumns maps the public field names accepted by DistinctValues to
// their SQL expressions.
var distinctColumns = map[string]string{
	"id":                   "id::text",
	"title":                "title",
	"description":          "description",
	"status":               "status",
	"created_on":           "created_on::text",
	"created_by":           "created_by::text",
	"updated_on":           "updated_on::text",
	"updated_by":           "updated_by::text",
	"status_change_reason": "status_change_reason",
	"comment":              "comment",
	"assignee":             "assignee::text",
	"watchers":             "watchers::text",
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (Case, error) {
	var c Case
	var updatedOn sql.NullTime
	var updatedBy, reason, comment sql.NullString
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Status, &c.CreatedOn, &c.CreatedBy,
		&updatedOn, &updatedBy, &reason, &comment, &c.Assignee, &c.Watchers); err != nil {
		return Case{}, err
	}
	if updatedOn.Valid {
		value := updatedOn.Time.UTC()
		c.UpdatedOn = &value
	}
	c.UpdatedBy = nullString(updatedBy)
	c.StatusChangeReason = nullString(reason)
	c.Comment = nullString(comment)
	return c, nil
}

func nullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func (r *Repository) List(ctx context.Context) ([]Case, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY created_on DESC`)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	cases := make([]Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}

	return cases, nil
}

func (r *Repository) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM cases
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("query case status counts: %w", err)
	}
	defer rows.Close()

	counts := make([]StatusCount, 0)
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Category, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return counts, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Case, error) {
	c, err := scanCase(r.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query case: %w", err)
	}
	return &c, nil
}

// DistinctValues returns every case title paired with the value of field.
// Only columns of the cases table are accepted.
func (r *Repository) DistinctValues(ctx context.Context, field string) ([]DistinctValue, error) {
	column, ok := distinctColumns[field]
	if !ok {
		return nil, ErrUnknownField
	}

	rows, err := r.db.QueryContext(ctx, `SELECT title, COALESCE(`+column+`, '') FROM cases ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("query distinct %s: %w", field, err)
	}
	defer rows.Close()

	values := make([]DistinctValue, 0)
	for rows.Next() {
		var v DistinctValue
		if err := rows.Scan(&v.Title, &v.Field); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct values: %w", err)
	}

	return values, nil
}

// Create stores a new case assigned to its creator and records the initial
// status in the history.
func (r *Repository) Create(ctx context.Context, input CreateInput, creator string) (Case, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Case{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	status := input.Status
	if status == "" {
		status = DefaultStatus
	}
	now := r.now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Case{}, fmt.Errorf("begin create case tx: %w", err)
	}
	defer tx.Rollback()

	created, err := scanCase(tx.QueryRowContext(ctx, `
		INSERT INTO cases (id, title, description, status, created_on, created_by, assignee, watchers)
		VALUES ($1, $2, $3, $4, $5, $6, $6, '[]'::jsonb)
		RETURNING `+caseColumns,
		id.String(), input.Title, input.Description, status, now, creator,
	))
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return Case{}, ErrTitleTaken
		}
		if _, ok := db.ForeignKeyViolation(err); ok {
			return Case{}, ErrInvalidAssignee
		}
		return Case{}, fmt.Errorf("insert case: %w", err)
	}

	if err := insertHistory(ctx, tx, created.ID, nil, created.Status, nil, creator, now); err != nil {
		return Case{}, err
	}

	if err := tx.Commit(); err != nil {
		return Case{}, fmt.Errorf("commit create case tx: %w", err)
	}

	return created, nil
}

// Update merges input into the stored case under a row lock. A status
// change is written to the history in the same transaction.
func (r *Repository) Update(ctx context.Context, id string, input UpdateInput, actor string) (*Case, error) {
	now := r.now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update case tx: %w", err)
	}
	defer tx.Rollback()

	current, err := scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock case row: %w", err)
	}

	previousStatus := current.Status
	statusChanged := input.apply(&current)

	updated, err := scanCase(tx.QueryRowContext(ctx, `
		UPDATE cases
		SET description = $2,
			status = $3,
			status_change_reason = $4,
			comment = $5,
			assignee = $6,
			watchers = $7::jsonb,
			updated_by = $8,
			updated_on = $9
		WHERE id = $1
		RETURNING `+caseColumns,
		id, current.Description, current.Status, current.StatusChangeReason, current.Comment,
		current.Assignee, current.Watchers, actor, now,
	))
	if err != nil {
		if _, ok := db.ForeignKeyViolation(err); ok {
			return nil, ErrInvalidAssignee
		}
		return nil, fmt.Errorf("update case: %w", err)
	}

	if statusChanged {
		reason := input.StatusChangeReason
		if blank(reason) {
			reason = nil
		}
		if err := insertHistory(ctx, tx, id, &previousStatus, updated.Status, reason, actor, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update case tx: %w", err)
	}

	return &updated, nil
}

func (r *Repository) Delete(ctx context.Context, id string) (*Case, error) {
	c, err := scanCase(r.db.QueryRowContext(ctx, `
		DELETE FROM cases
		WHERE id = $1
		RETURNING `+caseColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete case: %w", err)
	}

	return &c, nil
}

func (r *Repository) History(ctx context.Context, caseID string) ([]StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, case_id, from_status, to_status, reason, changed_by, changed_on
		FROM case_status_history
		WHERE case_id = $1
		ORDER BY changed_on ASC, id ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query case history: %w", err)
	}
	defer rows.Close()

	history := make([]StatusChange, 0)
	for rows.Next() {
		var sc StatusChange
		var from, reason sql.NullString
		if err := rows.Scan(&sc.ID, &sc.CaseID, &from, &sc.ToStatus, &reason, &sc.ChangedBy, &sc.ChangedOn); err != nil {
			return nil, fmt.Errorf("scan case history: %w", err)
		}
		sc.FromStatus = nullString(from)
		sc.Reason = nullString(reason)
		history = append(history, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case history: %w", err)
	}

	return history, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, caseID string, from *string, to string, reason *string, changedBy string, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO case_status_history (id, case_id, from_status, to_status, reason, changed_by, changed_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.String(), caseID, from, to, reason, changedBy, now)
	if err != nil {
		return fmt.Errorf("insert case status history: %w", err)
	}

	return nil
}
