// Package audit records who changed the camera and when.
//
// Every property write, reset and re-initialize issued through an operator
// surface is appended to the audit_log table with the caller's identity and
// the outcome. The trail is append-only; entries are never updated.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions.
const (
	ActionPropertySet = "property.set"
	ActionReset       = "camera.reset"
	ActionInitialize  = "camera.initialize"
)

// Outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Entry is one audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Target    string         `json:"target,omitempty"`
	Subject   string         `json:"subject"`
	Role      string         `json:"role"`
	Source    string         `json:"source"`
	Outcome   string         `json:"outcome"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action  string
	Subject string
	Limit   int // default 50, max 200
	Offset  int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit entries in the audit_log table.
type SQLiteRepository struct {
	db     *sql.DB
	siteID string
}

// NewSQLiteRepository creates an audit repository for siteID.
func NewSQLiteRepository(db *sql.DB, siteID string) *SQLiteRepository {
	return &SQLiteRepository{db: db, siteID: siteID}
}

// Create inserts e. ID, CreatedAt and Outcome are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.Subject == "" {
		return fmt.Errorf("audit entry requires action and subject")
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}

	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, site_id, action, target, subject, role, source, outcome, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, r.siteID, e.Action, nullableString(e.Target), e.Subject, e.Role,
		e.Source, e.Outcome, details, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	conditions := []string{"site_id = ?"}
	args := []any{r.siteID}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Subject != "" {
		conditions = append(conditions, "subject = ?")
		args = append(args, filter.Subject)
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_log " + where //nolint:gosec // parameterised conditions only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, action, target, subject, role, source, outcome, details, created_at FROM audit_log " + //nolint:gosec // parameterised conditions only
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var target, details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &target, &e.Subject, &e.Role,
			&e.Source, &e.Outcome, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Target = target.String
		if details.Valid && details.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(details.String), &m) == nil {
				e.Details = m
			}
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
