package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capture statuses.
const (
	CaptureConfirmed = "confirmed"
	CaptureFailed    = "failed"
)

// Download statuses.
const (
	DownloadOK     = "ok"
	DownloadFailed = "failed"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// timeLayout is fixed-width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// ErrNotFound is returned by Get* when no row matches.
var ErrNotFound = errors.New("ledger: not found")

// Capture is one capture attempt.
type Capture struct {
	ID         string        `json:"id"`
	SiteID     string        `json:"site_id"`
	Status     string        `json:"status"`
	Burst      bool          `json:"burst"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Download is one object pulled from the device, or a failed drain pass.
type Download struct {
	ID           string        `json:"id"`
	SiteID       string        `json:"site_id"`
	Status       string        `json:"status"`
	Handle       uint32        `json:"handle"`
	Filename     string        `json:"filename,omitempty"`
	Format       uint16        `json:"format"`
	Size         int64         `json:"size"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
	DownloadedAt time.Time     `json:"downloaded_at"`
}

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	Status string
	Since  time.Time
	Limit  int
	Offset int
}

func (f *Filter) clamp() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// CaptureList is a page of captures.
type CaptureList struct {
	Captures []Capture `json:"captures"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// DownloadList is a page of downloads.
type DownloadList struct {
	Downloads []Download `json:"downloads"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// Repository stores ledger entries.
type Repository interface {
	RecordCapture(ctx context.Context, c *Capture) error
	RecordDownload(ctx context.Context, d *Download) error
	GetCapture(ctx context.Context, id string) (*Capture, error)
	ListCaptures(ctx context.Context, f Filter) (*CaptureList, error)
	ListDownloads(ctx context.Context, f Filter) (*DownloadList, error)
}

// SQLiteRepository implements Repository on the captures and downloads tables.
type SQLiteRepository struct {
	db     *sql.DB
	siteID string
}

// NewSQLiteRepository returns a repository stamping rows with siteID.
func NewSQLiteRepository(db *sql.DB, siteID string) *SQLiteRepository {
	return &SQLiteRepository{db: db, siteID: siteID}
}

// RecordCapture inserts c. Empty ID, SiteID and CapturedAt are filled in.
func (r *SQLiteRepository) RecordCapture(ctx context.Context, c *Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SiteID == "" {
		c.SiteID = r.siteID
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}
	c.CapturedAt = c.CapturedAt.UTC()
	c.DurationMS = c.Duration.Milliseconds()
	if c.Status != CaptureConfirmed && c.Status != CaptureFailed {
		return fmt.Errorf("ledger: invalid capture status %q", c.Status)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO captures (id, site_id, status, burst, error, duration_ms, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SiteID, c.Status, boolInt(c.Burst), nullableString(c.Error),
		c.DurationMS, c.CapturedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting capture: %w", err)
	}
	return nil
}

// RecordDownload inserts d. Empty ID, SiteID and DownloadedAt are filled in.
func (r *SQLiteRepository) RecordDownload(ctx context.Context, d *Download) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.SiteID == "" {
		d.SiteID = r.siteID
	}
	if d.DownloadedAt.IsZero() {
		d.DownloadedAt = time.Now()
	}
	d.DownloadedAt = d.DownloadedAt.UTC()
	d.DurationMS = d.Duration.Milliseconds()
	if d.Status != DownloadOK && d.Status != DownloadFailed {
		return fmt.Errorf("ledger: invalid download status %q", d.Status)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (id, site_id, status, handle, filename, format, size, error, duration_ms, downloaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SiteID, d.Status, int64(d.Handle), d.Filename, int64(d.Format), d.Size,
		nullableString(d.Error), d.DurationMS, d.DownloadedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting download: %w", err)
	}
	return nil
}

const captureColumns = "id, site_id, status, burst, error, duration_ms, captured_at"

// GetCapture returns the capture with id, or ErrNotFound.
func (r *SQLiteRepository) GetCapture(ctx context.Context, id string) (*Capture, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+captureColumns+" FROM captures WHERE id = ?", id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCaptures returns captures newest first.
func (r *SQLiteRepository) ListCaptures(ctx context.Context, f Filter) (*CaptureList, error) {
	f.clamp()
	where, args := whereClause(f, "captured_at")

	var total int
	// WHERE is built from fixed column names and ? placeholders only.
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures"+where, args...).Scan(&total); err != nil { //nolint:gosec // parameterised
		return nil, fmt.Errorf("counting captures: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // parameterised
		"SELECT "+captureColumns+" FROM captures"+where+" ORDER BY captured_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying captures: %w", err)
	}
	defer rows.Close()

	out := &CaptureList{Captures: []Capture{}, Total: total, Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out.Captures = append(out.Captures, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating captures: %w", err)
	}
	return out, nil
}

// ListDownloads returns downloads newest first.
func (r *SQLiteRepository) ListDownloads(ctx context.Context, f Filter) (*DownloadList, error) {
	f.clamp()
	where, args := whereClause(f, "downloaded_at")

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads"+where, args...).Scan(&total); err != nil { //nolint:gosec // parameterised
		return nil, fmt.Errorf("counting downloads: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // parameterised
		`SELECT id, site_id, status, handle, filename, format, size, error, duration_ms, downloaded_at
		 FROM downloads`+where+" ORDER BY downloaded_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying downloads: %w", err)
	}
	defer rows.Close()

	out := &DownloadList{Downloads: []Download{}, Total: total, Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		var d Download
		var handle, format int64
		var errText sql.NullString
		var at string
		if err := rows.Scan(&d.ID, &d.SiteID, &d.Status, &handle, &d.Filename, &format,
			&d.Size, &errText, &d.DurationMS, &at); err != nil {
			return nil, fmt.Errorf("scanning download: %w", err)
		}
		d.Handle = uint32(handle) // #nosec G115 -- stored from a uint32
		d.Format = uint16(format) // #nosec G115 -- stored from a uint16
		d.Error = errText.String
		d.Duration = time.Duration(d.DurationMS) * time.Millisecond
		if d.DownloadedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out.Downloads = append(out.Downloads, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating downloads: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(s scanner) (*Capture, error) {
	var c Capture
	var burst int64
	var errText sql.NullString
	var at string
	if err := s.Scan(&c.ID, &c.SiteID, &c.Status, &burst, &errText, &c.DurationMS, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning capture: %w", err)
	}
	c.Burst = burst != 0
	c.Error = errText.String
	c.Duration = time.Duration(c.DurationMS) * time.Millisecond
	t, err := parseTime(at)
	if err != nil {
		return nil, err
	}
	c.CapturedAt = t
	return &c, nil
}

func whereClause(f Filter, timeColumn string) (string, []any) {
	var conditions []string
	var args []any
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, timeColumn+" >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing ledger timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
