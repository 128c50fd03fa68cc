package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"caravan/internal/release"
	"caravan/internal/security"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

const recordColumns = `id, application, release_id, release_path, branch, revision,
	status, run_id, started_at, completed_at, error_message`

// DefaultPath returns $XDG_DATA_HOME/caravan/releases.db
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "caravan", "releases.db")
}

// History is the append-only list of release records, stored in SQLite
type History struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistory opens (creating if needed) the history database at dbPath
func NewHistory(dbPath string) (*History, error) {
	if dbPath != ":memory:" {
		if err := security.CreateSecureDir(filepath.Dir(dbPath), security.PermDirectory); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db, now: time.Now}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if dbPath != ":memory:" {
		if err := security.FixFilePermissions(dbPath, security.PermDBFile); err != nil {
			db.Close()
			return nil, err
		}
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS releases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			application TEXT NOT NULL,
			release_id TEXT NOT NULL,
			release_path TEXT NOT NULL,
			branch TEXT NOT NULL,
			revision TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			run_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			error_message TEXT,
			UNIQUE (application, release_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_application_status
		ON releases(application, status)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Append stores a new record and sets its ID
func (h *History) Append(ctx context.Context, rec *release.Record) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = h.now().UTC()
	}
	if rec.Status == "" {
		rec.Status = release.StatusPending
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO releases
		(application, release_id, release_path, branch, revision, status,
		 run_id, started_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Application,
		rec.ReleaseID,
		rec.ReleasePath,
		rec.Branch,
		rec.Revision,
		string(rec.Status),
		rec.RunID,
		rec.StartedAt.UTC().Format(timeLayout),
		formatTime(rec.CompletedAt),
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert release record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	rec.ID = id

	return nil
}

// SetRevision records the commit a release was built from
func (h *History) SetRevision(ctx context.Context, id int64, revision string) error {
	_, err := h.db.ExecContext(ctx, `UPDATE releases SET revision = ? WHERE id = ?`, revision, id)
	if err != nil {
		return fmt.Errorf("failed to update revision: %w", err)
	}
	return nil
}

// MarkFailed completes a record with status failed and the error message
func (h *History) MarkFailed(ctx context.Context, id int64, cause error) error {
	var msg *string
	if cause != nil {
		s := cause.Error()
		msg = &s
	}

	res, err := h.db.ExecContext(ctx, `
		UPDATE releases SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, string(release.StatusFailed), h.now().UTC().Format(timeLayout), msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark release failed: %w", err)
	}
	return expectOneRow(res, id)
}

// Activate makes id the active release of its application. The previously
// active release, if any, becomes historical in the same transaction.
func (h *History) Activate(ctx context.Context, id int64) error {
	return h.withTx(ctx, func(tx *sql.Tx) error {
		return activate(ctx, tx, id, h.now())
	})
}

// RollBack marks fromID rolled_back and activates toID atomically
func (h *History) RollBack(ctx context.Context, fromID, toID int64) error {
	return h.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE releases SET status = ? WHERE id = ?`,
			string(release.StatusRolledBack), fromID)
		if err != nil {
			return fmt.Errorf("failed to mark release rolled back: %w", err)
		}
		if err := expectOneRow(res, fromID); err != nil {
			return err
		}
		return activate(ctx, tx, toID, h.now())
	})
}

func activate(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	var application string
	if err := tx.QueryRowContext(ctx, `SELECT application FROM releases WHERE id = ?`, id).Scan(&application); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("release record %d not found", id)
		}
		return fmt.Errorf("failed to look up release record: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE releases SET status = ?
		WHERE application = ? AND status = ? AND id != ?
	`, string(release.StatusHistorical), application, string(release.StatusActive), id)
	if err != nil {
		return fmt.Errorf("failed to demote active release: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE releases SET status = ?, completed_at = COALESCE(completed_at, ?), error_message = NULL
		WHERE id = ?
	`, string(release.StatusActive), now.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to activate release: %w", err)
	}

	return nil
}

func (h *History) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns a record by row id
func (h *History) Get(ctx context.Context, id int64) (*release.Record, error) {
	row := h.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM releases WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to query release record %d: %w", id, err)
	}
	return rec, nil
}

// Latest returns the newest record for an application, or nil
func (h *History) Latest(ctx context.Context, application string) (*release.Record, error) {
	return h.queryOne(ctx, `
		SELECT `+recordColumns+` FROM releases
		WHERE application = ?
		ORDER BY id DESC
		LIMIT 1
	`, application)
}

// Active returns the active record for an application, or nil
func (h *History) Active(ctx context.Context, application string) (*release.Record, error) {
	return h.queryOne(ctx, `
		SELECT `+recordColumns+` FROM releases
		WHERE application = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`, application, string(release.StatusActive))
}

// LatestReleaseID returns the newest release id issued for an application.
// Ids sharing the newest timestamp are ordered by their numeric suffix.
func (h *History) LatestReleaseID(ctx context.Context, application string) (string, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT release_id FROM releases
		WHERE application = ? AND substr(release_id, 1, ?) = (
			SELECT MAX(substr(release_id, 1, ?)) FROM releases WHERE application = ?
		)
	`, application, len(release.IDLayout), len(release.IDLayout), application)
	if err != nil {
		return "", fmt.Errorf("failed to query latest release id: %w", err)
	}
	defer rows.Close()

	var latest string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan release id: %w", err)
		}
		if latest == "" || release.Compare(id, latest) > 0 {
			latest = id
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to query latest release id: %w", err)
	}
	return latest, nil
}

// List returns up to limit records for an application, newest first.
// A limit of zero or less returns everything.
func (h *History) List(ctx context.Context, application string, limit int) ([]release.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	return h.queryMany(ctx, `
		SELECT `+recordColumns+` FROM releases
		WHERE application = ?
		ORDER BY id DESC
		LIMIT ?
	`, application, limit)
}

// Published returns every record that was switched live at some point,
// newest first
func (h *History) Published(ctx context.Context, application string) ([]release.Record, error) {
	return h.queryMany(ctx, `
		SELECT `+recordColumns+` FROM releases
		WHERE application = ? AND status IN (?, ?, ?)
		ORDER BY id DESC
	`, application,
		string(release.StatusActive),
		string(release.StatusHistorical),
		string(release.StatusRolledBack))
}

// Status summarises one application for the status endpoint
func (h *History) Status(ctx context.Context, application string, recent int) (*ApplicationStatus, error) {
	status := &ApplicationStatus{Application: application}

	var err error
	if status.ActiveRelease, err = h.Active(ctx, application); err != nil {
		return nil, err
	}
	if status.LatestRelease, err = h.Latest(ctx, application); err != nil {
		return nil, err
	}
	if status.RecentHistory, err = h.List(ctx, application, recent); err != nil {
		return nil, err
	}
	if status.RecentHistory == nil {
		status.RecentHistory = []release.Record{}
	}

	return status, nil
}

// AllApplicationsStatus returns the active record of each application that
// has one
func (h *History) AllApplicationsStatus(ctx context.Context) (map[string]*release.Record, error) {
	records, err := h.queryMany(ctx, `
		SELECT `+recordColumns+` FROM releases
		WHERE id IN (SELECT MAX(id) FROM releases WHERE status = ? GROUP BY application)
	`, string(release.StatusActive))
	if err != nil {
		return nil, err
	}

	result := make(map[string]*release.Record, len(records))
	for i := range records {
		result[records[i].Application] = &records[i]
	}
	return result, nil
}

func (h *History) queryOne(ctx context.Context, query string, args ...interface{}) (*release.Record, error) {
	rec, err := scanRecord(h.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query release record: %w", err)
	}
	return rec, nil
}

func (h *History) queryMany(ctx context.Context, query string, args ...interface{}) ([]release.Record, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query release history: %w", err)
	}
	defer rows.Close()

	var records []release.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("release record %d not found", id)
	}
	return nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*release.Record, error) {
	var rec release.Record
	var status, startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&rec.ID,
		&rec.Application,
		&rec.ReleaseID,
		&rec.ReleasePath,
		&rec.Branch,
		&rec.Revision,
		&status,
		&rec.RunID,
		&startedAtStr,
		&completedAtStr,
		&rec.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = release.Status(status)

	startedAt, err := time.Parse(timeLayout, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	rec.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(timeLayout, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		rec.CompletedAt = &completedAt
	}

	return &rec, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}
