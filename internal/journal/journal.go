package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"gridlink/internal/config"
)

// Journal records status transitions, attach outcomes, and finished tasks in
// SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

// StatusEntry is one published status change.
type StatusEntry struct {
	ID              int64
	RecordedAt      time.Time
	Setup           string
	Computing       string
	ComputingReason string
	Network         string
	NetworkReason   string
}

// AttachEntry is the final outcome of one attach or account manager request.
type AttachEntry struct {
	ID         int64
	RecordedAt time.Time
	Kind       string
	Target     string
	Outcome    string
	Code       int
	Detail     string
}

// TaskEntry is a finished write task.
type TaskEntry struct {
	ID         string
	Kind       string
	Target     string
	Result     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Open opens the journal at the configured path.
func Open(cfg *config.Config) (*Journal, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.JournalPath())
}

// OpenPath opens or creates a journal database file.
func OpenPath(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file location.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordStatus appends a status transition.
func (j *Journal) RecordStatus(ctx context.Context, e StatusEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO status_transitions (recorded_at, setup, computing, computing_reason, network, network_reason)
         VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(e.RecordedAt),
		e.Setup,
		e.Computing,
		nullableString(e.ComputingReason),
		e.Network,
		nullableString(e.NetworkReason),
	)
	if err != nil {
		return fmt.Errorf("insert status transition: %w", err)
	}
	return nil
}

// RecordAttach appends an attach outcome.
func (j *Journal) RecordAttach(ctx context.Context, e AttachEntry) error {
	if e.Target == "" {
		return errors.New("attach entry requires target")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attach_outcomes (recorded_at, kind, target, outcome, code, detail)
         VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(e.RecordedAt),
		e.Kind,
		e.Target,
		e.Outcome,
		e.Code,
		nullableString(e.Detail),
	)
	if err != nil {
		return fmt.Errorf("insert attach outcome: %w", err)
	}
	return nil
}

// RecordTask stores a finished task. Recording the same ID twice replaces it.
func (j *Journal) RecordTask(ctx context.Context, e TaskEntry) error {
	if e.ID == "" {
		return errors.New("task entry requires id")
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (id, kind, target, result, error_message, started_at, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Kind,
		nullableString(e.Target),
		e.Result,
		nullableString(e.Error),
		formatTime(e.StartedAt),
		formatTime(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ListStatus returns up to limit status transitions, newest first.
func (j *Journal) ListStatus(ctx context.Context, limit int) ([]StatusEntry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, recorded_at, setup, computing, computing_reason, network, network_reason
         FROM status_transitions ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query status transitions: %w", err)
	}
	defer rows.Close()

	var out []StatusEntry
	for rows.Next() {
		var (
			e         StatusEntry
			at        string
			compReas  sql.NullString
			netReason sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Setup, &e.Computing, &compReas, &e.Network, &netReason); err != nil {
			return nil, fmt.Errorf("scan status transition: %w", err)
		}
		e.RecordedAt = parseTime(at)
		e.ComputingReason = compReas.String
		e.NetworkReason = netReason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAttach returns up to limit attach outcomes, newest first. A non-empty
// target filters by URL.
func (j *Journal) ListAttach(ctx context.Context, target string, limit int) ([]AttachEntry, error) {
	query := `SELECT id, recorded_at, kind, target, outcome, code, detail FROM attach_outcomes`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, normalizeLimit(limit))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attach outcomes: %w", err)
	}
	defer rows.Close()

	var out []AttachEntry
	for rows.Next() {
		var (
			e      AttachEntry
			at     string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.Target, &e.Outcome, &e.Code, &detail); err != nil {
			return nil, fmt.Errorf("scan attach outcome: %w", err)
		}
		e.RecordedAt = parseTime(at)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTasks returns up to limit finished tasks, most recently finished first.
func (j *Journal) ListTasks(ctx context.Context, limit int) ([]TaskEntry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, target, result, error_message, started_at, finished_at
         FROM tasks ORDER BY finished_at DESC, id LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskEntry
	for rows.Next() {
		var (
			e                 TaskEntry
			target, errMsg    sql.NullString
			started, finished string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &target, &e.Result, &errMsg, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		e.Target = target.String
		e.Error = errMsg.String
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many rows went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := formatTime(cutoff)
	var total int64
	statements := []string{
		`DELETE FROM status_transitions WHERE recorded_at < ?`,
		`DELETE FROM attach_outcomes WHERE recorded_at < ?`,
		`DELETE FROM tasks WHERE finished_at < ?`,
	}
	for _, stmt := range statements {
		res, err := j.db.ExecContext(ctx, stmt, ts)
		if err != nil {
			return total, fmt.Errorf("prune journal: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
