// Package history persists matrix run results in a local SQLite database
// (~/.local/share/matrixctl/history.db by default) so earlier runs can be
// listed and inspected.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"matrixctl/internal/matrix"
	"matrixctl/internal/recipe"
	"matrixctl/internal/runner"
)

var (
	// ErrRunNotFound is returned when no run matches an id.
	ErrRunNotFound = errors.New("run not found")
	// ErrAmbiguousID is returned when an id prefix matches several runs.
	ErrAmbiguousID = errors.New("run id prefix is ambiguous")
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	event       TEXT NOT NULL,
	backend     TEXT NOT NULL,
	aggregate   TEXT NOT NULL,
	total       INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	cancelled   INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
CREATE TABLE IF NOT EXISTS entry_results (
	run_id      TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	runs_on     TEXT NOT NULL,
	os          TEXT NOT NULL,
	python      TEXT NOT NULL,
	profile     TEXT NOT NULL,
	status      TEXT NOT NULL,
	failed_step TEXT NOT NULL,
	phase       TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	error       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	steps       TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);
`

// RunSummary is one row of the run list.
type RunSummary struct {
	ID        string        `json:"id"`
	Workflow  string        `json:"workflow"`
	Event     matrix.Event  `json:"event,omitempty"`
	Backend   string        `json:"backend"`
	Aggregate runner.Status `json:"aggregate"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the history database location under XDG_DATA_HOME.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "matrixctl", "history.db")
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun stores a run and all its entry results. Saving the same run id
// again replaces the earlier record.
func (s *Store) SaveRun(ctx context.Context, result *runner.RunResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, result.ID); err != nil {
		return fmt.Errorf("replace run %s: %w", result.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, workflow, event, backend, aggregate, total, passed, failed, cancelled, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		result.ID,
		result.Workflow,
		string(result.Event),
		result.Backend,
		string(result.Aggregate),
		result.Total,
		result.Passed,
		result.Failed,
		result.Cancelled,
		toMillis(result.StartTime),
		toMillis(result.EndTime),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", result.ID, err)
	}

	for i, e := range result.Entries {
		steps, err := json.Marshal(e.Steps)
		if err != nil {
			return fmt.Errorf("encode steps of %s: %w", e.Entry.DisplayName(), err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO entry_results (run_id, position, name, runs_on, os, python, profile, status, failed_step, phase, exit_code, error, started_at, finished_at, steps)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			result.ID,
			i,
			e.Entry.Name,
			e.Entry.RunsOn,
			string(e.Entry.OS),
			e.Entry.Python,
			e.Entry.Profile,
			string(e.Status),
			e.FailedStep,
			string(e.Phase),
			e.ExitCode,
			e.Error,
			toMillis(e.StartTime),
			toMillis(e.EndTime),
			string(steps),
		)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Entry.DisplayName(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", result.ID, err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, workflow, event, backend, aggregate, total, passed, failed, cancelled, started_at, finished_at
FROM runs
ORDER BY started_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunSummary, 0, limit)
	for rows.Next() {
		var (
			r                 RunSummary
			event, aggregate  string
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Workflow, &event, &r.Backend, &aggregate, &r.Total, &r.Passed, &r.Failed, &r.Cancelled, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Event = matrix.Event(event)
		r.Aggregate = runner.Status(aggregate)
		r.StartTime = fromMillis(started)
		r.Duration = fromMillis(finished).Sub(r.StartTime)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun loads a run by id or by a unique id prefix.
func (s *Store) GetRun(ctx context.Context, id string) (*runner.RunResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("run id is required")
	}

	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		r                 runner.RunResult
		event, aggregate  string
		started, finished int64
	)
	err = s.db.QueryRowContext(ctx, `
SELECT id, workflow, event, backend, aggregate, total, passed, failed, cancelled, started_at, finished_at
FROM runs WHERE id = ?
`, fullID).Scan(&r.ID, &r.Workflow, &event, &r.Backend, &aggregate, &r.Total, &r.Passed, &r.Failed, &r.Cancelled, &started, &finished)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", fullID, err)
	}
	r.Event = matrix.Event(event)
	r.Aggregate = runner.Status(aggregate)
	r.StartTime = fromMillis(started)
	r.EndTime = fromMillis(finished)
	r.Duration = r.EndTime.Sub(r.StartTime)

	entries, err := s.entries(ctx, fullID)
	if err != nil {
		return nil, err
	}
	r.Entries = entries
	return &r, nil
}

func (s *Store) resolveID(ctx context.Context, prefix string) (string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escaped+"%")
	if err != nil {
		return "", fmt.Errorf("look up run %s: %w", prefix, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan run id: %w", err)
		}
		if id == prefix {
			return id, nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("look up run %s: %w", prefix, err)
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
	}
}

func (s *Store) entries(ctx context.Context, runID string) ([]runner.EntryResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, runs_on, os, python, profile, status, failed_step, phase, exit_code, error, started_at, finished_at, steps
FROM entry_results
WHERE run_id = ?
ORDER BY position
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []runner.EntryResult
	for rows.Next() {
		var (
			e                     runner.EntryResult
			osName, status, phase string
			started, finished     int64
			steps                 string
		)
		if err := rows.Scan(&e.Entry.Name, &e.Entry.RunsOn, &osName, &e.Entry.Python, &e.Entry.Profile,
			&status, &e.FailedStep, &phase, &e.ExitCode, &e.Error, &started, &finished, &steps); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Entry.OS = matrix.OS(osName)
		e.Status = runner.Status(status)
		e.Phase = recipe.Phase(phase)
		e.StartTime = fromMillis(started)
		e.EndTime = fromMillis(finished)
		e.Duration = e.EndTime.Sub(e.StartTime)
		if err := json.Unmarshal([]byte(steps), &e.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of %s: %w", e.Entry.DisplayName(), err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
