// Package history keeps a journal of finished sync runs in SQLite. The
// journal is informational: the planner never reads it.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/timewsync/timewsync/internal/db"
	"github.com/timewsync/timewsync/internal/sync"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("run id prefix is ambiguous")
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    remote_dir TEXT NOT NULL,
    started_at INTEGER NOT NULL, -- unix milliseconds
    duration_ms INTEGER NOT NULL,
    uploaded INTEGER NOT NULL,
    downloaded INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    conflicts INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS results (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    artifact TEXT NOT NULL,
    op TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT NOT NULL,
    bytes INTEGER NOT NULL,
    attempts INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);
`

// DefaultRetention is the number of runs kept by default.
const DefaultRetention = 200

// Run is one journal entry.
type Run struct {
	ID         string        `db:"id" json:"id" yaml:"id"`
	Mode       string        `db:"mode" json:"mode" yaml:"mode"`
	RemoteDir  string        `db:"remote_dir" json:"remote_dir" yaml:"remote_dir"`
	StartedAt  time.Time     `db:"-" json:"started_at" yaml:"started_at"`
	Duration   time.Duration `db:"-" json:"duration" yaml:"duration"`
	Uploaded   int           `db:"uploaded" json:"uploaded" yaml:"uploaded"`
	Downloaded int           `db:"downloaded" json:"downloaded" yaml:"downloaded"`
	Failed     int           `db:"failed" json:"failed" yaml:"failed"`
	Skipped    int           `db:"skipped" json:"skipped" yaml:"skipped"`
	Conflicts  int           `db:"conflicts" json:"conflicts" yaml:"conflicts"`
	Bytes      int64         `db:"bytes" json:"bytes" yaml:"bytes"`
	Error      string        `db:"error" json:"error,omitempty" yaml:"error,omitempty"`

	StartedAtMs int64 `db:"started_at" json:"-" yaml:"-"`
	DurationMs  int64 `db:"duration_ms" json:"-" yaml:"-"`
}

// Succeeded mirrors sync.Report.Succeeded for a stored run.
func (r *Run) Succeeded() bool {
	return r.Error == "" && r.Failed == 0
}

// Result is one stored action result.
type Result struct {
	RunID    string `db:"run_id" json:"-" yaml:"-"`
	Seq      int    `db:"seq" json:"-" yaml:"-"`
	Artifact string `db:"artifact" json:"id" yaml:"id"`
	Op       string `db:"op" json:"op" yaml:"op"`
	Status   string `db:"status" json:"status" yaml:"status"`
	Reason   string `db:"reason" json:"reason,omitempty" yaml:"reason,omitempty"`
	Bytes    int64  `db:"bytes" json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Attempts int    `db:"attempts" json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

type Option func(*Journal)

// WithRetention bounds the number of runs kept. Zero keeps everything.
func WithRetention(n int) Option {
	return func(j *Journal) {
		j.retention = n
	}
}

type Journal struct {
	db        *sqlx.DB
	retention int
}

// Open opens the journal at path, creating it if needed. Use ":memory:" for
// a throwaway journal.
func Open(path string, opts ...Option) (*Journal, error) {
	database, err := db.NewSqliteDB(db.WithPath(path), db.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	j := &Journal{db: database, retention: DefaultRetention}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores a finished report with its results.
func (j *Journal) Record(ctx context.Context, report *sync.Report) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	run := Run{
		ID:          report.RunID,
		Mode:        string(report.Mode),
		RemoteDir:   report.RemoteDir,
		StartedAtMs: report.StartedAt.UnixMilli(),
		DurationMs:  report.Duration.Milliseconds(),
		Uploaded:    report.Summary.Uploaded,
		Downloaded:  report.Summary.Downloaded,
		Failed:      report.Summary.Failed,
		Skipped:     report.Summary.Skipped,
		Conflicts:   report.Summary.Conflicts,
		Bytes:       report.Summary.Bytes,
		Error:       report.Error,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (id, mode, remote_dir, started_at, duration_ms, uploaded, downloaded, failed, skipped, conflicts, bytes, error)
		VALUES (:id, :mode, :remote_dir, :started_at, :duration_ms, :uploaded, :downloaded, :failed, :skipped, :conflicts, :bytes, :error)`,
		&run,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for i, res := range report.Results {
		row := Result{
			RunID:    report.RunID,
			Seq:      i,
			Artifact: res.ID,
			Op:       res.Op.String(),
			Status:   res.Status.String(),
			Reason:   res.Reason,
			Bytes:    res.Bytes,
			Attempts: res.Attempts,
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO results (run_id, seq, artifact, op, status, reason, bytes, attempts)
			VALUES (:run_id, :seq, :artifact, :op, :status, :reason, :bytes, :attempts)`,
			&row,
		)
		if err != nil {
			return fmt.Errorf("insert result %s: %w", res.ID, err)
		}
	}

	if j.retention > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
			)`, j.retention); err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Run, error) {
	var runs []*Run
	err := j.db.SelectContext(ctx, &runs, `
		SELECT id, mode, remote_dir, started_at, duration_ms, uploaded, downloaded, failed, skipped, conflicts, bytes, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	for _, r := range runs {
		r.StartedAt = time.UnixMilli(r.StartedAtMs)
		r.Duration = time.Duration(r.DurationMs) * time.Millisecond
	}
	return runs, nil
}

// Results returns the stored results of one run in execution order.
func (j *Journal) Results(ctx context.Context, runID string) ([]*Result, error) {
	var results []*Result
	err := j.db.SelectContext(ctx, &results, `
		SELECT run_id, seq, artifact, op, status, reason, bytes, attempts
		FROM results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results for %s: %w", runID, err)
	}
	return results, nil
}

// Count returns the number of stored runs.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM runs"); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// ResolveID expands a run id prefix, as shown by the history listing, to the
// full id.
func (j *Journal) ResolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrRunNotFound
	}
	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(prefix)

	var ids []string
	err := j.db.SelectContext(ctx, &ids, `SELECT id FROM runs WHERE id LIKE ? ESCAPE '!' ORDER BY id LIMIT 2`, escaped+"%")
	if err != nil {
		return "", fmt.Errorf("query run %s: %w", prefix, err)
	}
	switch {
	case len(ids) == 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case len(ids) == 1 || ids[0] == prefix:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRun, prefix)
	}
}
