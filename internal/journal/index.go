package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// ErrRunNotFound is returned when the index has no row for a run ID.
var ErrRunNotFound = errors.New("run not found")

// Index records one row per run so `runs list` does not walk the artifact
// tree. The index is best-effort: losing it never loses run artifacts.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the index database at path. Use ":memory:"
// in tests.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// NewIndexWithDB wraps an existing database handle. Tests use it with
// sqlmock to exercise error paths.
func NewIndexWithDB(db *sql.DB) *Index {
	return &Index{db: db}
}

func (i *Index) init() error {
	_, err := i.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			iterations INTEGER NOT NULL DEFAULT 0,
			session_id TEXT,
			artifact_dir TEXT,
			error TEXT,
			complete_history TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	_, err = i.db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`)
	if err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (i *Index) Close() error { return i.db.Close() }

// Insert records a freshly started run.
func (i *Index) Insert(ctx context.Context, summary models.RunSummary) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO runs (id, goal, status, iterations, session_id, artifact_dir, error, complete_history, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.RunID,
		summary.Goal,
		string(summary.Status),
		summary.Iterations,
		summary.SessionID,
		summary.ArtifactDir,
		summary.Error,
		encodeHistory(summary.CompleteHistory),
		summary.StartedAt.UTC(),
		nullTime(summary.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish updates the terminal fields of a run row.
func (i *Index) Finish(ctx context.Context, summary models.RunSummary) error {
	_, err := i.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, iterations = ?, session_id = ?, error = ?, complete_history = ?, finished_at = ?
		WHERE id = ?
	`,
		string(summary.Status),
		summary.Iterations,
		summary.SessionID,
		summary.Error,
		encodeHistory(summary.CompleteHistory),
		nullTime(summary.FinishedAt),
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Get returns a single run by ID.
func (i *Index) Get(ctx context.Context, runID string) (models.RunSummary, error) {
	row := i.db.QueryRowContext(ctx, `
		SELECT id, goal, status, iterations, session_id, artifact_dir, error, complete_history, started_at, finished_at
		FROM runs WHERE id = ?
	`, runID)
	summary, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RunSummary{}, ErrRunNotFound
	}
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("get run: %w", err)
	}
	return summary, nil
}

// List returns the most recent runs, newest first.
func (i *Index) List(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := i.db.QueryContext(ctx, `
		SELECT id, goal, status, iterations, session_id, artifact_dir, error, complete_history, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunSummary
	for rows.Next() {
		summary, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes index rows whose run started before the cutoff
// and returns the affected run IDs so the sweeper can remove directories.
func (i *Index) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT id FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("select expired runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired run: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select expired runs: %w", err)
	}

	if len(ids) > 0 {
		if _, err := i.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return nil, fmt.Errorf("delete expired runs: %w", err)
		}
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (models.RunSummary, error) {
	var (
		summary    models.RunSummary
		status     string
		sessionID  sql.NullString
		dir        sql.NullString
		runError   sql.NullString
		history    sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&summary.RunID,
		&summary.Goal,
		&status,
		&summary.Iterations,
		&sessionID,
		&dir,
		&runError,
		&history,
		&summary.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return models.RunSummary{}, err
	}
	summary.Status = models.RunStatus(status)
	summary.SessionID = sessionID.String
	summary.ArtifactDir = dir.String
	summary.Error = runError.String
	summary.CompleteHistory = decodeHistory(history.String)
	if finishedAt.Valid {
		summary.FinishedAt = finishedAt.Time
	}
	return summary, nil
}

func encodeHistory(history []string) string {
	if len(history) == 0 {
		return "[]"
	}
	data, err := json.Marshal(history)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeHistory(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
