// Package journal keeps an on-disk history of runs and their log events in
// SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
)

// Run is one recorded backend run.
type Run struct {
	RunID      string
	InstanceID string
	ScriptRef  string
	Label      string
	Params     map[string]any
	Status     string
	Reason     string
	StartedAt  time.Time
	// EndedAt is zero while the run is still open.
	EndedAt time.Time
}

// Ended reports whether the run has finished.
func (r Run) Ended() bool {
	return !r.EndedAt.IsZero()
}

// LogRow is one recorded log event.
type LogRow struct {
	RunID      string
	Seq        uint64
	Kind       string
	Message    string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Store is the journal database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod journal: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun records a confirmed run. Recording the same run twice keeps the
// first row.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	params, err := json.Marshal(run.Params)
	if err != nil || run.Params == nil {
		params = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, instance_id, script_ref, label, params, status, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO NOTHING
`, run.RunID, run.InstanceID, run.ScriptRef, run.Label, string(params), run.Status, ts(run.StartedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// EndRun marks a run finished. Only the first end is kept.
func (s *Store) EndRun(ctx context.Context, runID, status, reason string, endedAt time.Time) error {
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, reason = ?, ended_at = ?
WHERE run_id = ? AND ended_at IS NULL
`, status, reason, ts(endedAt), runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return err
		}
	}
	return nil
}

// AppendLog records one log event of a run. Duplicate sequence numbers are
// ignored.
func (s *Store) AppendLog(ctx context.Context, row LogRow) error {
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	var data any
	if len(row.Data) > 0 {
		data = string(row.Data)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_logs(run_id, seq, kind, message, data, received_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, seq) DO NOTHING
`, row.RunID, int64(row.Seq), row.Kind, row.Message, data, ts(row.ReceivedAt))
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

const runColumns = `run_id, instance_id, script_ref, label, params, status, reason, started_at, ended_at`

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, errors.NewNotFoundError("run", runID)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// RunLogs returns a run's log events in sequence order.
func (s *Store) RunLogs(ctx context.Context, runID string) ([]LogRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, seq, kind, message, data, received_at FROM run_logs
WHERE run_id = ? ORDER BY seq
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]LogRow, 0)
	for rows.Next() {
		var (
			row      LogRow
			seq      int64
			data     sql.NullString
			received string
		)
		if err := rows.Scan(&row.RunID, &seq, &row.Kind, &row.Message, &data, &received); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		row.Seq = uint64(seq)
		if data.Valid {
			row.Data = json.RawMessage(data.String)
		}
		if row.ReceivedAt, err = parseTS(received); err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Purge deletes runs that started before cutoff, with their logs.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run     Run
		params  string
		started string
		ended   sql.NullString
	)
	if err := scanner.Scan(&run.RunID, &run.InstanceID, &run.ScriptRef, &run.Label, &params,
		&run.Status, &run.Reason, &started, &ended); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return Run{}, fmt.Errorf("decode params of run %s: %w", run.RunID, err)
	}
	var err error
	if run.StartedAt, err = parseTS(started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if ended.Valid {
		if run.EndedAt, err = parseTS(ended.String); err != nil {
			return Run{}, fmt.Errorf("parse ended_at: %w", err)
		}
	}
	return run, nil
}

// tsLayout has a fixed-width fraction so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
