// Package history persists pipeline run summaries so operators can see
// day-over-day movement in blocker counts. The pipeline itself never
// reads this store; it is purely an operator-facing record.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/relgate/relgate/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	run_date TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	partial INTEGER NOT NULL DEFAULT 0,
	blocking_count INTEGER NOT NULL DEFAULT 0,
	critical_count INTEGER NOT NULL DEFAULT 0,
	resolved_count INTEGER NOT NULL DEFAULT 0,
	test_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_issues (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	ticket_keys TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	source_message_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_date ON runs(run_date);
`

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	ID        string
	Channel   string
	Date      string // YYYY-MM-DD
	StartedAt time.Time
	Duration  time.Duration
	Partial   bool
	Blocking  int
	Critical  int
	Resolved  int
	Tests     int
}

// Store is the SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database, initializing the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists a run summary with its issues.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord, issues []types.Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, channel, run_date, started_at, duration_ms, partial,
		                  blocking_count, critical_count, resolved_count, test_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Channel, rec.Date, rec.StartedAt, rec.Duration.Milliseconds(),
		rec.Partial, rec.Blocking, rec.Critical, rec.Resolved, rec.Tests)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, issue := range issues {
		keys := ""
		for i, k := range issue.TicketKeys() {
			if i > 0 {
				keys += ","
			}
			keys += k
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_issues (run_id, kind, ticket_keys, text, source_message_id)
			VALUES (?, ?, ?, ?, ?)`,
			rec.ID, string(issue.Kind), keys, issue.Text, issue.SourceMessageID)
		if err != nil {
			return fmt.Errorf("failed to insert run issue: %w", err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, run_date, started_at, duration_ms, partial,
		       blocking_count, critical_count, resolved_count, test_count
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.Date, &rec.StartedAt, &durationMs,
			&rec.Partial, &rec.Blocking, &rec.Critical, &rec.Resolved, &rec.Tests); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return recs, nil
}

// Delta compares the latest run on each of two dates and returns the
// change in blocking count (positive means more blockers today).
func (s *Store) Delta(ctx context.Context, channel, fromDate, toDate string) (int, error) {
	from, err := s.latestBlocking(ctx, channel, fromDate)
	if err != nil {
		return 0, err
	}
	to, err := s.latestBlocking(ctx, channel, toDate)
	if err != nil {
		return 0, err
	}
	return to - from, nil
}

func (s *Store) latestBlocking(ctx context.Context, channel, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT blocking_count FROM runs
		WHERE channel = ? AND run_date = ?
		ORDER BY started_at DESC
		LIMIT 1`, channel, date).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query blocking count: %w", err)
	}
	return count, nil
}
