// Package history keeps a gateway-local record of submissions and their
// observed outcomes in SQLite. It exists for listing and statistics only:
// the filesystem areas remain the sole authority on any job's state, and
// nothing in the pipeline ever reads job state back from here.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/voxlane/voxlane/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    engine       TEXT NOT NULL,
    status       TEXT NOT NULL,
    text_chars   INTEGER NOT NULL,
    has_ref      INTEGER NOT NULL,
    error        TEXT,
    duration_ms  INTEGER,
    submitted_at DATETIME NOT NULL,
    finished_at  DATETIME
)`

// ErrNotFound is returned when a job is not recorded.
var ErrNotFound = errors.New("job not recorded")

// Job is one recorded submission.
type Job struct {
	ID          string     `json:"id"`
	Engine      string     `json:"engine"`
	Status      string     `json:"status"`
	TextChars   int        `json:"text_chars"`
	HasRef      bool       `json:"has_ref"`
	Error       string     `json:"error,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Stats holds aggregate submission statistics.
type Stats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByEngine  map[string]int `json:"count_by_engine"`
	AvgSynthesisMS float64        `json:"avg_synthesis_ms"`
}

// Store records jobs in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSubmit inserts a new job record in the queued status.
func (s *Store) RecordSubmit(ctx context.Context, env *model.Envelope) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, engine, status, text_chars, has_ref, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		env.ID, env.Engine, model.StateQueued, len([]rune(env.Text)), env.HasRef, env.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// RecordOutcome marks a job terminal. It reports whether the record changed,
// so repeated observations of the same outcome stay idempotent. Observing an
// outcome for an unrecorded ID is not an error: the submission may predate
// the current database.
func (s *Store) RecordOutcome(ctx context.Context, id, status, cause string, durationMS int) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, duration_ms = ?, finished_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		status, cause, durationMS, time.Now().UTC(),
		id, model.StateCompleted, model.StateFailed,
	)
	if err != nil {
		return false, fmt.Errorf("update job outcome: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Get retrieves one recorded job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, engine, status, text_chars, has_ref, error, duration_ms, submitted_at, finished_at
		 FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Engine, &j.Status, &j.TextChars, &j.HasRef, &nullString{&j.Error}, &j.DurationMS, &j.SubmittedAt, &j.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// List returns a paginated list of jobs, newest submissions first, along
// with the total count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, engine, status, text_chars, has_ref, error, duration_ms, submitted_at, finished_at
		 FROM jobs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j := &Job{}
		if err := rows.Scan(
			&j.ID, &j.Engine, &j.Status, &j.TextChars, &j.HasRef,
			&nullString{&j.Error}, &j.DurationMS, &j.SubmittedAt, &j.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// GetStats aggregates submission counts and the average synthesis duration
// over completed jobs.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CountByStatus: make(map[string]int),
		CountByEngine: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	engineRows, err := s.db.QueryContext(ctx, "SELECT engine, COUNT(*) FROM jobs GROUP BY engine")
	if err != nil {
		return nil, fmt.Errorf("count by engine: %w", err)
	}
	defer engineRows.Close()
	for engineRows.Next() {
		var engine string
		var n int
		if err := engineRows.Scan(&engine, &n); err != nil {
			return nil, fmt.Errorf("scan engine count: %w", err)
		}
		stats.CountByEngine[engine] = n
	}
	if err := engineRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engine counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(AVG(duration_ms), 0) FROM jobs WHERE status = ? AND duration_ms > 0",
		model.StateCompleted,
	).Scan(&stats.AvgSynthesisMS)
	if err != nil {
		return nil, fmt.Errorf("average synthesis duration: %w", err)
	}

	return stats, nil
}

// nullString scans a nullable TEXT column into a plain string.
type nullString struct {
	s *string
}

func (n *nullString) Scan(value any) error {
	var ns sql.NullString
	if err := ns.Scan(value); err != nil {
		return err
	}
	*n.s = ns.String
	return nil
}
