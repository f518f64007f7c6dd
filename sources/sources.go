package sources

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/sitefeed/newsfeed"
)

// ErrSourceNotFound is returned when no run has been recorded for a source.
var ErrSourceNotFound = errors.New("source status not found")

// StatusStore records the health of each source's most recent pipeline
// runs using SQLite. It holds no items.
type StatusStore struct {
	db *sql.DB
}

// Status is the stored health row for one source.
type Status struct {
	SourceID            string           `json:"source_id"`
	LastRunAt           time.Time        `json:"last_run_at"`
	LastSuccessAt       *time.Time       `json:"last_success_at,omitempty"`
	LastOutcome         newsfeed.Outcome `json:"last_outcome"`
	LastItemCount       int              `json:"last_item_count"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastError           *string          `json:"last_error,omitempty"`
	LastRunID           uuid.UUID        `json:"last_run_id"`
}

// Healthy returns true if the most recent fresh run has not been followed
// by a failure.
func (s *Status) Healthy() bool {
	return s.ConsecutiveFailures == 0
}

// RunRecord describes one finished pipeline run.
type RunRecord struct {
	SourceID  string
	RunID     uuid.UUID
	At        time.Time
	Outcome   newsfeed.Outcome
	ItemCount int
	Err       error
}

// NewStatusStore creates a new status store with the given database path.
func NewStatusStore(dbPath string) (*StatusStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &StatusStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the source_status table if it doesn't exist.
func (s *StatusStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS source_status (
		source_id TEXT PRIMARY KEY,
		last_run_at TEXT NOT NULL,
		last_success_at TEXT,
		last_outcome TEXT NOT NULL,
		last_item_count INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_run_id TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *StatusStore) Close() error {
	return s.db.Close()
}

// RecordRun upserts the status row for a finished run. A fresh run resets
// the failure counter and stamps last_success_at; a fallback run increments
// the counter and keeps the previous success time. Cached runs touch only
// the run time and id.
func (s *StatusStore) RecordRun(rec RunRecord) error {
	if rec.SourceID == "" {
		return errors.New("run record has empty source id")
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	if rec.RunID == uuid.Nil {
		rec.RunID = uuid.New()
	}

	var lastError any
	if rec.Err != nil {
		lastError = rec.Err.Error()
	}

	var (
		successAt any
		failures  int
	)
	switch {
	case rec.Outcome.IsFallback():
		failures = 1
	case rec.Outcome == newsfeed.OutcomeFresh:
		successAt = formatTime(&rec.At)
	}

	query := `
	INSERT INTO source_status (
		source_id, last_run_at, last_success_at, last_outcome,
		last_item_count, consecutive_failures, last_error, last_run_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source_id) DO UPDATE SET
		last_run_at = excluded.last_run_at,
		last_success_at = COALESCE(excluded.last_success_at, source_status.last_success_at),
		last_outcome = excluded.last_outcome,
		last_item_count = excluded.last_item_count,
		consecutive_failures = CASE
			WHEN excluded.last_outcome = ? THEN 0
			WHEN excluded.consecutive_failures > 0 THEN source_status.consecutive_failures + 1
			ELSE source_status.consecutive_failures
		END,
		last_error = excluded.last_error,
		last_run_id = excluded.last_run_id
	`

	_, err := s.db.Exec(query,
		rec.SourceID,
		formatTime(&rec.At),
		successAt,
		string(rec.Outcome),
		rec.ItemCount,
		failures,
		lastError,
		rec.RunID.String(),
		string(newsfeed.OutcomeFresh),
	)
	if err != nil {
		return fmt.Errorf("failed to record run for %s: %w", rec.SourceID, err)
	}

	return nil
}

// GetStatus retrieves the status row for a source.
func (s *StatusStore) GetStatus(sourceID string) (*Status, error) {
	query := `
	SELECT source_id, last_run_at, last_success_at, last_outcome,
	       last_item_count, consecutive_failures, last_error, last_run_id
	FROM source_status
	WHERE source_id = ?
	`

	status, err := scanStatus(s.db.QueryRow(query, sourceID))
	if err == sql.ErrNoRows {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}

	return status, nil
}

// ListStatus returns every stored status row ordered by source id.
func (s *StatusStore) ListStatus() ([]Status, error) {
	query := `
	SELECT source_id, last_run_at, last_success_at, last_outcome,
	       last_item_count, consecutive_failures, last_error, last_run_id
	FROM source_status
	ORDER BY source_id
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	statuses := []Status{}
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, *status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate statuses: %w", err)
	}

	return statuses, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (*Status, error) {
	var (
		status        Status
		lastRunAt     string
		lastSuccessAt sql.NullString
		lastOutcome   string
		lastError     sql.NullString
		lastRunID     string
	)

	err := row.Scan(
		&status.SourceID,
		&lastRunAt,
		&lastSuccessAt,
		&lastOutcome,
		&status.LastItemCount,
		&status.ConsecutiveFailures,
		&lastError,
		&lastRunID,
	)
	if err != nil {
		return nil, err
	}

	status.LastRunAt = parseTime(lastRunAt)
	status.LastOutcome = newsfeed.Outcome(lastOutcome)
	if lastSuccessAt.Valid {
		t := parseTime(lastSuccessAt.String)
		status.LastSuccessAt = &t
	}
	if lastError.Valid {
		status.LastError = &lastError.String
	}
	status.LastRunID, err = uuid.Parse(lastRunID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", lastRunID, err)
	}

	return &status, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Strip monotonic clock for consistent storage and comparisons
	return t.Truncate(0).UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
