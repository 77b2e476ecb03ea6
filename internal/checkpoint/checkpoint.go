// Package checkpoint persists the last event id each system type has been
// processed through, plus a per-corporation log of every run.
//
// The checkpoint only moves forward after a run's window has been fully
// processed, so an interrupted run is repeated from the same starting point.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dbsmedya/regstage/internal/logger"
)

// RunStatus is the state of a system type's most recent run.
type RunStatus int

const (
	StatusIdle    RunStatus = 0
	StatusRunning RunStatus = 1
	StatusFailed  RunStatus = 2
)

func (s RunStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// LogStatus is the processing status of one corporation in a run.
type LogStatus string

const (
	LogStatusPending   LogStatus = "pending"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
)

const createCheckpointTableSQL = `
CREATE TABLE IF NOT EXISTS event_checkpoint (
	system_type TEXT PRIMARY KEY,
	last_event_id INTEGER NOT NULL DEFAULT 0,
	run_id TEXT,
	run_status INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

const createRunLogTableSQL = `
CREATE TABLE IF NOT EXISTS event_run_log (
	run_id TEXT NOT NULL,
	system_type TEXT NOT NULL,
	corp_num TEXT NOT NULL,
	prev_event_id INTEGER NOT NULL,
	last_event_id INTEGER,
	log_status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (run_id, corp_num)
)`

const createRunLogIndexSQL = `CREATE INDEX IF NOT EXISTS idx_event_run_log_status ON event_run_log (run_id, log_status)`

// State is the checkpoint of one system type.
type State struct {
	SystemType  string
	LastEventID int64
	RunID       string
	Status      RunStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Entry is one corporation queued by a run.
type Entry struct {
	CorpNum     string
	PrevEventID int64
	LastEventID *int64
}

// Stats counts a run's log entries by status.
type Stats struct {
	Pending   int
	Completed int
	Failed    int
}

// Store reads and writes checkpoints in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStore creates a checkpoint store.
func NewStore(db *sql.DB, log *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("checkpoint database is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{db: db, logger: log}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// InitializeTables creates the checkpoint tables if they don't exist.
func (s *Store) InitializeTables(ctx context.Context) error {
	for _, stmt := range []string{createCheckpointTableSQL, createRunLogTableSQL, createRunLogIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize checkpoint tables: %w", err)
		}
	}
	return nil
}

// GetOrCreate returns the checkpoint for systemType, creating it at event 0.
func (s *Store) GetOrCreate(ctx context.Context, systemType string) (*State, error) {
	state, err := s.get(ctx, systemType)
	if err == nil {
		if state.Status == StatusRunning {
			s.logger.Warnf("Previous run %s for %q did not finish; repeating from event %d",
				state.RunID, systemType, state.LastEventID)
		}
		return state, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	s.logger.Infof("Creating checkpoint for %q", systemType)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO event_checkpoint (system_type, last_event_id, run_status) VALUES (?, 0, ?)",
		systemType, StatusIdle,
	); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return &State{SystemType: systemType, Status: StatusIdle}, nil
}

func (s *Store) get(ctx context.Context, systemType string) (*State, error) {
	var state State
	var runID sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT system_type, last_event_id, run_id, run_status, created_at, updated_at FROM event_checkpoint WHERE system_type = ?",
		systemType,
	).Scan(&state.SystemType, &state.LastEventID, &runID, &state.Status, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	state.RunID = runID.String
	return &state, nil
}

// LastEventID returns the event id systemType has been processed through,
// 0 when it has never run.
func (s *Store) LastEventID(ctx context.Context, systemType string) (int64, error) {
	state, err := s.get(ctx, systemType)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return state.LastEventID, nil
}

// BeginRun marks systemType as running under runID.
func (s *Store) BeginRun(ctx context.Context, systemType, runID string) error {
	if _, err := s.GetOrCreate(ctx, systemType); err != nil {
		return err
	}
	if err := s.update(ctx,
		"UPDATE event_checkpoint SET run_id = ?, run_status = ?, updated_at = CURRENT_TIMESTAMP WHERE system_type = ?",
		runID, StatusRunning, systemType,
	); err != nil {
		return fmt.Errorf("failed to begin run: %w", err)
	}
	s.logger.Debugf("Run %s started for %q", runID, systemType)
	return nil
}

// Advance moves the checkpoint to maxEventID and marks the run finished.
// A lower id than the stored one is ignored; the checkpoint never moves
// backwards.
func (s *Store) Advance(ctx context.Context, systemType string, maxEventID int64) error {
	current, err := s.LastEventID(ctx, systemType)
	if err != nil {
		return err
	}
	if maxEventID < current {
		s.logger.Warnf("Checkpoint for %q is at %d; ignoring move back to %d", systemType, current, maxEventID)
		maxEventID = current
	}
	if err := s.update(ctx,
		"UPDATE event_checkpoint SET last_event_id = ?, run_status = ?, updated_at = CURRENT_TIMESTAMP WHERE system_type = ?",
		maxEventID, StatusIdle, systemType,
	); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	s.logger.Infof("Checkpoint for %q advanced to event %d", systemType, maxEventID)
	return nil
}

// Fail marks the run failed, leaving the checkpoint where it was.
func (s *Store) Fail(ctx context.Context, systemType string) error {
	if err := s.update(ctx,
		"UPDATE event_checkpoint SET run_status = ?, updated_at = CURRENT_TIMESTAMP WHERE system_type = ?",
		StatusFailed, systemType,
	); err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LogPending records the corporations a run is about to process. Repeating
// an entry is a no-op.
func (s *Store) LogPending(ctx context.Context, runID, systemType string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin log transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO event_run_log (run_id, system_type, corp_num, prev_event_id, last_event_id, log_status) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare log insert: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			s.logger.Warnf("Failed to close statement: %v", err)
		}
	}()

	for _, e := range entries {
		var last interface{}
		if e.LastEventID != nil {
			last = *e.LastEventID
		}
		if _, err := stmt.ExecContext(ctx, runID, systemType, e.CorpNum, e.PrevEventID, last, LogStatusPending); err != nil {
			return fmt.Errorf("failed to log pending corporation %s: %w", e.CorpNum, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run log: %w", err)
	}
	tx = nil

	s.logger.Debugf("Logged %d pending corporations for run %s", len(entries), runID)
	return nil
}

// MarkCompleted records that a corporation was written.
func (s *Store) MarkCompleted(ctx context.Context, runID, corpNum string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE event_run_log SET log_status = ?, updated_at = CURRENT_TIMESTAMP WHERE run_id = ? AND corp_num = ?",
		LogStatusCompleted, runID, corpNum,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s completed: %w", corpNum, err)
	}
	return nil
}

// MarkFailed records why a corporation could not be assembled.
func (s *Store) MarkFailed(ctx context.Context, runID, corpNum, errorMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE event_run_log SET log_status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE run_id = ? AND corp_num = ?",
		LogStatusFailed, errorMsg, runID, corpNum,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", corpNum, err)
	}
	s.logger.Warnf("Marked %s failed in run %s: %s", corpNum, runID, errorMsg)
	return nil
}

// Stats counts a run's log entries by status.
func (s *Store) Stats(ctx context.Context, runID string) (Stats, error) {
	var stats Stats
	rows, err := s.db.QueryContext(ctx,
		"SELECT log_status, COUNT(*) FROM event_run_log WHERE run_id = ? GROUP BY log_status",
		runID,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to get run stats: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	for rows.Next() {
		var status LogStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan run stats: %w", err)
		}
		switch status {
		case LogStatusPending:
			stats.Pending = count
		case LogStatusCompleted:
			stats.Completed = count
		case LogStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
