package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"awxtrigger/internal/logger"
	"awxtrigger/internal/storage/models"
)

const timestampFormat = "2006-01-02 15:04:05.000000"

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("workflow run not found")

// Store is the SQLite run ledger
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// A single invocation writes sequentially
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err = store.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("Run ledger opened", "path", dbPath)
	return store, nil
}

// createTables creates the necessary database tables
func (s *Store) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		template_id TEXT NOT NULL,
		branch TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		username TEXT NOT NULL,
		job_id TEXT,
		status TEXT,
		polls INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL,
		error TEXT
	)
	`)

	return err
}

// StartRun records a new run and returns it with its generated id
func (s *Store) StartRun(run models.WorkflowRun) (models.WorkflowRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Result == "" {
		run.Result = models.ResultRunning
	}

	_, err := s.db.Exec(
		`INSERT INTO workflow_runs (id, started_at, template_id, branch, commit_sha, username, job_id, status, polls, result, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(timestampFormat),
		run.TemplateID,
		run.Branch,
		run.Commit,
		run.Username,
		run.JobID,
		run.Status,
		run.Polls,
		run.Result,
		run.Error,
	)
	if err != nil {
		logger.Error("Failed to insert workflow run", "error", err)
		return run, err
	}

	return run, nil
}

// SetJobID attaches the launched job id to a run
func (s *Store) SetJobID(runID, jobID string) error {
	return s.update(`UPDATE workflow_runs SET job_id = ? WHERE id = ?`, jobID, runID)
}

// FinishRun stores the final outcome of a run
func (s *Store) FinishRun(runID, status string, polls int, result, errMsg string) error {
	return s.update(
		`UPDATE workflow_runs SET finished_at = ?, status = ?, polls = ?, result = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(timestampFormat),
		status,
		polls,
		result,
		errMsg,
		runID,
	)
}

func (s *Store) update(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRuns retrieves runs, newest first, with pagination
func (s *Store) ListRuns(limit, offset int) ([]models.WorkflowRun, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, template_id, branch, commit_sha, username, job_id, status, polls, result, error FROM workflow_runs ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.WorkflowRun
	for rows.Next() {
		var run models.WorkflowRun
		var startedAt string
		var finishedAt, jobID, status, errMsg sql.NullString

		if err := rows.Scan(
			&run.ID,
			&startedAt,
			&finishedAt,
			&run.TemplateID,
			&run.Branch,
			&run.Commit,
			&run.Username,
			&jobID,
			&status,
			&run.Polls,
			&run.Result,
			&errMsg,
		); err != nil {
			return nil, err
		}

		run.StartedAt, err = parseTimestamp(startedAt)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
		if finishedAt.Valid && finishedAt.String != "" {
			finished, err := parseTimestamp(finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: %w", run.ID, err)
			}
			run.FinishedAt = &finished
		}
		run.JobID = jobID.String
		run.Status = status.String
		run.Error = errMsg.String

		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// parseTimestamp accepts timestamps with or without microseconds.
// The sqlite3 driver may also hand back RFC3339 for DATETIME columns.
func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{timestampFormat, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
