package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// SQLiteStore is a SQLite-based job ledger
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the ledger at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL plus a busy timeout lets the API read while the scheduler writes
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		input_dir TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		save_visual BOOLEAN NOT NULL DEFAULT 0,
		fm_length INTEGER NOT NULL,
		status TEXT NOT NULL,
		images INTEGER NOT NULL DEFAULT 0,
		defects INTEGER NOT NULL DEFAULT 0,
		quarantined INTEGER NOT NULL DEFAULT 0,
		csv_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		state_transitions TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_date ON jobs(date, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a job
func (s *SQLiteStore) CreateJob(job *models.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if existing, getErr := s.GetJob(job.Descriptor.ID); getErr == nil && existing != nil {
			return ErrJobExists
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	return scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

// GetJobByDate returns the newest job for a product timestamp
func (s *SQLiteStore) GetJobByDate(date string) (*models.Job, error) {
	return scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE date = ?
		ORDER BY created_at DESC LIMIT 1`, date))
}

// GetJobs lists jobs newest first
func (s *SQLiteStore) GetJobs(status models.JobStatus) ([]models.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	return scanJobs(rows)
}

// UpdateJob writes every mutable column of a job
func (s *SQLiteStore) UpdateJob(job *models.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	// args[0] is the id; the rest follow jobColumns order
	res, err := s.db.Exec(`UPDATE jobs SET
		date = ?, width = ?, height = ?, input_dir = ?, output_dir = ?, save_visual = ?, fm_length = ?,
		status = ?, images = ?, defects = ?, quarantined = ?, csv_path = ?, error = ?,
		created_at = ?, started_at = ?, completed_at = ?, state_transitions = ?
		WHERE id = ?`, append(args[1:], args[0])...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job
func (s *SQLiteStore) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Vacuum reclaims space after deletions
func (s *SQLiteStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}
