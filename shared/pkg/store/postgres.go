package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		input_dir TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		save_visual BOOLEAN NOT NULL DEFAULT false,
		fm_length INTEGER NOT NULL,
		status TEXT NOT NULL,
		images INTEGER NOT NULL DEFAULT 0,
		defects INTEGER NOT NULL DEFAULT 0,
		quarantined INTEGER NOT NULL DEFAULT 0,
		csv_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		state_transitions TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_date ON jobs(date, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// placeholders returns "$from, ..., $to"
func placeholders(from, to int) string {
	parts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		parts = append(parts, fmt.Sprintf("$%d", i))
	}
	return strings.Join(parts, ", ")
}

// CreateJob inserts a job
func (s *PostgreSQLStore) CreateJob(job *models.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO jobs (`+jobColumns+`) VALUES (`+placeholders(1, len(args))+`)`, args...)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *PostgreSQLStore) GetJob(id string) (*models.Job, error) {
	return scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetJobByDate returns the newest job for a product timestamp
func (s *PostgreSQLStore) GetJobByDate(date string) (*models.Job, error) {
	return scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE date = $1
		ORDER BY created_at DESC LIMIT 1`, date))
}

// GetJobs lists jobs newest first
func (s *PostgreSQLStore) GetJobs(status models.JobStatus) ([]models.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	return scanJobs(rows)
}

// UpdateJob writes every mutable column of a job
func (s *PostgreSQLStore) UpdateJob(job *models.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE jobs SET
		date = $2, width = $3, height = $4, input_dir = $5, output_dir = $6, save_visual = $7, fm_length = $8,
		status = $9, images = $10, defects = $11, quarantined = $12, csv_path = $13, error = $14,
		created_at = $15, started_at = $16, completed_at = $17, state_transitions = $18
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job
func (s *PostgreSQLStore) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Close closes the connection pool
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}

// Vacuum runs VACUUM ANALYZE on the jobs table
func (s *PostgreSQLStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM ANALYZE jobs")
	return err
}
