package store

import (
	"errors"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// Store is the job ledger. SQLite, PostgreSQL and an in-memory map implement it.
type Store interface {
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	// GetJobByDate returns the most recent job for a product timestamp
	GetJobByDate(date string) (*models.Job, error)
	// GetJobs lists jobs newest first; an empty status lists every job
	GetJobs(status models.JobStatus) ([]models.Job, error)
	UpdateJob(job *models.Job) error
	DeleteJob(id string) error

	Close() error
	HealthCheck() error
	Vacuum() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string or SQLite file path

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var (
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	ErrJobNotFound         = errors.New("job not found")
	ErrJobExists           = errors.New("job already exists")
)

// DefaultSQLitePath is used when no DSN is configured
const DefaultSQLitePath = "sdd-jobs.db"

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.DSN
		if path == "" {
			path = DefaultSQLitePath
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
