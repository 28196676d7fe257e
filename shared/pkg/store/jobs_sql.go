package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// jobColumns is the column order shared by the SQL stores
const jobColumns = `id, date, width, height, input_dir, output_dir, save_visual, fm_length,
	status, images, defects, quarantined, csv_path, error,
	created_at, started_at, completed_at, state_transitions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// jobArgs returns the values for jobColumns
func jobArgs(job *models.Job) ([]interface{}, error) {
	transitions, err := json.Marshal(job.StateTransitions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state_transitions: %w", err)
	}
	d := job.Descriptor
	return []interface{}{
		d.ID, d.Timestamp, d.Width, d.Height, d.InputDir, d.OutputDir, d.SaveVisual, d.FMLength,
		string(job.Status), job.Images, job.Defects, job.Quarantined, job.CSVPath, job.Error,
		job.CreatedAt, job.StartedAt, job.CompletedAt, string(transitions),
	}, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		transitions string
	)
	d := &job.Descriptor
	err := row.Scan(
		&d.ID, &d.Timestamp, &d.Width, &d.Height, &d.InputDir, &d.OutputDir, &d.SaveVisual, &d.FMLength,
		&status, &job.Images, &job.Defects, &job.Quarantined, &job.CSVPath, &job.Error,
		&job.CreatedAt, &startedAt, &completedAt, &transitions,
	)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if transitions != "" {
		if err := json.Unmarshal([]byte(transitions), &job.StateTransitions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state_transitions: %w", err)
		}
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
