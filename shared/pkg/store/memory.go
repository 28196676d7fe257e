package store

import (
	"sort"
	"sync"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// MemoryStore is an in-memory implementation of the job ledger
type MemoryStore struct {
	jobs map[string]*models.Job
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func cloneJob(job *models.Job) *models.Job {
	cp := *job
	cp.StateTransitions = append([]models.StateTransition(nil), job.StateTransitions...)
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// CreateJob adds a job
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Descriptor.ID]; exists {
		return ErrJobExists
	}
	s.jobs[job.Descriptor.ID] = cloneJob(job)
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// GetJobByDate returns the newest job for a product timestamp
func (s *MemoryStore) GetJobByDate(date string) (*models.Job, error) {
	jobs, _ := s.GetJobs("")
	for i := range jobs {
		if jobs[i].Descriptor.Timestamp == date {
			return &jobs[i], nil
		}
	}
	return nil, ErrJobNotFound
}

// GetJobs lists jobs newest first
func (s *MemoryStore) GetJobs(status models.JobStatus) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, *cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateJob replaces a stored job
func (s *MemoryStore) UpdateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Descriptor.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.Descriptor.ID] = cloneJob(job)
	return nil
}

// DeleteJob removes a job
func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck() error { return nil }

// Vacuum is a no-op
func (s *MemoryStore) Vacuum() error { return nil }
