package scheduler

import (
	"fmt"

	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/store"
)

// InterruptedReason is recorded on jobs that were in flight when the process died
const InterruptedReason = "interrupted by restart"

// RecoveryManager reconciles the job ledger after a restart
type RecoveryManager struct {
	ledger store.Store
	logger *logging.Logger
}

// NewRecoveryManager creates a new RecoveryManager
func NewRecoveryManager(ledger store.Store, logger *logging.Logger) *RecoveryManager {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &RecoveryManager{ledger: ledger, logger: logger}
}

// FailInterrupted marks running and aggregating jobs as failed. Their workers
// died with the previous process, so the result table can't be trusted.
func (rm *RecoveryManager) FailInterrupted() (int, error) {
	failed := 0
	for _, status := range []models.JobStatus{models.JobStatusRunning, models.JobStatusAggregating} {
		jobs, err := rm.ledger.GetJobs(status)
		if err != nil {
			return failed, fmt.Errorf("failed to list %s jobs: %w", status, err)
		}
		for i := range jobs {
			job := &jobs[i]
			if err := job.Transition(models.JobStatusFailed, InterruptedReason); err != nil {
				continue
			}
			if err := rm.ledger.UpdateJob(job); err != nil {
				rm.logger.Error("Recovery: failed to mark job failed", map[string]interface{}{"job_id": job.Descriptor.ID, "error": err.Error()})
				continue
			}
			rm.logger.Warn("Recovery: interrupted job marked failed", map[string]interface{}{
				"job_id": job.Descriptor.ID,
				"date":   job.Descriptor.Timestamp,
				"status": string(status),
			})
			failed++
		}
	}
	return failed, nil
}

// PendingJobs returns the queued jobs of a previous run, oldest first.
// Their staging images are untouched, so they can be dispatched again.
func (rm *RecoveryManager) PendingJobs() ([]models.JobDescriptor, error) {
	jobs, err := rm.ledger.GetJobs(models.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	out := make([]models.JobDescriptor, 0, len(jobs))
	for i := len(jobs) - 1; i >= 0; i-- {
		out = append(out, jobs[i].Descriptor)
	}
	return out, nil
}

// Recover fails interrupted jobs and re-queues the ones that never started.
// Call before Start.
func (s *Scheduler) Recover() (failed, requeued int, err error) {
	rm := NewRecoveryManager(s.ledger, s.logger)
	failed, err = rm.FailInterrupted()
	if err != nil {
		return failed, 0, err
	}

	pending, err := rm.PendingJobs()
	if err != nil {
		return failed, 0, err
	}
	for _, desc := range pending {
		if err := s.queue.Push(desc); err != nil {
			return failed, requeued, ErrStopped
		}
		requeued++
	}
	if failed > 0 || requeued > 0 {
		s.logger.Info("Recovery: ledger reconciled", map[string]interface{}{"failed": failed, "requeued": requeued})
	}
	s.metrics.SetQueueLength(s.queue.Len())
	return failed, requeued, nil
}
