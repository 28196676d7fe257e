package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/models"
)

// RetentionConfig defines how long finished jobs stay in the ledger
type RetentionConfig struct {
	Enabled          bool
	JobRetentionDays int
	Interval         time.Duration
	VacuumInterval   time.Duration
}

// DefaultRetentionConfig returns the ledger retention defaults
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:          true,
		JobRetentionDays: 30,
		Interval:         24 * time.Hour,
		VacuumInterval:   7 * 24 * time.Hour,
	}
}

// Store is the subset of the job ledger retention needs
type Store interface {
	GetJobs(status models.JobStatus) ([]models.Job, error)
	DeleteJob(id string) error
	Vacuum() error
}

// RetentionManager prunes finished jobs from the ledger
type RetentionManager struct {
	config RetentionConfig
	store  Store
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats RetentionStats
}

// RetentionStats tracks pruning runs
type RetentionStats struct {
	LastRunTime      time.Time
	LastVacuumTime   time.Time
	TotalJobsDeleted int64
	TotalVacuumRuns  int64
}

// NewRetentionManager creates a retention manager
func NewRetentionManager(config RetentionConfig, store Store, logger *logging.Logger) *RetentionManager {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetentionManager{
		config: config,
		store:  store,
		logger: logger.WithField("component", "retention"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the periodic loops
func (rm *RetentionManager) Start() {
	if !rm.config.Enabled {
		rm.logger.Info("Ledger retention disabled")
		return
	}
	rm.logger.Info("Starting ledger retention", map[string]interface{}{
		"retention_days": rm.config.JobRetentionDays,
		"interval":       rm.config.Interval.String(),
	})

	rm.wg.Add(1)
	go rm.loop()
}

// Stop ends the loops and waits for them
func (rm *RetentionManager) Stop() {
	rm.cancel()
	rm.wg.Wait()
}

func (rm *RetentionManager) loop() {
	defer rm.wg.Done()

	prune := time.NewTicker(rm.config.Interval)
	defer prune.Stop()
	vacuum := time.NewTicker(rm.config.VacuumInterval)
	defer vacuum.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-prune.C:
			rm.PruneNow()
		case <-vacuum.C:
			rm.VacuumNow()
		}
	}
}

// PruneNow deletes completed and failed jobs older than the retention period
// and returns how many were removed
func (rm *RetentionManager) PruneNow() int {
	cutoff := time.Now().Add(-time.Duration(rm.config.JobRetentionDays) * 24 * time.Hour)
	deleted := 0

	for _, status := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed} {
		jobs, err := rm.store.GetJobs(status)
		if err != nil {
			rm.logger.Error("Failed to list jobs", map[string]interface{}{"status": status, "error": err.Error()})
			continue
		}
		for _, job := range jobs {
			ref := job.CreatedAt
			if job.CompletedAt != nil {
				ref = *job.CompletedAt
			}
			if !ref.Before(cutoff) {
				continue
			}
			if err := rm.store.DeleteJob(job.Descriptor.ID); err != nil {
				rm.logger.Warn("Failed to delete job", map[string]interface{}{"job_id": job.Descriptor.ID, "error": err.Error()})
				continue
			}
			deleted++
		}
	}

	rm.mu.Lock()
	rm.stats.LastRunTime = time.Now()
	rm.stats.TotalJobsDeleted += int64(deleted)
	rm.mu.Unlock()

	if deleted > 0 {
		rm.logger.Info("Pruned finished jobs", map[string]interface{}{"deleted": deleted})
	}
	return deleted
}

// VacuumNow compacts the ledger
func (rm *RetentionManager) VacuumNow() {
	if err := rm.store.Vacuum(); err != nil {
		rm.logger.Error("Ledger vacuum failed", map[string]interface{}{"error": err.Error()})
		return
	}
	rm.mu.Lock()
	rm.stats.LastVacuumTime = time.Now()
	rm.stats.TotalVacuumRuns++
	rm.mu.Unlock()
}

// GetStats returns current retention statistics
func (rm *RetentionManager) GetStats() RetentionStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.stats
}
