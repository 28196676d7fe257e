package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/sdd-inspector/pkg/cleanup"
	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/resources"
	"github.com/psantana5/sdd-inspector/pkg/results"
	"github.com/psantana5/sdd-inspector/pkg/store"
	"github.com/psantana5/sdd-inspector/pkg/tracing"
)

// Defaults
const (
	DefaultWorkerTimeout = 30 * time.Minute
	DefaultKillGrace     = 5 * time.Second
	DefaultEventBuffer   = 16
)

// ErrStopped is returned by Submit after Stop
var ErrStopped = errors.New("scheduler stopped")

// Config holds scheduler configuration
type Config struct {
	Groups        models.CameraGroups
	WorkerTimeout time.Duration // Bound on waiting for every group's sentinel
	KillGrace     time.Duration // How long to wait for killed workers to exit
	EventBuffer   int           // Capacity of the status and completion channels
}

// DefaultConfig returns the production settings for groups
func DefaultConfig(groups models.CameraGroups) Config {
	return Config{
		Groups:        groups,
		WorkerTimeout: DefaultWorkerTimeout,
		KillGrace:     DefaultKillGrace,
		EventBuffer:   DefaultEventBuffer,
	}
}

// Renamer marks defect images once a job's table is written
type Renamer interface {
	Rename(ctx context.Context, csvPath, outDir string) (results.RenameStats, error)
}

// Cleaner removes a job's staging directory in the background
type Cleaner interface {
	Clean(path string)
}

// Deps are the collaborators of a Scheduler. Only Launcher is required.
type Deps struct {
	Launcher Launcher
	Ledger   store.Store
	GPUs     *resources.Manager
	Renamer  Renamer
	Cleaner  Cleaner
	Metrics  *metrics.Collector
	Tracer   *tracing.Provider
	Logger   *logging.Logger
}

// Scheduler runs inspection jobs strictly one at a time: it spawns one worker
// per camera group, merges their result streams, writes the table, then
// renames defects and purges staging.
type Scheduler struct {
	config     Config
	queue      *JobQueue
	launcher   Launcher
	ledger     store.Store
	gpus       *resources.Manager
	renamer    Renamer
	cleaner    Cleaner
	metrics    *metrics.Collector
	tracer     *tracing.Provider
	logger     *logging.Logger
	aggregator *Aggregator

	status     chan models.StatusEvent
	completion chan models.CompletionEvent
	progress   atomic.Int64
	working    atomic.Bool

	mu      sync.Mutex
	current string
	started bool
	doneCh  chan struct{}
}

// New validates the group table and wires defaults for missing deps
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if err := cfg.Groups.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera groups: %w", err)
	}
	if deps.Launcher == nil {
		return nil, fmt.Errorf("scheduler requires a launcher")
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultWorkerTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if deps.Ledger == nil {
		deps.Ledger = store.NewMemoryStore()
	}
	if deps.GPUs == nil {
		deps.GPUs = resources.NewManager()
	}
	if err := deps.GPUs.Validate(cfg.Groups); err != nil {
		return nil, err
	}
	if deps.Renamer == nil {
		deps.Renamer = results.NewRenamer(logger)
	}
	if deps.Cleaner == nil {
		deps.Cleaner = cleanup.NewStagingCleaner(logger)
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}

	s := &Scheduler{
		config:     cfg,
		queue:      NewJobQueue(),
		launcher:   deps.Launcher,
		ledger:     deps.Ledger,
		gpus:       deps.GPUs,
		renamer:    deps.Renamer,
		cleaner:    deps.Cleaner,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		logger:     logger,
		status:     make(chan models.StatusEvent, cfg.EventBuffer),
		completion: make(chan models.CompletionEvent, cfg.EventBuffer),
		doneCh:     make(chan struct{}),
	}
	s.aggregator = NewAggregator(&s.progress, deps.Metrics, logger)
	return s, nil
}

// Submit records desc in the ledger and appends it to the queue.
// A missing ID is filled with a fresh uuid.
func (s *Scheduler) Submit(desc models.JobDescriptor) (*models.Job, error) {
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	if desc.FMLength <= 0 {
		desc.FMLength = models.DefaultFMLength
	}

	job := models.NewJob(desc)
	if err := s.ledger.CreateJob(job); err != nil {
		if errors.Is(err, store.ErrJobExists) {
			return nil, fmt.Errorf("job %s: %w", desc.ID, err)
		}
		s.logger.Warn("Failed to record job in ledger", map[string]interface{}{"job_id": desc.ID, "error": err.Error()})
	}

	if err := s.queue.Push(desc); err != nil {
		s.markFailed(job, ErrStopped.Error())
		return nil, ErrStopped
	}
	s.metrics.SetQueueLength(s.queue.Len())
	s.logger.Info("Job queued", map[string]interface{}{
		"job_id":       desc.ID,
		"date":         desc.Timestamp,
		"queue_length": s.queue.Len(),
	})
	return job, nil
}

// Start begins the dispatch loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.logger.Info("Scheduler started", map[string]interface{}{
		"groups":         len(s.config.Groups),
		"worker_timeout": s.config.WorkerTimeout.String(),
	})
	go s.run()
}

// Stop closes the queue, lets the current job finish and fails whatever was
// still waiting. It returns ctx.Err() if the current job outlives ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler...")
	s.queue.Close()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.dropPending()
		return nil
	}

	select {
	case <-s.doneCh:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not drain: %w", ctx.Err())
	}
}

// StatusEvents delivers Working true/false around every job
func (s *Scheduler) StatusEvents() <-chan models.StatusEvent { return s.status }

// CompletionEvents delivers one event per written result table
func (s *Scheduler) CompletionEvents() <-chan models.CompletionEvent { return s.completion }

// Progress returns the number of images aggregated since start
func (s *Scheduler) Progress() int64 { return s.progress.Load() }

// Working reports whether a job is in flight
func (s *Scheduler) Working() bool { return s.working.Load() }

// QueueLength returns the number of jobs waiting
func (s *Scheduler) QueueLength() int { return s.queue.Len() }

// Current returns the ID of the job in flight, or ""
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Idle reports whether nothing is running or waiting
func (s *Scheduler) Idle() bool {
	return !s.Working() && s.queue.Len() == 0
}

// Ledger exposes the job store for read-side callers
func (s *Scheduler) Ledger() store.Store { return s.ledger }

func (s *Scheduler) run() {
	defer close(s.doneCh)
	for {
		desc, err := s.queue.Pop(context.Background())
		if err != nil {
			break
		}
		s.metrics.SetQueueLength(s.queue.Len())
		s.runJob(desc)
	}
	s.dropPending()
}

func (s *Scheduler) dropPending() {
	for _, desc := range s.queue.Drain() {
		job := s.loadJob(desc)
		s.markFailed(job, ErrStopped.Error())
		s.logger.Warn("Dropped queued job", map[string]interface{}{"job_id": desc.ID, "date": desc.Timestamp})
	}
	s.metrics.SetQueueLength(0)
}

func (s *Scheduler) loadJob(desc models.JobDescriptor) *models.Job {
	job, err := s.ledger.GetJob(desc.ID)
	if err != nil || job.Status != models.JobStatusQueued {
		return models.NewJob(desc)
	}
	return job
}

func (s *Scheduler) runJob(desc models.JobDescriptor) {
	start := time.Now()
	job := s.loadJob(desc)
	log := s.logger.WithFields(map[string]interface{}{"job_id": desc.ID, "date": desc.Timestamp})

	ctx, span := s.tracer.StartJob(context.Background(), desc.ID, desc.Timestamp, len(s.config.Groups))
	defer span.End()

	s.mu.Lock()
	s.current = desc.ID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = ""
		s.mu.Unlock()
	}()

	s.transition(job, models.JobStatusRunning, "")
	s.setWorking(true, desc.ID)
	log.Info("Job started", map[string]interface{}{"input": desc.InputDir, "output": desc.OutputDir})

	records, err := s.execute(ctx, desc, log)
	if err != nil {
		tracing.SetError(ctx, err)
		log.Error("Job failed, staging preserved", map[string]interface{}{"error": err.Error()})
		s.markFailed(job, err.Error())
		s.metrics.JobFinished(string(models.JobStatusFailed), time.Since(start))
		s.setWorking(false, desc.ID)
		return
	}

	s.transition(job, models.JobStatusAggregating, "")
	csvPath := desc.CSVPath()
	if err := results.WriteCSV(csvPath, records); err != nil {
		tracing.SetError(ctx, err)
		log.Error("Failed to write result table", map[string]interface{}{"path": csvPath, "error": err.Error()})
		s.markFailed(job, err.Error())
		s.metrics.JobFinished(string(models.JobStatusFailed), time.Since(start))
		s.setWorking(false, desc.ID)
		return
	}

	summary := results.Summarize(records)
	job.CSVPath = csvPath
	job.Images = summary.Total
	job.Defects = summary.Defects
	job.Quarantined = summary.Quarantined
	tracing.JobSummary(ctx, summary.Total, summary.Defects, summary.Quarantined)
	log.Info("Result table written", map[string]interface{}{
		"path":        csvPath,
		"images":      summary.Total,
		"defects":     summary.Defects,
		"quarantined": summary.Quarantined,
	})
	s.emitCompletion(models.CompletionEvent{JobID: desc.ID, CSVPath: csvPath, FMLength: desc.FMLength})

	stats, err := s.renamer.Rename(ctx, csvPath, desc.OutputDir)
	if err != nil {
		log.Warn("Defect renaming failed", map[string]interface{}{"error": err.Error()})
	}
	s.metrics.FilesRenamed(stats.Renamed)

	s.setWorking(false, desc.ID)
	s.cleaner.Clean(desc.InputDir)

	s.transition(job, models.JobStatusCompleted, "")
	s.metrics.JobFinished(string(models.JobStatusCompleted), time.Since(start))
	log.Info("Job completed", map[string]interface{}{"duration": time.Since(start).String()})
}

// execute launches every group and waits for all sentinels. On failure every
// worker is killed before returning.
func (s *Scheduler) execute(ctx context.Context, desc models.JobDescriptor, log *logging.Logger) ([]models.MetricRecord, error) {
	defer s.gpus.Release(desc.ID)

	runCtx, cancel := context.WithTimeout(ctx, s.config.WorkerTimeout)
	defer cancel()

	// pumps blocked on a full events channel only return once runCtx is done,
	// so cancel before waiting on killed workers
	fail := func(procs []Process, err error) ([]models.MetricRecord, error) {
		cancel()
		s.abort(procs, log)
		return nil, err
	}

	events := make(chan Event, len(s.config.Groups)*DefaultEventBuffer)
	procs := make([]Process, 0, len(s.config.Groups))
	for _, group := range s.config.Groups {
		if err := s.gpus.Reserve(desc.ID, group); err != nil {
			return fail(procs, fmt.Errorf("failed to reserve gpu for %s: %w", group.Name, err))
		}
		proc, err := s.launcher.Launch(runCtx, GroupSpec{
			JobID:      desc.ID,
			Group:      group,
			InputDir:   desc.InputDir,
			OutputDir:  desc.OutputDir,
			SaveVisual: desc.SaveVisual,
		}, events)
		if err != nil {
			s.metrics.WorkerFailure(group.Name, "launch")
			return fail(procs, fmt.Errorf("failed to launch %s: %w", group.Name, err))
		}
		tracing.GroupLaunched(ctx, group.Name, group.GPU, proc.PID())
		log.Debug("Group launched", map[string]interface{}{"group": group.Name, "gpu": group.GPU, "pid": proc.PID()})
		procs = append(procs, proc)
	}

	records, err := s.aggregator.Collect(runCtx, events, len(procs))
	if err != nil {
		var werr *WorkerError
		switch {
		case errors.As(err, &werr):
			s.metrics.WorkerFailure(werr.Group, "crash")
		case errors.Is(err, ErrWorkerTimeout):
			s.metrics.WorkerFailure("*", "timeout")
		}
		return fail(procs, err)
	}

	for _, proc := range procs {
		if err := proc.Wait(); err != nil {
			log.Warn("Worker exited with error after its sentinel", map[string]interface{}{"pid": proc.PID(), "error": err.Error()})
		}
	}
	return records, nil
}

// abort kills procs and waits up to KillGrace for them to exit
func (s *Scheduler) abort(procs []Process, log *logging.Logger) {
	if len(procs) == 0 {
		return
	}
	for _, proc := range procs {
		if err := proc.Kill(); err != nil {
			log.Warn("Failed to kill worker", map[string]interface{}{"pid": proc.PID(), "error": err.Error()})
		}
	}

	done := make(chan struct{})
	go func() {
		for _, proc := range procs {
			_ = proc.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config.KillGrace):
		log.Warn("Killed workers did not exit in time", map[string]interface{}{"grace": s.config.KillGrace.String()})
	}
}

func (s *Scheduler) transition(job *models.Job, to models.JobStatus, reason string) {
	if err := job.Transition(to, reason); err != nil {
		s.logger.Error("Invalid job transition", map[string]interface{}{"job_id": job.Descriptor.ID, "error": err.Error()})
		return
	}
	if err := s.ledger.UpdateJob(job); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		s.logger.Warn("Failed to update job ledger", map[string]interface{}{"job_id": job.Descriptor.ID, "error": err.Error()})
	}
}

func (s *Scheduler) markFailed(job *models.Job, reason string) {
	s.transition(job, models.JobStatusFailed, reason)
}

func (s *Scheduler) setWorking(working bool, jobID string) {
	s.working.Store(working)
	s.metrics.SetWorking(working)
	select {
	case s.status <- models.StatusEvent{Working: working, JobID: jobID}:
	default:
		s.logger.Warn("Status event dropped, no reader", map[string]interface{}{"job_id": jobID, "working": working})
	}
}

func (s *Scheduler) emitCompletion(ev models.CompletionEvent) {
	select {
	case s.completion <- ev:
	default:
		s.logger.Warn("Completion event dropped, no reader", map[string]interface{}{"job_id": ev.JobID, "csv_path": ev.CSVPath})
	}
}
