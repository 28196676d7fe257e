package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/psantana5/sdd-inspector/internal/config"
	"github.com/psantana5/sdd-inspector/internal/hardware"
	"github.com/psantana5/sdd-inspector/internal/vision"
	"github.com/psantana5/sdd-inspector/internal/worker"
	"github.com/psantana5/sdd-inspector/pkg/cleanup"
	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/resources"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/store"
	"github.com/psantana5/sdd-inspector/pkg/tracing"
	"github.com/psantana5/sdd-inspector/pkg/wrapper"
)

// pipeline is the scheduler with the collaborators it owns
type pipeline struct {
	scheduler *scheduler.Scheduler
	cleaner   *cleanup.StagingCleaner
	ledger    store.Store
}

// requireInference fails fast in builds that cannot open a model, before any
// listener or job is accepted
func requireInference() error {
	if !vision.OpenCVAvailable {
		return fmt.Errorf("this sddctl build cannot run inference: %w", vision.ErrOpenCVUnavailable)
	}
	return nil
}

// buildLauncher picks goroutine groups or child processes
func buildLauncher(cfg *config.Config, logger *logging.Logger) (scheduler.Launcher, error) {
	if cfg.Pipeline.InProcess {
		logger.Info("Camera groups run in-process", map[string]interface{}{"cpu_only": cfg.Pipeline.CPUOnly})
		return worker.NewInProcessLauncher(cfg.WorkerSettings(), cfg.Pipeline.CPUOnly, logger), nil
	}

	l, err := wrapper.NewProcessLauncher("", logger)
	if err != nil {
		return nil, err
	}
	l.Constraints = cfg.Constraints()
	// children read the same config and env file as the daemon
	if cfgFile != "" {
		l.ExtraArgs = append(l.ExtraArgs, "--config", cfgFile)
	}
	if envFile != "" {
		l.ExtraArgs = append(l.ExtraArgs, "--env-file", envFile)
	}
	if logLevel != "" {
		l.ExtraArgs = append(l.ExtraArgs, "--log-level", logLevel)
	}
	return l, nil
}

// detectGPUs registers the host's devices so the group table is checked
// against them. Hosts without nvidia-smi accept any index.
func detectGPUs(ctx context.Context, logger *logging.Logger) *resources.Manager {
	gpus := resources.NewManager()
	n, err := hardware.NewDetector().Register(ctx, gpus)
	if err != nil {
		logger.Warn("GPU detection unavailable, group GPU indices not validated", map[string]interface{}{"error": err.Error()})
		return gpus
	}
	logger.Info("GPUs detected", map[string]interface{}{"count": n})
	return gpus
}

func openLedger(cfg *config.Config) (store.Store, error) {
	ledger, err := store.NewStore(store.Config{
		Type:            cfg.Store.Type,
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open job ledger (%s): %w", cfg.Store.Type, err)
	}
	return ledger, nil
}

// newPipeline wires a scheduler for cfg. The caller starts it.
func newPipeline(ctx context.Context, cfg *config.Config, ledger store.Store, collector *metrics.Collector, tracer *tracing.Provider, logger *logging.Logger) (*pipeline, error) {
	launcher, err := buildLauncher(cfg, logger)
	if err != nil {
		return nil, err
	}
	cleaner := cleanup.NewStagingCleaner(logger)
	cleaner.Metrics = collector

	sched, err := scheduler.New(cfg.SchedulerConfig(), scheduler.Deps{
		Launcher: launcher,
		Ledger:   ledger,
		GPUs:     detectGPUs(ctx, logger),
		Cleaner:  cleaner,
		Metrics:  collector,
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &pipeline{scheduler: sched, cleaner: cleaner, ledger: ledger}, nil
}
