package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/internal/bus"
	"github.com/psantana5/sdd-inspector/internal/config"
	"github.com/psantana5/sdd-inspector/internal/listener"
	"github.com/psantana5/sdd-inspector/pkg/api"
	"github.com/psantana5/sdd-inspector/pkg/auth"
	"github.com/psantana5/sdd-inspector/pkg/cleanup"
	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/ratelimit"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/shutdown"
	"github.com/psantana5/sdd-inspector/pkg/tracing"
)

var (
	noListener     bool
	skipModelCheck bool
	drainTimeout   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inspection daemon",
	Long: `Run the line signal listener, the job scheduler and the HTTP API until
SIGINT or SIGTERM. On shutdown the job in flight is allowed to finish.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&noListener, "no-listener", false, "do not subscribe to line signals; jobs come from the API only")
	serveCmd.Flags().BoolVar(&skipModelCheck, "skip-model-check", false, "start even if model files are missing")
	serveCmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 35*time.Minute, "how long shutdown waits for the job in flight")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := requireInference(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "inspector")
	defer logger.Close()

	if err := cfg.CheckModels(); err != nil {
		if !skipModelCheck {
			return err
		}
		logger.Warn("Starting with missing models", map[string]interface{}{"error": err.Error()})
	}

	mgr := shutdown.New(drainTimeout)
	mgr.SetLogger(logger)
	ctx, cancel := mgr.Context()
	defer cancel()

	tracer, err := tracing.InitTracer(cfg.TracingConfig(), logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without", map[string]interface{}{"error": err.Error()})
		tracer = tracing.Noop()
	}
	mgr.Register("tracer", tracer.Shutdown)

	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	mgr.Register("ledger", shutdown.CloseResource(ledger, "job ledger"))

	retention := cleanup.NewRetentionManager(cleanup.RetentionConfig{
		Enabled:          cfg.Store.RetentionDays > 0,
		JobRetentionDays: cfg.Store.RetentionDays,
		Interval:         24 * time.Hour,
		VacuumInterval:   7 * 24 * time.Hour,
	}, ledger, logger)
	retention.Start()
	mgr.Register("retention", func(context.Context) error {
		retention.Stop()
		return nil
	})

	collector := metrics.NewCollector()
	p, err := newPipeline(ctx, cfg, ledger, collector, tracer, logger)
	if err != nil {
		return err
	}
	mgr.Register("staging cleaner", shutdown.CloseResource(p.cleaner, "staging cleaner"))

	failed, requeued, err := p.scheduler.Recover()
	if err != nil {
		logger.Error("Job recovery failed", map[string]interface{}{"error": err.Error()})
	} else if failed+requeued > 0 {
		logger.Info("Recovered jobs from ledger", map[string]interface{}{"failed": failed, "requeued": requeued})
	}
	p.scheduler.Start()
	mgr.Register("scheduler", p.scheduler.Stop)
	go consumeEvents(ctx, p.scheduler, logger)

	var products api.ProductSink
	if !noListener {
		lst, closeBus, err := startListener(ctx, cfg, p.scheduler, collector, logger, mgr)
		if err != nil {
			return err
		}
		products = lst
		mgr.Register("line signal bus", closeBus)
	}

	server, err := newAPIServer(ctx, cfg, p.scheduler, products, collector, tracer, logger)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("API listening", map[string]interface{}{"addr": cfg.API.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", map[string]interface{}{"error": err.Error()})
			mgr.Trigger()
		}
	}()
	mgr.Register("api", shutdown.StopHTTPServer(server, "api"))

	logger.Info("Inspector running", map[string]interface{}{
		"groups":     len(cfg.CameraGroups),
		"input_root": cfg.Paths.InputRoot,
		"in_process": cfg.Pipeline.InProcess,
		"listener":   !noListener,
	})

	mgr.Wait()
	return mgr.Shutdown()
}

// startListener dials the bus and runs the listener until ctx ends. A
// transport failure shuts the daemon down.
func startListener(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, collector *metrics.Collector, logger *logging.Logger, mgr *shutdown.Manager) (*listener.Listener, func(context.Context) error, error) {
	sub, err := bus.Dial(ctx, bus.Config{
		Transport: cfg.Bus.Transport,
		Endpoint:  cfg.Bus.Endpoint,
		Topic:     cfg.Bus.Topic,
		ClientID:  cfg.Bus.ClientID,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect line signal bus: %w", err)
	}

	lst := listener.New(listener.Config{
		Topic:        cfg.Bus.Topic,
		InputRoot:    cfg.Paths.InputRoot,
		OutputRoot:   cfg.Paths.OutputRoot,
		SaveVisual:   cfg.Pipeline.SaveVisual,
		FMLength:     cfg.Pipeline.FMLength,
		PollInterval: cfg.Bus.PollInterval,
	}, sub, sched, collector, logger.WithField("component", "listener"))

	go func() {
		if err := lst.Run(ctx); err != nil {
			logger.Error("Line signal listener failed", map[string]interface{}{"error": err.Error()})
			mgr.Trigger()
		}
	}()
	return lst, shutdown.CloseResource(sub, "line signal bus"), nil
}

func newAPIServer(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, products api.ProductSink, collector *metrics.Collector, tracer *tracing.Provider, logger *logging.Logger) (*http.Server, error) {
	opts := api.RouterOptions{Metrics: collector, Tracer: tracer}

	var err error
	switch {
	case cfg.API.APIKeyHash != "":
		opts.Auth, err = auth.NewAPIKeyAuthFromHash(cfg.API.APIKeyHash, "/health", "/metrics")
	case cfg.API.APIKey != "":
		opts.Auth, err = auth.NewAPIKeyAuth(cfg.API.APIKey, "/health", "/metrics")
	default:
		logger.Warn("API authentication disabled")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to configure API auth: %w", err)
	}
	if cfg.API.RateLimit > 0 {
		opts.Limiter = ratelimit.NewLimiter(cfg.API.RateLimit, cfg.API.RateBurst)
		go opts.Limiter.SweepEvery(ctx, 10*time.Minute, time.Hour)
	}

	handler := api.NewHandler(sched, sched.Ledger(), products, api.Paths{
		InputRoot:  cfg.Paths.InputRoot,
		OutputRoot: cfg.Paths.OutputRoot,
	}, logger.WithField("component", "api"))
	return api.NewServer(cfg.API.Addr, api.NewRouter(handler, opts)), nil
}

// consumeEvents logs the scheduler's status and completion events. They are
// the daemon's outward notifications.
func consumeEvents(ctx context.Context, sched *scheduler.Scheduler, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sched.StatusEvents():
			logger.Info("Pipeline status", map[string]interface{}{"working": ev.Working, "job_id": ev.JobID})
		case ev := <-sched.CompletionEvents():
			logger.Info("Result table ready", map[string]interface{}{
				"job_id":    ev.JobID,
				"csv_path":  ev.CSVPath,
				"fm_length": ev.FMLength,
			})
		}
	}
}
