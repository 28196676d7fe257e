package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/store"
	"github.com/psantana5/sdd-inspector/pkg/tracing"
)

var runFlags struct {
	date       string
	width      int
	height     int
	input      string
	output     string
	saveVisual bool
	fmLength   int
	record     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect one product and exit",
	Long: `Run a single job through the same scheduler the daemon uses. The
directories are resolved from --date, --width and --height under the
configured roots, or given directly with --in-path and --out-path.`,
	Example: `  sddctl run --date 20250401182801 --width 350 --height 350
  sddctl run --date 20250401182801 --width 350 --height 350 --in-path /tmp/staging --out-path /tmp/out`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVar(&runFlags.date, "date", "", "product timestamp YYYYMMDDHHMMSS")
	f.IntVar(&runFlags.width, "width", 0, "stand width")
	f.IntVar(&runFlags.height, "height", 0, "stand height")
	f.StringVar(&runFlags.input, "in-path", "", "staging directory (overrides the resolved path)")
	f.StringVar(&runFlags.output, "out-path", "", "output directory (overrides the resolved path)")
	f.BoolVar(&runFlags.saveVisual, "save-visual", false, "write defect overlays")
	f.IntVar(&runFlags.fmLength, "fm-length", 0, "fm_length forwarded with the result (default from config)")
	f.BoolVar(&runFlags.record, "record", false, "record the job in the configured ledger instead of memory")
	_ = runCmd.MarkFlagRequired("date")
	_ = runCmd.MarkFlagRequired("width")
	_ = runCmd.MarkFlagRequired("height")
}

func runOnce(cmd *cobra.Command, args []string) error {
	if err := requireInference(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.CheckModels(); err != nil {
		return err
	}
	logger := newLogger(cfg, "run")

	desc, err := models.BuildDescriptor(cfg.Paths.InputRoot, cfg.Paths.OutputRoot, runFlags.date, runFlags.width, runFlags.height)
	if err != nil {
		return err
	}
	if runFlags.input != "" {
		desc.InputDir = runFlags.input
	}
	if runFlags.output != "" {
		desc.OutputDir = runFlags.output
	}
	desc.SaveVisual = runFlags.saveVisual || cfg.Pipeline.SaveVisual
	desc.FMLength = cfg.Pipeline.FMLength
	if runFlags.fmLength > 0 {
		desc.FMLength = runFlags.fmLength
	}
	if _, err := os.Stat(desc.InputDir); err != nil {
		return fmt.Errorf("staging directory: %w", err)
	}

	var ledger store.Store = store.NewMemoryStore()
	if runFlags.record {
		if ledger, err = openLedger(cfg); err != nil {
			return err
		}
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, ledger, metrics.NewCollector(), tracing.Noop(), logger)
	if err != nil {
		return err
	}
	p.scheduler.Start()
	job, err := p.scheduler.Submit(desc)
	if err != nil {
		return err
	}
	id := job.Descriptor.ID

wait:
	for {
		select {
		case <-ctx.Done():
			logger.Warn("Interrupted, waiting for the job in flight")
			break wait
		case ev := <-p.scheduler.StatusEvents():
			if !ev.Working && ev.JobID == id {
				break wait
			}
		}
	}

	if err := p.scheduler.Stop(context.Background()); err != nil {
		return err
	}
	p.cleaner.Wait()

	final, err := ledger.GetJob(id)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(final)
	}
	printJob(final)
	if final.Status != models.JobStatusCompleted {
		return fmt.Errorf("job %s %s: %s", id, final.Status, final.Error)
	}
	fmt.Printf("Results: %s\n", final.CSVPath)
	return nil
}
