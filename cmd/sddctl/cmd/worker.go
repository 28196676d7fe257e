package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/internal/config"
	"github.com/psantana5/sdd-inspector/internal/worker"
	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/wire"
)

var workerFlags struct {
	jobID      string
	group      string
	model      string
	cams       string
	gpu        int
	input      string
	output     string
	saveVisual bool
}

// workerCmd is spawned by the scheduler once per camera group. Result frames
// go to stdout, logs to stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one camera group of a job (spawned by serve)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	f := workerCmd.Flags()
	f.StringVar(&workerFlags.jobID, "job-id", "", "job the group belongs to")
	f.StringVar(&workerFlags.group, "group", "", "camera group name")
	f.StringVar(&workerFlags.model, "model", "", "autoencoder ONNX file")
	f.StringVar(&workerFlags.cams, "cams", "", "comma-separated camera ids")
	f.IntVar(&workerFlags.gpu, "gpu", 0, "configured GPU index")
	f.StringVar(&workerFlags.input, "input", "", "job staging directory")
	f.StringVar(&workerFlags.output, "output", "", "job output directory")
	f.BoolVar(&workerFlags.saveVisual, "save-visual", false, "write defect overlays")
	for _, name := range []string{"group", "model", "cams", "input", "output"} {
		_ = workerCmd.MarkFlagRequired(name)
	}
}

func parseCams(s string) ([]int, error) {
	var cams []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid camera id %q: %w", part, err)
		}
		cams = append(cams, id)
	}
	if len(cams) == 0 {
		return nil, fmt.Errorf("no camera ids in %q", s)
	}
	return cams, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := requireInference(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cams, err := parseCams(workerFlags.cams)
	if err != nil {
		return err
	}

	logger := workerLogger(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File)
	defer logger.Close()
	logger = logger.WithFields(map[string]interface{}{"job_id": workerFlags.jobID, "group": workerFlags.group})

	spec := scheduler.GroupSpec{
		JobID: workerFlags.jobID,
		Group: models.CameraGroupConfig{
			Name:      workerFlags.group,
			ModelPath: workerFlags.model,
			CameraIDs: cams,
			GPU:       workerFlags.gpu,
		},
		InputDir:   workerFlags.input,
		OutputDir:  workerFlags.output,
		SaveVisual: workerFlags.saveVisual,
	}
	return runGroup(cfg, spec, logger)
}

// workerLogger never writes to stdout, which carries the result frames
func workerLogger(level string, json, file bool) *logging.Logger {
	if file {
		if l, err := logging.NewFileLoggerWithConsole("worker", workerFlags.group, logging.ParseLevel(level), json, os.Stderr); err == nil {
			return l
		}
	}
	l := logging.NewLogger(logging.ParseLevel(level), json)
	l.SetOutput(os.Stderr)
	return l
}

func runGroup(cfg *config.Config, spec scheduler.GroupSpec, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := worker.Open(spec, cfg.WorkerSettings(), worker.DeviceIndex(spec.Group.GPU), logger)
	if err != nil {
		logger.Error("Failed to open camera group", map[string]interface{}{"error": err.Error()})
		return err
	}
	defer w.Close()

	out := wire.NewWriter(os.Stdout)
	if _, err := w.Run(ctx, out.Write); err != nil {
		logger.Error("Camera group aborted", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}
