// Package worker runs one camera group over a job's staging directory: load,
// reconstruct, measure and classify every image on a bounded pool, streaming
// one record per image and a final sentinel.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/psantana5/sdd-inspector/internal/vision"
	"github.com/psantana5/sdd-inspector/pkg/classifier"
	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/quality"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/wire"
)

// MaxConcurrency caps the default pool width
const MaxConcurrency = 8

// Settings are the per-deployment worker knobs shared by every group
type Settings struct {
	Concurrency    int // 0 means min(NumCPU, MaxConcurrency)
	Extensions     []string
	FlipCameras    []int
	Index          IndexRange
	Metric         quality.Options
	ClassifierKind string
	ClassifierPath string
}

// DefaultSettings returns the production settings
func DefaultSettings() Settings {
	return Settings{
		Extensions:     DefaultExtensions,
		FlipCameras:    DefaultFlipCameras,
		Metric:         quality.DefaultOptions(),
		ClassifierKind: classifier.KindXGBoost,
	}
}

// PoolSize resolves the pool width
func (s Settings) PoolSize() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	n := runtime.NumCPU()
	if n > MaxConcurrency {
		n = MaxConcurrency
	}
	return n
}

// Emit delivers one message to the scheduler
type Emit func(msg wire.Message) error

// Worker processes one group of one job. The session is owned by the worker
// and closed by Close.
type Worker struct {
	spec     scheduler.GroupSpec
	settings Settings
	loader   vision.Loader
	session  vision.Session
	fusion   *classifier.Fusion
	renderer *vision.Renderer
	flip     map[int]bool
	logger   *logging.Logger

	processed atomic.Int64
}

// New assembles a worker from already opened parts
func New(spec scheduler.GroupSpec, settings Settings, loader vision.Loader, session vision.Session, fusion *classifier.Fusion, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if loader == nil {
		loader = vision.DefaultLoader()
	}
	w := &Worker{
		spec:     spec,
		settings: settings,
		loader:   loader,
		session:  session,
		fusion:   fusion,
		flip:     make(map[int]bool, len(settings.FlipCameras)),
		logger:   logger.WithField("group", spec.Group.Name),
	}
	for _, id := range settings.FlipCameras {
		w.flip[id] = true
	}
	if spec.SaveVisual {
		w.renderer = vision.NewRenderer(spec.OutputDir, settings.Metric)
	}
	return w
}

// Open loads the group's model and the classifier and builds a worker
func Open(spec scheduler.GroupSpec, settings Settings, device int, logger *logging.Logger) (*Worker, error) {
	return OpenWith(vision.OpenSession, spec, settings, device, logger)
}

// OpenWith is Open with a custom session opener
func OpenWith(open vision.Opener, spec scheduler.GroupSpec, settings Settings, device int, logger *logging.Logger) (*Worker, error) {
	clf, err := classifier.New(settings.ClassifierKind, settings.ClassifierPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier: %w", err)
	}
	session, err := open(spec.Group.ModelPath, device)
	if err != nil {
		return nil, fmt.Errorf("failed to open session for %s: %w", spec.Group.ModelPath, err)
	}
	return New(spec, settings, nil, session, classifier.NewFusion(clf), logger), nil
}

// DeviceIndex maps a configured GPU to the index visible to this process.
// A worker started with CUDA_VISIBLE_DEVICES=<gpu> sees that device as 0.
// A negative gpu stays on the CPU.
func DeviceIndex(gpu int) int {
	if gpu < 0 {
		return vision.CPU
	}
	if visible := os.Getenv("CUDA_VISIBLE_DEVICES"); visible != "" && visible == strconv.Itoa(gpu) {
		return 0
	}
	return gpu
}

// Close releases the inference session
func (w *Worker) Close() error {
	if w.session == nil {
		return nil
	}
	return w.session.Close()
}

// Processed is the number of images finished so far
func (w *Worker) Processed() int { return int(w.processed.Load()) }

// Run processes every image of the group and then emits the sentinel. Image
// failures become quarantine records; only a failing emit aborts the run, in
// which case no sentinel is sent.
func (w *Worker) Run(ctx context.Context, emit Emit) (int, error) {
	tasks, err := Enumerate(w.spec.InputDir, w.spec.Group.CameraIDs, w.settings.Extensions, w.settings.Index)
	if err != nil {
		return 0, err
	}
	w.logger.Info("Camera group started", map[string]interface{}{
		"images": len(tasks),
		"cams":   w.spec.Group.CameraIDs,
		"pool":   w.settings.PoolSize(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.settings.PoolSize())
	for _, task := range tasks {
		task := task
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec := w.Process(task)
			w.processed.Add(1)
			if err := emit(wire.Record(w.spec.Group.Name, rec)); err != nil {
				return fmt.Errorf("failed to emit record for %s: %w", rec.Filename, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return w.Processed(), err
	}
	if err := ctx.Err(); err != nil {
		return w.Processed(), err
	}

	n := w.Processed()
	if err := emit(wire.Done(w.spec.Group.Name, n)); err != nil {
		return n, fmt.Errorf("failed to emit sentinel: %w", err)
	}
	w.logger.Info("Camera group finished", map[string]interface{}{"images": n})
	return n, nil
}

// Process inspects one image. It never fails: any error yields a quarantine record.
func (w *Worker) Process(task Task) models.MetricRecord {
	name := filepath.Base(task.Path)

	orig, err := w.loader.Load(task.Path, w.flip[task.CameraID])
	if err != nil {
		return w.quarantine(task, name, "load", err)
	}
	recon, err := w.session.Reconstruct(orig)
	if err != nil {
		return w.quarantine(task, name, "reconstruct", err)
	}
	m, err := quality.Compute(orig, recon, w.settings.Metric)
	if err != nil {
		return w.quarantine(task, name, "metrics", err)
	}

	rec := models.MetricRecord{
		Filename:      name,
		CameraID:      task.CameraID,
		MAE:           m.MAE,
		SSIM:          m.SSIM,
		GradMAE:       m.GradMAE,
		LaplacianDiff: m.LaplacianDiff,
		PixelSum:      float64(m.PixelSum),
	}
	if w.renderer != nil {
		if err := w.renderer.Write(task.CameraID, name, quality.ToGray(orig), quality.ToGray(recon)); err != nil {
			w.logger.Debug("Visualization skipped", map[string]interface{}{"file": name, "error": err.Error()})
		}
	}

	label, err := w.fusion.Classify(rec.Features())
	if err != nil {
		return w.quarantine(task, name, "classify", err)
	}
	rec.Result = label
	return rec
}

func (w *Worker) quarantine(task Task, name, stage string, err error) models.MetricRecord {
	w.logger.Warn("Image quarantined", map[string]interface{}{
		"file":   task.Path,
		"stage":  stage,
		"error":  err.Error(),
		"camera": task.CameraID,
	})
	return models.QuarantineRecord(name, task.CameraID)
}
