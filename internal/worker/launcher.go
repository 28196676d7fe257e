package worker

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/psantana5/sdd-inspector/internal/vision"
	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/wire"
)

// OpenFunc builds the worker for one group of one job
type OpenFunc func(spec scheduler.GroupSpec) (*Worker, error)

// InProcessLauncher runs camera groups as goroutines of the scheduler's own
// process. It speaks the same record/sentinel protocol as the child process
// launcher and suits single-host CPU runs and tests.
type InProcessLauncher struct {
	Open   OpenFunc
	logger *logging.Logger
}

// NewInProcessLauncher creates a launcher that opens each group's model with
// the given settings on the group's GPU, or on the CPU when cpuOnly is set
func NewInProcessLauncher(settings Settings, cpuOnly bool, logger *logging.Logger) *InProcessLauncher {
	return NewInProcessLauncherWith(vision.OpenSession, settings, cpuOnly, logger)
}

// NewInProcessLauncherWith is NewInProcessLauncher with a custom session opener
func NewInProcessLauncherWith(open vision.Opener, settings Settings, cpuOnly bool, logger *logging.Logger) *InProcessLauncher {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &InProcessLauncher{
		Open: func(spec scheduler.GroupSpec) (*Worker, error) {
			return OpenWith(open, spec, settings, InProcessDevice(spec.Group.GPU, cpuOnly), logger)
		},
		logger: logger,
	}
}

// InProcessDevice is the device a group's session uses inside the daemon.
// Every group shares one process, so the configured index is used as is.
func InProcessDevice(gpu int, cpuOnly bool) int {
	if cpuOnly || gpu < 0 {
		return vision.CPU
	}
	return gpu
}

// Launch starts the group. Kill cancels the group's pool; records already
// emitted stay delivered and no sentinel follows.
func (l *InProcessLauncher) Launch(ctx context.Context, spec scheduler.GroupSpec, out chan<- scheduler.Event) (scheduler.Process, error) {
	w, err := l.Open(spec)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p := &inProcess{cancel: cancel, done: make(chan struct{})}

	emit := func(msg wire.Message) error {
		select {
		case out <- scheduler.Event{Group: spec.Group.Name, Msg: msg}:
			return nil
		case <-runCtx.Done():
			return runCtx.Err()
		}
	}

	go func() {
		defer close(p.done)
		defer cancel()
		defer func() {
			if cerr := w.Close(); cerr != nil {
				l.logger.Warn("Failed to close session", map[string]interface{}{"group": spec.Group.Name, "error": cerr.Error()})
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				p.setErr(fmt.Errorf("%w: panic: %v", scheduler.ErrWorkerCrashed, r))
				l.report(runCtx, out, spec.Group.Name, p.Err())
			}
		}()

		if _, err := w.Run(runCtx, emit); err != nil {
			if runCtx.Err() != nil {
				p.setErr(runCtx.Err())
				return
			}
			p.setErr(fmt.Errorf("%w: %v", scheduler.ErrWorkerCrashed, err))
			l.report(runCtx, out, spec.Group.Name, p.Err())
		}
	}()
	return p, nil
}

func (l *InProcessLauncher) report(ctx context.Context, out chan<- scheduler.Event, group string, err error) {
	select {
	case out <- scheduler.Event{Group: group, Err: err}:
	case <-ctx.Done():
	}
}

type inProcess struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *inProcess) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Err is the run's outcome, valid after Wait
func (p *inProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *inProcess) Wait() error {
	<-p.done
	return p.Err()
}

func (p *inProcess) Kill() error {
	p.cancel()
	return nil
}

// PID is the scheduler's own pid; the group has no process of its own
func (p *inProcess) PID() int { return os.Getpid() }
