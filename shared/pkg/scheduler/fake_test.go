package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/wire"
)

// behavior drives one fake worker; it returns when the worker would exit
type behavior func(w *wire.Writer, spec GroupSpec, killed <-chan struct{})

func writeRecords(w *wire.Writer, spec GroupSpec, n int, defects []int) error {
	cam := spec.Group.CameraIDs[0]
	flagged := make(map[int]bool)
	for _, d := range defects {
		flagged[d] = true
	}
	for i := 0; i < n; i++ {
		rec := models.MetricRecord{
			Filename: fmt.Sprintf("%d_%d.jpg", cam, i),
			CameraID: cam,
			MAE:      0.01,
			SSIM:     0.9,
			GradMAE:  0.02,
			PixelSum: float64(i),
		}
		if flagged[i] {
			rec.Result = models.ResultDefect
		}
		if err := w.Write(wire.Record(spec.Group.Name, rec)); err != nil {
			return err
		}
	}
	return nil
}

// emit sends n records for the group's first camera, flagging indexes in defects
func emit(n int, defects ...int) behavior {
	return func(w *wire.Writer, spec GroupSpec, killed <-chan struct{}) {
		if writeRecords(w, spec, n, defects) != nil {
			return
		}
		_ = w.Write(wire.Done(spec.Group.Name, n))
	}
}

// crash sends n records and exits without a sentinel
func crash(n int) behavior {
	return func(w *wire.Writer, spec GroupSpec, killed <-chan struct{}) {
		_ = writeRecords(w, spec, n, nil)
	}
}

// flood streams records until its stream is closed, never sending a sentinel
func flood() behavior {
	return func(w *wire.Writer, spec GroupSpec, killed <-chan struct{}) {
		for i := 0; ; i++ {
			rec := models.MetricRecord{Filename: fmt.Sprintf("%d_%d.jpg", spec.Group.CameraIDs[0], i), CameraID: spec.Group.CameraIDs[0]}
			if w.Write(wire.Record(spec.Group.Name, rec)) != nil {
				return
			}
		}
	}
}

// hang never finishes until killed
func hang() behavior {
	return func(w *wire.Writer, spec GroupSpec, killed <-chan struct{}) {
		<-killed
	}
}

type fakeProc struct {
	pid    int
	killed chan struct{}
	done   chan struct{}
	once   sync.Once
	kills  atomic.Int32
}

func (p *fakeProc) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProc) Kill() error {
	p.kills.Add(1)
	p.once.Do(func() { close(p.killed) })
	return nil
}

func (p *fakeProc) PID() int { return p.pid }

type fakeLauncher struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	procs     []*fakeProc
	launches  []GroupSpec
	onLaunch  func(GroupSpec)
	nextPID   int
}

func newFakeLauncher(behaviors map[string]behavior) *fakeLauncher {
	return &fakeLauncher{behaviors: behaviors, nextPID: 1000}
}

func (l *fakeLauncher) Launch(ctx context.Context, spec GroupSpec, out chan<- Event) (Process, error) {
	l.mu.Lock()
	b, ok := l.behaviors[spec.Group.Name]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("no behavior for %s", spec.Group.Name)
	}
	l.nextPID++
	proc := &fakeProc{pid: l.nextPID, killed: make(chan struct{}), done: make(chan struct{})}
	l.procs = append(l.procs, proc)
	l.launches = append(l.launches, spec)
	onLaunch := l.onLaunch
	l.mu.Unlock()

	if onLaunch != nil {
		onLaunch(spec)
	}

	pr, pw := io.Pipe()
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		Pump(ctx, spec.Group.Name, pr, out)
	}()
	go func() {
		b(wire.NewWriter(pw), spec, proc.killed)
		pw.Close()
		<-pumped
		close(proc.done)
	}()
	// a killed worker's stream ends too
	go func() {
		select {
		case <-proc.killed:
			pw.CloseWithError(io.ErrClosedPipe)
		case <-proc.done:
		}
	}()
	return proc, nil
}

func (l *fakeLauncher) specs() []GroupSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]GroupSpec(nil), l.launches...)
}

func (l *fakeLauncher) processes() []*fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProc(nil), l.procs...)
}

type fakeCleaner struct {
	mu      sync.Mutex
	paths   []string
	onClean func(string)
}

func (c *fakeCleaner) Clean(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	onClean := c.onClean
	c.mu.Unlock()
	if onClean != nil {
		onClean(path)
	}
}

func (c *fakeCleaner) cleaned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}
