package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/wire"
)

var (
	// ErrWorkerCrashed means a group's result stream ended without a sentinel
	ErrWorkerCrashed = errors.New("camera group worker crashed")
	// ErrWorkerTimeout means not every group reported done within the worker timeout
	ErrWorkerTimeout = errors.New("camera group workers timed out")
)

// GroupSpec is everything a camera group worker needs for one job
type GroupSpec struct {
	JobID      string
	Group      models.CameraGroupConfig
	InputDir   string
	OutputDir  string
	SaveVisual bool
}

// Event is one message from a group's result stream, or the error that ended it
type Event struct {
	Group string
	Msg   wire.Message
	Err   error
}

// Process is a running camera group worker
type Process interface {
	// Wait blocks until the worker has exited and its stream is drained
	Wait() error
	// Kill terminates the worker and everything it started
	Kill() error
	PID() int
}

// Launcher starts one camera group worker. The worker's messages are
// delivered to out until its sentinel or a stream error; sends stop when ctx ends.
type Launcher interface {
	Launch(ctx context.Context, spec GroupSpec, out chan<- Event) (Process, error)
}

// Pump reads framed messages from r and forwards them to out. It stops after
// the sentinel, discarding anything the worker writes afterwards. A stream
// that ends or fails before the sentinel yields a single ErrWorkerCrashed event.
func Pump(ctx context.Context, group string, r io.Reader, out chan<- Event) {
	reader := wire.NewReader(r)
	for {
		msg, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("stream closed before sentinel")
			}
			send(ctx, out, Event{Group: group, Err: fmt.Errorf("%w: %v", ErrWorkerCrashed, err)})
			return
		}
		if msg.Group == "" {
			msg.Group = group
		}
		if !send(ctx, out, Event{Group: group, Msg: msg}) {
			return
		}
		if msg.Kind == wire.KindDone {
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
