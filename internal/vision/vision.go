// Package vision loads camera images into model-sized frames, runs the
// reconstruction model and renders the inspection overlays.
package vision

import (
	"errors"

	"github.com/psantana5/sdd-inspector/pkg/quality"
)

// Model input geometry, [1,1,Height,Width] float32
const (
	Width  = 480
	Height = 300
)

// ErrOpenCVUnavailable is returned by OpenSession in builds without the gocv tag
var ErrOpenCVUnavailable = errors.New("vision: built without OpenCV support (rebuild with -tags gocv)")

// CPU is the device index that keeps a session off the GPU
const CPU = -1

// Opener loads a reconstruction model onto a device. A negative device runs
// on the CPU.
type Opener func(modelPath string, device int) (Session, error)

// Loader reads one image as a Width x Height grayscale frame in [0,1],
// mirrored horizontally first when flip is set
type Loader interface {
	Load(path string, flip bool) (*quality.Frame, error)
}

// Session reconstructs a frame with the group's autoencoder. Implementations
// are safe for concurrent use.
type Session interface {
	Reconstruct(in *quality.Frame) (*quality.Frame, error)
	Close() error
}

// SessionFunc adapts a function to Session
type SessionFunc func(in *quality.Frame) (*quality.Frame, error)

// Reconstruct calls f
func (f SessionFunc) Reconstruct(in *quality.Frame) (*quality.Frame, error) { return f(in) }

// Close is a no-op
func (f SessionFunc) Close() error { return nil }
