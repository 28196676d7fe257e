//go:build gocv
// +build gocv

package vision

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	"github.com/psantana5/sdd-inspector/pkg/quality"
)

// OpenCVAvailable reports whether the binary was built with the gocv tag
const OpenCVAvailable = true

var errSessionClosed = errors.New("vision: session closed")

// DefaultLoader returns the OpenCV loader
func DefaultLoader() Loader { return CVLoader{} }

// CVLoader reads images with OpenCV, the same decoder and interpolation the
// models were trained with
type CVLoader struct{}

// Load implements Loader
func (CVLoader) Load(path string, flip bool) (*quality.Frame, error) {
	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read image %s", path)
	}

	if flip {
		flipped := gocv.NewMat()
		defer flipped.Close()
		gocv.Flip(mat, &flipped, 1)
		mat, flipped = flipped, mat
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(Width, Height), 0, 0, gocv.InterpolationLinear)

	pix := resized.ToBytes()
	if len(pix) != Width*Height {
		return nil, fmt.Errorf("unexpected resized size %d for %s", len(pix), path)
	}
	frame := quality.NewFrame(Width, Height)
	for i, v := range pix {
		frame.Pix[i] = float32(v) / 255.0
	}
	return frame, nil
}

// onnxSession owns a cv::dnn::Net on one locked OS thread. The CUDA device
// is a per-thread setting, so loading and every Forward run on that thread.
type onnxSession struct {
	mu     sync.Mutex
	closed bool
	reqs   chan forwardRequest
	done   chan struct{}
}

type forwardRequest struct {
	blob  gocv.Mat
	reply chan forwardResult
}

type forwardResult struct {
	data []float32
	err  error
}

// OpenSession loads an ONNX autoencoder. device >= 0 selects that CUDA device
// and the CUDA backend; a negative device keeps the default CPU backend.
func OpenSession(modelPath string, device int) (Session, error) {
	s := &onnxSession{reqs: make(chan forwardRequest), done: make(chan struct{})}
	ready := make(chan error, 1)
	go s.serve(modelPath, device, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return s, nil
}

func (s *onnxSession) serve(modelPath string, device int, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)

	net, err := loadNet(modelPath, device)
	if err != nil {
		ready <- err
		return
	}
	defer net.Close()
	ready <- nil

	for req := range s.reqs {
		net.SetInput(req.blob, "")
		out := net.Forward("")
		data, err := out.DataPtrFloat32()
		if err != nil {
			req.reply <- forwardResult{err: fmt.Errorf("failed to read model output: %w", err)}
		} else {
			req.reply <- forwardResult{data: append([]float32(nil), data...)}
		}
		out.Close()
	}
}

func loadNet(modelPath string, device int) (gocv.Net, error) {
	if device >= 0 {
		if err := selectDevice(device); err != nil {
			return gocv.Net{}, err
		}
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("failed to load onnx model %s", modelPath)
	}
	if device < 0 {
		return net, nil
	}
	if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
		net.Close()
		return gocv.Net{}, fmt.Errorf("failed to select cuda backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
		net.Close()
		return gocv.Net{}, fmt.Errorf("failed to select cuda target: %w", err)
	}
	return net, nil
}

// Reconstruct runs one forward pass. Calls are serialised; a cv::dnn::Net is
// not safe for concurrent Forward.
func (s *onnxSession) Reconstruct(in *quality.Frame) (*quality.Frame, error) {
	if in.Width != Width || in.Height != Height {
		return nil, fmt.Errorf("input %dx%d, model expects %dx%d", in.Width, in.Height, Width, Height)
	}

	buf := make([]byte, 4*len(in.Pix))
	for i, v := range in.Pix {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	img, err := gocv.NewMatFromBytes(Height, Width, gocv.MatTypeCV32F, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build input mat: %w", err)
	}
	defer img.Close()
	blob := gocv.BlobFromImage(img, 1.0, image.Pt(Width, Height), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errSessionClosed
	}
	reply := make(chan forwardResult, 1)
	s.reqs <- forwardRequest{blob: blob, reply: reply}
	res := <-reply
	s.mu.Unlock()

	if res.err != nil {
		return nil, res.err
	}
	if len(res.data) != Width*Height {
		return nil, fmt.Errorf("model output has %d values, want %d", len(res.data), Width*Height)
	}
	recon := quality.NewFrame(Width, Height)
	copy(recon.Pix, res.data)
	return recon, nil
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.reqs)
	<-s.done
	return nil
}
