// Package quality computes the discrepancy metrics between an original image
// and its autoencoder reconstruction.
package quality

import (
	"fmt"
	"image"
)

// Frame is a single-channel float32 image, row-major, intensities nominally in [0,1]
type Frame struct {
	Width  int
	Height int
	Pix    []float32
}

// NewFrame allocates a zeroed frame
func NewFrame(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// At returns the pixel at (x, y)
func (f *Frame) At(x, y int) float32 {
	return f.Pix[y*f.Width+x]
}

// Set sets the pixel at (x, y)
func (f *Frame) Set(x, y int, v float32) {
	f.Pix[y*f.Width+x] = v
}

// Clone returns a deep copy
func (f *Frame) Clone() *Frame {
	out := &Frame{Width: f.Width, Height: f.Height, Pix: make([]float32, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

func (f *Frame) validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("malformed frame %dx%d with %d pixels", f.Width, f.Height, len(f.Pix))
	}
	return nil
}

func sameShape(a, b *Frame) error {
	if err := a.validate(); err != nil {
		return fmt.Errorf("original: %w", err)
	}
	if err := b.validate(); err != nil {
		return fmt.Errorf("reconstruction: %w", err)
	}
	if a.Width != b.Width || a.Height != b.Height {
		return fmt.Errorf("shape mismatch: %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	return nil
}

// ToGray converts a frame to 8 bits by truncating v*255, clamped to [0,255]
func ToGray(f *Frame) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+f.Width]
		src := f.Pix[y*f.Width : (y+1)*f.Width]
		for x, v := range src {
			s := v * 255
			switch {
			case s != s || s <= 0: // NaN or negative
				row[x] = 0
			case s >= 255:
				row[x] = 255
			default:
				row[x] = uint8(s)
			}
		}
	}
	return img
}

// FromGray converts an 8-bit image to a frame normalized to [0,1]
func FromGray(img *image.Gray) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[off : off+f.Width]
		for x, v := range row {
			f.Pix[y*f.Width+x] = float32(v) / 255.0
		}
	}
	return f
}
