package vision

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/psantana5/sdd-inspector/pkg/quality"
)

// StdLoader decodes with the Go image codecs and resizes bilinearly. It needs
// no cgo and is used when OpenCV is not compiled in.
type StdLoader struct{}

// Load implements Loader
func (StdLoader) Load(path string, flip bool) (*quality.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return FrameFromImage(img, flip), nil
}

// FrameFromImage converts img to gray, optionally mirrors it and resizes it
// to the model geometry
func FrameFromImage(img image.Image, flip bool) *quality.Frame {
	b := img.Bounds()
	gray, ok := img.(*image.Gray)
	if !ok {
		gray = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	}
	if flip {
		gray = Mirror(gray)
	}

	dst := image.NewGray(image.Rect(0, 0, Width, Height))
	if gray.Bounds().Dx() == Width && gray.Bounds().Dy() == Height {
		draw.Draw(dst, dst.Bounds(), gray, gray.Bounds().Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	}
	return quality.FromGray(dst)
}

// Mirror flips an image around its vertical axis
func Mirror(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		in := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			out[w-1-x] = in[x]
		}
	}
	return dst
}
