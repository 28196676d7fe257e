package vision

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/psantana5/sdd-inspector/pkg/quality"
)

// Renderer writes the side-by-side inspection overlay of one image:
// original | reconstruction | difference mask, each rotated 90 degrees clockwise
type Renderer struct {
	OutputDir string // job output directory; overlays go under visual/camera_<id>/
	Options   quality.Options
	Quality   int
}

// NewRenderer creates a renderer writing under outputDir
func NewRenderer(outputDir string, opts quality.Options) *Renderer {
	return &Renderer{OutputDir: outputDir, Options: opts, Quality: 90}
}

// Path returns where the overlay for filename from cameraID is written
func (r *Renderer) Path(cameraID int, filename string) string {
	return filepath.Join(r.OutputDir, "visual", fmt.Sprintf("camera_%d", cameraID), filename)
}

// Compose builds the overlay. The mask keeps every component regardless of area.
func (r *Renderer) Compose(orig, recon *image.Gray) *image.Gray {
	mask := quality.DiffMask(orig, recon, r.Options, 0)
	parts := []*image.Gray{RotateCW(orig), RotateCW(recon), RotateCW(mask)}

	w, h := 0, 0
	for _, p := range parts {
		w += p.Bounds().Dx()
		if p.Bounds().Dy() > h {
			h = p.Bounds().Dy()
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	x := 0
	for _, p := range parts {
		pw := p.Bounds().Dx()
		for y := 0; y < p.Bounds().Dy(); y++ {
			copy(out.Pix[y*out.Stride+x:y*out.Stride+x+pw], p.Pix[y*p.Stride:y*p.Stride+pw])
		}
		x += pw
	}
	return out
}

// Write composes and stores the overlay for one image
func (r *Renderer) Write(cameraID int, filename string, orig, recon *image.Gray) error {
	path := r.Path(cameraID, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create visual directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create overlay: %w", err)
	}
	if err := jpeg.Encode(f, r.Compose(orig, recon), &jpeg.Options{Quality: r.Quality}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode overlay: %w", err)
	}
	return f.Close()
}

// RotateCW rotates an image 90 degrees clockwise
func RotateCW(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// (x, y) -> (h-1-y, x)
			dst.Pix[x*dst.Stride+(h-1-y)] = src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)]
		}
	}
	return dst
}
