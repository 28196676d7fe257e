package quality

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func colorGray(v uint8) color.Gray { return color.Gray{Y: v} }

func grayFill(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func fillRect(img *image.Gray, x0, y0, x1, y1 int, v uint8) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetGray(x, y, colorGray(v))
		}
	}
}

func TestPixelSum(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*image.Gray, *image.Gray)
		opts  func() Options
		want  int
	}{
		{
			name: "identical images",
			build: func() (*image.Gray, *image.Gray) {
				return grayFill(60, 40, 90), grayFill(60, 40, 90)
			},
			opts: DefaultOptions,
			want: 0,
		},
		{
			name: "large block survives",
			build: func() (*image.Gray, *image.Gray) {
				r := grayFill(60, 40, 0)
				fillRect(r, 10, 10, 30, 20, 200) // 20x10
				return grayFill(60, 40, 0), r
			},
			opts: DefaultOptions,
			want: 200,
		},
		{
			name: "small block dropped by min area",
			build: func() (*image.Gray, *image.Gray) {
				r := grayFill(60, 40, 0)
				fillRect(r, 10, 10, 15, 15, 200) // 25 px
				return grayFill(60, 40, 0), r
			},
			opts: DefaultOptions,
			want: 0,
		},
		{
			name: "diff equal to threshold is background",
			build: func() (*image.Gray, *image.Gray) {
				return grayFill(60, 40, 0), grayFill(60, 40, 70)
			},
			opts: DefaultOptions,
			want: 0,
		},
		{
			name: "diff above threshold everywhere",
			build: func() (*image.Gray, *image.Gray) {
				return grayFill(60, 40, 0), grayFill(60, 40, 71)
			},
			opts: DefaultOptions,
			want: 2400,
		},
		{
			name: "percentile threshold ignores uniform offset",
			build: func() (*image.Gray, *image.Gray) {
				r := grayFill(60, 40, 60)
				fillRect(r, 0, 0, 10, 10, 220) // under 5% of the image
				return grayFill(60, 40, 0), r
			},
			opts: func() Options {
				o := DefaultOptions()
				o.UsePercentile = true
				return o
			},
			want: 100,
		},
		{
			name: "percentile floor applies",
			build: func() (*image.Gray, *image.Gray) {
				r := grayFill(60, 40, 40)
				fillRect(r, 0, 0, 10, 10, 45)
				return grayFill(60, 40, 0), r
			},
			opts: func() Options {
				o := DefaultOptions()
				o.UsePercentile = true
				o.Threshold = 10 // unused in percentile mode
				return o
			},
			// p95 is 40, raised to the floor of 50, so the 45 block stays background
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, r := tt.build()
			if got := PixelSum(o, r, tt.opts()); got != tt.want {
				t.Errorf("PixelSum = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEllipseElement(t *testing.T) {
	// the production 100x1 element has a zero row radius: only the anchor remains
	se := EllipseElement(100, 1)
	if len(se) != 1 || se[0] != (Offset{0, 0}) {
		t.Errorf("EllipseElement(100,1) = %v, want anchor only", se)
	}

	cross := EllipseElement(3, 3)
	want := map[Offset]bool{{0, -1}: true, {-1, 0}: true, {0, 0}: true, {1, 0}: true, {0, 1}: true}
	if len(cross) != len(want) {
		t.Fatalf("EllipseElement(3,3) = %v, want 5 cells", cross)
	}
	for _, c := range cross {
		if !want[c] {
			t.Errorf("unexpected cell %v", c)
		}
	}

	if EllipseElement(0, 3) != nil {
		t.Error("expected nil element for zero width")
	}
}

func TestDiffMaskOpeningRemovesSpeckle(t *testing.T) {
	o := grayFill(30, 30, 0)
	r := grayFill(30, 30, 0)
	r.SetGray(3, 3, colorGray(255))  // isolated speckle
	fillRect(r, 10, 10, 17, 17, 255) // 7x7 block

	opts := DefaultOptions()
	opts.KernelWidth, opts.KernelHeight = 3, 3
	mask := DiffMask(o, r, opts, 0)

	if mask.GrayAt(3, 3).Y != 0 {
		t.Error("speckle survived opening")
	}
	if mask.GrayAt(13, 13).Y != 255 {
		t.Error("block center removed by opening")
	}

	// default element leaves the speckle untouched
	plain := DiffMask(o, r, DefaultOptions(), 0)
	if plain.GrayAt(3, 3).Y != 255 {
		t.Error("default opening should keep the speckle")
	}
}

func TestComponentsUseEightConnectivity(t *testing.T) {
	o := grayFill(120, 120, 0)
	r := grayFill(120, 120, 0)
	for i := 0; i < 100; i++ {
		r.SetGray(i+5, i+5, colorGray(255))
	}
	if got := PixelSum(o, r, DefaultOptions()); got != 100 {
		t.Errorf("diagonal line PixelSum = %d, want 100", got)
	}
}

func TestPercentile(t *testing.T) {
	v := []uint8{1, 2, 3, 4, 5}
	if got := percentile(v, 50); got != 3 {
		t.Errorf("median = %v, want 3", got)
	}
	if got := percentile(v, 95); math.Abs(got-4.8) > 1e-9 {
		t.Errorf("p95 = %v, want 4.8", got)
	}
	if got := percentile(nil, 95); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

func TestReflect101(t *testing.T) {
	tests := []struct{ in, n, want int }{
		{-1, 5, 1}, {-2, 5, 2}, {5, 5, 3}, {6, 5, 2}, {2, 5, 2}, {-3, 1, 0},
	}
	for _, tt := range tests {
		if got := reflect101(tt.in, tt.n); got != tt.want {
			t.Errorf("reflect101(%d,%d) = %d, want %d", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestWrapUint8(t *testing.T) {
	tests := []struct {
		in   float64
		want uint8
	}{
		{0, 0}, {0.9, 0}, {254.9, 254}, {255, 255}, {256, 0}, {300.7, 44}, {510, 254},
	}
	for _, tt := range tests {
		if got := wrapUint8(tt.in); got != tt.want {
			t.Errorf("wrapUint8(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestHighPassDiffWraps(t *testing.T) {
	orig := grayFill(41, 41, 0)
	orig.SetGray(20, 20, colorGray(255))
	recon := grayFill(41, 41, 255)
	recon.SetGray(20, 20, colorGray(0))

	opts := DefaultOptions()
	opts.HighPass = true
	opts.HighPassSigma = 3

	// the impulse difference is 510*(1-k0), well above 255
	diff := absDiff(orig, recon, opts)
	got := diff[20*41+20]
	if got == 255 || got == 0 {
		t.Fatalf("impulse diff = %d, want a wrapped value", got)
	}

	plain := absDiff(orig, recon, DefaultOptions())
	if plain[20*41+20] != 255 {
		t.Errorf("plain diff = %d, want 255", plain[20*41+20])
	}
}
