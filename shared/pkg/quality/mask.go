package quality

import (
	"image"
	"math"
)

// PixelSum counts the foreground pixels of the difference mask after
// dropping connected components smaller than opts.MinArea.
func PixelSum(orig, recon *image.Gray, opts Options) int {
	mask := DiffMask(orig, recon, opts, opts.MinArea)
	n := 0
	for _, v := range mask.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// DiffMask thresholds |orig-recon|, applies the optional opening and keeps
// components of at least minArea pixels (minArea <= 0 keeps everything).
// Foreground is 255, background 0.
func DiffMask(orig, recon *image.Gray, opts Options, minArea int) *image.Gray {
	b := orig.Bounds()
	w, h := b.Dx(), b.Dy()
	diff := absDiff(orig, recon, opts)

	thr := opts.Threshold
	if opts.UsePercentile {
		thr = int(percentile(diff, opts.Percentile))
		if thr < opts.ThresholdFloor {
			thr = opts.ThresholdFloor
		}
	}

	mask := make([]uint8, w*h)
	for i, v := range diff {
		if int(v) > thr {
			mask[i] = 255
		}
	}

	if opts.Opening {
		se := EllipseElement(opts.KernelWidth, opts.KernelHeight)
		mask = open(mask, w, h, se)
	}

	if minArea > 0 {
		mask = dropSmallComponents(mask, w, h, minArea)
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+w], mask[y*w:(y+1)*w])
	}
	return out
}

func absDiff(orig, recon *image.Gray, opts Options) []uint8 {
	b := orig.Bounds()
	w, h := b.Dx(), b.Dy()
	o := grayToFloat(orig)
	r := grayToFloat(recon)
	if opts.HighPass {
		k := gaussianKernel(gaussianSize(opts.HighPassSigma), opts.HighPassSigma)
		bo := blurReflect(o, w, h, k)
		br := blurReflect(r, w, h, k)
		for i := range o {
			o[i] -= bo[i]
			r[i] -= br[i]
		}
	}
	diff := make([]uint8, w*h)
	for i := range o {
		diff[i] = wrapUint8(math.Abs(o[i] - r[i]))
	}
	return diff
}

// wrapUint8 truncates toward zero and keeps the low byte. High-pass
// differences can exceed 255 and wrap rather than saturate.
func wrapUint8(v float64) uint8 {
	return uint8(int64(v))
}

func grayToFloat(img *image.Gray) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x, v := range img.Pix[off : off+w] {
			out[y*w+x] = float64(v)
		}
	}
	return out
}

// gaussianSize mirrors the kernel size OpenCV derives from sigma for float images
func gaussianSize(sigma float64) int {
	n := int(math.RoundToEven(sigma*4*2+1)) | 1
	if n < 3 {
		n = 3
	}
	return n
}

// reflect101 maps an out-of-range index the way BORDER_REFLECT_101 does (gfedcb|abcdefgh|gfedcba)
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func blurReflect(src []float64, w, h int, k []float64) []float64 {
	r := len(k) / 2
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * src[y*w+reflect101(x+i-r, w)]
			}
			tmp[y*w+x] = acc
		}
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * tmp[reflect101(y+i-r, h)*w+x]
			}
			out[y*w+x] = acc
		}
	}
	return out
}

// percentile uses linear interpolation between the closest ranks
func percentile(v []uint8, p float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var hist [256]int
	for _, x := range v {
		hist[x]++
	}
	kth := func(k int) float64 {
		seen := 0
		for value, c := range hist {
			seen += c
			if k < seen {
				return float64(value)
			}
		}
		return 255
	}
	rank := p / 100 * float64(len(v)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	a, b := kth(lo), kth(hi)
	return a + (b-a)*(rank-float64(lo))
}
