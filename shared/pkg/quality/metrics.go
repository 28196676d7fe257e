package quality

import (
	"math"
)

// Options holds the thresholds used by the difference mask.
// Fields map one-to-one to the metric section of the config file.
type Options struct {
	Threshold      int     // fixed binarization threshold on |orig-recon| (8-bit)
	UsePercentile  bool    // adaptive threshold from the diff histogram
	Percentile     float64 // percentile used when UsePercentile is set
	ThresholdFloor int     // lower bound for the adaptive threshold
	Opening        bool    // morphological opening of the binary mask
	KernelWidth    int     // elliptical structuring element width
	KernelHeight   int     // elliptical structuring element height
	MinArea        int     // components smaller than this are dropped from PixelSum
	HighPass       bool    // subtract a gaussian blur before differencing
	HighPassSigma  float64
}

// DefaultOptions returns the production mask settings
func DefaultOptions() Options {
	return Options{
		Threshold:      70,
		UsePercentile:  false,
		Percentile:     95,
		ThresholdFloor: 50,
		Opening:        true,
		KernelWidth:    100,
		KernelHeight:   1,
		MinArea:        100,
		HighPass:       false,
		HighPassSigma:  21,
	}
}

// Metrics is the five-value discrepancy vector for one image pair
type Metrics struct {
	MAE           float64
	SSIM          float64
	GradMAE       float64
	LaplacianDiff float64
	PixelSum      int
}

// Compute evaluates all five metrics for an (original, reconstruction) pair
func Compute(orig, recon *Frame, opts Options) (Metrics, error) {
	if err := sameShape(orig, recon); err != nil {
		return Metrics{}, err
	}
	return Metrics{
		MAE:           mae(orig, recon),
		SSIM:          ssim(orig, recon),
		GradMAE:       gradMAE(orig, recon),
		LaplacianDiff: laplacianDiff(orig, recon),
		PixelSum:      PixelSum(ToGray(orig), ToGray(recon), opts),
	}, nil
}

// MAE returns mean(|orig - recon|)
func MAE(orig, recon *Frame) (float64, error) {
	if err := sameShape(orig, recon); err != nil {
		return 0, err
	}
	return mae(orig, recon), nil
}

// GradMAE returns the mean absolute difference of Sobel gradient magnitudes
func GradMAE(orig, recon *Frame) (float64, error) {
	if err := sameShape(orig, recon); err != nil {
		return 0, err
	}
	return gradMAE(orig, recon), nil
}

// LaplacianDiff returns |var(lap(orig)) - var(lap(recon))|
func LaplacianDiff(orig, recon *Frame) (float64, error) {
	if err := sameShape(orig, recon); err != nil {
		return 0, err
	}
	return laplacianDiff(orig, recon), nil
}

func mae(a, b *Frame) float64 {
	var sum float64
	for i := range a.Pix {
		sum += math.Abs(float64(a.Pix[i]) - float64(b.Pix[i]))
	}
	return sum / float64(len(a.Pix))
}

var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
	lap3   = [3][3]float64{{0, 1, 0}, {1, -4, 1}, {0, 1, 0}}
)

// correlate3 applies a 3x3 kernel as a cross-correlation with one pixel of zero padding
func correlate3(f *Frame, k *[3][3]float64) []float64 {
	w, h := f.Width, f.Height
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i := 0; i < 3; i++ {
				yy := y + i - 1
				if yy < 0 || yy >= h {
					continue
				}
				for j := 0; j < 3; j++ {
					xx := x + j - 1
					if xx < 0 || xx >= w || k[i][j] == 0 {
						continue
					}
					acc += k[i][j] * float64(f.Pix[yy*w+xx])
				}
			}
			out[y*w+x] = acc
		}
	}
	return out
}

func gradientMagnitude(f *Frame) []float64 {
	gx := correlate3(f, &sobelX)
	gy := correlate3(f, &sobelY)
	for i := range gx {
		gx[i] = math.Sqrt(gx[i]*gx[i] + gy[i]*gy[i] + 1e-12)
	}
	return gx
}

func gradMAE(a, b *Frame) float64 {
	ga := gradientMagnitude(a)
	gb := gradientMagnitude(b)
	var sum float64
	for i := range ga {
		sum += math.Abs(ga[i] - gb[i])
	}
	return sum / float64(len(ga))
}

// variance returns the unbiased (n-1) sample variance
func variance(v []float64) float64 {
	n := len(v)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(n)
	var ss float64
	for _, x := range v {
		d := x - mean
		ss += d * d
	}
	return ss / float64(n-1)
}

func laplacianDiff(a, b *Frame) float64 {
	return math.Abs(variance(correlate3(a, &lap3)) - variance(correlate3(b, &lap3)))
}
