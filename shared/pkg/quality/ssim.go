package quality

import (
	"math"
)

const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimC1     = 0.01 * 0.01
	ssimC2     = 0.03 * 0.03
)

// ssimKernel is the normalized 1-D gaussian; the 2-D window is its outer product
var ssimKernel = gaussianKernel(ssimWindow, ssimSigma)

func gaussianKernel(size int, sigma float64) []float64 {
	k := make([]float64, size)
	center := float64(size / 2)
	var sum float64
	for i := range k {
		d := float64(i) - center
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// SSIM returns the mean structural similarity index over a gaussian window
func SSIM(orig, recon *Frame) (float64, error) {
	if err := sameShape(orig, recon); err != nil {
		return 0, err
	}
	return ssim(orig, recon), nil
}

func ssim(a, b *Frame) float64 {
	w, h := a.Width, a.Height
	n := w * h

	x := make([]float64, n)
	y := make([]float64, n)
	xx := make([]float64, n)
	yy := make([]float64, n)
	xy := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = float64(a.Pix[i])
		y[i] = float64(b.Pix[i])
		xx[i] = x[i] * x[i]
		yy[i] = y[i] * y[i]
		xy[i] = x[i] * y[i]
	}

	mu1 := blur(x, w, h, ssimKernel)
	mu2 := blur(y, w, h, ssimKernel)
	s11 := blur(xx, w, h, ssimKernel)
	s22 := blur(yy, w, h, ssimKernel)
	s12 := blur(xy, w, h, ssimKernel)

	var sum float64
	for i := 0; i < n; i++ {
		m1, m2 := mu1[i], mu2[i]
		m1sq, m2sq, m12 := m1*m1, m2*m2, m1*m2
		sigma1 := s11[i] - m1sq
		sigma2 := s22[i] - m2sq
		sigma12 := s12[i] - m12
		num := (2*m12 + ssimC1) * (2*sigma12 + ssimC2)
		den := (m1sq + m2sq + ssimC1) * (sigma1 + sigma2 + ssimC2)
		sum += num / den
	}
	return sum / float64(n)
}

// blur convolves with k along rows then columns, zero padding, same output size
func blur(src []float64, w, h int, k []float64) []float64 {
	r := len(k) / 2
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				xx := x + i - r
				if xx < 0 || xx >= w {
					continue
				}
				acc += kv * row[xx]
			}
			tmp[y*w+x] = acc
		}
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				yy := y + i - r
				if yy < 0 || yy >= h {
					continue
				}
				acc += kv * tmp[yy*w+x]
			}
			out[y*w+x] = acc
		}
	}
	return out
}
