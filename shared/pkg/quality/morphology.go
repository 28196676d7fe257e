package quality

import (
	"math"
)

// Offset is a structuring element cell relative to the element anchor
type Offset struct {
	DX, DY int
}

// EllipseElement builds an elliptical structuring element of width x height
// with the anchor at its center, using the same rasterization as OpenCV's
// getStructuringElement. A one-pixel-high ellipse has a zero row radius and
// reduces to the anchor cell alone.
func EllipseElement(width, height int) []Offset {
	if width <= 0 || height <= 0 {
		return nil
	}
	r := height / 2
	c := width / 2
	var invR2 float64
	if r != 0 {
		invR2 = 1 / float64(r*r)
	}

	var cells []Offset
	for i := 0; i < height; i++ {
		dy := i - r
		if dy < -r || dy > r {
			continue
		}
		dx := int(math.RoundToEven(float64(c) * math.Sqrt(float64(r*r-dy*dy)*invR2)))
		j1 := c - dx
		if j1 < 0 {
			j1 = 0
		}
		j2 := c + dx + 1
		if j2 > width {
			j2 = width
		}
		for j := j1; j < j2; j++ {
			cells = append(cells, Offset{DX: j - c, DY: dy})
		}
	}
	return cells
}

func isIdentity(se []Offset) bool {
	return len(se) == 1 && se[0].DX == 0 && se[0].DY == 0
}

// open is erosion followed by dilation; cells falling outside the image are ignored
func open(mask []uint8, w, h int, se []Offset) []uint8 {
	if len(se) == 0 || isIdentity(se) {
		return mask
	}
	return morph(morph(mask, w, h, se, true), w, h, se, false)
}

func morph(src []uint8, w, h int, se []Offset, erode bool) []uint8 {
	dst := make([]uint8, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if erode {
				v = 255
			}
			for _, o := range se {
				xx, yy := x+o.DX, y+o.DY
				if xx < 0 || xx >= w || yy < 0 || yy >= h {
					continue
				}
				p := src[yy*w+xx]
				if erode && p < v {
					v = p
				} else if !erode && p > v {
					v = p
				}
			}
			dst[y*w+x] = v
		}
	}
	return dst
}

// dropSmallComponents clears 8-connected foreground components smaller than minArea
func dropSmallComponents(mask []uint8, w, h, minArea int) []uint8 {
	out := make([]uint8, len(mask))
	visited := make([]bool, len(mask))
	var stack, component []int

	for start := range mask {
		if mask[start] == 0 || visited[start] {
			continue
		}
		component = component[:0]
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, p)
			px, py := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					q := ny*w + nx
					if mask[q] != 0 && !visited[q] {
						visited[q] = true
						stack = append(stack, q)
					}
				}
			}
		}
		if len(component) >= minArea {
			for _, p := range component {
				out[p] = 255
			}
		}
	}
	return out
}
