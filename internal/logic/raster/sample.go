package raster

import "math"

// minWeight is the total bilinear weight below which a sample is treated as
// having no valid support.
const minWeight = 1e-9

// Mask reports whether the source pixel at (x, y) may contribute to a sample.
// A nil Mask accepts every in-bounds pixel.
type Mask func(x, y int) bool

// Bilinear samples src at the fractional coordinate (x, y).
//
// The four enclosing pixels are weighted by their fractional offsets.
// Neighbors outside the buffer, or rejected by mask, are dropped and the
// remaining weights renormalized. ok is false when no neighbor with a
// non-zero weight survives; the caller decides what to write then.
func Bilinear(src *Buffer, x, y float64, mask Mask) (c RGB, ok bool) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return RGB{}, false
	}
	x0f, y0f := math.Floor(x), math.Floor(y)
	fx, fy := x-x0f, y-y0f
	x0, y0 := int(x0f), int(y0f)

	taps := [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	}

	var r, g, b, total float64
	for _, t := range taps {
		if t.w == 0 {
			continue
		}
		px, py := x0+t.dx, y0+t.dy
		if !src.In(px, py) {
			continue
		}
		if mask != nil && !mask(px, py) {
			continue
		}
		p := src.At(px, py)
		r += t.w * float64(p.R)
		g += t.w * float64(p.G)
		b += t.w * float64(p.B)
		total += t.w
	}
	if total < minWeight {
		return RGB{}, false
	}
	return RGB{toByte(r / total), toByte(g / total), toByte(b / total)}, true
}

func toByte(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
