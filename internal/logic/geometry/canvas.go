package geometry

import "math"

// canvasEps keeps floating noise (e.g. cos 90° ≈ 6e-17) from pushing the
// canvas ceiling up by one pixel.
const canvasEps = 1e-9

// NormalizeAngleDeg maps any finite angle into [0, 360).
func NormalizeAngleDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}

// RotatedCanvas returns the smallest canvas holding a w x h image rotated by
// angleDeg about its center:
//
//	w' = ceil(|w·cosθ| + |h·sinθ|)
//	h' = ceil(|w·sinθ| + |h·cosθ|)
//
// The ceiling is taken after subtracting 1e-9.
func RotatedCanvas(w, h int, angleDeg float64) (int, int) {
	rad := NormalizeAngleDeg(angleDeg) * math.Pi / 180
	c, s := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	fw, fh := float64(w), float64(h)
	nw := int(math.Ceil(fw*c + fh*s - canvasEps))
	nh := int(math.Ceil(fw*s + fh*c - canvasEps))
	return max(nw, 1), max(nh, 1)
}
