// Package rotation re-samples a rendered view by an arbitrary in-plane angle
// onto an expanded canvas, so no content is clipped.
//
// Rotation is lossy: rotating by θ then by -θ reproduces the source only up
// to resampling blur, never exactly.
package rotation

import (
	"math"

	"github.com/cjeanneret/vibecast/internal/debug"
	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/logic/geometry"
	"github.com/cjeanneret/vibecast/internal/logic/raster"
)

// boundsEps admits source coordinates that miss the outermost pixel centers
// by floating noise only.
const boundsEps = 1e-6

// Corrector rotates images. The zero value uses a black background.
type Corrector struct {
	Background raster.RGB
}

// NewCorrector returns a corrector filling uncovered canvas with background.
func NewCorrector(background raster.RGB) *Corrector {
	return &Corrector{Background: background}
}

// Rotate returns src rotated clockwise by angleDeg (negative is
// counter-clockwise). The canvas grows to fit every source corner; canvas
// area not covered by the source is background. A normalized angle of 0
// returns a pixel-identical copy.
func (c *Corrector) Rotate(src *raster.Buffer, angleDeg float64) (*raster.Buffer, error) {
	if math.IsNaN(angleDeg) || math.IsInf(angleDeg, 0) {
		return nil, fault.Validationf("rotation angle must be finite, got %g", angleDeg)
	}
	if src.Empty() {
		return nil, fault.Validationf("cannot rotate an empty image")
	}

	theta := geometry.NormalizeAngleDeg(angleDeg)
	if theta == 0 {
		return src.Clone(), nil
	}

	w, h := src.Width(), src.Height()
	nw, nh := geometry.RotatedCanvas(w, h, theta)
	debug.Verbose("Rotate %.2f° (normalized %.2f°): %dx%d -> %dx%d", angleDeg, theta, w, h, nw, nh)

	rad := theta * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	scx, scy := float64(w-1)/2, float64(h-1)/2
	dcx, dcy := float64(nw-1)/2, float64(nh-1)/2
	maxX, maxY := float64(w-1)+boundsEps, float64(h-1)+boundsEps

	out := raster.NewCanvas(nw, nh)
	for v := 0; v < nh; v++ {
		dy := float64(v) - dcy
		for u := 0; u < nw; u++ {
			dx := float64(u) - dcx
			// Image y grows downward, so a clockwise on-screen rotation by θ
			// is (x, y) -> (x·cosθ - y·sinθ, x·sinθ + y·cosθ); invert it.
			sx := scx + dx*cos + dy*sin
			sy := scy - dx*sin + dy*cos
			if sx < -boundsEps || sy < -boundsEps || sx > maxX || sy > maxY {
				out.Set(u, v, c.Background)
				continue
			}
			px, ok := raster.Bilinear(src, sx, sy, nil)
			if !ok {
				px = c.Background
			}
			out.Set(u, v, px)
		}
	}
	return out.Freeze(), nil
}
