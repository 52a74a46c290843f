// Package projection renders rectilinear (pinhole) views out of a fisheye
// capture.
package projection

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cjeanneret/vibecast/internal/debug"
	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/logic/geometry"
	"github.com/cjeanneret/vibecast/internal/logic/raster"
)

// Request selects one view: a direction code and the output framing.
type Request struct {
	Direction string
	Frame     geometry.Frame
}

// Projector renders views through one lens model. It holds no mutable state
// and may be shared by concurrent callers.
type Projector struct {
	lens       *geometry.Lens
	background raster.RGB
}

// NewProjector returns a projector for lens. Output pixels that see nothing
// of the fisheye are written as background.
func NewProjector(lens *geometry.Lens, background raster.RGB) *Projector {
	return &Projector{lens: lens, background: background}
}

// Project renders req from src.
//
// For each output pixel a pinhole ray is built, rotated by the direction's
// yaw and pitch into the lens frame, mapped to a fractional source
// coordinate, and bilinearly sampled. Source neighbors outside the image
// circle never contribute, so the black rim around the circle does not bleed
// into the view.
func (p *Projector) Project(src *raster.Buffer, req Request) (*raster.Buffer, error) {
	dir, orient, err := geometry.LookupDirection(req.Direction)
	if err != nil {
		return nil, err
	}
	if err := req.Frame.Validate(); err != nil {
		return nil, err
	}
	if src.Empty() {
		return nil, fault.Validationf("source image is empty")
	}
	if w, h := p.lens.SourceSize(); src.Width() != w || src.Height() != h {
		return nil, fault.Configurationf("source is %dx%d but the lens was validated for %dx%d",
			src.Width(), src.Height(), w, h)
	}

	fr := req.Frame
	f := fr.FocalLengthPx()
	halfW, halfH := float64(fr.Width)/2, float64(fr.Height)/2
	rot := geometry.NewViewRotation(orient)
	debug.Verbose("Project %s: %dx%d hfov=%.1f° f=%.2fpx yaw=%.0f° pitch=%.0f°",
		dir.Name(), fr.Width, fr.Height, fr.HorizontalFOVDeg, f, orient.YawDeg, orient.PitchDeg)

	out := raster.NewCanvas(fr.Width, fr.Height)
	outside := 0
	for v := 0; v < fr.Height; v++ {
		y := (float64(v) - halfH) / f
		for u := 0; u < fr.Width; u++ {
			x := (float64(u) - halfW) / f
			ray := r3.Unit(r3.Vec{X: x, Y: y, Z: 1})
			px, py, ok, err := p.traceRay(rot.Apply(ray), u, v)
			if err != nil {
				return nil, err
			}
			if !ok {
				outside++
				out.Set(u, v, p.background)
				continue
			}

			c, ok := raster.Bilinear(src, px, py, p.lens.Contains)
			if !ok {
				outside++
				c = p.background
			}
			out.Set(u, v, c)
		}
	}
	debug.Trace("Project %s: %d/%d pixels outside lens coverage", dir.Name(), outside, fr.Width*fr.Height)
	return out.Freeze(), nil
}

// traceRay maps a lens-frame ray seen by output pixel (u, v) to a source
// coordinate. ok is false when the ray is outside the lens coverage.
func (p *Projector) traceRay(lr r3.Vec, u, v int) (px, py float64, ok bool, err error) {
	if n := r3.Norm(lr); n < 1e-12 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, 0, false, fault.Processingf("degenerate ray at output pixel (%d,%d)", u, v)
	}
	px, py, ok = p.lens.RayToPixel(lr)
	if !ok {
		return 0, 0, false, nil
	}
	if !finite(px) || !finite(py) {
		return 0, 0, false, fault.Processingf("non-finite source coordinate at output pixel (%d,%d)", u, v)
	}
	return px, py, true, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
