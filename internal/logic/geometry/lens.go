package geometry

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cjeanneret/vibecast/internal/fault"
)

// Projection is the fisheye projection family.
type Projection string

const (
	// Equidistant lenses map incidence angle linearly to radius: r = f·θ.
	Equidistant Projection = "equidistant"
	// Equisolid lenses preserve solid angle: r = 2f·sin(θ/2).
	Equisolid Projection = "equisolid"
)

// ParseProjection maps a case-insensitive name to a Projection.
func ParseProjection(name string) (Projection, error) {
	switch p := Projection(strings.ToLower(strings.TrimSpace(name))); p {
	case Equidistant, Equisolid:
		return p, nil
	default:
		return "", fault.Configurationf("unknown projection %q", name)
	}
}

// CircleTolerancePx is how far (in pixels) the valid image circle may spill
// past the source bounds and still be accepted.
const CircleTolerancePx = 1.0

// boundaryEps absorbs acos/asin rounding at the rim of the image circle.
const boundaryEps = 1e-9

// LensParameters describes a calibrated fisheye lens in source pixels.
type LensParameters struct {
	Projection Projection
	CenterX    float64 // optical center, source pixels
	CenterY    float64
	RadiusPx   float64 // radius of the valid image circle
	MaxFOVDeg  float64 // full field of view at RadiusPx, at most 180
}

// Lens is a validated lens model bound to a source image size.
// It is immutable and safe for concurrent use.
type Lens struct {
	p       LensParameters
	width   int
	height  int
	halfFOV float64 // radians
	focal   float64 // px per radian (equidistant) or equisolid focal length
}

// NewLens validates p against a sourceWidth x sourceHeight capture.
// Failures wrap fault.ErrConfiguration.
func NewLens(p LensParameters, sourceWidth, sourceHeight int) (*Lens, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return nil, fault.Configurationf("source image is empty (%dx%d)", sourceWidth, sourceHeight)
	}
	for name, v := range map[string]float64{
		"center_x":    p.CenterX,
		"center_y":    p.CenterY,
		"radius_px":   p.RadiusPx,
		"max_fov_deg": p.MaxFOVDeg,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fault.Configurationf("%s must be finite, got %g", name, v)
		}
	}
	if p.MaxFOVDeg <= 0 || p.MaxFOVDeg > 180 {
		return nil, fault.Configurationf("max_fov_deg must be in (0, 180], got %g", p.MaxFOVDeg)
	}
	if p.RadiusPx <= 0 {
		return nil, fault.Configurationf("radius_px must be > 0, got %g", p.RadiusPx)
	}
	maxRadius := float64(min(sourceWidth, sourceHeight))/2 + CircleTolerancePx
	if p.RadiusPx > maxRadius {
		return nil, fault.Configurationf("radius_px %g exceeds half the smaller source side (%g)", p.RadiusPx, maxRadius)
	}
	// Pixel centers sit on integers, so the image spans [-0.5, size-0.5].
	lo := -0.5 - CircleTolerancePx
	if p.CenterX-p.RadiusPx < lo || p.CenterX+p.RadiusPx > float64(sourceWidth)-0.5+CircleTolerancePx ||
		p.CenterY-p.RadiusPx < lo || p.CenterY+p.RadiusPx > float64(sourceHeight)-0.5+CircleTolerancePx {
		return nil, fault.Configurationf("image circle (c=%g,%g r=%g) lies outside the %dx%d source",
			p.CenterX, p.CenterY, p.RadiusPx, sourceWidth, sourceHeight)
	}

	l := &Lens{
		p:       p,
		width:   sourceWidth,
		height:  sourceHeight,
		halfFOV: p.MaxFOVDeg / 2 * math.Pi / 180,
	}
	switch p.Projection {
	case Equidistant:
		l.focal = p.RadiusPx / l.halfFOV
	case Equisolid:
		l.focal = p.RadiusPx / (2 * math.Sin(l.halfFOV/2))
	default:
		return nil, fault.Configurationf("unknown projection %q", p.Projection)
	}
	return l, nil
}

// Parameters returns the parameters the lens was built from.
func (l *Lens) Parameters() LensParameters { return l.p }

// SourceSize returns the source image size the lens was validated against.
func (l *Lens) SourceSize() (width, height int) { return l.width, l.height }

// Contains reports whether the source pixel (x, y) lies inside the valid
// image circle.
func (l *Lens) Contains(x, y int) bool {
	dx := float64(x) - l.p.CenterX
	dy := float64(y) - l.p.CenterY
	return dx*dx+dy*dy <= l.p.RadiusPx*l.p.RadiusPx
}

// PixelToRay returns the unit ray, in the lens frame (z along the boresight),
// seen by source pixel (px, py). ok is false outside the image circle.
func (l *Lens) PixelToRay(px, py float64) (ray r3.Vec, ok bool) {
	dx, dy := px-l.p.CenterX, py-l.p.CenterY
	r := math.Hypot(dx, dy)
	if r > l.p.RadiusPx {
		return r3.Vec{}, false
	}
	theta := l.angle(r)
	phi := math.Atan2(dy, dx)
	s := math.Sin(theta)
	return r3.Vec{X: s * math.Cos(phi), Y: s * math.Sin(phi), Z: math.Cos(theta)}, true
}

// RayToPixel returns the source coordinate a lens-frame ray lands on.
// ok is false for rays beyond half the field of view and for zero or
// non-finite rays.
func (l *Lens) RayToPixel(ray r3.Vec) (px, py float64, ok bool) {
	n := r3.Norm(ray)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, 0, false
	}
	cosTheta := math.Max(-1, math.Min(1, ray.Z/n))
	theta := math.Acos(cosTheta)
	if theta > l.halfFOV+boundaryEps {
		return 0, 0, false
	}
	r := math.Min(l.radius(theta), l.p.RadiusPx)
	phi := math.Atan2(ray.Y, ray.X)
	return l.p.CenterX + r*math.Cos(phi), l.p.CenterY + r*math.Sin(phi), true
}

// angle is the inverse projection law: radius in pixels to incidence angle.
func (l *Lens) angle(r float64) float64 {
	if l.p.Projection == Equisolid {
		return 2 * math.Asin(math.Min(1, r/(2*l.focal)))
	}
	return r / l.focal
}

// radius is the forward projection law: incidence angle to radius in pixels.
func (l *Lens) radius(theta float64) float64 {
	if l.p.Projection == Equisolid {
		return 2 * l.focal * math.Sin(theta/2)
	}
	return l.focal * theta
}
