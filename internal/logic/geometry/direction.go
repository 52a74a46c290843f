package geometry

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cjeanneret/vibecast/internal/fault"
)

// Direction is a named viewing direction code.
type Direction string

const (
	North Direction = "N"
	East  Direction = "E"
	South Direction = "S"
	West  Direction = "W"
	Below Direction = "B"
)

// Orientation is a viewing direction as yaw (about the vertical axis,
// clockwise from north seen from above) and pitch (positive up), in degrees.
type Orientation struct {
	YawDeg   float64
	PitchDeg float64
}

var directionTable = map[Direction]Orientation{
	North: {YawDeg: 0, PitchDeg: 0},
	East:  {YawDeg: 90, PitchDeg: 0},
	South: {YawDeg: 180, PitchDeg: 0},
	West:  {YawDeg: 270, PitchDeg: 0},
	Below: {YawDeg: 0, PitchDeg: -90},
}

var directionNames = map[Direction]string{
	North: "North",
	East:  "East",
	South: "South",
	West:  "West",
	Below: "Below",
}

// Directions returns every known direction code in a stable order.
func Directions() []Direction {
	return []Direction{North, East, South, West, Below}
}

// LookupDirection resolves a direction code (case-insensitive).
// Unknown codes wrap fault.ErrValidation.
func LookupDirection(code string) (Direction, Orientation, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(code)))
	o, ok := directionTable[d]
	if !ok {
		return "", Orientation{}, fault.Validationf("unknown direction code %q", code)
	}
	return d, o, nil
}

// Name returns the human-readable name ("North"), or the raw code if unknown.
func (d Direction) Name() string {
	if n, ok := directionNames[d]; ok {
		return n
	}
	return string(d)
}

// ViewRotation maps rays from an output pinhole camera to the lens frame.
//
// Camera frame: x right, y down, z forward. World frame: X right of north,
// Y up, Z toward the north horizon. Lens frame: boresight straight down
// (z = -Y), top of the fisheye image toward north (y = -Z).
type ViewRotation struct {
	pitch r3.Rotation
	yaw   r3.Rotation
}

// NewViewRotation builds the rotation for o, applied yaw then pitch about
// the camera's own axes.
func NewViewRotation(o Orientation) ViewRotation {
	yaw := o.YawDeg * math.Pi / 180
	pitch := o.PitchDeg * math.Pi / 180
	return ViewRotation{
		// Right-handed rotation about +X tilts forward rays downward,
		// so positive pitch (up) is a negative angle.
		pitch: r3.NewRotation(-pitch, r3.Vec{X: 1}),
		yaw:   r3.NewRotation(yaw, r3.Vec{Y: 1}),
	}
}

// Apply rotates a camera-frame ray into the lens frame.
func (v ViewRotation) Apply(ray r3.Vec) r3.Vec {
	w := r3.Vec{X: ray.X, Y: -ray.Y, Z: ray.Z}
	w = v.yaw.Rotate(v.pitch.Rotate(w))
	return r3.Vec{X: w.X, Y: -w.Z, Z: -w.Y}
}
