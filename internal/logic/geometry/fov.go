package geometry

import (
	"math"

	"github.com/cjeanneret/vibecast/internal/fault"
)

// Frame is the output framing of a pinhole view.
type Frame struct {
	Width            int     // output width in pixels
	Height           int     // output height in pixels
	HorizontalFOVDeg float64 // horizontal field of view, (0, 180)
}

// Validate checks the framing. Failures wrap fault.ErrValidation.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fault.Validationf("output dimensions must be positive, got %dx%d", f.Width, f.Height)
	}
	if math.IsNaN(f.HorizontalFOVDeg) || f.HorizontalFOVDeg <= 0 || f.HorizontalFOVDeg >= 180 {
		return fault.Validationf("horizontal_fov_deg must be in (0, 180), got %g", f.HorizontalFOVDeg)
	}
	return nil
}

// FocalLengthPx returns the pinhole focal length in pixels.
// Formula: f = (width / 2) / tan(hFOV / 2)
func (f Frame) FocalLengthPx() float64 {
	return float64(f.Width) / 2 / math.Tan(f.HorizontalFOVDeg*math.Pi/360)
}

// VerticalFOVDeg returns the vertical field of view implied by the aspect
// ratio of the frame.
// Formula: vFOV = 2 × arctan((height / 2) / f)
func (f Frame) VerticalFOVDeg() float64 {
	return 2.0 * math.Atan(float64(f.Height)/2/f.FocalLengthPx()) * 180.0 / math.Pi
}
