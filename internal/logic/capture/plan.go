// Package capture fans one fisheye capture out into labeled directional
// views, with optional corrective rotation per view.
package capture

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/logic/geometry"
)

// Plan builds one request per direction code, all sharing frame. Labels are
// the upper-cased codes. A direction listed in rotations gets a rotated
// variant as well. Codes are not validated here; an unknown code becomes a
// failed result when the batch runs. Rotations are matched case-insensitively
// and one keyed to a direction that is not planned is a ValidationError.
func Plan(directions []string, frame geometry.Frame, rotations map[string]float64) ([]Request, error) {
	rot, err := NormalizeRotations(directions, rotations)
	if err != nil {
		return nil, err
	}
	reqs := make([]Request, 0, len(directions))
	for _, d := range directions {
		code := strings.ToUpper(strings.TrimSpace(d))
		if code == "" {
			continue
		}
		req := Request{Label: code, Direction: code, Frame: frame}
		if a, ok := rot[code]; ok {
			angle := a
			req.RotateDeg = &angle
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// NormalizeRotations upper-cases the keys of rotations and checks that each
// one names a direction in directions. Keys that collide after folding
// ("n" and "N") are rejected.
func NormalizeRotations(directions []string, rotations map[string]float64) (map[string]float64, error) {
	planned := make(map[string]bool, len(directions))
	for _, d := range directions {
		planned[strings.ToUpper(strings.TrimSpace(d))] = true
	}
	out := make(map[string]float64, len(rotations))
	for k, a := range rotations {
		code := strings.ToUpper(strings.TrimSpace(k))
		if _, dup := out[code]; dup {
			return nil, fault.Validationf("rotation for %s given more than once", code)
		}
		if !planned[code] {
			return nil, fault.Validationf("rotation for %s does not match a requested direction", code)
		}
		out[code] = a
	}
	return out, nil
}

// ParseDirections splits a comma-separated list such as "N,E,S,W,B".
func ParseDirections(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseRotations parses "N=30,B=-15" into a direction → angle map.
// Direction codes are upper-cased; angles must be finite.
func ParseRotations(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("rotation %q: want CODE=DEGREES", part)
		}
		angle, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("rotation %q: %w", part, err)
		}
		if math.IsNaN(angle) || math.IsInf(angle, 0) {
			return nil, fmt.Errorf("rotation %q: angle must be finite", part)
		}
		out[strings.ToUpper(strings.TrimSpace(kv[0]))] = angle
	}
	return out, nil
}
