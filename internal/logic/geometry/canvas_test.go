package geometry

import (
	"math"
	"testing"
)

func TestNormalizeAngleDeg(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{30, 30},
		{360, 0},
		{-30, 330},
		{725, 5},
		{-720, 0},
		{-1e-20, 0},
	}
	for _, tc := range cases {
		if got := NormalizeAngleDeg(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("NormalizeAngleDeg(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRotatedCanvas(t *testing.T) {
	cases := []struct {
		name         string
		w, h         int
		angle        float64
		wantW, wantH int
	}{
		// ceil(200·cos30°+100·sin30°) = ceil(223.2) ; ceil(200·sin30°+100·cos30°) = ceil(186.6)
		{"200x100_30deg", 200, 100, 30, 224, 187},
		{"200x100_0deg", 200, 100, 0, 200, 100},
		{"200x100_90deg", 200, 100, 90, 100, 200},
		{"200x100_180deg", 200, 100, 180, 200, 100},
		{"200x100_270deg", 200, 100, 270, 100, 200},
		{"200x100_360deg", 200, 100, 360, 200, 100},
		{"200x100_neg30", 200, 100, -30, 224, 187},
		{"square_45deg", 100, 100, 45, 142, 142},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw, gh := RotatedCanvas(tc.w, tc.h, tc.angle)
			if gw != tc.wantW || gh != tc.wantH {
				t.Errorf("RotatedCanvas(%d,%d,%v) = %dx%d, want %dx%d",
					tc.w, tc.h, tc.angle, gw, gh, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestRotatedCanvas_FormulaMatches(t *testing.T) {
	for a := 0.0; a < 360; a += 7.5 {
		rad := a * math.Pi / 180
		wantW := int(math.Ceil(math.Abs(320*math.Cos(rad))+math.Abs(240*math.Sin(rad)) - 1e-9))
		wantH := int(math.Ceil(math.Abs(320*math.Sin(rad))+math.Abs(240*math.Cos(rad)) - 1e-9))
		gw, gh := RotatedCanvas(320, 240, a)
		if gw != wantW || gh != wantH {
			t.Errorf("angle %v: got %dx%d, want %dx%d", a, gw, gh, wantW, wantH)
		}
	}
}
