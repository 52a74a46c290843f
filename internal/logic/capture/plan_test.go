package capture

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cjeanneret/vibecast/internal/fault"
)

func TestPlan(t *testing.T) {
	reqs, err := Plan([]string{"n", " E ", "", "Q"}, testFrame, map[string]float64{"E": -20})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("len = %d, want 3", len(reqs))
	}
	var labels []string
	for _, r := range reqs {
		labels = append(labels, r.Label)
		if r.Frame != testFrame {
			t.Errorf("%s frame = %+v, want %+v", r.Label, r.Frame, testFrame)
		}
	}
	if diff := cmp.Diff([]string{"N", "E", "Q"}, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if reqs[0].RotateDeg != nil {
		t.Error("N should have no rotation")
	}
	if reqs[1].RotateDeg == nil || *reqs[1].RotateDeg != -20 {
		t.Errorf("E rotation = %v, want -20", reqs[1].RotateDeg)
	}
}

func TestPlan_RotationKeysAreCaseInsensitive(t *testing.T) {
	reqs, err := Plan([]string{"n", "b"}, testFrame, map[string]float64{"n": 30, " b ": -5})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if reqs[0].RotateDeg == nil || *reqs[0].RotateDeg != 30 {
		t.Errorf("N rotation = %v, want 30", reqs[0].RotateDeg)
	}
	if reqs[1].RotateDeg == nil || *reqs[1].RotateDeg != -5 {
		t.Errorf("B rotation = %v, want -5", reqs[1].RotateDeg)
	}
}

func TestPlan_RejectsStrayRotations(t *testing.T) {
	cases := []struct {
		name      string
		rotations map[string]float64
	}{
		{"unrequested_direction", map[string]float64{"N": 30, "X": 10}},
		{"case_collision", map[string]float64{"n": 30, "N": 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reqs, err := Plan([]string{"n"}, testFrame, tc.rotations)
			if !errors.Is(err, fault.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
			if reqs != nil {
				t.Errorf("no requests expected, got %d", len(reqs))
			}
		})
	}
}

func TestNormalizeRotations(t *testing.T) {
	got, err := NormalizeRotations([]string{"N", "e"}, map[string]float64{"n": 1, "E": 2})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]float64{"N": 1, "E": 2}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got, err := NormalizeRotations([]string{"N"}, nil); err != nil || len(got) != 0 {
		t.Errorf("nil rotations = %v, %v; want empty map", got, err)
	}
}

func TestParseDirections(t *testing.T) {
	got := ParseDirections("n, e,,S ,w,B")
	if diff := cmp.Diff([]string{"N", "E", "S", "W", "B"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got := ParseDirections(""); len(got) != 0 {
		t.Errorf("empty input = %v, want none", got)
	}
}

func TestParseRotations(t *testing.T) {
	got, err := ParseRotations("n=30, B=-15.5")
	if err != nil {
		t.Fatalf("ParseRotations: %v", err)
	}
	want := map[string]float64{"N": 30, "B": -15.5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	empty, err := ParseRotations("  ")
	if err != nil || len(empty) != 0 {
		t.Errorf("blank input = %v, %v; want empty map", empty, err)
	}
}

func TestParseRotations_Invalid(t *testing.T) {
	for _, s := range []string{"N", "N=abc", "=30", "N=NaN", "N=+Inf", "N=30,S"} {
		if _, err := ParseRotations(s); err == nil {
			t.Errorf("ParseRotations(%q): expected error, got nil", s)
		}
	}
}
