package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/imageio"
	"github.com/cjeanneret/vibecast/internal/logic/geometry"
	"github.com/cjeanneret/vibecast/internal/store"
	"github.com/cjeanneret/vibecast/internal/web"
)

// fakeCamera returns a synthetic 121x121 capture.
type fakeCamera struct {
	calls int32
	err   error
}

func (c *fakeCamera) Snapshot(ctx context.Context) (image.Image, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 121, 121))
	for y := 0; y < 121; y++ {
		for x := 0; x < 121; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 2), G: uint8(y * 2), B: 100, A: 255})
		}
	}
	return img, nil
}

var testNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, cam *fakeCamera) *pipeline {
	t.Helper()
	st, err := store.NewLocal(filepath.Join(t.TempDir(), "output"))
	if err != nil {
		t.Fatal(err)
	}
	p := newPipeline(newTestConfig(), cam, st)
	p.now = func() time.Time { return testNow }
	return p
}

func TestPipeline_Batch(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	report, err := p.batch(context.Background(), web.Overrides{})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Errorf("unexpected failures: %v", report.Failed)
	}
	for _, label := range []string{"fisheye", "N", "E", "S", "W", "B", "B_rotated"} {
		key, ok := report.Stored[label]
		if !ok {
			t.Errorf("%s not stored", label)
			continue
		}
		if want := store.Key(testNow, label, "png"); key != want {
			t.Errorf("%s key = %q, want %q", label, key, want)
		}
	}

	data, err := p.store.Get(report.Stored["N"])
	if err != nil {
		t.Fatal(err)
	}
	img, kind, err := imageio.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if kind != "png" || img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("stored N = %s %v, want png 32x24", kind, img.Bounds())
	}

	data, _ = p.store.Get(report.Stored["B_rotated"])
	img, _, _ = imageio.Decode(bytes.NewReader(data))
	w, h := geometry.RotatedCanvas(32, 24, -15)
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		t.Errorf("stored B_rotated = %v, want %dx%d", img.Bounds(), w, h)
	}
}

func TestPipeline_PartialFailure(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	report, err := p.batch(context.Background(), web.Overrides{Directions: []string{"N", "Q"}, Rotations: map[string]float64{}})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, ok := report.Stored["N"]; !ok {
		t.Error("N should be stored")
	}
	if !errors.Is(report.Failed["Q"], fault.ErrValidation) {
		t.Errorf("Q error = %v, want ErrValidation", report.Failed["Q"])
	}
	keys, _ := p.store.List()
	for _, k := range keys {
		if strings.Contains(k, "_Q.") {
			t.Errorf("failed label was stored: %s", k)
		}
	}
}

func TestPipeline_EveryViewFailed(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	err := p.runBatch(context.Background(), web.Overrides{Directions: []string{"Q", "Z"}, Rotations: map[string]float64{}})
	if !errors.Is(err, fault.ErrProcessing) {
		t.Errorf("error = %v, want ErrProcessing", err)
	}
}

func TestPipeline_SnapshotError(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{err: errors.New("camera offline")})
	err := p.runBatch(context.Background(), web.Overrides{})
	if err == nil || !strings.Contains(err.Error(), "camera offline") {
		t.Errorf("error = %v, want camera offline", err)
	}
	if keys, _ := p.store.List(); len(keys) != 0 {
		t.Errorf("nothing should be stored, got %v", keys)
	}
}

func TestPipeline_BadLensAbortsBatch(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	p.cfg.Lens.RadiusPx = 500
	err := p.runBatch(context.Background(), web.Overrides{})
	if !errors.Is(err, fault.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestPipeline_RotateStored(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	report, err := p.batch(context.Background(), web.Overrides{Directions: []string{"E"}, Rotations: map[string]float64{}})
	if err != nil {
		t.Fatal(err)
	}
	key := report.Stored["E"]

	rk, err := p.rotateStored(context.Background(), key, 90)
	if err != nil {
		t.Fatalf("rotateStored: %v", err)
	}
	if rk != store.RotatedKey(key) {
		t.Errorf("rotated key = %q, want %q", rk, store.RotatedKey(key))
	}
	data, err := p.store.Get(rk)
	if err != nil {
		t.Fatal(err)
	}
	img, _, _ := imageio.Decode(bytes.NewReader(data))
	if img.Bounds().Dx() != 24 || img.Bounds().Dy() != 32 {
		t.Errorf("rotated bounds = %v, want 24x32", img.Bounds())
	}

	// Re-rotation replaces the stored variant.
	if _, err := p.rotateStored(context.Background(), key, 0); err != nil {
		t.Fatal(err)
	}
	data, _ = p.store.Get(rk)
	img, _, _ = imageio.Decode(bytes.NewReader(data))
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("re-rotated bounds = %v, want 32x24", img.Bounds())
	}
}

func TestPipeline_RotateStoredErrors(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	ctx := context.Background()
	if _, err := p.rotateStored(ctx, "2026/10/14/20261014_093000_N.png", 10); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing key error = %v, want ErrNotFound", err)
	}
	if _, err := p.rotateStored(ctx, "2026/10/14/20261014_093000_N_rotated.png", 10); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("rotated key error = %v, want ErrValidation", err)
	}
	if _, err := p.rotateStored(ctx, "../x.png", 10); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("traversal error = %v, want ErrValidation", err)
	}

	report, err := p.batch(ctx, web.Overrides{Directions: []string{"N"}, Rotations: map[string]float64{}})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []float64{math.NaN(), math.Inf(1)} {
		if _, err := p.rotateStored(ctx, report.Stored["N"], a); !errors.Is(err, fault.ErrValidation) {
			t.Errorf("angle %v error = %v, want ErrValidation", a, err)
		}
	}
}

func TestPipeline_RunEveryStopsOnCancel(t *testing.T) {
	cam := &fakeCamera{err: errors.New("offline")}
	p := newTestPipeline(t, cam)
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	err := p.runEvery(ctx, 50*time.Millisecond, web.Overrides{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	if n := atomic.LoadInt32(&cam.calls); n < 2 {
		t.Errorf("snapshot calls = %d, want several (errors must not stop the loop)", n)
	}
}

func TestPipeline_LowercaseRotationKey(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	report, err := p.batch(context.Background(), web.Overrides{Directions: []string{"n"}, Rotations: map[string]float64{"n": 30}})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, ok := report.Stored["N_rotated"]; !ok {
		t.Errorf("N_rotated not stored, got %v", report.Stored)
	}
}

func TestPipeline_StrayRotationRejectedBeforeSnapshot(t *testing.T) {
	cam := &fakeCamera{}
	p := newTestPipeline(t, cam)
	err := p.runBatch(context.Background(), web.Overrides{Directions: []string{"N"}, Rotations: map[string]float64{"X": 10}})
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
	if n := atomic.LoadInt32(&cam.calls); n != 0 {
		t.Errorf("snapshot calls = %d, want 0", n)
	}
}

func TestPipeline_UnwarpStored(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	report, err := p.batch(context.Background(), web.Overrides{Directions: []string{"N"}, Rotations: map[string]float64{}})
	if err != nil {
		t.Fatal(err)
	}
	fisheyeKey := report.Stored[store.FisheyeLabel]
	if err := p.store.Delete(report.Stored["N"]); err != nil {
		t.Fatal(err)
	}

	// Re-render with the configured views; the capture time is kept.
	p.now = func() time.Time { return testNow.Add(time.Hour) }
	views, err := p.unwarpStored(context.Background(), fisheyeKey)
	if err != nil {
		t.Fatalf("unwarpStored: %v", err)
	}
	for _, label := range []string{"N", "E", "S", "W", "B", "B_rotated"} {
		if want := store.Key(testNow, label, "png"); views[label] != want {
			t.Errorf("%s key = %q, want %q", label, views[label], want)
		}
	}
	if _, ok := views[store.FisheyeLabel]; ok {
		t.Error("the raw capture is not a view")
	}

	keys, err := p.store.List()
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.ViewsOf(keys, fisheyeKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(views) {
		t.Errorf("stored views = %v, want %v", got, views)
	}
}

func TestPipeline_UnwarpStoredErrors(t *testing.T) {
	p := newTestPipeline(t, &fakeCamera{})
	ctx := context.Background()
	if _, err := p.unwarpStored(ctx, store.Key(testNow, store.FisheyeLabel, "png")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing capture error = %v, want ErrNotFound", err)
	}
	if _, err := p.unwarpStored(ctx, store.Key(testNow, "N", "png")); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("view key error = %v, want ErrValidation", err)
	}
	if _, err := p.unwarpStored(ctx, "fisheye.png"); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("malformed key error = %v, want ErrValidation", err)
	}
}
