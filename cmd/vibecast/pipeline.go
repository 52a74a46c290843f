package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/vibecast/internal/config"
	"github.com/cjeanneret/vibecast/internal/debug"
	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/hw/camera"
	"github.com/cjeanneret/vibecast/internal/imageio"
	"github.com/cjeanneret/vibecast/internal/logic/capture"
	"github.com/cjeanneret/vibecast/internal/logic/raster"
	"github.com/cjeanneret/vibecast/internal/logic/rotation"
	"github.com/cjeanneret/vibecast/internal/store"
	"github.com/cjeanneret/vibecast/internal/web"
)

// pipeline ties a camera, the view batch and the store together.
type pipeline struct {
	cfg   *config.Config
	cam   camera.Camera
	store *store.Local
	now   func() time.Time
}

func newPipeline(cfg *config.Config, cam camera.Camera, st *store.Local) *pipeline {
	return &pipeline{cfg: cfg, cam: cam, store: st, now: time.Now}
}

// batchReport lists what one batch stored and what failed.
type batchReport struct {
	ID     string
	Stored map[string]string // label -> store key
	Failed map[string]error
}

// runBatch takes one snapshot, renders every configured view and stores the
// successful ones. Failed labels are logged; the batch fails as a whole
// only when nothing could be rendered.
func (p *pipeline) runBatch(ctx context.Context, overrides web.Overrides) error {
	_, err := p.batch(ctx, overrides)
	return err
}

func (p *pipeline) batch(ctx context.Context, overrides web.Overrides) (*batchReport, error) {
	cfg := applyOverridesToCopy(p.cfg, overrides)
	report := &batchReport{
		ID:     uuid.NewString(),
		Stored: make(map[string]string),
		Failed: make(map[string]error),
	}
	ts := p.now()
	debug.Summary(fmt.Sprintf("Batch %s", report.ID))
	if _, err := capture.NormalizeRotations(cfg.Views.Directions, cfg.Views.Rotations); err != nil {
		return nil, fmt.Errorf("batch %s: %w", report.ID, err)
	}

	debug.Step(1, "Fetching snapshot")
	img, err := p.cam.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch %s: snapshot: %w", report.ID, err)
	}
	src := imageio.FromImage(img)
	debug.Value("Capture size", fmt.Sprintf("%dx%d", src.Width(), src.Height()))

	format, err := imageio.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, fault.Configurationf("%v", err)
	}
	if err := p.put(ts, store.FisheyeLabel, format, cfg.Output.JPEGQuality, img); err != nil {
		return nil, fmt.Errorf("batch %s: %w", report.ID, err)
	}
	report.Stored[store.FisheyeLabel] = store.Key(ts, store.FisheyeLabel, string(format))

	if err := p.renderAndStore(ctx, cfg, src, ts, format, report); err != nil {
		return nil, err
	}
	views := len(report.Stored) - 1
	debug.Info("Batch %s: %d view(s) stored, %d failed", report.ID, views, len(report.Failed))
	if views == 0 && len(report.Failed) > 0 {
		return report, fault.Processingf("batch %s: every view failed", report.ID)
	}
	return report, nil
}

// renderAndStore renders the configured views of src and stores each
// successful one under ts. Per-label failures go to report.Failed.
func (p *pipeline) renderAndStore(ctx context.Context, cfg *config.Config, src *raster.Buffer, ts time.Time, format imageio.Format, report *batchReport) error {
	debug.Step(2, "Rendering views")
	reqs, err := capture.Plan(cfg.Views.Directions, cfg.Frame(), cfg.Views.Rotations)
	if err != nil {
		return fmt.Errorf("batch %s: %w", report.ID, err)
	}
	results, err := capture.Run(ctx, src, cfg.LensParameters(src.Width(), src.Height()), reqs, capture.Options{
		Workers:    cfg.Defaults.Workers,
		Background: cfg.Background(),
	})
	if err != nil {
		return fmt.Errorf("batch %s: %w", report.ID, err)
	}

	debug.Step(3, "Storing views")
	for _, label := range results.Labels() {
		r := results[label]
		if !r.OK() {
			report.Failed[label] = r.Err
			debug.Error(fmt.Errorf("batch %s: %w", report.ID, r.Err))
			continue
		}
		key := store.Key(ts, label, string(format))
		data, err := imageio.EncodeBuffer(r.Image, format, cfg.Output.JPEGQuality)
		if err == nil {
			err = p.store.Put(key, data)
		}
		if err != nil {
			report.Failed[label] = err
			debug.Error(fmt.Errorf("batch %s: store %s: %w", report.ID, label, err))
			continue
		}
		report.Stored[label] = key
		debug.Live("Stored %s", key)
	}
	return nil
}

// unwarpStored renders the configured views again from a stored raw
// capture. Views are stored under the capture's timestamp, replacing
// earlier renders of the same labels. It returns label -> key.
func (p *pipeline) unwarpStored(ctx context.Context, key string) (map[string]string, error) {
	info, err := store.ParseKey(key)
	if err != nil {
		return nil, err
	}
	if info.Label != store.FisheyeLabel {
		return nil, fault.Validationf("%s is not a raw %s capture", key, store.FisheyeLabel)
	}
	data, err := p.store.Get(key)
	if err != nil {
		return nil, err
	}
	img, _, err := imageio.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	format, err := imageio.ParseFormat(p.cfg.Output.Format)
	if err != nil {
		return nil, fault.Configurationf("%v", err)
	}

	report := &batchReport{ID: uuid.NewString(), Stored: make(map[string]string), Failed: make(map[string]error)}
	debug.Summary(fmt.Sprintf("Unwarp %s (batch %s)", key, report.ID))
	if err := p.renderAndStore(ctx, p.cfg, imageio.FromImage(img), info.Time, format, report); err != nil {
		return nil, err
	}
	debug.Info("Unwarp %s: %d view(s) stored, %d failed", key, len(report.Stored), len(report.Failed))
	if len(report.Stored) == 0 && len(report.Failed) > 0 {
		return nil, fault.Processingf("unwarp %s: every view failed", key)
	}
	return report.Stored, nil
}

func (p *pipeline) put(ts time.Time, label string, format imageio.Format, quality int, img image.Image) error {
	var buf bytes.Buffer
	if err := imageio.Encode(&buf, img, format, quality); err != nil {
		return err
	}
	key := store.Key(ts, label, string(format))
	if err := p.store.Put(key, buf.Bytes()); err != nil {
		return err
	}
	debug.Live("Stored %s", key)
	return nil
}

// rotateStored rotates the stored view at key clockwise by angleDeg and
// stores the result as its rotated variant, replacing any previous one.
func (p *pipeline) rotateStored(ctx context.Context, key string, angleDeg float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if store.IsRotated(key) {
		return "", fault.Validationf("%s is already a rotated variant", key)
	}
	format, err := imageio.FormatFromPath(key)
	if err != nil {
		return "", fault.Validationf("%v", err)
	}
	data, err := p.store.Get(key)
	if err != nil {
		return "", err
	}
	img, _, err := imageio.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}

	rotated, err := rotation.NewCorrector(p.cfg.Background()).Rotate(imageio.FromImage(img), angleDeg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	out, err := imageio.EncodeBuffer(rotated, format, p.cfg.Output.JPEGQuality)
	if err != nil {
		return "", err
	}
	rk := store.RotatedKey(key)
	if err := p.store.Put(rk, out); err != nil {
		return "", err
	}
	debug.Live("Rotated %s by %.1f° -> %s (%dx%d)", key, angleDeg, rk, rotated.Width(), rotated.Height())
	return rk, nil
}

// runEvery runs a batch immediately and then once per interval until ctx is
// cancelled. Batch errors are logged and do not stop the loop.
func (p *pipeline) runEvery(ctx context.Context, interval time.Duration, overrides web.Overrides) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.runBatch(ctx, overrides); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			debug.Error(err)
			log.Printf("batch failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
