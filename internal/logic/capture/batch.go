package capture

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/vibecast/internal/debug"
	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/logic/geometry"
	"github.com/cjeanneret/vibecast/internal/logic/projection"
	"github.com/cjeanneret/vibecast/internal/logic/raster"
	"github.com/cjeanneret/vibecast/internal/logic/rotation"
)

// RotatedSuffix is appended to a label for its rotated variant.
const RotatedSuffix = "_rotated"

// RotatedLabel returns the label of the rotated variant of label.
func RotatedLabel(label string) string { return label + RotatedSuffix }

// Request is one view to render from a capture.
type Request struct {
	Label     string // result key; defaults to the direction code
	Direction string
	Frame     geometry.Frame
	RotateDeg *float64 // optional corrective rotation, clockwise positive
}

func (r Request) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Direction
}

// Result is the outcome for one label: an image or an error, never both.
type Result struct {
	Label     string
	Direction string
	Image     *raster.Buffer
	Err       error
	Rotated   bool    // true for a <label>_rotated entry
	AngleDeg  float64 // requested rotation, for rotated entries
}

// OK reports whether the result holds an image.
func (r Result) OK() bool { return r.Err == nil && r.Image != nil }

// Kind is the error category of the result (fault.KindNone on success).
func (r Result) Kind() fault.Kind { return fault.KindOf(r.Err) }

// Results maps labels to their outcome.
type Results map[string]Result

// Labels returns all labels, sorted.
func (rs Results) Labels() []string {
	out := make([]string, 0, len(rs))
	for l := range rs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Failed returns the labels whose result carries an error, sorted.
func (rs Results) Failed() []string {
	var out []string
	for _, l := range rs.Labels() {
		if rs[l].Err != nil {
			out = append(out, l)
		}
	}
	return out
}

// Options tunes a batch.
type Options struct {
	Workers    int        // concurrent requests; <= 0 means runtime.NumCPU()
	Background raster.RGB // fill for pixels outside lens coverage or canvas
}

// Run renders every request from src.
//
// The lens is validated once; a configuration error aborts the batch before
// any request runs. After that, each request succeeds or fails on its own:
// an unknown direction or a bad rotation angle is recorded under its label
// without touching the siblings. Duplicate labels are rejected up front.
//
// If ctx is cancelled before every request has started, Run returns
// ctx.Err() and discards partial results.
func Run(ctx context.Context, src *raster.Buffer, params geometry.LensParameters, reqs []Request, opts Options) (Results, error) {
	if src.Empty() {
		return nil, fault.Configurationf("source capture is empty")
	}
	lens, err := geometry.NewLens(params, src.Width(), src.Height())
	if err != nil {
		return nil, err
	}
	if err := checkLabels(reqs); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	debug.Info("Batch: %d request(s) on %dx%d capture, %d worker(s)", len(reqs), src.Width(), src.Height(), workers)

	w := &worker{
		src:       src,
		projector: projection.NewProjector(lens, opts.Background),
		corrector: rotation.NewCorrector(opts.Background),
	}
	slots := make([][]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = w.run(req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make(Results, len(reqs))
	for _, rs := range slots {
		for _, r := range rs {
			results[r.Label] = r
		}
	}
	if failed := results.Failed(); len(failed) > 0 {
		debug.Info("Batch: %d/%d label(s) failed: %v", len(failed), len(results), failed)
	}
	return results, nil
}

func checkLabels(reqs []Request) error {
	seen := make(map[string]bool, len(reqs))
	claim := func(l string) error {
		if seen[l] {
			return fault.Validationf("duplicate result label %q", l)
		}
		seen[l] = true
		return nil
	}
	for _, r := range reqs {
		l := r.label()
		if l == "" {
			return fault.Validationf("request has neither a label nor a direction")
		}
		if err := claim(l); err != nil {
			return err
		}
		if r.RotateDeg != nil {
			if err := claim(RotatedLabel(l)); err != nil {
				return err
			}
		}
	}
	return nil
}

// viewRenderer is what a worker needs from projection.Projector.
type viewRenderer interface {
	Project(src *raster.Buffer, req projection.Request) (*raster.Buffer, error)
}

type worker struct {
	src       *raster.Buffer
	projector viewRenderer
	corrector *rotation.Corrector
}

// run renders one request. It never panics out of the batch: a panic in a
// transform is reported as a processing error for that request.
func (w *worker) run(req Request) (out []Result) {
	label := req.label()
	defer func() {
		if p := recover(); p != nil {
			err := fault.Processingf("%s: panic: %v", label, p)
			debug.Error(err)
			out = []Result{{Label: label, Direction: req.Direction, Err: err}}
			if req.RotateDeg != nil {
				out = append(out, Result{Label: RotatedLabel(label), Direction: req.Direction, Err: err, Rotated: true, AngleDeg: *req.RotateDeg})
			}
		}
	}()

	img, err := w.projector.Project(w.src, projection.Request{Direction: req.Direction, Frame: req.Frame})
	if err != nil {
		err = fmt.Errorf("%s: %w", label, err)
		debug.Error(err)
	} else {
		debug.Live("View %s rendered (%dx%d)", label, img.Width(), img.Height())
	}
	out = append(out, Result{Label: label, Direction: req.Direction, Image: img, Err: err})

	if req.RotateDeg == nil {
		return out
	}
	rl := RotatedLabel(label)
	rot := Result{Label: rl, Direction: req.Direction, Rotated: true, AngleDeg: *req.RotateDeg}
	if err != nil {
		rot.Err = fmt.Errorf("%s: not rotated, projection failed: %w", rl, err)
	} else if rot.Image, rot.Err = w.corrector.Rotate(img, *req.RotateDeg); rot.Err != nil {
		rot.Err = fmt.Errorf("%s: %w", rl, rot.Err)
		debug.Error(rot.Err)
	} else {
		debug.Live("View %s rotated by %.1f° (%dx%d)", rl, *req.RotateDeg, rot.Image.Width(), rot.Image.Height())
	}
	return append(out, rot)
}
