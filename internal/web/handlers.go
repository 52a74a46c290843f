package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/imageio"
	"github.com/cjeanneret/vibecast/internal/logic/capture"
	"github.com/cjeanneret/vibecast/internal/store"
)

// MaxRequestBodyBytes caps JSON request bodies.
const MaxRequestBodyBytes = 1 << 20

// DefaultMinRunInterval is the minimum delay between two accepted runs.
const DefaultMinRunInterval = 5 * time.Second

// Limits for view overrides.
const (
	MaxViewSidePx     = 8192
	MaxViewDirections = 16
)

// Overrides holds batch parameters that can override config defaults.
type Overrides struct {
	Directions       []string           `json:"directions"`
	WidthPx          int                `json:"width_px"`
	HeightPx         int                `json:"height_px"`
	HorizontalFOVDeg float64            `json:"horizontal_fov_deg"`
	Rotations        map[string]float64 `json:"rotations,omitempty"`
}

// RunCaptureFunc runs one batch with the given overrides.
// It is called from the POST /run handler in a goroutine.
type RunCaptureFunc func(ctx context.Context, overrides Overrides) error

// RotateFunc rotates the stored view at key and returns the key of the
// stored rotated variant.
type RotateFunc func(ctx context.Context, key string, angleDeg float64) (string, error)

// UnwarpFunc renders the views of the stored raw capture at key again and
// returns label -> key of the stored views.
type UnwarpFunc func(ctx context.Context, key string) (map[string]string, error)

// ImageStore is the subset of the view store the handlers need.
type ImageStore interface {
	List() ([]string, error)
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// Deps are the collaborators behind the handlers. Nil members disable the
// matching routes with 503 Service Unavailable.
type Deps struct {
	RunCapture RunCaptureFunc
	Rotate     RotateFunc
	Unwarp     UnwarpFunc
	Images     ImageStore
}

// FormConfig holds default values for the batch form (from config).
type FormConfig = Overrides

// RotateRequest is the body of POST /rotate.
type RotateRequest struct {
	Key      string  `json:"key"`
	AngleDeg float64 `json:"angle_deg"`
}

// UnwarpRequest is the body of POST /unwarp.
type UnwarpRequest struct {
	Key string `json:"key"`
}

// ViewsResponse lists the views of one raw capture.
type ViewsResponse struct {
	Key   string            `json:"key"`
	Views map[string]string `json:"views"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster    *StatusBroadcaster
	Deps           Deps
	FormDefaults   FormConfig
	MinRunInterval time.Duration
	runningMu      sync.Mutex
	running        bool
	lastRun        time.Time
	staticFS       fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, deps Deps, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:    broadcaster,
		Deps:           deps,
		FormDefaults:   formDefaults,
		MinRunInterval: DefaultMinRunInterval,
		staticFS:       staticFS,
	}
}

// ValidateOverrides checks the framing and rotations of a run request.
// Direction codes are not checked here: an unknown code fails only its own
// label in the batch.
func ValidateOverrides(o Overrides) error {
	if len(o.Directions) == 0 {
		return fault.Validationf("at least one direction is required")
	}
	if len(o.Directions) > MaxViewDirections {
		return fault.Validationf("at most %d directions per run, got %d", MaxViewDirections, len(o.Directions))
	}
	if o.WidthPx <= 0 || o.WidthPx > MaxViewSidePx || o.HeightPx <= 0 || o.HeightPx > MaxViewSidePx {
		return fault.Validationf("width_px and height_px must be between 1 and %d, got %dx%d", MaxViewSidePx, o.WidthPx, o.HeightPx)
	}
	if math.IsNaN(o.HorizontalFOVDeg) || o.HorizontalFOVDeg <= 0 || o.HorizontalFOVDeg >= 180 {
		return fault.Validationf("horizontal_fov_deg must be in (0, 180), got %g", o.HorizontalFOVDeg)
	}
	for d, a := range o.Rotations {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return fault.Validationf("rotation for %s must be finite", d)
		}
	}
	if _, err := capture.NormalizeRotations(o.Directions, o.Rotations); err != nil {
		return err
	}
	return nil
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, fault.ErrConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.Validationf("invalid JSON: %v", err)
	}
	return nil
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to start a batch.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var overrides Overrides
	if err := decodeJSON(w, r, &overrides); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateOverrides(overrides); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Deps.RunCapture == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	if status := h.tryStart(true); status != 0 {
		http.Error(w, batchBusyText(status), status)
		return
	}

	// Run in goroutine; clear running when done
	go func() {
		defer h.finish()

		ctx := context.Background()
		if err := h.Deps.RunCapture(ctx, overrides); err != nil {
			h.Broadcaster.Broadcast("error", "Batch failed: "+err.Error())
			log.Printf("batch failed: %v", err)
		} else {
			h.Broadcaster.Broadcast("info", "Batch complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// tryStart claims the single batch slot. It returns 0 on success, or the
// HTTP status to answer with. rateLimit also enforces MinRunInterval.
func (h *Handlers) tryStart(rateLimit bool) int {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	if h.running {
		return http.StatusConflict
	}
	if rateLimit && !h.lastRun.IsZero() && time.Since(h.lastRun) < h.MinRunInterval {
		return http.StatusTooManyRequests
	}
	h.running = true
	if rateLimit {
		h.lastRun = time.Now()
	}
	return 0
}

func (h *Handlers) finish() {
	h.runningMu.Lock()
	h.running = false
	h.runningMu.Unlock()
}

func batchBusyText(status int) string {
	if status == http.StatusTooManyRequests {
		return "too many requests, retry later"
	}
	return "capture already in progress"
}

// HandleListImages handles GET /images. ?date=YYYY-MM-DD keeps one day;
// ?from_date=&to_date= (with optional from_time/to_time, HH:MM) keeps a
// range. With neither, every key is listed.
func (h *Handlers) HandleListImages(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Images == nil {
		http.Error(w, "image store not configured", http.StatusServiceUnavailable)
		return
	}
	keys, err := h.Deps.Images.List()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("from_date") != "" || q.Get("to_date") != "":
		from, to, err := store.ParseRange(q.Get("from_date"), q.Get("to_date"), q.Get("from_time"), q.Get("to_time"))
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		keys = store.InRange(keys, from, to)
	case q.Get("date") != "":
		day, err := store.ParseDate(q.Get("date"))
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		keys = store.OnDate(keys, day)
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys, "count": len(keys)})
}

// HandleStats handles GET /stats: raw captures per day.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Images == nil {
		http.Error(w, "image store not configured", http.StatusServiceUnavailable)
		return
	}
	keys, err := h.Deps.Images.List()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, store.Summarize(keys))
}

// HandleUnwarped handles GET /unwarped?key=: the stored views of one raw
// capture.
func (h *Handlers) HandleUnwarped(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Images == nil {
		http.Error(w, "image store not configured", http.StatusServiceUnavailable)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	keys, err := h.Deps.Images.List()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if !slices.Contains(keys, key) {
		http.Error(w, key+": "+store.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	views, err := store.ViewsOf(keys, key)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ViewsResponse{Key: key, Views: views})
}

// HandleUnwarp handles POST /unwarp: render the views of a stored raw
// capture again. It shares the batch slot with POST /run.
func (h *Handlers) HandleUnwarp(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Unwarp == nil {
		http.Error(w, "unwarp not configured", http.StatusServiceUnavailable)
		return
	}
	var req UnwarpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, err := store.ParseKey(req.Key)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if info.Label != store.FisheyeLabel {
		http.Error(w, "unwarp a raw fisheye capture, not a view", http.StatusBadRequest)
		return
	}
	if status := h.tryStart(false); status != 0 {
		http.Error(w, batchBusyText(status), status)
		return
	}
	defer h.finish()

	views, err := h.Deps.Unwarp(r.Context(), req.Key)
	if err != nil {
		h.Broadcaster.Broadcast("error", "Unwarp failed: "+err.Error())
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.Broadcaster.Broadcast("info", fmt.Sprintf("Unwarped %s: %d view(s)", req.Key, len(views)))
	writeJSON(w, http.StatusOK, ViewsResponse{Key: req.Key, Views: views})
}

// HandleGetImage handles GET /images/{key}. ?w=N returns a JPEG thumbnail
// at most N pixels wide.
func (h *Handlers) HandleGetImage(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Images == nil {
		http.Error(w, "image store not configured", http.StatusServiceUnavailable)
		return
	}
	key := chi.URLParam(r, "*")
	format, err := imageio.FormatFromPath(key)
	if err != nil {
		http.Error(w, "unsupported image type", http.StatusBadRequest)
		return
	}
	data, err := h.Deps.Images.Get(key)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	if ws := r.URL.Query().Get("w"); ws != "" {
		maxWidth, err := strconv.Atoi(ws)
		if err != nil || maxWidth <= 0 || maxWidth > MaxViewSidePx {
			http.Error(w, "w must be a positive width", http.StatusBadRequest)
			return
		}
		img, _, err := imageio.Decode(bytes.NewReader(data))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var out bytes.Buffer
		if err := imageio.Encode(&out, imageio.Thumbnail(img, maxWidth), imageio.JPEG, imageio.DefaultJPEGQuality); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data, format = out.Bytes(), imageio.JPEG
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// HandleRotate handles POST /rotate: rotate a stored view and store the
// variant next to it.
func (h *Handlers) HandleRotate(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Rotate == nil {
		http.Error(w, "rotation not configured", http.StatusServiceUnavailable)
		return
	}
	var req RotateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	if math.IsNaN(req.AngleDeg) || math.IsInf(req.AngleDeg, 0) {
		http.Error(w, "angle_deg must be finite", http.StatusBadRequest)
		return
	}
	if store.IsRotated(req.Key) {
		http.Error(w, "rotate the original view, not a rotated variant", http.StatusBadRequest)
		return
	}

	key, err := h.Deps.Rotate(r.Context(), req.Key, req.AngleDeg)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.Broadcaster.Broadcast("info", fmt.Sprintf("Rotated %s by %.1f°", req.Key, req.AngleDeg))
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

// HandleDeleteRotated handles DELETE /rotated/{key}. Only rotated variants
// can be deleted.
func (h *Handlers) HandleDeleteRotated(w http.ResponseWriter, r *http.Request) {
	if h.Deps.Images == nil {
		http.Error(w, "image store not configured", http.StatusServiceUnavailable)
		return
	}
	key := chi.URLParam(r, "*")
	if !store.IsRotated(key) {
		http.Error(w, "only rotated variants can be deleted", http.StatusBadRequest)
		return
	}
	if err := h.Deps.Images.Delete(key); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
