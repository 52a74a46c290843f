package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"maps"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cjeanneret/vibecast/internal/config"
	"github.com/cjeanneret/vibecast/internal/debug"
	"github.com/cjeanneret/vibecast/internal/hw/camera"
	"github.com/cjeanneret/vibecast/internal/logic/capture"
	"github.com/cjeanneret/vibecast/internal/store"
	"github.com/cjeanneret/vibecast/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	input := flag.String("input", "", "read captures from this image file instead of the configured camera")
	views := flag.String("views", "", "comma-separated directions to render, e.g. N,E,S,W,B (default from config)")
	rotate := flag.String("rotate", "", "corrective rotations, e.g. N=30,B=-15 (clockwise degrees)")
	fov := flag.Float64("fov", 0, "override horizontal field of view in degrees (0-180 exclusive)")
	width := flag.Int("width", 0, "override output width in pixels")
	height := flag.Int("height", 0, "override output height in pixels")
	every := flag.Duration("every", 0, "capture repeatedly at this interval (e.g. 60s); 0 = once")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*fov, *width, *height, *every); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	rotations, err := capture.ParseRotations(*rotate)
	if err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	if *rotate == "" {
		rotations = nil
	}

	// Apply CLI overrides to config
	applyOverrides(cfg, web.Overrides{
		Directions:       capture.ParseDirections(*views),
		WidthPx:          *width,
		HeightPx:         *height,
		HorizontalFOVDeg: *fov,
		Rotations:        rotations,
	})
	if *input != "" {
		cfg.Camera.Type = "file"
		cfg.Camera.Path = *input
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Initializing camera")
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Lens config", cfg.Lens)

	debug.Step(2, "Opening output store")
	st, err := store.NewLocal(cfg.Output.Dir)
	if err != nil {
		log.Fatalf("open output store failed: %v", err)
	}
	debug.Value("Output dir", st.Root())

	p := newPipeline(cfg, cam, st)

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		deps := web.Deps{
			RunCapture: p.runBatch,
			Rotate:     p.rotateStored,
			Unwarp:     p.unwarpStored,
			Images:     st,
		}
		srv := web.NewServer(webAddr, broadcaster, deps, formDefaults(cfg))
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	if *every > 0 {
		if err := p.runEvery(ctx, *every, web.Overrides{}); err != nil && err != context.Canceled {
			log.Fatalf("capture loop: %v", err)
		}
		return
	}

	// Run once with current config (already has CLI overrides applied)
	if err := p.runBatch(ctx, web.Overrides{}); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(fov float64, width, height int, every time.Duration) error {
	if fov != 0 {
		if math.IsNaN(fov) || math.IsInf(fov, 0) || fov <= 0 || fov >= 180 {
			return fmt.Errorf("fov must be between 0 and 180 (exclusive), got %g", fov)
		}
	}
	if width < 0 || width > web.MaxViewSidePx {
		return fmt.Errorf("width must be between 1 and %d, got %d", web.MaxViewSidePx, width)
	}
	if height < 0 || height > web.MaxViewSidePx {
		return fmt.Errorf("height must be between 1 and %d, got %d", web.MaxViewSidePx, height)
	}
	if every < 0 || (every > 0 && every < time.Second) {
		return fmt.Errorf("every must be at least 1s, got %v", every)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, overrides web.Overrides) {
	if len(overrides.Directions) > 0 {
		cfg.Views.Directions = slices.Clone(overrides.Directions)
	}
	if overrides.WidthPx > 0 {
		cfg.Views.WidthPx = overrides.WidthPx
	}
	if overrides.HeightPx > 0 {
		cfg.Views.HeightPx = overrides.HeightPx
	}
	if overrides.HorizontalFOVDeg > 0 {
		cfg.Views.HorizontalFOVDeg = overrides.HorizontalFOVDeg
	}
	if overrides.Rotations != nil {
		cfg.Views.Rotations = maps.Clone(overrides.Rotations)
	} else if len(overrides.Directions) > 0 {
		// Configured rotations only follow the directions still requested.
		planned := make(map[string]bool, len(cfg.Views.Directions))
		for _, d := range cfg.Views.Directions {
			planned[strings.ToUpper(strings.TrimSpace(d))] = true
		}
		maps.DeleteFunc(cfg.Views.Rotations, func(code string, _ float64) bool { return !planned[code] })
	}
}

// applyOverridesToCopy returns a new config with overrides applied.
// Zero values in overrides mean "use base config".
func applyOverridesToCopy(baseCfg *config.Config, overrides web.Overrides) *config.Config {
	cfg := *baseCfg
	cfg.Views.Directions = slices.Clone(baseCfg.Views.Directions)
	cfg.Views.Rotations = maps.Clone(baseCfg.Views.Rotations)
	applyOverrides(&cfg, overrides)
	return &cfg
}

// formDefaults exposes the configured views to the web form.
func formDefaults(cfg *config.Config) web.FormConfig {
	return web.FormConfig{
		Directions:       slices.Clone(cfg.Views.Directions),
		WidthPx:          cfg.Views.WidthPx,
		HeightPx:         cfg.Views.HeightPx,
		HorizontalFOVDeg: cfg.Views.HorizontalFOVDeg,
		Rotations:        maps.Clone(cfg.Views.Rotations),
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "reolink_http":
		return camera.NewReolinkHTTP(
			cfg.Camera.Scheme,
			cfg.Camera.IP,
			cfg.Camera.Username,
			cfg.Camera.Password,
			cfg.Camera.Channel,
			cfg.CameraTimeout(),
			cfg.RetryMaxElapsed(),
		), nil
	case "file":
		return camera.NewFile(cfg.Camera.Path), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
