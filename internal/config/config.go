package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/vibecast/internal/logic/capture"
	"github.com/cjeanneret/vibecast/internal/logic/geometry"
	"github.com/cjeanneret/vibecast/internal/logic/raster"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// configDirName is the directory every config file must live in.
const configDirName = "configs"

// LensConfig describes the fisheye lens. Zero center/radius values are
// resolved against the capture size by LensParameters.
type LensConfig struct {
	Name       string  `yaml:"name"`        // e.g., "Reolink Fisheye 180°"
	Projection string  `yaml:"projection"`  // "equidistant" (default) or "equisolid"
	CenterX    float64 `yaml:"center_x"`    // optical center, pixels (0 = image center)
	CenterY    float64 `yaml:"center_y"`    // optical center, pixels (0 = image center)
	RadiusPx   float64 `yaml:"radius_px"`   // image circle radius (0 = half the short side)
	MaxFOVDeg  float64 `yaml:"max_fov_deg"` // full angular coverage of the circle (default: 180°)
}

// ViewsConfig describes the perspective views rendered per capture.
type ViewsConfig struct {
	Directions       []string           `yaml:"directions"`         // default: N, E, S, W, B
	WidthPx          int                `yaml:"width_px"`           // output width (default: 1280)
	HeightPx         int                `yaml:"height_px"`          // output height (default: 720)
	HorizontalFOVDeg float64            `yaml:"horizontal_fov_deg"` // default: 90°
	Rotations        map[string]float64 `yaml:"rotations"`          // per-direction corrective rotation, clockwise degrees
}

// CameraConfig describes where captures come from.
// Type selects a concrete implementation ("reolink_http" or "file").
type CameraConfig struct {
	Type       string `yaml:"type"`
	Scheme     string `yaml:"scheme"`       // http or https (default: http)
	IP         string `yaml:"ip"`           // overridden by CAMERA_IP
	Username   string `yaml:"username"`     // overridden by CAMERA_USERNAME
	Password   string `yaml:"password"`     // overridden by CAMERA_PASSWORD
	Channel    int    `yaml:"channel"`      // snapshot channel (default: 0)
	TimeoutMs  int    `yaml:"timeout_ms"`   // per-request timeout (default: 10000)
	RetryMaxMs int    `yaml:"retry_max_ms"` // total retry budget (default: 30000)
	Path       string `yaml:"path"`         // image path for type "file"
}

// OutputConfig describes where rendered views are stored.
type OutputConfig struct {
	Dir         string `yaml:"dir"`          // default: "output"
	Format      string `yaml:"format"`       // "jpg" (default) or "png"
	JPEGQuality int    `yaml:"jpeg_quality"` // 1-100 (default: 90)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	Workers    int    `yaml:"workers"`     // concurrent views per batch (0 = number of CPUs)
	Background [3]int `yaml:"background"`  // RGB fill outside lens coverage
}

// Config aggregates all application configuration.
type Config struct {
	Lens     LensConfig     `yaml:"lens"`
	Views    ViewsConfig    `yaml:"views"`
	Camera   CameraConfig   `yaml:"camera"`
	Output   OutputConfig   `yaml:"output"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files whose parent directory is
// named configs, with no ".." components.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != configDirName {
		return fmt.Errorf("config path %q must be inside a %s/ directory", path, configDirName)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.defaultsAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets credentials stay out of the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("CAMERA_IP"); v != "" {
		c.Camera.IP = v
	}
	if v := os.Getenv("CAMERA_USERNAME"); v != "" {
		c.Camera.Username = v
	}
	if v := os.Getenv("CAMERA_PASSWORD"); v != "" {
		c.Camera.Password = v
	}
}

func (c *Config) defaultsAndValidate() error {
	// Camera
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case "reolink_http":
		if c.Camera.IP == "" {
			return fmt.Errorf("camera.ip is required for reolink_http (or set CAMERA_IP)")
		}
	case "file":
		if c.Camera.Path == "" {
			return fmt.Errorf("camera.path is required for file cameras")
		}
	default:
		return fmt.Errorf("unknown camera.type %q", c.Camera.Type)
	}
	if c.Camera.Scheme == "" {
		c.Camera.Scheme = "http"
	}
	if c.Camera.Scheme != "http" && c.Camera.Scheme != "https" {
		return fmt.Errorf("camera.scheme must be http or https, got %q", c.Camera.Scheme)
	}
	if c.Camera.Channel < 0 {
		return fmt.Errorf("camera.channel must be >= 0, got %d", c.Camera.Channel)
	}
	if c.Camera.TimeoutMs <= 0 {
		c.Camera.TimeoutMs = 10000 // 10s per snapshot request
	}
	if c.Camera.RetryMaxMs <= 0 {
		c.Camera.RetryMaxMs = 30000 // 30s total retry budget
	}

	// Lens
	if c.Lens.Projection == "" {
		c.Lens.Projection = string(geometry.Equidistant)
	}
	if _, err := geometry.ParseProjection(c.Lens.Projection); err != nil {
		return err
	}
	if c.Lens.MaxFOVDeg == 0 {
		c.Lens.MaxFOVDeg = 180
	}
	if c.Lens.MaxFOVDeg < 0 || c.Lens.MaxFOVDeg > 180 {
		return fmt.Errorf("lens.max_fov_deg must be in (0, 180], got %.2f", c.Lens.MaxFOVDeg)
	}
	if c.Lens.RadiusPx < 0 || c.Lens.CenterX < 0 || c.Lens.CenterY < 0 {
		return fmt.Errorf("lens center and radius must be >= 0")
	}

	// Views
	if len(c.Views.Directions) == 0 {
		c.Views.Directions = []string{"N", "E", "S", "W", "B"}
	}
	for i, d := range c.Views.Directions {
		c.Views.Directions[i] = strings.ToUpper(strings.TrimSpace(d))
	}
	if c.Views.WidthPx == 0 {
		c.Views.WidthPx = 1280
	}
	if c.Views.HeightPx == 0 {
		c.Views.HeightPx = 720
	}
	if c.Views.HorizontalFOVDeg == 0 {
		c.Views.HorizontalFOVDeg = 90
	}
	if err := c.Frame().Validate(); err != nil {
		return err
	}
	rot, err := capture.NormalizeRotations(c.Views.Directions, c.Views.Rotations)
	if err != nil {
		return fmt.Errorf("views.rotations: %w", err)
	}
	c.Views.Rotations = rot

	// Output
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	c.Output.Format = strings.ToLower(strings.TrimPrefix(c.Output.Format, "."))
	switch c.Output.Format {
	case "":
		c.Output.Format = "jpg"
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("output.format must be jpg or png, got %q", c.Output.Format)
	}
	if c.Output.JPEGQuality == 0 {
		c.Output.JPEGQuality = 90
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be between 1 and 100, got %d", c.Output.JPEGQuality)
	}

	// Defaults
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.Workers < 0 {
		return fmt.Errorf("defaults.workers must be >= 0, got %d", c.Defaults.Workers)
	}
	for _, v := range c.Defaults.Background {
		if v < 0 || v > 255 {
			return fmt.Errorf("defaults.background components must be 0-255, got %v", c.Defaults.Background)
		}
	}
	return nil
}

// LensParameters resolves the lens section against a capture of the given
// size: a zero center means the image center, a zero radius half the short
// side.
func (c *Config) LensParameters(width, height int) geometry.LensParameters {
	p := geometry.LensParameters{
		Projection: geometry.Projection(c.Lens.Projection),
		CenterX:    c.Lens.CenterX,
		CenterY:    c.Lens.CenterY,
		RadiusPx:   c.Lens.RadiusPx,
		MaxFOVDeg:  c.Lens.MaxFOVDeg,
	}
	if p.CenterX == 0 {
		p.CenterX = float64(width-1) / 2
	}
	if p.CenterY == 0 {
		p.CenterY = float64(height-1) / 2
	}
	if p.RadiusPx == 0 {
		p.RadiusPx = float64(min(width, height)) / 2
	}
	return p
}

// Frame returns the output framing shared by all views.
func (c *Config) Frame() geometry.Frame {
	return geometry.Frame{
		Width:            c.Views.WidthPx,
		Height:           c.Views.HeightPx,
		HorizontalFOVDeg: c.Views.HorizontalFOVDeg,
	}
}

// Background returns the fill color for uncovered pixels.
func (c *Config) Background() raster.RGB {
	b := c.Defaults.Background
	return raster.RGB{R: uint8(b[0]), G: uint8(b[1]), B: uint8(b[2])}
}

// CameraTimeout returns the per-request snapshot timeout.
func (c *Config) CameraTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutMs) * time.Millisecond
}

// RetryMaxElapsed returns the total time budget for snapshot retries.
func (c *Config) RetryMaxElapsed() time.Duration {
	return time.Duration(c.Camera.RetryMaxMs) * time.Millisecond
}
