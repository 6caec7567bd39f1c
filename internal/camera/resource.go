package camera

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Snapshot is a consistent point-in-time view of the camera state. All
// fields are copies taken under the resource lock.
type Snapshot struct {
	Configured bool         `json:"configured"`
	Model      string       `json:"model"`
	WideAngle  bool         `json:"wide_angle"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Framerate  float64      `json:"framerate"`
	FOVMode    FOVMode      `json:"fov_mode"`
	SensorMode string       `json:"sensor_mode"`
	Controls   []string     `json:"controls"`
	Metadata   *Metadata    `json:"metadata,omitempty"`
	Since      time.Time    `json:"configured_at"`
}

// Capabilities describes what the attached camera can do.
type Capabilities struct {
	Model           string           `json:"model"`
	WideAngle       bool             `json:"wide_angle"`
	SensorModes     []SensorMode     `json:"sensor_modes"`
	FramerateLimits []FramerateLimit `json:"framerate_limits"`
	ControlRanges   map[string]any   `json:"control_ranges"`
}

// Resource owns the camera device and the lock that serialises access to
// it. Direct control writes go through here without involving the
// reconfiguration path.
type Resource struct {
	mu     sync.Mutex
	logger *slog.Logger
	device Device

	model     string
	wideAngle bool

	configured bool
	config     DeviceConfig
	mode       SensorMode
	controls   map[string]Control
	since      time.Time
}

// NewResource wraps a probed device. Wide-angle detection happens once
// here, from the sensor model string, and is immutable afterwards.
func NewResource(device Device, logger *slog.Logger) (*Resource, error) {
	model, err := device.Model()
	if err != nil {
		return nil, fmt.Errorf("reading camera model: %w", err)
	}
	return &Resource{
		logger:    logger.With("component", "camera"),
		device:    device,
		model:     model,
		wideAngle: isWideAngle(model),
		controls:  make(map[string]Control),
	}, nil
}

// isWideAngle recognises the wide-angle Camera Module 3 variants.
func isWideAngle(model string) bool {
	return strings.Contains(strings.ToLower(model), "_wide")
}

// Model returns the probed sensor model string.
func (r *Resource) Model() string { return r.model }

// WideAngle reports whether the attached camera is a wide-angle variant.
func (r *Resource) WideAngle() bool { return r.wideAngle }

// Configure pushes a capture configuration to the device. The resource
// state is committed only after the device accepts it, so a failure leaves
// the previous configuration intact and readable.
func (r *Resource) Configure(cfg DeviceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode, w, h := SelectSensorMode(cfg.Width, cfg.Height, cfg.FOVMode, r.wideAngle)
	cfg.Width, cfg.Height = w, h
	cfg.SensorWidth, cfg.SensorHeight = mode.Width, mode.Height

	if err := r.device.Configure(cfg); err != nil {
		return fmt.Errorf("configuring camera: %w", err)
	}

	r.config = cfg
	r.mode = mode
	r.configured = true
	r.since = time.Now()
	return nil
}

// Apply validates and writes one control to the device. It never touches
// the reconfiguration path.
func (r *Resource) Apply(c Control) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return ErrNotAvailable
	}

	if err := r.device.ApplyControl(c); err != nil {
		return &HardwareError{Op: c.Name(), Err: err}
	}
	r.controls[c.Name()] = c
	r.logger.Info("control set", "control", c.Name())
	return nil
}

// Config returns the committed capture configuration.
func (r *Resource) Config() (DeviceConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config, r.configured
}

// FOVMode returns the committed field-of-view mode, defaulting to scale
// before the first configuration.
func (r *Resource) FOVMode() FOVMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.config.FOVMode == "" {
		return FOVScale
	}
	return r.config.FOVMode
}

// Snapshot captures the camera state in one lock acquisition.
func (r *Resource) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Configured: r.configured,
		Model:      r.model,
		WideAngle:  r.wideAngle,
		Width:      r.config.Width,
		Height:     r.config.Height,
		Framerate:  r.config.Framerate,
		FOVMode:    r.config.FOVMode,
		SensorMode: r.mode.Name,
		Since:      r.since,
	}
	for name := range r.controls {
		s.Controls = append(s.Controls, name)
	}
	if r.configured {
		if md, err := r.device.Metadata(); err == nil {
			s.Metadata = &md
		}
	}
	return s
}

// Capabilities reports the mode table, framerate ceilings and control
// ranges for this camera.
func (r *Resource) Capabilities() Capabilities {
	return Capabilities{
		Model:           r.model,
		WideAngle:       r.wideAngle,
		SensorModes:     SensorModes(),
		FramerateLimits: FramerateLimits(r.FOVMode(), r.wideAngle),
		ControlRanges: map[string]any{
			"exposure_us":   map[string]any{"min": MinExposureMicros, "max": MaxExposureMicros},
			"gain":          map[string]any{"min": MinAnalogueGain, "max": MaxAnalogueGain},
			"ev":            map[string]any{"min": MinExposureValue, "max": MaxExposureValue},
			"colour_gains":  map[string]any{"min": MinColourGain, "max": MaxColourGain},
			"lens_position": map[string]any{"min": MinLensPosition, "max": MaxLensPosition},
			"brightness":    map[string]any{"min": -1.0, "max": 1.0},
			"contrast":      map[string]any{"min": 0.0, "max": 2.0},
			"saturation":    map[string]any{"min": 0.0, "max": 2.0},
			"sharpness":     map[string]any{"min": 0.0, "max": 16.0},
			"rotation":      []int{0, 180},
			"awb_modes":     awbModes,
			"hdr_modes":     hdrModes,
			"denoise_modes": noiseReductionModes,
			"af_modes":      autofocusModes,
		},
	}
}

// Close releases the device.
func (r *Resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = false
	return r.device.Close()
}
