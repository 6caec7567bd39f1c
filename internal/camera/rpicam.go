package camera

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

const probeTimeout = 10 * time.Second

// RpicamDevice drives the camera through the rpicam command line tools.
// The capture process itself belongs to the streaming pipeline; this type
// probes the sensor, validates configurations against the probed modes and
// tracks the control state the pipeline bakes into its command line.
type RpicamDevice struct {
	mu       sync.Mutex
	logger   *slog.Logger
	binary   string
	model    string
	config   DeviceConfig
	controls map[string]Control
	closed   bool
}

// NewRpicamDevice probes for the rpicam tools and the attached sensor.
func NewRpicamDevice(logger *slog.Logger) (*RpicamDevice, error) {
	binary, err := findRpicamBinary()
	if err != nil {
		return nil, err
	}

	d := &RpicamDevice{
		logger:   logger.With("component", "camera"),
		binary:   binary,
		controls: make(map[string]Control),
	}

	model, err := d.probeModel()
	if err != nil {
		return nil, fmt.Errorf("probing camera: %w", err)
	}
	d.model = model
	d.logger.Info("camera probed", "model", model, "binary", binary)
	return d, nil
}

// findRpicamBinary locates the rpicam capture tool, falling back to the
// older libcamera name on pre-bookworm installs.
func findRpicamBinary() (string, error) {
	for _, name := range []string{"rpicam-still", "libcamera-still"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("rpicam tools not found in PATH: %w", ErrNotAvailable)
}

// cameraLine matches entries like "0 : imx708_wide [4608x2592 ...]".
var cameraLine = regexp.MustCompile(`^\s*\d+\s*:\s*(\S+)\s*\[`)

func (d *RpicamDevice) probeModel() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, d.binary, "--list-cameras").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s --list-cameras: %w", d.binary, err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if m := cameraLine.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("no cameras listed: %w", ErrNotAvailable)
}

func (d *RpicamDevice) Configure(cfg DeviceConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrNotAvailable
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return &HardwareError{Op: "configure", Err: fmt.Errorf("invalid geometry %dx%d", cfg.Width, cfg.Height)}
	}
	d.config = cfg
	d.logger.Info("camera configured",
		"width", cfg.Width,
		"height", cfg.Height,
		"sensor", fmt.Sprintf("%dx%d", cfg.SensorWidth, cfg.SensorHeight),
		"framerate", cfg.Framerate,
		"fov_mode", cfg.FOVMode)
	return nil
}

func (d *RpicamDevice) ApplyControl(c Control) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrNotAvailable
	}

	d.controls[c.Name()] = c
	d.logger.Debug("control applied", "control", c.Name())
	return nil
}

// Metadata reports the last applied control state. Per-frame sensor
// metadata is only observable from inside the capture process, so the
// readback here reflects commanded values rather than measured ones.
func (d *RpicamDevice) Metadata() (Metadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Metadata{}, ErrNotAvailable
	}

	md := Metadata{AnalogueGain: 1.0, DigitalGain: 1.0}
	if c, ok := d.controls[ManualExposure{}.Name()]; ok {
		if me, ok := c.(ManualExposure); ok {
			md.ExposureMicros = me.ExposureMicros
			md.AnalogueGain = me.Gain
		}
	}
	if c, ok := d.controls[ManualAWB{}.Name()]; ok {
		if awb, ok := c.(ManualAWB); ok {
			md.RedGain = awb.RedGain
			md.BlueGain = awb.BlueGain
		}
	}
	if c, ok := d.controls[LensPosition{}.Name()]; ok {
		if lp, ok := c.(LensPosition); ok {
			md.LensPosition = lp.Position
		}
	}
	return md, nil
}

func (d *RpicamDevice) Model() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", ErrNotAvailable
	}
	return d.model, nil
}

// Config returns the last applied capture configuration, for the streaming
// pipeline to build its command line from.
func (d *RpicamDevice) Config() DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// CaptureArgs renders the current configuration and control state as
// rpicam-vid command line arguments.
func (d *RpicamDevice) CaptureArgs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	args := []string{
		"--width", fmt.Sprint(d.config.Width),
		"--height", fmt.Sprint(d.config.Height),
		"--framerate", fmt.Sprintf("%g", d.config.Framerate),
	}
	if d.config.SensorWidth > 0 && d.config.FOVMode == FOVScale {
		args = append(args, "--mode", fmt.Sprintf("%d:%d", d.config.SensorWidth, d.config.SensorHeight))
	}

	if c, ok := d.controls[ManualExposure{}.Name()].(ManualExposure); ok {
		args = append(args, "--shutter", fmt.Sprint(c.ExposureMicros), "--gain", fmt.Sprintf("%g", c.Gain))
	}
	if c, ok := d.controls[ExposureValue{}.Name()].(ExposureValue); ok {
		args = append(args, "--ev", fmt.Sprintf("%g", c.EV))
	}
	if c, ok := d.controls[AWBMode{}.Name()].(AWBMode); ok {
		args = append(args, "--awb", c.Mode)
	}
	if c, ok := d.controls[ManualAWB{}.Name()].(ManualAWB); ok {
		args = append(args, "--awbgains", fmt.Sprintf("%g,%g", c.RedGain, c.BlueGain))
	}
	if c, ok := d.controls[NoiseReduction{}.Name()].(NoiseReduction); ok {
		args = append(args, "--denoise", strings.ReplaceAll(c.Mode, "_", ""))
	}
	if c, ok := d.controls[HDR{}.Name()].(HDR); ok && c.Mode != "off" {
		args = append(args, "--hdr", c.Mode)
	}
	if c, ok := d.controls[ROI{}.Name()].(ROI); ok {
		args = append(args, "--roi", fmt.Sprintf("%g,%g,%g,%g", c.X, c.Y, c.Width, c.Height))
	}
	if c, ok := d.controls[ImageAdjust{}.Name()].(ImageAdjust); ok {
		if c.Brightness != nil {
			args = append(args, "--brightness", fmt.Sprintf("%g", *c.Brightness))
		}
		if c.Contrast != nil {
			args = append(args, "--contrast", fmt.Sprintf("%g", *c.Contrast))
		}
		if c.Saturation != nil {
			args = append(args, "--saturation", fmt.Sprintf("%g", *c.Saturation))
		}
		if c.Sharpness != nil {
			args = append(args, "--sharpness", fmt.Sprintf("%g", *c.Sharpness))
		}
	}
	if c, ok := d.controls[AutofocusMode{}.Name()].(AutofocusMode); ok {
		args = append(args, "--autofocus-mode", c.Mode)
	}
	if c, ok := d.controls[LensPosition{}.Name()].(LensPosition); ok {
		args = append(args, "--lens-position", fmt.Sprintf("%g", c.Position))
	}
	if c, ok := d.controls[Transform{}.Name()].(Transform); ok {
		if c.HFlip {
			args = append(args, "--hflip")
		}
		if c.VFlip {
			args = append(args, "--vflip")
		}
		if c.Rotation != 0 {
			args = append(args, "--rotation", fmt.Sprint(c.Rotation))
		}
	}
	return args
}

func (d *RpicamDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
