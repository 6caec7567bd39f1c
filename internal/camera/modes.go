package camera

import "fmt"

// FOVMode governs how output resolutions below the sensor mode's envelope
// are produced: downscaling a full readout (constant field of view) or
// cropping the sensor (digital zoom effect).
type FOVMode string

const (
	FOVScale FOVMode = "scale"
	FOVCrop  FOVMode = "crop"
)

// ParseFOVMode validates a field-of-view mode string.
func ParseFOVMode(s string) (FOVMode, error) {
	switch FOVMode(s) {
	case FOVScale, FOVCrop:
		return FOVMode(s), nil
	default:
		return "", &ValidationError{Field: "fov_mode", Message: fmt.Sprintf("must be %q or %q (got %q)", FOVScale, FOVCrop, s)}
	}
}

// SensorMode is one native readout configuration of the image sensor.
// Modes trade resolution for framerate; cropped modes read a subwindow of
// the sensor and narrow the field of view.
type SensorMode struct {
	Name         string  `json:"name"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	MaxFramerate float64 `json:"max_framerate"`
	Cropped      bool    `json:"cropped"`
}

// sensorModes is ordered lowest-resolution/highest-framerate first.
var sensorModes = []SensorMode{
	{Name: "720p120", Width: 1280, Height: 720, MaxFramerate: 120, Cropped: true},
	{Name: "1080p50", Width: 1920, Height: 1080, MaxFramerate: 50, Cropped: false},
	{Name: "1440p40", Width: 2560, Height: 1440, MaxFramerate: 40, Cropped: false},
	{Name: "2160p30", Width: 3840, Height: 2160, MaxFramerate: 30, Cropped: false},
}

// SensorModes returns the static mode table.
func SensorModes() []SensorMode {
	out := make([]SensorMode, len(sensorModes))
	copy(out, sensorModes)
	return out
}

// SelectSensorMode chooses the readout mode for a target resolution.
//
// The lowest-resolution mode whose envelope covers the target wins, except
// that wide-angle cameras never use a cropped mode for targets within the
// largest full-width envelope: they give up framerate headroom to keep
// their native field of view. Targets larger than every envelope select
// the largest mode and the applied resolution is clamped to its envelope.
//
// With the current mode table fov does not change which mode wins; scale
// versus crop is realised at the device layer, which pins the sensor
// window only when scaling.
func SelectSensorMode(targetWidth, targetHeight int, fov FOVMode, wideAngle bool) (mode SensorMode, appliedWidth, appliedHeight int) {
	for _, m := range sensorModes {
		if wideAngle && m.Cropped {
			continue
		}
		if m.Width >= targetWidth && m.Height >= targetHeight {
			return m, targetWidth, targetHeight
		}
	}

	largest := sensorModes[len(sensorModes)-1]
	w, h := targetWidth, targetHeight
	if w > largest.Width {
		w = largest.Width
	}
	if h > largest.Height {
		h = largest.Height
	}
	return largest, w, h
}

// ClampFramerate limits a requested framerate to the mode's maximum.
func ClampFramerate(requested float64, mode SensorMode) (applied float64, clamped bool) {
	if requested > mode.MaxFramerate {
		return mode.MaxFramerate, true
	}
	return requested, false
}

// MaxFramerateFor returns the framerate ceiling a resolution would get.
func MaxFramerateFor(width, height int, fov FOVMode, wideAngle bool) float64 {
	mode, _, _ := SelectSensorMode(width, height, fov, wideAngle)
	return mode.MaxFramerate
}

// FramerateLimit pairs a resolution with its framerate ceiling, for the
// capabilities endpoint.
type FramerateLimit struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	MaxFramerate float64 `json:"max_framerate"`
}

// FramerateLimits reports the ceiling for each well-known resolution.
func FramerateLimits(fov FOVMode, wideAngle bool) []FramerateLimit {
	limits := make([]FramerateLimit, 0, len(sensorModes))
	for _, m := range sensorModes {
		limits = append(limits, FramerateLimit{
			Width:        m.Width,
			Height:       m.Height,
			MaxFramerate: MaxFramerateFor(m.Width, m.Height, fov, wideAngle),
		})
	}
	return limits
}
