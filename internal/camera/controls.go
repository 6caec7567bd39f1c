package camera

import "fmt"

// Control is one member of the closed set of camera controls. Every control
// validates itself before the device sees it; unknown controls cannot be
// expressed.
type Control interface {
	// Name identifies the control in logs, events and error messages.
	Name() string
	// Validate checks ranges and enums. A nil return means the control is
	// safe to hand to the device.
	Validate() error
}

// Control value limits, matching what the IMX708 pipeline accepts.
const (
	MinExposureMicros = 100
	MaxExposureMicros = 1_000_000
	MinAnalogueGain   = 1.0
	MaxAnalogueGain   = 16.0
	MinExposureValue  = -8.0
	MaxExposureValue  = 8.0
	MinColourGain     = 0.5
	MaxColourGain     = 5.0
	MinLensPosition   = 0.0
	MaxLensPosition   = 15.0
)

// AutoExposure enables or disables auto-exposure.
type AutoExposure struct {
	Enabled bool `json:"enabled"`
}

func (AutoExposure) Name() string    { return "auto_exposure" }
func (AutoExposure) Validate() error { return nil }

// ManualExposure fixes exposure time and analogue gain. Applying it
// disables auto-exposure.
type ManualExposure struct {
	ExposureMicros int     `json:"exposure_us"`
	Gain           float64 `json:"gain"`
}

func (ManualExposure) Name() string { return "manual_exposure" }

func (c ManualExposure) Validate() error {
	if c.ExposureMicros < MinExposureMicros || c.ExposureMicros > MaxExposureMicros {
		return &ValidationError{
			Field:   "exposure_us",
			Message: fmt.Sprintf("must be between %d and %d (got %d)", MinExposureMicros, MaxExposureMicros, c.ExposureMicros),
		}
	}
	if c.Gain < MinAnalogueGain || c.Gain > MaxAnalogueGain {
		return &ValidationError{
			Field:   "gain",
			Message: fmt.Sprintf("must be between %g and %g (got %g)", MinAnalogueGain, MaxAnalogueGain, c.Gain),
		}
	}
	return nil
}

// ExposureValue biases auto-exposure in stops.
type ExposureValue struct {
	EV float64 `json:"ev"`
}

func (ExposureValue) Name() string { return "exposure_value" }

func (c ExposureValue) Validate() error {
	if c.EV < MinExposureValue || c.EV > MaxExposureValue {
		return &ValidationError{
			Field:   "ev",
			Message: fmt.Sprintf("must be between %g and %g (got %g)", MinExposureValue, MaxExposureValue, c.EV),
		}
	}
	return nil
}

// AutoWhiteBalance enables or disables AWB.
type AutoWhiteBalance struct {
	Enabled bool `json:"enabled"`
}

func (AutoWhiteBalance) Name() string    { return "awb" }
func (AutoWhiteBalance) Validate() error { return nil }

// AWBMode selects an auto-white-balance preset.
type AWBMode struct {
	Mode string `json:"mode"`
}

var awbModes = []string{"auto", "tungsten", "fluorescent", "indoor", "daylight", "cloudy"}

func (AWBMode) Name() string { return "awb_mode" }

func (c AWBMode) Validate() error {
	return validateEnum("mode", c.Mode, awbModes)
}

// ManualAWB fixes the red and blue colour gains. Applying it disables AWB.
type ManualAWB struct {
	RedGain  float64 `json:"red_gain"`
	BlueGain float64 `json:"blue_gain"`
}

func (ManualAWB) Name() string { return "manual_awb" }

func (c ManualAWB) Validate() error {
	for _, g := range []struct {
		field string
		value float64
	}{
		{"red_gain", c.RedGain},
		{"blue_gain", c.BlueGain},
	} {
		if g.value < MinColourGain || g.value > MaxColourGain {
			return &ValidationError{
				Field:   g.field,
				Message: fmt.Sprintf("must be between %g and %g (got %g)", MinColourGain, MaxColourGain, g.value),
			}
		}
	}
	return nil
}

// NoiseReduction selects the ISP denoise mode.
type NoiseReduction struct {
	Mode string `json:"mode"`
}

var noiseReductionModes = []string{"off", "fast", "high_quality"}

func (NoiseReduction) Name() string { return "noise_reduction" }

func (c NoiseReduction) Validate() error {
	return validateEnum("mode", c.Mode, noiseReductionModes)
}

// HDR selects the sensor HDR mode. Changing it requires a camera restart on
// some firmware versions; the device implementation handles that.
type HDR struct {
	Mode string `json:"mode"`
}

var hdrModes = []string{"off", "single_exposure", "multi_exposure", "night"}

func (HDR) Name() string { return "hdr" }

func (c HDR) Validate() error {
	return validateEnum("mode", c.Mode, hdrModes)
}

// ROI restricts capture to a normalised window of the sensor area.
// All coordinates are fractions of the full frame in [0, 1].
type ROI struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (ROI) Name() string { return "roi" }

func (c ROI) Validate() error {
	for _, f := range []struct {
		field string
		value float64
	}{
		{"x", c.X},
		{"y", c.Y},
		{"width", c.Width},
		{"height", c.Height},
	} {
		if f.value < 0 || f.value > 1 {
			return &ValidationError{
				Field:   f.field,
				Message: fmt.Sprintf("must be between 0 and 1 (got %g)", f.value),
			}
		}
	}
	if c.Width == 0 || c.Height == 0 {
		return &ValidationError{Field: "roi", Message: "width and height must be greater than 0"}
	}
	if c.X+c.Width > 1 {
		return &ValidationError{Field: "roi", Message: fmt.Sprintf("x + width exceeds frame (%g)", c.X+c.Width)}
	}
	if c.Y+c.Height > 1 {
		return &ValidationError{Field: "roi", Message: fmt.Sprintf("y + height exceeds frame (%g)", c.Y+c.Height)}
	}
	return nil
}

// ImageAdjust tunes brightness, contrast, saturation and sharpness. Nil
// fields are left unchanged.
type ImageAdjust struct {
	Brightness *float64 `json:"brightness,omitempty"`
	Contrast   *float64 `json:"contrast,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`
	Sharpness  *float64 `json:"sharpness,omitempty"`
}

func (ImageAdjust) Name() string { return "image_processing" }

func (c ImageAdjust) Validate() error {
	type bound struct {
		field    string
		value    *float64
		min, max float64
	}
	bounds := []bound{
		{"brightness", c.Brightness, -1.0, 1.0},
		{"contrast", c.Contrast, 0.0, 2.0},
		{"saturation", c.Saturation, 0.0, 2.0},
		{"sharpness", c.Sharpness, 0.0, 16.0},
	}
	any := false
	for _, b := range bounds {
		if b.value == nil {
			continue
		}
		any = true
		if *b.value < b.min || *b.value > b.max {
			return &ValidationError{
				Field:   b.field,
				Message: fmt.Sprintf("must be between %g and %g (got %g)", b.min, b.max, *b.value),
			}
		}
	}
	if !any {
		return &ValidationError{Field: "image_processing", Message: "at least one of brightness, contrast, saturation, sharpness is required"}
	}
	return nil
}

// AutofocusMode selects how the lens is driven.
type AutofocusMode struct {
	Mode string `json:"mode"`
}

var autofocusModes = []string{"manual", "auto", "continuous"}

func (AutofocusMode) Name() string { return "autofocus_mode" }

func (c AutofocusMode) Validate() error {
	return validateEnum("mode", c.Mode, autofocusModes)
}

// LensPosition drives the lens directly, in dioptres. 0 is infinity.
// Applying it switches autofocus to manual.
type LensPosition struct {
	Position float64 `json:"position"`
}

func (LensPosition) Name() string { return "lens_position" }

func (c LensPosition) Validate() error {
	if c.Position < MinLensPosition || c.Position > MaxLensPosition {
		return &ValidationError{
			Field:   "position",
			Message: fmt.Sprintf("must be between %g and %g (got %g)", MinLensPosition, MaxLensPosition, c.Position),
		}
	}
	return nil
}

// AutofocusTrigger runs a single autofocus cycle.
type AutofocusTrigger struct{}

func (AutofocusTrigger) Name() string    { return "autofocus_trigger" }
func (AutofocusTrigger) Validate() error { return nil }

// Transform flips or rotates the image. Rotation is limited to what the
// sensor can do without re-tiling: 0 or 180 degrees.
type Transform struct {
	HFlip    bool `json:"hflip"`
	VFlip    bool `json:"vflip"`
	Rotation int  `json:"rotation"`
}

func (Transform) Name() string { return "transform" }

func (c Transform) Validate() error {
	if c.Rotation != 0 && c.Rotation != 180 {
		return &ValidationError{
			Field:   "rotation",
			Message: fmt.Sprintf("must be 0 or 180 (got %d)", c.Rotation),
		}
	}
	return nil
}

func validateEnum(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of %v (got %q)", allowed, value),
	}
}
