package camera

// DeviceConfig is the full capture configuration handed to a Device.
// Width and Height are the output resolution; SensorWidth/SensorHeight pin
// the readout mode the selector chose.
type DeviceConfig struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	SensorWidth  int     `json:"sensor_width"`
	SensorHeight int     `json:"sensor_height"`
	Framerate    float64 `json:"framerate"`
	FOVMode      FOVMode `json:"fov_mode"`
}

// Metadata is a point-in-time readback of per-frame sensor metadata.
type Metadata struct {
	ExposureMicros int     `json:"exposure_us"`
	AnalogueGain   float64 `json:"analogue_gain"`
	DigitalGain    float64 `json:"digital_gain"`
	RedGain        float64 `json:"red_gain"`
	BlueGain       float64 `json:"blue_gain"`
	ColourTemp     int     `json:"colour_temperature"`
	Lux            float64 `json:"lux"`
	LensPosition   float64 `json:"lens_position"`
	FocusFoM       int     `json:"focus_fom"`
}

// Device abstracts the camera hardware. Implementations must be safe for a
// single caller; Resource provides the locking.
type Device interface {
	// Configure applies a capture configuration, restarting the sensor if
	// it is already running.
	Configure(cfg DeviceConfig) error
	// ApplyControl writes one validated control to the running camera.
	ApplyControl(c Control) error
	// Metadata reads back the latest frame metadata.
	Metadata() (Metadata, error)
	// Model returns the sensor model string, e.g. "imx708_wide".
	Model() (string, error)
	Close() error
}
