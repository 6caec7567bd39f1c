package camera

import "testing"

func TestSelectSensorMode(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		wideAngle  bool
		wantMode   string
		wantWidth  int
		wantHeight int
	}{
		{
			name:  "720p standard camera uses cropped high fps mode",
			width: 1280, height: 720,
			wantMode: "720p120", wantWidth: 1280, wantHeight: 720,
		},
		{
			name:  "720p wide angle skips cropped mode",
			width: 1280, height: 720, wideAngle: true,
			wantMode: "1080p50", wantWidth: 1280, wantHeight: 720,
		},
		{
			name:  "1080p exact fit",
			width: 1920, height: 1080,
			wantMode: "1080p50", wantWidth: 1920, wantHeight: 1080,
		},
		{
			name:  "odd resolution rounds up to next envelope",
			width: 2000, height: 1100,
			wantMode: "1440p40", wantWidth: 2000, wantHeight: 1100,
		},
		{
			name:  "4k exact fit",
			width: 3840, height: 2160,
			wantMode: "2160p30", wantWidth: 3840, wantHeight: 2160,
		},
		{
			name:  "beyond largest mode clamps to its envelope",
			width: 5000, height: 3000,
			wantMode: "2160p30", wantWidth: 3840, wantHeight: 2160,
		},
		{
			name:  "only width oversized clamps width alone",
			width: 4000, height: 1000,
			wantMode: "2160p30", wantWidth: 3840, wantHeight: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, w, h := SelectSensorMode(tt.width, tt.height, FOVScale, tt.wideAngle)
			if mode.Name != tt.wantMode {
				t.Errorf("mode = %s, want %s", mode.Name, tt.wantMode)
			}
			if w != tt.wantWidth || h != tt.wantHeight {
				t.Errorf("applied = %dx%d, want %dx%d", w, h, tt.wantWidth, tt.wantHeight)
			}
		})
	}
}

func TestClampFramerate(t *testing.T) {
	mode := SensorMode{Name: "1080p50", MaxFramerate: 50}

	if got, clamped := ClampFramerate(30, mode); got != 30 || clamped {
		t.Errorf("ClampFramerate(30) = %g, %v, want 30, false", got, clamped)
	}
	if got, clamped := ClampFramerate(50, mode); got != 50 || clamped {
		t.Errorf("ClampFramerate(50) = %g, %v, want 50, false", got, clamped)
	}
	if got, clamped := ClampFramerate(60, mode); got != 50 || !clamped {
		t.Errorf("ClampFramerate(60) = %g, %v, want 50, true", got, clamped)
	}
}

func TestMaxFramerateFor(t *testing.T) {
	if got := MaxFramerateFor(1280, 720, FOVScale, false); got != 120 {
		t.Errorf("720p standard = %g, want 120", got)
	}
	if got := MaxFramerateFor(1280, 720, FOVScale, true); got != 50 {
		t.Errorf("720p wide angle = %g, want 50", got)
	}
	if got := MaxFramerateFor(3840, 2160, FOVScale, false); got != 30 {
		t.Errorf("4k = %g, want 30", got)
	}
}

func TestParseFOVMode(t *testing.T) {
	if _, err := ParseFOVMode("scale"); err != nil {
		t.Errorf("scale: %v", err)
	}
	if _, err := ParseFOVMode("crop"); err != nil {
		t.Errorf("crop: %v", err)
	}
	if _, err := ParseFOVMode("zoom"); !IsValidation(err) {
		t.Errorf("zoom: want validation error, got %v", err)
	}
}
