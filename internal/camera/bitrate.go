package camera

import "math"

const (
	// bitratePerMegapixel is the H.264 budget at the reference framerate.
	bitratePerMegapixel = 6_500_000
	bitrateReferenceFPS = 30.0

	// MinBitrate and MaxBitrate bound the encoder regardless of resolution.
	MinBitrate = 2_000_000
	MaxBitrate = 25_000_000
)

// Bitrate computes the encoder target in bits per second for a resolution
// and framerate: 6.5 Mbps per megapixel at 30 fps, scaled linearly with
// framerate and clamped to [MinBitrate, MaxBitrate].
func Bitrate(width, height int, framerate float64) int {
	megapixels := float64(width) * float64(height) / 1_000_000.0
	bps := megapixels * bitratePerMegapixel * (framerate / bitrateReferenceFPS)

	if bps < MinBitrate {
		return MinBitrate
	}
	if bps > MaxBitrate {
		return MaxBitrate
	}
	return int(math.Round(bps))
}
