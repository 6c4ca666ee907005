// Package denoise implements the noise-suppression subsystem: the legacy
// single-tier Suppressor, three tier implementations (fast filter,
// deep-learning model, spectral subtraction), and the Pipeline that chains
// them under a selectable mode with adaptive mode switching.
//
// All tiers operate on mono float32 PCM at 48 kHz in 480-sample (10 ms)
// native chunks. Frames that are not an exact multiple of the chunk size
// are processed chunk by chunk; the trailing partial chunk passes through
// unmodified rather than being padded.
package denoise

import "math"

const (
	// SampleRate is the engine's fixed processing rate.
	SampleRate = 48000

	// NativeFrameSize is the tiers' native chunk length: 10 ms at 48 kHz,
	// the frame size RNNoise-family suppressors are built around.
	NativeFrameSize = 480
)

// Tier is one denoising stage. The set of tiers is closed: fast filter,
// deep-learning model, spectral stage, executed in that fixed order.
type Tier interface {
	// Name identifies the tier ("rnnoise", "deep", "spectral").
	Name() string
	// Available reports whether the tier can process right now.
	// Unavailable tiers are skipped silently.
	Available() bool
	// Process filters frame in place and returns it, same length.
	Process(frame []float32) []float32
	// MemoryBytes estimates the tier's resident state for metrics.
	MemoryBytes() int
}

// Metrics is the pipeline's externally visible performance report.
type Metrics struct {
	LatencyMS       float64
	CPUUsagePercent float64
	MemoryUsageMB   float64
	QualityScore    float64 // 0.0 to 1.0
}

// rms returns the root-mean-square of a PCM chunk.
func rms(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(chunk)))
}
