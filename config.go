package phantomlink

import "github.com/GhostKellz/phantomlink/internal/denoise"

const (
	// SampleRate is the engine's fixed processing rate.
	SampleRate = 48000

	// FrameSize is samples per channel per callback: 20ms @ 48kHz.
	FrameSize = 960

	// DefaultChannels is the number of input strips the mixer carries.
	DefaultChannels = 4

	// defaultBufferFrames sizes the shared capture/playback FIFO:
	// ~160ms of mixed stereo before drop-oldest eviction kicks in.
	defaultBufferFrames = 8
)

// Config carries the engine's construction-time knobs. Zero fields are
// filled from the defaults in New.
type Config struct {
	SampleRate   int
	FrameSize    int // samples per channel per callback
	Channels     int // number of input strips, fixed for the engine's lifetime
	BufferFrames int // stereo frames the shared FIFO holds

	// AdvancedDenoising selects the tiered pipeline; when false the
	// engine falls back to the single legacy suppressor.
	AdvancedDenoising bool

	Denoise denoise.Config
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:        SampleRate,
		FrameSize:         FrameSize,
		Channels:          DefaultChannels,
		BufferFrames:      defaultBufferFrames,
		AdvancedDenoising: true,
		Denoise:           denoise.DefaultConfig(),
	}
}

// ChannelConfig is one persisted channel tuple consumed at startup.
// Persistence itself belongs to the embedding application; the engine
// only applies the values.
type ChannelConfig struct {
	Volume float32 `json:"volume"`
	Muted  bool    `json:"muted"`
	Plugin string  `json:"plugin,omitempty"` // plugin reference, resolved by the caller
}
