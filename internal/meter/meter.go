// Package meter implements the per-channel level meter: instantaneous
// peak with hold-then-decay, and an RMS average over a rolling window of
// per-call measurements.
package meter

import "math"

const (
	// DefaultWindow is the number of per-call RMS values averaged for the
	// RMS reading (~2.5 s of history at 20 ms frames).
	DefaultWindow = 128

	// peakHold is how long (seconds) a new peak is held before decaying.
	peakHold = 0.5

	// peakDecay is the geometric decay applied to the peak once per call
	// after the hold expires.
	peakDecay = 0.99
)

// Meter tracks peak and RMS levels for one channel. It is owned by the
// audio thread; readings are published by the caller. Zero value is not
// usable; use New().
type Meter struct {
	peak     float32
	hold     float64 // seconds of hold remaining
	window   []float32
	idx      int
	rmsLevel float32
}

// New returns a Meter with the given RMS window size.
// Sizes below 1 fall back to DefaultWindow.
func New(windowSize int) *Meter {
	if windowSize < 1 {
		windowSize = DefaultWindow
	}
	return &Meter{window: make([]float32, windowSize)}
}

// Process updates the meter from one frame of samples and returns the
// current peak and RMS readings. dt is the elapsed time this frame
// represents, in seconds.
func (m *Meter) Process(frame []float32, dt float64) (peak, rms float32) {
	var framePeak float32
	var sum float64
	for _, s := range frame {
		a := s
		if a < 0 {
			a = -a
		}
		if a > framePeak {
			framePeak = a
		}
		sum += float64(s) * float64(s)
	}

	// Peak: latch new maxima, hold, then decay geometrically.
	if framePeak > m.peak {
		m.peak = framePeak
		m.hold = peakHold
	} else {
		m.hold -= dt
		if m.hold <= 0 {
			m.peak *= peakDecay
		}
	}

	var frameRMS float32
	if len(frame) > 0 {
		frameRMS = float32(math.Sqrt(sum / float64(len(frame))))
	}
	m.window[m.idx] = frameRMS
	m.idx = (m.idx + 1) % len(m.window)

	var total float32
	for _, v := range m.window {
		total += v
	}
	m.rmsLevel = total / float32(len(m.window))

	return m.peak, m.rmsLevel
}

// Levels returns the most recent readings without updating state.
func (m *Meter) Levels() (peak, rms float32) {
	return m.peak, m.rmsLevel
}

// Reset clears all meter state.
func (m *Meter) Reset() {
	m.peak = 0
	m.hold = 0
	m.rmsLevel = 0
	m.idx = 0
	for i := range m.window {
		m.window[i] = 0
	}
}
