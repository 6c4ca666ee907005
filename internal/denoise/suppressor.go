package denoise

import "sync"

// Suppressor tuning. The floor tracker falls quickly toward quieter input
// and creeps up slowly so sustained speech does not inflate the estimate;
// attenuation is smoothed with asymmetric attack/release to avoid pumping.
const (
	floorFall   = 0.5    // per-chunk approach rate toward a quieter floor
	floorRise   = 0.005  // per-chunk creep rate toward a louder floor
	floorMin    = 1e-4   // lowest floor the tracker will assume
	initialRMS  = 0.005  // starting floor estimate (~-46 dBFS)
	openRatio   = 2.0    // chunk counts as voice above openRatio*floor
	noiseGain   = 0.1    // gain applied to noise-only chunks (-20 dB)
	gainAttack  = 0.5    // smoothing when closing (gain falling)
	gainRelease = 0.1    // smoothing when opening (gain rising)
)

// noiseState is the Suppressor's lazily allocated filter state.
type noiseState struct {
	floor float64 // tracked noise-floor RMS
	gain  float64 // smoothed attenuation currently applied
}

// Suppressor is the single-tier frame-based denoising filter. It tracks
// the input's noise floor per native chunk and attenuates chunks that sit
// at floor level. Disabled, it is an identity transform with zero
// allocation. It never fails: with no state it degrades to passthrough.
type Suppressor struct {
	mu      sync.Mutex
	enabled bool
	state   *noiseState
}

// NewSuppressor returns a disabled Suppressor with no allocated state.
func NewSuppressor() *Suppressor {
	return &Suppressor{}
}

// Enable allocates filter state if needed and activates processing.
func (s *Suppressor) Enable() {
	s.mu.Lock()
	if s.state == nil {
		s.state = &noiseState{floor: initialRMS, gain: 1.0}
	}
	s.enabled = true
	s.mu.Unlock()
}

// Disable deactivates processing and releases the filter state.
func (s *Suppressor) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.state = nil
	s.mu.Unlock()
}

// Enabled reports whether the suppressor is active.
func (s *Suppressor) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Process filters frame in place and returns it. Chunks of
// NativeFrameSize are processed in sequence; a trailing partial chunk is
// left untouched.
func (s *Suppressor) Process(frame []float32) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.state == nil {
		return frame
	}
	for off := 0; off+NativeFrameSize <= len(frame); off += NativeFrameSize {
		s.processChunk(frame[off : off+NativeFrameSize])
	}
	return frame
}

// processChunk requires s.mu held and s.state non-nil.
func (s *Suppressor) processChunk(chunk []float32) {
	st := s.state
	level := rms(chunk)

	if level < st.floor {
		st.floor += (level - st.floor) * floorFall
	} else {
		st.floor += (level - st.floor) * floorRise
	}
	if st.floor < floorMin {
		st.floor = floorMin
	}

	target := 1.0
	if level < st.floor*openRatio {
		target = noiseGain
	}

	coeff := gainRelease
	if target < st.gain {
		coeff = gainAttack
	}
	st.gain += (target - st.gain) * coeff

	g := float32(st.gain)
	for i := range chunk {
		chunk[i] *= g
	}
}

// Name implements Tier.
func (s *Suppressor) Name() string { return "rnnoise" }

// Available implements Tier: the tier runs only while enabled with state.
func (s *Suppressor) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && s.state != nil
}

// MemoryBytes implements Tier.
func (s *Suppressor) MemoryBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return 0
	}
	return 16 // two float64 fields
}
