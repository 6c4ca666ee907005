package phantomlink

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/GhostKellz/phantomlink/internal/meter"
	"github.com/GhostKellz/phantomlink/internal/vst"
)

// ChannelState is the control-surface-visible state of one strip.
type ChannelState struct {
	Volume float32 // [0,1] linear
	Muted  bool
	GainDB float32 // [-20,20]
	Pan    float32 // [-1,1], negative = left
	Solo   bool
}

// denoiser is the stage contract shared by the tiered pipeline and the
// legacy suppressor.
type denoiser interface {
	Enabled() bool
	Process(frame []float32) []float32
}

// ChannelStrip owns one input channel: its state, optional plugin host,
// and level meter. Process runs on the audio goroutine; state mutation
// comes from the control surface through the setters. The mutex guards
// only state reads/copies, never DSP work.
type ChannelStrip struct {
	mu     sync.Mutex
	state  ChannelState
	plugin *vst.Host

	meter *meter.Meter

	// levels packs the last peak/RMS reading into one word so any
	// thread can read it without taking the strip lock.
	levels atomic.Uint64

	mono   []float32 // gain/denoise/plugin scratch
	stereo []float32 // panned output scratch
}

// NewChannelStrip returns a strip at unity volume, centered, unmuted.
func NewChannelStrip() *ChannelStrip {
	return &ChannelStrip{
		state: ChannelState{Volume: 1.0},
		meter: meter.New(meter.DefaultWindow),
	}
}

// linearGain maps gain_db to a linear factor. The curve is asymmetric:
// linear boost above unity, decibel-correct attenuation below. Both
// branches yield exactly 1.0 at 0 dB. The asymmetry is part of the
// numeric contract and must not be "fixed".
func linearGain(db float32) float32 {
	if db >= 0 {
		return 1 + db/20
	}
	return float32(math.Pow(10, float64(db)/20))
}

// panGains maps pan to constant-gain left/right factors: the center
// position passes both sides at unity, full pan silences the far side.
// Not constant-power, deliberately.
func panGains(pan float32) (left, right float32) {
	left, right = 1, 1
	if pan > 0 {
		left = 1 - pan
	}
	if pan < 0 {
		right = 1 + pan
	}
	return left, right
}

// Process runs one mono frame through the strip chain and returns the
// interleaved stereo result, valid until the next call. Order is fixed:
// mute, gain, denoise, plugin, volume, pan, meter. dn may be nil.
func (cs *ChannelStrip) Process(frame []float32, dn denoiser, dt float64) []float32 {
	cs.mu.Lock()
	st := cs.state
	plugin := cs.plugin
	cs.mu.Unlock()

	stereo := cs.ensureStereo(len(frame) * 2)
	if st.Muted {
		for i := range stereo {
			stereo[i] = 0
		}
		cs.storeLevels(0, 0)
		return stereo
	}

	mono := cs.ensureMono(len(frame))
	g := linearGain(st.GainDB)
	for i, s := range frame {
		mono[i] = s * g
	}

	if dn != nil && dn.Enabled() {
		mono = dn.Process(mono)
	}
	if plugin != nil {
		mono = plugin.Process(mono)
	}

	vol := st.Volume
	left, right := panGains(st.Pan)
	for i, s := range mono {
		v := s * vol
		stereo[2*i] = v * left
		stereo[2*i+1] = v * right
	}

	peak, rms := cs.meter.Process(stereo, dt)
	cs.storeLevels(peak, rms)
	return stereo
}

func (cs *ChannelStrip) ensureMono(n int) []float32 {
	if cap(cs.mono) < n {
		cs.mono = make([]float32, n)
	}
	cs.mono = cs.mono[:n]
	return cs.mono
}

func (cs *ChannelStrip) ensureStereo(n int) []float32 {
	if cap(cs.stereo) < n {
		cs.stereo = make([]float32, n)
	}
	cs.stereo = cs.stereo[:n]
	return cs.stereo
}

func (cs *ChannelStrip) storeLevels(peak, rms float32) {
	cs.levels.Store(uint64(math.Float32bits(peak))<<32 | uint64(math.Float32bits(rms)))
}

// Levels returns the last [peak, rms] reading. Lock-free.
func (cs *ChannelStrip) Levels() [2]float32 {
	v := cs.levels.Load()
	return [2]float32{
		math.Float32frombits(uint32(v >> 32)),
		math.Float32frombits(uint32(v)),
	}
}

// Update sets volume and mute, clamping volume to [0,1].
func (cs *ChannelStrip) Update(volume float32, muted bool) {
	cs.mu.Lock()
	cs.state.Volume = clamp(volume, 0, 1)
	cs.state.Muted = muted
	cs.mu.Unlock()
}

// UpdateAll sets the full fader state, clamping each field to its range.
func (cs *ChannelStrip) UpdateAll(volume float32, muted bool, gainDB, pan float32) {
	cs.mu.Lock()
	cs.state.Volume = clamp(volume, 0, 1)
	cs.state.Muted = muted
	cs.state.GainDB = clamp(gainDB, -20, 20)
	cs.state.Pan = clamp(pan, -1, 1)
	cs.mu.Unlock()
}

// SetSolo marks the strip soloed. The engine owns the mix-exclusion rule.
func (cs *ChannelStrip) SetSolo(solo bool) {
	cs.mu.Lock()
	cs.state.Solo = solo
	cs.mu.Unlock()
}

// Solo reports whether the strip is soloed.
func (cs *ChannelStrip) Solo() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state.Solo
}

// State returns a snapshot of the strip's fader state.
func (cs *ChannelStrip) State() ChannelState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// SetPlugin attaches a plugin host, closing any previous one first so no
// audio is ever produced by a dangling instance. nil detaches.
func (cs *ChannelStrip) SetPlugin(h *vst.Host) {
	cs.mu.Lock()
	old := cs.plugin
	cs.plugin = h
	cs.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Plugin returns the attached plugin host, or nil.
func (cs *ChannelStrip) Plugin() *vst.Host {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.plugin
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
