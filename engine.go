// Package phantomlink is a real-time multi-channel audio mixing engine:
// a fixed set of input strips with per-channel gain, pan, mute, solo,
// noise suppression and isolated plugin processing, summed onto a stereo
// mix bus with metering, spectrum analysis and an optional Opus tap.
package phantomlink

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"github.com/GhostKellz/phantomlink/internal/denoise"
	"github.com/GhostKellz/phantomlink/internal/ringbuf"
	"github.com/GhostKellz/phantomlink/internal/spectrum"
	"github.com/GhostKellz/phantomlink/internal/tap"
	"github.com/GhostKellz/phantomlink/internal/vst"
)

// Initialize sets up the PortAudio host API. Call once per process
// before creating an Engine.
func Initialize() error {
	return portaudio.Initialize()
}

// Terminate tears down the PortAudio host API. Call once per process
// after all engines are stopped.
func Terminate() {
	portaudio.Terminate()
}

// AudioDevice describes an available audio device.
type AudioDevice struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// paStream abstracts a PortAudio stream for testing.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// Engine owns the channel strips, the mix bus, and the device streams.
// Start/Stop are idempotent. One capture and one playback goroutine run
// while the engine is live; the shared sample FIFO between them is the
// only cross-callback state, everything else sits behind short-hold
// locks or atomics.
type Engine struct {
	cfg    Config
	strips []*ChannelStrip

	pipeline *denoise.Pipeline   // nil when AdvancedDenoising is off
	legacy   *denoise.Suppressor // fallback single tier

	ring     *ringbuf.Buffer
	analyzer *spectrum.Analyzer

	tapMu sync.Mutex
	tap   *tap.Tap

	// masterLevels packs the overall [peak, rms] like ChannelStrip.levels.
	masterLevels atomic.Uint64

	// procMu serializes the capture cycle against plugin swaps. The
	// capture side only ever TryLocks it: contention means skip the
	// cycle, never wait.
	procMu sync.Mutex

	mu             sync.Mutex // device IDs and stream handles
	inputDeviceID  int
	outputDeviceID int
	captureStream  paStream
	playbackStream paStream

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup // capture + playback goroutines

	mix    []float32 // stereo accumulator, reused per cycle
	downmx []float32 // mono downmix scratch for the analyzer
}

// New builds an Engine from cfg. Channel count is fixed for the
// engine's lifetime.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = def.BufferFrames
	}
	if cfg.Denoise.SampleRate <= 0 {
		cfg.Denoise.SampleRate = cfg.SampleRate
	}

	strips := make([]*ChannelStrip, cfg.Channels)
	for i := range strips {
		strips[i] = NewChannelStrip()
	}

	e := &Engine{
		cfg:            cfg,
		strips:         strips,
		legacy:         denoise.NewSuppressor(),
		ring:           ringbuf.New(cfg.BufferFrames * cfg.FrameSize * 2),
		analyzer:       spectrum.New(spectrum.DefaultFFTSize, float64(cfg.SampleRate)),
		inputDeviceID:  -1,
		outputDeviceID: -1,
		stopCh:         make(chan struct{}),
		mix:            make([]float32, cfg.FrameSize*2),
		downmx:         make([]float32, cfg.FrameSize),
	}
	if cfg.AdvancedDenoising {
		e.pipeline = denoise.NewPipeline(cfg.Denoise)
	}
	return e
}

// ListInputDevices returns available audio input devices.
func (e *Engine) ListInputDevices() []AudioDevice {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices returns available audio output devices.
func (e *Engine) ListOutputDevices() []AudioDevice {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

// listDevices returns devices matching the given predicate.
func listDevices(match func(*portaudio.DeviceInfo) bool) []AudioDevice {
	devices, err := portaudio.Devices()
	if err != nil {
		logrus.WithError(err).Error("list devices")
		return nil
	}
	var out []AudioDevice
	for i, d := range devices {
		if match(d) {
			out = append(out, AudioDevice{ID: i, Name: d.Name})
		}
	}
	return out
}

// SetInputDevice sets the capture device by index; takes effect on the
// next Start.
func (e *Engine) SetInputDevice(id int) {
	e.mu.Lock()
	e.inputDeviceID = id
	e.mu.Unlock()
}

// SetOutputDevice sets the playback device by index; takes effect on
// the next Start.
func (e *Engine) SetOutputDevice(id int) {
	e.mu.Lock()
	e.outputDeviceID = id
	e.mu.Unlock()
}

// resolveDevice returns the device at idx if valid, otherwise calls fallback.
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// Start opens the device streams and starts the capture and playback
// goroutines. A device failure is fatal to Start and leaves the engine
// stopped. Idempotent.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	inputDev, err := resolveDevice(devices, e.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return fmt.Errorf("resolve input device: %w", err)
	}
	outputDev, err := resolveDevice(devices, e.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return fmt.Errorf("resolve output device: %w", err)
	}

	captureBuf := make([]float32, e.cfg.FrameSize)
	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: 1,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      float64(e.cfg.SampleRate),
		FramesPerBuffer: e.cfg.FrameSize,
	}
	captureStream, err := portaudio.OpenStream(captureParams, captureBuf)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}

	playbackBuf := make([]float32, e.cfg.FrameSize*2)
	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: 2,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(e.cfg.SampleRate),
		FramesPerBuffer: e.cfg.FrameSize,
	}
	playbackStream, err := portaudio.OpenStream(playbackParams, playbackBuf)
	if err != nil {
		captureStream.Close()
		return fmt.Errorf("open playback stream: %w", err)
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("start capture stream: %w", err)
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("start playback stream: %w", err)
	}

	e.captureStream = captureStream
	e.playbackStream = playbackStream
	e.stopCh = make(chan struct{})
	e.ring.Reset()
	e.running.Store(true)

	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.captureLoop(captureBuf) }()
	go func() { defer e.wg.Done(); e.playbackLoop(playbackBuf) }()

	logrus.WithFields(logrus.Fields{
		"capture":  inputDev.Name,
		"playback": outputDev.Name,
		"channels": e.cfg.Channels,
	}).Info("engine started")
	return nil
}

// Stop halts both streams and joins the audio goroutines. Idempotent;
// the engine can be restarted.
//
// Sequence matters here: Pa_StopStream is thread-safe and causes any
// blocking Pa_ReadStream/Pa_WriteStream calls to return, which lets the
// goroutines exit. We must wait for them via wg before calling
// Pa_CloseStream, otherwise we free the native stream object while a
// goroutine may still be touching it (SIGSEGV).
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopCh)

	e.mu.Lock()
	if e.captureStream != nil {
		e.captureStream.Stop()
	}
	if e.playbackStream != nil {
		e.playbackStream.Stop()
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	if e.captureStream != nil {
		e.captureStream.Close()
		e.captureStream = nil
	}
	if e.playbackStream != nil {
		e.playbackStream.Close()
		e.playbackStream = nil
	}
	e.mu.Unlock()

	logrus.Info("engine stopped")
}

// IsRunning reports whether the engine is live.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Close stops the engine and releases long-lived resources.
func (e *Engine) Close() {
	e.Stop()
	for _, cs := range e.strips {
		cs.SetPlugin(nil)
	}
	e.SetTap(nil)
	if e.pipeline != nil {
		e.pipeline.Close()
	}
}

func (e *Engine) captureLoop(buf []float32) {
	dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)

	for e.running.Load() {
		if err := e.captureStream.Read(); err != nil {
			if e.running.Load() {
				logrus.WithError(err).Warn("capture read")
			}
			return
		}
		e.processCycle(buf, dt)
	}
}

// processCycle runs every strip over the captured frame, mixes the
// contributing outputs equal-weight onto the stereo bus, and publishes
// the result. Lock contention with a control-surface mutation skips the
// cycle entirely.
func (e *Engine) processCycle(in []float32, dt float64) {
	if !e.procMu.TryLock() {
		return
	}
	defer e.procMu.Unlock()

	dn := e.activeDenoiser()

	soloActive := false
	for _, cs := range e.strips {
		if cs.Solo() {
			soloActive = true
			break
		}
	}

	mix := e.mix
	for i := range mix {
		mix[i] = 0
	}

	n := float32(len(e.strips))
	var masterPeak, rmsSum float32
	for _, cs := range e.strips {
		out := cs.Process(in, dn, dt)

		lv := cs.Levels()
		if lv[0] > masterPeak {
			masterPeak = lv[0]
		}
		rmsSum += lv[1]

		// Soloing any strip drops the others from the bus; their
		// meters keep running on the processed signal.
		if soloActive && !cs.Solo() {
			continue
		}
		for i, s := range out {
			mix[i] += s / n
		}
	}

	e.masterLevels.Store(uint64(math.Float32bits(masterPeak))<<32 |
		uint64(math.Float32bits(rmsSum/n)))

	e.ring.PushSlice(mix)

	for i := range e.downmx {
		e.downmx[i] = (mix[2*i] + mix[2*i+1]) * 0.5
	}
	e.analyzer.Feed(e.downmx)

	e.tapMu.Lock()
	t := e.tap
	e.tapMu.Unlock()
	if t != nil {
		t.Feed(mix)
	}
}

func (e *Engine) playbackLoop(buf []float32) {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		// Underruns emit silence for the missing tail; the stream is
		// never starved waiting for samples.
		n := e.ring.PopSlice(buf)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}

		if err := e.playbackStream.Write(); err != nil {
			if e.running.Load() {
				logrus.WithError(err).Warn("playback write")
			}
			return
		}
	}
}

// activeDenoiser picks the stage the strips run: the tiered pipeline
// when constructed, otherwise the legacy suppressor.
func (e *Engine) activeDenoiser() denoiser {
	if e.pipeline != nil {
		return e.pipeline
	}
	return e.legacy
}

// UpdateChannel sets volume and mute on one strip. Out-of-range indices
// are no-ops.
func (e *Engine) UpdateChannel(index int, volume float32, muted bool) {
	if index < 0 || index >= len(e.strips) {
		return
	}
	e.strips[index].Update(volume, muted)
}

// UpdateChannelStrip sets the full fader state on one strip.
// Out-of-range indices are no-ops.
func (e *Engine) UpdateChannelStrip(index int, volume float32, muted bool, gainDB, pan float32) {
	if index < 0 || index >= len(e.strips) {
		return
	}
	e.strips[index].UpdateAll(volume, muted, gainDB, pan)
}

// SetChannelSolo marks one strip soloed. Out-of-range indices are no-ops.
func (e *Engine) SetChannelSolo(index int, solo bool) {
	if index < 0 || index >= len(e.strips) {
		return
	}
	e.strips[index].SetSolo(solo)
}

// SetChannelPlugin attaches a plugin host to one strip, tearing down
// any previous host first. nil detaches. The swap excludes the capture
// cycle so a frame never reaches a host mid-teardown.
func (e *Engine) SetChannelPlugin(index int, h *vst.Host) {
	if index < 0 || index >= len(e.strips) {
		if h != nil {
			h.Close()
		}
		return
	}
	e.procMu.Lock()
	e.strips[index].SetPlugin(h)
	e.procMu.Unlock()
}

// ChannelLevels returns the last [peak, rms] reading for one strip, or
// false for an invalid index.
func (e *Engine) ChannelLevels(index int) ([2]float32, bool) {
	if index < 0 || index >= len(e.strips) {
		return [2]float32{}, false
	}
	return e.strips[index].Levels(), true
}

// MasterLevels returns the overall [peak, rms] of the last mix cycle.
func (e *Engine) MasterLevels() [2]float32 {
	v := e.masterLevels.Load()
	return [2]float32{
		math.Float32frombits(uint32(v >> 32)),
		math.Float32frombits(uint32(v)),
	}
}

// ChannelCount returns the fixed number of strips.
func (e *Engine) ChannelCount() int {
	return len(e.strips)
}

// SetDenoisingMode switches the pipeline's tier chain. Returns an error
// when the engine runs the legacy suppressor, which has no modes.
func (e *Engine) SetDenoisingMode(mode denoise.Mode) error {
	if e.pipeline == nil {
		return fmt.Errorf("advanced denoising is not active")
	}
	return e.pipeline.SetMode(mode)
}

// SetDenoisingEnabled toggles whichever suppression stage the engine
// runs.
func (e *Engine) SetDenoisingEnabled(enabled bool) {
	if e.pipeline != nil {
		e.pipeline.SetEnabled(enabled)
		return
	}
	if enabled {
		e.legacy.Enable()
	} else {
		e.legacy.Disable()
	}
}

// DenoisingMetrics returns the pipeline's performance report, or false
// when the engine runs the legacy suppressor.
func (e *Engine) DenoisingMetrics() (denoise.Metrics, bool) {
	if e.pipeline == nil {
		return denoise.Metrics{}, false
	}
	return e.pipeline.GetMetrics(), true
}

// SpectrumSnapshot returns one freshly computed magnitude spectrum of
// the mix bus. Safe to call from any thread.
func (e *Engine) SpectrumSnapshot() []float32 {
	return e.analyzer.Snapshot()
}

// SpectrumFrequencies returns the center frequency of each snapshot bin.
func (e *Engine) SpectrumFrequencies() []float64 {
	return e.analyzer.FrequencyBins()
}

// SetTap attaches a mix-bus tap, closing any previous one. nil detaches.
func (e *Engine) SetTap(t *tap.Tap) {
	e.tapMu.Lock()
	old := e.tap
	e.tap = t
	e.tapMu.Unlock()
	if old != nil {
		old.Close()
	}
}

// ApplyStartupConfig pushes persisted channel tuples into the strips.
// Plugin references are resolved by the caller through loadPlugin; a
// load failure is logged and the channel runs without a plugin. Extra
// tuples beyond the channel count are ignored.
func (e *Engine) ApplyStartupConfig(channels []ChannelConfig, loadPlugin func(ref string) (*vst.Host, error)) {
	for i, cc := range channels {
		if i >= len(e.strips) {
			break
		}
		e.UpdateChannel(i, cc.Volume, cc.Muted)
		if cc.Plugin == "" || loadPlugin == nil {
			continue
		}
		h, err := loadPlugin(cc.Plugin)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"channel": i,
				"plugin":  cc.Plugin,
				"error":   err,
			}).Error("startup plugin load failed")
			continue
		}
		e.SetChannelPlugin(i, h)
	}
}
