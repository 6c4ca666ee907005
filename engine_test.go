package phantomlink

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GhostKellz/phantomlink/internal/denoise"
	"github.com/GhostKellz/phantomlink/internal/vst"
)

// mockPAStream implements paStream for testing. Read() and Write() block
// until unblockCh is closed, simulating a real PortAudio blocking call;
// Stop() closes it so blocked calls return.
type mockPAStream struct {
	unblockCh chan struct{}
	stopped   atomic.Bool
	closed    atomic.Bool

	// Set just before blocking, so tests can wait for goroutines to be
	// truly blocked before calling Stop().
	blockedInRead  atomic.Bool
	blockedInWrite atomic.Bool
}

func newMockPAStream() *mockPAStream {
	return &mockPAStream{unblockCh: make(chan struct{})}
}

func (m *mockPAStream) Start() error { return nil }

func (m *mockPAStream) Stop() error {
	m.stopped.Store(true)
	select {
	case <-m.unblockCh:
	default:
		close(m.unblockCh)
	}
	return nil
}

func (m *mockPAStream) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockPAStream) Read() error {
	m.blockedInRead.Store(true)
	<-m.unblockCh
	return fmt.Errorf("stream stopped")
}

func (m *mockPAStream) Write() error {
	m.blockedInWrite.Store(true)
	<-m.unblockCh
	return fmt.Errorf("stream stopped")
}

// startWithMocks wires mock streams and starts the capture+playback
// goroutines the way Start() does, without touching real PortAudio.
func startWithMocks(e *Engine, capture, playback paStream) {
	e.mu.Lock()
	e.captureStream = capture
	e.playbackStream = playback
	e.stopCh = make(chan struct{})
	e.running.Store(true)
	e.mu.Unlock()

	captureBuf := make([]float32, e.cfg.FrameSize)
	playbackBuf := make([]float32, e.cfg.FrameSize*2)

	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.captureLoop(captureBuf) }()
	go func() { defer e.wg.Done(); e.playbackLoop(playbackBuf) }()
}

// waitBlocked spins until both mocks report they are blocked inside
// Read()/Write().
func waitBlocked(t *testing.T, capture, playback *mockPAStream) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !capture.blockedInRead.Load() || !playback.blockedInWrite.Load() {
		select {
		case <-deadline:
			t.Fatalf("goroutines did not block in Read/Write (read=%v write=%v)",
				capture.blockedInRead.Load(), playback.blockedInWrite.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func newTestEngine(t *testing.T, channels int) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Channels = channels
	e := New(cfg)
	t.Cleanup(e.Close)
	return e
}

func TestMixScenarioFourChannels(t *testing.T) {
	e := newTestEngine(t, 4)
	dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)

	// Channel 0 at unity, channels 1-3 muted. Input [0.5, -0.5] mixes to
	// [0.125, -0.125]: 0.5/4 and -0.5/4, equal-weight averaging.
	e.UpdateChannel(0, 1.0, false)
	for i := 1; i < 4; i++ {
		e.UpdateChannel(i, 1.0, true)
	}

	in := make([]float32, e.cfg.FrameSize)
	in[0], in[1] = 0.5, -0.5
	e.processCycle(in, dt)

	got := make([]float32, 4) // first two stereo sample pairs
	require.Equal(t, 4, e.ring.PopSlice(got))
	assert.InDelta(t, 0.125, got[0], 1e-6)
	assert.InDelta(t, 0.125, got[1], 1e-6)
	assert.InDelta(t, -0.125, got[2], 1e-6)
	assert.InDelta(t, -0.125, got[3], 1e-6)
}

func TestMixConstantValueInvariant(t *testing.T) {
	// N channels each emitting constant v mix to exactly v, for any N.
	for _, n := range []int{1, 2, 4, 7} {
		e := newTestEngine(t, n)
		dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)

		in := make([]float32, e.cfg.FrameSize)
		for i := range in {
			in[i] = 0.25
		}
		e.processCycle(in, dt)

		got := make([]float32, 2)
		require.Equal(t, 2, e.ring.PopSlice(got), "channels=%d", n)
		assert.InDelta(t, 0.25, got[0], 1e-6, "channels=%d", n)
		assert.InDelta(t, 0.25, got[1], 1e-6, "channels=%d", n)
	}
}

func TestSoloExcludesOthersKeepsMeters(t *testing.T) {
	e := newTestEngine(t, 4)
	dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)
	e.SetChannelSolo(1, true)

	in := make([]float32, e.cfg.FrameSize)
	for i := range in {
		in[i] = 0.4
	}
	e.processCycle(in, dt)

	// Only strip 1 contributes: 0.4/4.
	got := make([]float32, 2)
	require.Equal(t, 2, e.ring.PopSlice(got))
	assert.InDelta(t, 0.1, got[0], 1e-6)

	// Strip 0 is excluded from the bus but its meter still runs.
	lv, ok := e.ChannelLevels(0)
	require.True(t, ok)
	assert.Greater(t, lv[0], float32(0), "excluded strip's meter should stay live")
}

func TestMasterLevels(t *testing.T) {
	e := newTestEngine(t, 2)
	dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)

	in := make([]float32, e.cfg.FrameSize)
	for i := range in {
		in[i] = 0.6
	}
	e.processCycle(in, dt)

	m := e.MasterLevels()
	assert.InDelta(t, 0.6, m[0], 1e-3, "master peak is the max across strips")
	assert.Greater(t, m[1], float32(0))
}

func TestRingCapacityBounded(t *testing.T) {
	e := newTestEngine(t, 1)
	dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)

	in := make([]float32, e.cfg.FrameSize)
	capSamples := e.ring.Cap()
	// Push far more than capacity; drop-oldest keeps the FIFO bounded.
	for i := 0; i < e.cfg.BufferFrames*3; i++ {
		e.processCycle(in, dt)
	}
	assert.Equal(t, capSamples, e.ring.Len())
}

func TestOutOfRangeIndicesAreNoOps(t *testing.T) {
	e := newTestEngine(t, 2)

	e.UpdateChannel(-1, 0.5, true)
	e.UpdateChannel(2, 0.5, true)
	e.UpdateChannelStrip(99, 0.5, true, 0, 0)
	e.SetChannelSolo(-3, true)
	e.SetChannelPlugin(5, nil)

	_, ok := e.ChannelLevels(2)
	assert.False(t, ok)
	_, ok = e.ChannelLevels(-1)
	assert.False(t, ok)
	_, ok = e.ChannelLevels(1)
	assert.True(t, ok)
}

func TestStopJoinsGoroutines(t *testing.T) {
	e := newTestEngine(t, 2)
	capture := newMockPAStream()
	playback := newMockPAStream()
	startWithMocks(e, capture, playback)
	waitBlocked(t, capture, playback)

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked; goroutines not joined")
	}

	assert.True(t, capture.stopped.Load())
	assert.True(t, playback.stopped.Load())
	assert.True(t, capture.closed.Load())
	assert.True(t, playback.closed.Load())
	assert.False(t, e.IsRunning())
}

func TestStopIdempotentAndFreshNoOp(t *testing.T) {
	e := newTestEngine(t, 2)

	done := make(chan struct{})
	go func() {
		e.Stop() // never started
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop on a fresh engine blocked")
	}
}

func TestSetChannelPluginReplacement(t *testing.T) {
	e := newTestEngine(t, 2)
	dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)

	h, err := vst.Load("double", func() (vst.Processor, error) {
		return doubleProc{}, nil
	})
	require.NoError(t, err)
	e.SetChannelPlugin(0, h)
	e.UpdateChannel(1, 1.0, true)

	in := make([]float32, e.cfg.FrameSize)
	in[0] = 0.2
	e.processCycle(in, dt)

	got := make([]float32, 2)
	require.Equal(t, 2, e.ring.PopSlice(got))
	assert.InDelta(t, 0.2, got[0], 1e-6, "0.2 doubled, averaged over 2 channels")

	// nil detaches and closes the old host.
	e.SetChannelPlugin(0, nil)
	e.processCycle(in, dt)
	e.ring.Reset()
	assert.Nil(t, e.strips[0].Plugin())
}

func TestDenoisingControls(t *testing.T) {
	e := newTestEngine(t, 2)

	require.NoError(t, e.SetDenoisingMode(denoise.Maximum))
	m, ok := e.DenoisingMetrics()
	require.True(t, ok)
	assert.Equal(t, 0.9, m.QualityScore)

	e.SetDenoisingEnabled(true)
	assert.True(t, e.pipeline.Enabled())
	e.SetDenoisingEnabled(false)
	assert.False(t, e.pipeline.Enabled())
}

func TestLegacyDenoiserFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 2
	cfg.AdvancedDenoising = false
	e := New(cfg)
	defer e.Close()

	assert.Error(t, e.SetDenoisingMode(denoise.Basic), "legacy suppressor has no modes")
	_, ok := e.DenoisingMetrics()
	assert.False(t, ok)

	e.SetDenoisingEnabled(true)
	assert.True(t, e.legacy.Enabled())
	e.SetDenoisingEnabled(false)
	assert.False(t, e.legacy.Enabled())
}

func TestSpectrumSnapshotFromMix(t *testing.T) {
	e := newTestEngine(t, 1)
	dt := float64(e.cfg.FrameSize) / float64(e.cfg.SampleRate)

	in := make([]float32, e.cfg.FrameSize)
	for i := range in {
		in[i] = 0.5
	}
	for i := 0; i < 2; i++ { // fill the analyzer window
		e.processCycle(in, dt)
	}

	snap := e.SpectrumSnapshot()
	require.Len(t, snap, 1024/2+1)
	assert.Greater(t, snap[0], float32(0.5), "DC input should light up bin 0")
	assert.Len(t, e.SpectrumFrequencies(), len(snap))
}

func TestApplyStartupConfig(t *testing.T) {
	e := newTestEngine(t, 2)

	var loaded []string
	loader := func(ref string) (*vst.Host, error) {
		loaded = append(loaded, ref)
		if ref == "broken" {
			return nil, errors.New("no such plugin")
		}
		return vst.Load(ref, func() (vst.Processor, error) { return doubleProc{}, nil })
	}

	e.ApplyStartupConfig([]ChannelConfig{
		{Volume: 0.3, Muted: true, Plugin: "eq"},
		{Volume: 0.7, Plugin: "broken"},
		{Volume: 0.9}, // beyond channel count, ignored
	}, loader)

	st0 := e.strips[0].State()
	assert.Equal(t, float32(0.3), st0.Volume)
	assert.True(t, st0.Muted)
	assert.NotNil(t, e.strips[0].Plugin())

	st1 := e.strips[1].State()
	assert.Equal(t, float32(0.7), st1.Volume)
	assert.Nil(t, e.strips[1].Plugin(), "failed load leaves the channel pluginless")

	assert.Equal(t, []string{"eq", "broken"}, loaded)
}
