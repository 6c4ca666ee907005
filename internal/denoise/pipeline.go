package denoise

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind selects the pipeline's tier chain.
type Kind int

const (
	KindBasic    Kind = iota // fast tier only
	KindEnhanced             // fast + deep-learning
	KindMaximum              // fast + deep-learning + spectral
	KindCustom               // exactly the flagged tiers, fixed order
)

// Mode is the pipeline's denoising mode. The tier flags are honored only
// when Kind is KindCustom.
type Mode struct {
	Kind         Kind
	RNNoise      bool
	DeepLearning bool
	Spectral     bool
}

// Predefined modes.
var (
	Basic    = Mode{Kind: KindBasic}
	Enhanced = Mode{Kind: KindEnhanced}
	Maximum  = Mode{Kind: KindMaximum}
)

// Custom returns a mode running exactly the flagged tiers in the fixed
// order rnnoise → deep-learning → spectral.
func Custom(rnnoise, deepLearning, spectral bool) Mode {
	return Mode{Kind: KindCustom, RNNoise: rnnoise, DeepLearning: deepLearning, Spectral: spectral}
}

func (m Mode) String() string {
	switch m.Kind {
	case KindBasic:
		return "basic"
	case KindEnhanced:
		return "enhanced"
	case KindMaximum:
		return "maximum"
	case KindCustom:
		return fmt.Sprintf("custom(rnnoise=%t,deep=%t,spectral=%t)",
			m.RNNoise, m.DeepLearning, m.Spectral)
	default:
		return fmt.Sprintf("mode(%d)", m.Kind)
	}
}

// modeLadder is the adaptation ladder: the controller moves exactly one
// rung per cycle and never touches Custom modes.
var modeLadder = []Mode{Basic, Enhanced, Maximum}

// Adaptation thresholds.
const (
	// headroomFactor: upgrade only when both averages sit below this
	// fraction of their configured maxima.
	headroomFactor = 0.7
)

// Config carries the pipeline's tunables.
type Config struct {
	SampleRate    int
	MaxLatencyMS  float64 // rolling-average latency ceiling
	MaxCPUPercent float64 // rolling-average CPU ceiling
	Adaptive      bool    // enable automatic mode switching
	ModelPath     string  // ONNX model for the deep tier; empty disables it
	Mode          Mode    // initial mode
}

// DefaultConfig mirrors the engine defaults: 48 kHz, 50 ms / 25% CPU
// ceilings, adaptive switching on, Enhanced mode.
func DefaultConfig() Config {
	return Config{
		SampleRate:    SampleRate,
		MaxLatencyMS:  50,
		MaxCPUPercent: 25,
		Adaptive:      true,
		Mode:          Enhanced,
	}
}

// Pipeline chains the denoising tiers under the current mode, measures
// every call, and adapts the mode from rolling performance averages.
// A disabled pipeline returns input unchanged with zero measured cost.
// Safe for concurrent use: the audio thread calls Process, the control
// surface calls the setters.
type Pipeline struct {
	mu      sync.Mutex
	cfg     Config
	mode    Mode
	enabled bool

	fast     *Suppressor
	deep     *Deep
	spectral *Spectral

	mon     *monitor
	metrics Metrics
}

// NewPipeline builds a pipeline from cfg. A deep-tier load failure is
// reported once here and the tier left unavailable; everything else
// still runs.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate
	}
	if cfg.MaxLatencyMS <= 0 {
		cfg.MaxLatencyMS = DefaultConfig().MaxLatencyMS
	}
	if cfg.MaxCPUPercent <= 0 {
		cfg.MaxCPUPercent = DefaultConfig().MaxCPUPercent
	}

	fast := NewSuppressor()
	fast.Enable()

	deep, err := NewDeep(cfg.ModelPath)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"model": cfg.ModelPath,
			"error": err,
		}).Warn("deep-learning denoise tier unavailable")
	}

	return &Pipeline{
		cfg:      cfg,
		mode:     cfg.Mode,
		fast:     fast,
		deep:     deep,
		spectral: NewSpectral(),
		mon:      newMonitor(time.Now()),
	}
}

// Process runs frame through the active tiers in place and returns it.
func (p *Pipeline) Process(frame []float32) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || len(frame) == 0 {
		return frame
	}

	start := time.Now()
	out := frame
	for _, t := range p.activeTiers() {
		if t.Available() {
			out = t.Process(out)
		}
	}
	elapsed := time.Since(start)

	frameDur := float64(len(frame)) / float64(p.cfg.SampleRate)
	latencyMS := elapsed.Seconds() * 1000
	cpu := elapsed.Seconds() / frameDur * 100

	p.metrics.LatencyMS = latencyMS
	p.metrics.CPUUsagePercent = cpu
	p.mon.record(cpu, latencyMS)

	now := time.Now()
	if p.cfg.Adaptive && p.mon.shouldAdapt(now) {
		p.adapt(now)
	}
	return out
}

// activeTiers requires p.mu held. Order is fixed: fast, deep, spectral.
func (p *Pipeline) activeTiers() []Tier {
	switch p.mode.Kind {
	case KindBasic:
		return []Tier{p.fast}
	case KindEnhanced:
		return []Tier{p.fast, p.deep}
	case KindMaximum:
		return []Tier{p.fast, p.deep, p.spectral}
	case KindCustom:
		tiers := make([]Tier, 0, 3)
		if p.mode.RNNoise {
			tiers = append(tiers, p.fast)
		}
		if p.mode.DeepLearning {
			tiers = append(tiers, p.deep)
		}
		if p.mode.Spectral {
			tiers = append(tiers, p.spectral)
		}
		return tiers
	default:
		return nil
	}
}

// adapt requires p.mu held. Moves at most one ladder rung per window;
// Custom modes are never adapted.
func (p *Pipeline) adapt(now time.Time) {
	p.mon.markAdapted(now)
	if p.mode.Kind == KindCustom {
		return
	}

	idx := -1
	for i, m := range modeLadder {
		if m == p.mode {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	avgCPU, avgLat := p.mon.averages()
	switch {
	case (avgCPU > p.cfg.MaxCPUPercent || avgLat > p.cfg.MaxLatencyMS) && idx > 0:
		p.mode = modeLadder[idx-1]
		logrus.WithFields(logrus.Fields{
			"mode":        p.mode.String(),
			"avg_cpu":     avgCPU,
			"avg_latency": avgLat,
		}).Info("denoise mode downgraded")
	case avgCPU < p.cfg.MaxCPUPercent*headroomFactor &&
		avgLat < p.cfg.MaxLatencyMS*headroomFactor && idx < len(modeLadder)-1:
		p.mode = modeLadder[idx+1]
		logrus.WithFields(logrus.Fields{
			"mode":        p.mode.String(),
			"avg_cpu":     avgCPU,
			"avg_latency": avgLat,
		}).Info("denoise mode upgraded")
	}
}

// SetMode switches the tier chain. Unknown kinds are rejected.
func (p *Pipeline) SetMode(mode Mode) error {
	if mode.Kind < KindBasic || mode.Kind > KindCustom {
		return fmt.Errorf("invalid denoising mode %d", mode.Kind)
	}
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
	return nil
}

// GetMode returns the current mode.
func (p *Pipeline) GetMode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetEnabled toggles the whole pipeline. Disabled, Process is identity.
func (p *Pipeline) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

// Enabled reports whether the pipeline is processing.
func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// GetMetrics returns a snapshot of the pipeline's performance report.
func (p *Pipeline) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	var mem int
	for _, t := range []Tier{p.fast, p.deep, p.spectral} {
		mem += t.MemoryBytes()
	}
	m.MemoryUsageMB = float64(mem) / (1024 * 1024)
	m.QualityScore = p.qualityScore()
	return m
}

// qualityScore requires p.mu held. Fixed scores for the ladder modes;
// Custom scores by how many selected tiers are actually available.
func (p *Pipeline) qualityScore() float64 {
	switch p.mode.Kind {
	case KindBasic:
		return 0.5
	case KindEnhanced:
		return 0.75
	case KindMaximum:
		return 0.9
	case KindCustom:
		score := 0.3
		for _, t := range p.activeTiers() {
			if t.Available() {
				score += 0.2
			}
		}
		if score > 0.9 {
			score = 0.9
		}
		return score
	default:
		return 0
	}
}

// Close releases tier resources (the deep tier's ONNX session).
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deep.Close()
}
