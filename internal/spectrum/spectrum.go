// Package spectrum computes a magnitude spectrum of the mixed signal for
// monitoring. The audio thread feeds samples under a short lock; snapshots
// are computed lazily on the caller's thread, so the FFT cost is never
// paid on the real-time path.
package spectrum

import (
	"math"
	"sync"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// DefaultFFTSize gives 513 bins at ~46 Hz resolution at 48 kHz.
	DefaultFFTSize = 1024

	// floorDB is the magnitude floor; bins below it read as 0.
	floorDB = -60.0
)

// Analyzer holds the most recent fftSize mono samples and produces
// normalized magnitude snapshots on demand. Safe for concurrent use.
type Analyzer struct {
	mu   sync.Mutex
	ring []float32
	pos  int

	window     []float64
	sampleRate float64
}

// New creates an Analyzer. fftSize must be a power of two; values below 2
// fall back to DefaultFFTSize.
func New(fftSize int, sampleRate float64) *Analyzer {
	if fftSize < 2 {
		fftSize = DefaultFFTSize
	}
	// Hann window for usable frequency resolution on overlapping content.
	window := make([]float64, fftSize)
	for i := range window {
		n := float64(i) / float64(fftSize-1)
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*n))
	}
	return &Analyzer{
		ring:       make([]float32, fftSize),
		window:     window,
		sampleRate: sampleRate,
	}
}

// Feed appends mono samples, keeping only the latest fftSize. Called from
// the audio thread; the lock is held only for the copy.
func (a *Analyzer) Feed(samples []float32) {
	a.mu.Lock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % len(a.ring)
	}
	a.mu.Unlock()
}

// Snapshot returns one freshly computed magnitude spectrum of
// fftSize/2+1 values normalized to [0, 1] (0 = at or below -60 dB).
// Safe to call from any thread; each call produces a new slice.
func (a *Analyzer) Snapshot() []float32 {
	buf := make([]float64, len(a.ring))

	a.mu.Lock()
	// Linearize the ring oldest-first and apply the window.
	for i := range buf {
		buf[i] = float64(a.ring[(a.pos+i)%len(a.ring)]) * a.window[i]
	}
	a.mu.Unlock()

	bins := fft.FFTReal(buf)

	out := make([]float32, len(a.ring)/2+1)
	for i := range out {
		mag := cmplxAbs(bins[i])
		db := floorDB
		if mag > 0 {
			db = 20 * math.Log10(mag)
			if db < floorDB {
				db = floorDB
			}
		}
		v := (db - floorDB) / -floorDB
		if v > 1 {
			v = 1
		}
		out[i] = float32(v)
	}
	return out
}

// FrequencyBins returns the center frequency in Hz of each snapshot bin.
func (a *Analyzer) FrequencyBins() []float64 {
	n := len(a.ring)/2 + 1
	bins := make([]float64, n)
	for i := range bins {
		bins[i] = float64(i) * a.sampleRate / float64(len(a.ring))
	}
	return bins
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
