package denoise

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Spectral subtraction tuning.
const (
	overSubtract = 1.5   // how much of the noise estimate to remove
	spectralGate = 0.05  // minimum per-bin gain, avoids musical-noise holes
	noiseRise    = 1.008 // per-chunk upward creep of the noise estimate
	primeChunks  = 10    // chunks averaged into the initial noise profile
)

// Spectral is the third denoising tier: per-chunk magnitude subtraction
// against a continuously tracked noise profile. The profile snaps down
// to quieter bins immediately and creeps upward slowly, so speech never
// becomes the "noise".
type Spectral struct {
	fftBuf []complex128
	noise  []float64 // per-bin noise magnitude estimate
	primed int       // chunks folded into the initial profile so far
}

// NewSpectral returns a Spectral tier sized for NativeFrameSize chunks.
func NewSpectral() *Spectral {
	return &Spectral{
		fftBuf: make([]complex128, NativeFrameSize),
		noise:  make([]float64, NativeFrameSize/2+1),
	}
}

// Name implements Tier.
func (sp *Spectral) Name() string { return "spectral" }

// Available implements Tier.
func (sp *Spectral) Available() bool { return true }

// MemoryBytes implements Tier.
func (sp *Spectral) MemoryBytes() int {
	return len(sp.fftBuf)*16 + len(sp.noise)*8
}

// Process filters frame in place and returns it; trailing partial chunks
// pass through untouched.
func (sp *Spectral) Process(frame []float32) []float32 {
	for off := 0; off+NativeFrameSize <= len(frame); off += NativeFrameSize {
		sp.processChunk(frame[off : off+NativeFrameSize])
	}
	return frame
}

func (sp *Spectral) processChunk(chunk []float32) {
	n := NativeFrameSize
	for i := 0; i < n; i++ {
		sp.fftBuf[i] = complex(float64(chunk[i]), 0)
	}
	spec := fft.FFT(sp.fftBuf)

	half := n/2 + 1
	for i := 0; i < half; i++ {
		mag := cmplx.Abs(spec[i])

		if sp.primed < primeChunks {
			// Build the initial profile as a running average.
			sp.noise[i] += (mag - sp.noise[i]) / float64(sp.primed+1)
		} else if mag < sp.noise[i] {
			sp.noise[i] = mag
		} else {
			sp.noise[i] *= noiseRise
		}

		scale := 1.0
		if mag > 0 {
			clean := mag - overSubtract*sp.noise[i]
			if clean < spectralGate*mag {
				clean = spectralGate * mag
			}
			scale = clean / mag
		}

		spec[i] *= complex(scale, 0)
		// Mirror the real scale onto the conjugate half so the inverse
		// transform stays real-valued.
		if i > 0 && i < n-i {
			spec[n-i] *= complex(scale, 0)
		}
	}
	if sp.primed < primeChunks {
		sp.primed++
	}

	out := fft.IFFT(spec)
	for i := 0; i < n; i++ {
		chunk[i] = float32(real(out[i]))
	}
}

// ResetProfile discards the noise profile; the next primeChunks chunks
// rebuild it. Used when the input source changes.
func (sp *Spectral) ResetProfile() {
	for i := range sp.noise {
		sp.noise[i] = 0
	}
	sp.primed = 0
}
