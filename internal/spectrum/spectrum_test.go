package spectrum

import (
	"math"
	"testing"
)

func TestSnapshotLengthAndRange(t *testing.T) {
	a := New(256, 48000)
	noise := make([]float32, 256)
	for i := range noise {
		noise[i] = float32(math.Sin(float64(i) * 0.7))
	}
	a.Feed(noise)

	snap := a.Snapshot()
	if len(snap) != 129 {
		t.Fatalf("snapshot length: got %d, want 129", len(snap))
	}
	for i, v := range snap {
		if v < 0 || v > 1 {
			t.Errorf("bin %d out of [0,1]: %v", i, v)
		}
	}
}

func TestDCConcentratesInBinZero(t *testing.T) {
	a := New(256, 48000)
	dc := make([]float32, 256)
	for i := range dc {
		dc[i] = 0.8
	}
	a.Feed(dc)

	snap := a.Snapshot()
	for i := 4; i < len(snap); i++ {
		if snap[i] >= snap[0] {
			t.Errorf("bin %d (%v) should be below DC bin (%v)", i, snap[i], snap[0])
		}
	}
}

func TestSilenceReadsZero(t *testing.T) {
	a := New(128, 48000)
	snap := a.Snapshot()
	for i, v := range snap {
		if v != 0 {
			t.Errorf("bin %d of silence: got %v, want 0", i, v)
		}
	}
}

func TestSinePeaksNearExpectedBin(t *testing.T) {
	const (
		size = 1024
		sr   = 48000.0
		freq = 3000.0
	)
	a := New(size, sr)
	sine := make([]float32, size)
	for i := range sine {
		sine[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sr))
	}
	a.Feed(sine)

	snap := a.Snapshot()
	best := 0
	for i, v := range snap {
		if v > snap[best] {
			best = i
		}
	}
	wantBin := int(freq * size / sr)
	if best < wantBin-2 || best > wantBin+2 {
		t.Errorf("peak bin: got %d, want within 2 of %d", best, wantBin)
	}
}

func TestFrequencyBins(t *testing.T) {
	a := New(256, 48000)
	bins := a.FrequencyBins()
	if len(bins) != 129 {
		t.Fatalf("bins length: got %d, want 129", len(bins))
	}
	if bins[0] != 0 {
		t.Errorf("bin 0: got %v, want 0", bins[0])
	}
	if math.Abs(bins[128]-24000) > 1e-9 {
		t.Errorf("nyquist bin: got %v, want 24000", bins[128])
	}
}

func TestSnapshotSafeWithoutFeed(t *testing.T) {
	a := New(0, 48000)
	if len(a.Snapshot()) != DefaultFFTSize/2+1 {
		t.Error("default-size analyzer snapshot has wrong length")
	}
}
