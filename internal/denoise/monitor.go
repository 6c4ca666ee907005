package denoise

import "time"

const (
	// historyCap bounds the rolling performance histories; old samples
	// are evicted FIFO.
	historyCap = 100

	// adaptInterval is the minimum spacing between adaptation decisions.
	adaptInterval = 5 * time.Second
)

// history is a bounded FIFO of float64 measurements.
type history struct {
	vals [historyCap]float64
	n    int
	pos  int
}

func (h *history) add(v float64) {
	h.vals[h.pos] = v
	h.pos = (h.pos + 1) % historyCap
	if h.n < historyCap {
		h.n++
	}
}

func (h *history) average() float64 {
	if h.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < h.n; i++ {
		sum += h.vals[i]
	}
	return sum / float64(h.n)
}

// monitor keeps the rolling CPU and latency histories that drive the
// adaptive controller, and gates how often adaptation may run.
type monitor struct {
	cpu       history
	latency   history
	lastAdapt time.Time
}

func newMonitor(now time.Time) *monitor {
	return &monitor{lastAdapt: now}
}

func (m *monitor) record(cpuPercent, latencyMS float64) {
	m.cpu.add(cpuPercent)
	m.latency.add(latencyMS)
}

func (m *monitor) averages() (cpuPercent, latencyMS float64) {
	return m.cpu.average(), m.latency.average()
}

// shouldAdapt reports whether a full adaptation window has elapsed.
func (m *monitor) shouldAdapt(now time.Time) bool {
	return now.Sub(m.lastAdapt) >= adaptInterval
}

func (m *monitor) markAdapted(now time.Time) {
	m.lastAdapt = now
}
