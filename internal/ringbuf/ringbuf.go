// Package ringbuf implements the bounded sample FIFO shared between the
// capture and playback sides of the engine.
//
// When the buffer is full, Push evicts exactly one oldest sample to admit
// the new one (drop-oldest backpressure: freshness beats completeness).
// On the read side, PopSlice fills as many samples as are buffered and
// reports the count; the caller emits silence for the remainder. The
// mutex is held only for index arithmetic and copies, never across I/O.
package ringbuf

import "sync"

// Buffer is a bounded FIFO of float32 samples.
type Buffer struct {
	mu   sync.Mutex
	buf  []float32
	head int // index of the oldest sample
	size int
}

// New creates a Buffer holding at most capacity samples.
// A capacity below 1 is clamped to 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{buf: make([]float32, capacity)}
}

// Push appends one sample, evicting the oldest sample if the buffer is full.
func (b *Buffer) Push(s float32) {
	b.mu.Lock()
	b.push(s)
	b.mu.Unlock()
}

// PushSlice appends all samples from src under a single lock acquisition.
func (b *Buffer) PushSlice(src []float32) {
	b.mu.Lock()
	for _, s := range src {
		b.push(s)
	}
	b.mu.Unlock()
}

// push requires b.mu held.
func (b *Buffer) push(s float32) {
	if b.size == len(b.buf) {
		// Full: drop the oldest sample to make room.
		b.head = (b.head + 1) % len(b.buf)
		b.size--
	}
	b.buf[(b.head+b.size)%len(b.buf)] = s
	b.size++
}

// PopSlice removes up to len(dst) samples in FIFO order into dst and
// returns how many were written. It never blocks; a short read means the
// buffer underran and the caller should zero-fill the rest.
func (b *Buffer) PopSlice(dst []float32) int {
	b.mu.Lock()
	n := len(dst)
	if n > b.size {
		n = b.size
	}
	for i := 0; i < n; i++ {
		dst[i] = b.buf[b.head]
		b.head = (b.head + 1) % len(b.buf)
	}
	b.size -= n
	b.mu.Unlock()
	return n
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity in samples.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Reset discards all buffered samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.head = 0
	b.size = 0
	b.mu.Unlock()
}
