package ringbuf

import "testing"

func TestFIFOOrder(t *testing.T) {
	b := New(8)
	for i := 0; i < 5; i++ {
		b.Push(float32(i))
	}

	dst := make([]float32, 5)
	n := b.PopSlice(dst)
	if n != 5 {
		t.Fatalf("expected 5 samples, got %d", n)
	}
	for i, v := range dst {
		if v != float32(i) {
			t.Errorf("sample %d: got %v, want %v", i, v, float32(i))
		}
	}
}

func TestDropOldestKeepsLengthConstant(t *testing.T) {
	b := New(4)
	for i := 0; i < 4; i++ {
		b.Push(float32(i))
	}
	if b.Len() != 4 {
		t.Fatalf("expected full buffer, got %d", b.Len())
	}

	// Pushing into a full buffer must evict exactly one oldest sample.
	b.Push(99)
	if b.Len() != 4 {
		t.Errorf("length after overflow push: got %d, want 4", b.Len())
	}

	dst := make([]float32, 4)
	b.PopSlice(dst)
	want := []float32{1, 2, 3, 99}
	for i, v := range dst {
		if v != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, v, want[i])
		}
	}
}

func TestUnderrunShortRead(t *testing.T) {
	b := New(16)
	b.PushSlice([]float32{1, 2, 3})

	dst := make([]float32, 8)
	n := b.PopSlice(dst)
	if n != 3 {
		t.Errorf("expected short read of 3, got %d", n)
	}
	if b.Len() != 0 {
		t.Errorf("buffer should be empty, has %d", b.Len())
	}

	// Empty buffer: PopSlice returns 0, never blocks.
	if n := b.PopSlice(dst); n != 0 {
		t.Errorf("pop from empty: got %d, want 0", n)
	}
}

func TestPushSliceOverflow(t *testing.T) {
	b := New(4)
	b.PushSlice([]float32{0, 1, 2, 3, 4, 5})

	// Only the newest 4 samples survive.
	dst := make([]float32, 4)
	n := b.PopSlice(dst)
	if n != 4 {
		t.Fatalf("expected 4 samples, got %d", n)
	}
	want := []float32{2, 3, 4, 5}
	for i, v := range dst {
		if v != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, v, want[i])
		}
	}
}

func TestCapacityClamp(t *testing.T) {
	b := New(0)
	if b.Cap() != 1 {
		t.Errorf("capacity 0 should clamp to 1, got %d", b.Cap())
	}
}

func TestReset(t *testing.T) {
	b := New(8)
	b.PushSlice([]float32{1, 2, 3})
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after Reset, got %d", b.Len())
	}
}
