// Package vst isolates externally loaded effect plugins from the
// real-time audio path. Each plugin instance lives on its own worker
// goroutine and is reached only through a bounded request channel, so a
// plugin that crashes or hangs can never stall an audio callback.
package vst

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ProcessTimeout bounds one plugin round trip. It must stay well under
// one 20 ms callback period.
const ProcessTimeout = 10 * time.Millisecond

// paramQueueCap bounds the pending parameter-change queue.
const paramQueueCap = 16

// Processor is a loaded plugin instance. Implementations run only on
// the host's worker goroutine and need no internal locking. Process
// must return a frame of the same length as its input.
type Processor interface {
	Process(frame []float32) []float32
}

// ParamTarget is implemented by processors that accept parameter
// changes. Changes are applied between frames on the worker, so they
// are eventually consistent with in-flight audio.
type ParamTarget interface {
	SetParameter(name string, value float64)
}

// Factory constructs a plugin instance. A factory error is the load
// failure surfaced by Load.
type Factory func() (Processor, error)

type param struct {
	name  string
	value float64
}

type request struct {
	frame []float32
	reply chan []float32
}

// Host owns one plugin worker. Process hands a frame to the worker and
// waits at most ProcessTimeout for the result; any failure along the
// way returns the input unchanged. Safe for concurrent use, though the
// engine calls Process from a single audio goroutine.
type Host struct {
	name string
	proc Processor

	req    chan request
	params chan param
	quit   chan struct{}
	done   chan struct{}

	enabled   atomic.Bool
	failed    atomic.Bool
	closeOnce sync.Once
}

// Load builds the plugin via factory and starts its worker. A factory
// error is returned here, once, and no worker is started.
func Load(name string, factory Factory) (*Host, error) {
	proc, err := factory()
	if err != nil {
		return nil, fmt.Errorf("load plugin %q: %w", name, err)
	}

	h := &Host{
		name:   name,
		proc:   proc,
		req:    make(chan request, 1),
		params: make(chan param, paramQueueCap),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	h.enabled.Store(true)
	go h.worker()

	logrus.WithField("plugin", name).Info("plugin loaded")
	return h, nil
}

// Name returns the plugin's display name.
func (h *Host) Name() string { return h.name }

// SetEnabled toggles the bypass. Disabled, Process is identity with no
// round trip.
func (h *Host) SetEnabled(enabled bool) { h.enabled.Store(enabled) }

// Enabled reports whether the plugin is in the signal path.
func (h *Host) Enabled() bool { return h.enabled.Load() }

// SetParameter queues a parameter change for the worker. The queue is
// bounded; when it is full the change is dropped rather than blocking.
func (h *Host) SetParameter(name string, value float64) {
	select {
	case h.params <- param{name: name, value: value}:
	default:
		logrus.WithFields(logrus.Fields{
			"plugin": h.name,
			"param":  name,
		}).Debug("parameter queue full, change dropped")
	}
}

// Process runs frame through the plugin and returns the result, or the
// input unchanged when the host is disabled, the worker is busy with a
// previous request, or the round trip times out. The input slice is
// copied before handoff; the caller may reuse it immediately.
func (h *Host) Process(frame []float32) []float32 {
	if !h.enabled.Load() || len(frame) == 0 {
		return frame
	}

	// The worker may still hold a timed-out request's buffer, so the
	// frame crossing the channel must be the caller's own copy.
	in := make([]float32, len(frame))
	copy(in, frame)

	r := request{frame: in, reply: make(chan []float32, 1)}
	select {
	case h.req <- r:
	default:
		// Previous request still outstanding. Skip, never block.
		return frame
	}

	select {
	case out := <-r.reply:
		return out
	case <-time.After(ProcessTimeout):
		return frame
	case <-h.quit:
		return frame
	}
}

// Close stops the worker and joins it. After Close returns, the plugin
// instance produces no further audio. Idempotent.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
		<-h.done
	})
}

// worker is the plugin's dedicated goroutine. Each request gets exactly
// one reply; the reply channel is buffered so the send never blocks
// even if the caller has already timed out.
func (h *Host) worker() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case r := <-h.req:
			h.applyParams()
			r.reply <- h.safeProcess(r.frame)
		}
	}
}

// applyParams drains queued parameter changes between frames.
func (h *Host) applyParams() {
	target, ok := h.proc.(ParamTarget)
	for {
		select {
		case p := <-h.params:
			if ok {
				target.SetParameter(p.name, p.value)
			}
		default:
			return
		}
	}
}

// safeProcess runs the plugin under a recover guard. A panicking or
// misbehaving plugin echoes the input back, keeping the caller-side
// contract uniform: either a timely response or a timeout.
func (h *Host) safeProcess(frame []float32) (out []float32) {
	defer func() {
		if p := recover(); p != nil {
			if h.failed.CompareAndSwap(false, true) {
				logrus.WithFields(logrus.Fields{
					"plugin": h.name,
					"panic":  p,
				}).Error("plugin panicked, bypassing")
			}
			out = frame
		}
	}()

	if h.proc == nil || h.failed.Load() {
		return frame
	}
	out = h.proc.Process(frame)
	if len(out) != len(frame) {
		return frame
	}
	return out
}
