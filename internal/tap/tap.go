// Package tap encodes the stereo mix-bus output to Opus for recording
// or streaming consumers. The tap sits off the real-time path: frames
// are handed over through a bounded channel and encoded on a dedicated
// goroutine, and a slow consumer costs dropped frames, never latency.
package tap

import (
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"
)

const (
	sampleRate = 48000
	channels   = 2
	frameSize  = 960 // samples per channel, 20ms @ 48kHz

	bitrate = 96000 // stereo music-quality target

	frameChannelBuf    = 30   // ~600ms of pending frames before drops
	outChannelBuf      = 30   // encoded packets awaiting the consumer
	opusMaxPacketBytes = 1275 // RFC 6716 max Opus packet size
)

// encoder abstracts Opus encoding for testing.
type encoder interface {
	EncodeFloat32(pcm []float32, data []byte) (int, error)
	SetBitrate(bitrate int) error
}

// Tap encodes interleaved stereo frames to Opus packets.
type Tap struct {
	enc encoder

	frames chan []float32
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// Out carries encoded Opus packets. The consumer owns draining it;
	// packets are dropped when it falls behind.
	Out chan []byte
}

// New opens a stereo Opus encoder and starts the encode worker.
func New() (*Tap, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, err
	}
	return newWithEncoder(enc), nil
}

// newWithEncoder wires a Tap around enc. Split out for tests.
func newWithEncoder(enc encoder) *Tap {
	t := &Tap{
		enc:    enc,
		frames: make(chan []float32, frameChannelBuf),
		quit:   make(chan struct{}),
		Out:    make(chan []byte, outChannelBuf),
	}
	t.wg.Add(1)
	go func() { defer t.wg.Done(); t.encodeLoop() }()
	return t
}

// Feed queues one interleaved stereo frame (frameSize*channels samples)
// for encoding. The frame is copied, so the caller may reuse its buffer
// immediately. Never blocks; short or oversized frames and queue
// overflow are dropped silently.
func (t *Tap) Feed(stereo []float32) {
	if len(stereo) != frameSize*channels {
		return
	}
	frame := make([]float32, len(stereo))
	copy(frame, stereo)
	select {
	case t.frames <- frame:
	default:
	}
}

func (t *Tap) encodeLoop() {
	buf := make([]byte, opusMaxPacketBytes)
	for {
		select {
		case <-t.quit:
			return
		case frame := <-t.frames:
			n, err := t.enc.EncodeFloat32(frame, buf)
			if err != nil {
				logrus.WithError(err).Warn("tap encode failed")
				continue
			}
			packet := make([]byte, n)
			copy(packet, buf[:n])
			select {
			case t.Out <- packet:
			default:
			}
		}
	}
}

// Close stops the encode worker and joins it. Idempotent.
func (t *Tap) Close() {
	t.once.Do(func() {
		close(t.quit)
		t.wg.Wait()
	})
}
