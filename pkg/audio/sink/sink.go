// Package sink provides playback sinks for mixed audio blocks.
//
// A [Sink] accepts interleaved float32 blocks in its own [audio.Format] and
// reports how many enqueued blocks the device has not consumed yet. The
// audio system uses that count as its backpressure signal: it only mixes a
// new block while Pending is below its low-water mark.
//
// Backends: [Oto] plays through the system audio device, [WAV] captures to
// a file, [Null] discards, and [Memory] keeps blocks for inspection. WAV and
// Null are paced by a clock so that Pending drains like a real device.
package sink

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/resound/pkg/audio"
)

var (
	// ErrNoDevice is returned when no playback device can be opened.
	ErrNoDevice = errors.New("sink: no output device")

	// ErrClosed is returned when enqueueing to a closed sink.
	ErrClosed = errors.New("sink: closed")

	// ErrMisaligned is returned for blocks that do not hold whole sample frames.
	ErrMisaligned = errors.New("sink: block is not a whole number of frames")
)

// Sink is a playback queue for mixed blocks.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Format returns the rate and channel layout blocks must be in.
	Format() audio.Format

	// Enqueue appends one interleaved block. The sink copies the data.
	Enqueue(block []float32) error

	// Pending returns the number of enqueued blocks not yet consumed.
	Pending() int

	// Close stops playback and releases the device.
	Close() error
}

// Option configures a sink backend.
type Option func(*options)

type options struct {
	now        func() time.Time
	unpaced    bool
	bufferSize time.Duration
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the clock used to pace [WAV] and [Null]. Defaults to
// time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Unpaced makes [WAV] and [Null] consume blocks instantly, so Pending is
// always zero. Use it to render faster than real time.
func Unpaced() Option {
	return func(o *options) {
		o.unpaced = true
	}
}

// WithBufferSize sets the device-side buffer of [Oto]. Zero lets the driver
// choose.
func WithBufferSize(d time.Duration) Option {
	return func(o *options) {
		o.bufferSize = d
	}
}

func checkBlock(f audio.Format, block []float32) error {
	if f.Channels <= 0 || len(block)%f.Channels != 0 {
		return fmt.Errorf("%w: %d values, %d channels", ErrMisaligned, len(block), f.Channels)
	}
	return nil
}

// pacer simulates a device consuming blocks in real time. Each enqueued
// block finishes playing one block duration after the previous one, or
// after now if the queue had run dry.
type pacer struct {
	now  func() time.Time
	ends []time.Time
}

func (p *pacer) push(d time.Duration) {
	start := p.now()
	if n := len(p.ends); n > 0 && p.ends[n-1].After(start) {
		start = p.ends[n-1]
	}
	p.ends = append(p.ends, start.Add(d))
}

func (p *pacer) pending() int {
	now := p.now()
	i := 0
	for i < len(p.ends) && !p.ends[i].After(now) {
		i++
	}
	p.ends = p.ends[i:]
	return len(p.ends)
}
