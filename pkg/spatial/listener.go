package spatial

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/MrWong99/resound/pkg/audio"
)

// DefaultQueueSize is the number of spatialized frames a listener holds
// before [Listener.Push] starts rejecting.
const DefaultQueueSize = 64

// ErrEmptyFrame is returned when spatializing a frame without samples.
var ErrEmptyFrame = errors.New("spatial: empty frame")

// ListenerOption configures a [Listener].
type ListenerOption func(*Listener)

// WithListenerTransform sets the initial placement. Defaults to the origin
// facing [Forward].
func WithListenerTransform(t Transform) ListenerOption {
	return func(l *Listener) {
		l.transform = t
	}
}

// WithQueueSize bounds the pending output queue. Values below 1 are ignored.
func WithQueueSize(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// Listener is a point of audition. It owns scratch buffers sized to one
// engine block, so a single listener must not spatialize two frames at
// once; distinct listeners may run in parallel.
type Listener struct {
	mu        sync.Mutex
	transform Transform
	queue     []audio.SoundFrame
	capacity  int

	// work serialises use of the scratch buffers.
	work    sync.Mutex
	mono    []float32
	stereo  *StereoBuffer
	encoded *AmbisonicsBuffer
	direct  *AmbisonicsBuffer
}

// NewListener allocates a listener with scratch buffers for settings.
func NewListener(settings Settings, opts ...ListenerOption) *Listener {
	l := &Listener{
		transform: NewTransform(mgl32.Vec3{}),
		capacity:  DefaultQueueSize,
		mono:      make([]float32, settings.BlockSize),
		stereo:    NewStereoBuffer(settings.BlockSize),
		encoded:   NewAmbisonicsBuffer(settings.Order, settings.BlockSize),
		direct:    NewAmbisonicsBuffer(settings.Order, settings.BlockSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Transform returns the current placement.
func (l *Listener) Transform() Transform {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transform
}

// SetTransform moves the listener.
func (l *Listener) SetTransform(t Transform) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transform = t
}

// ApplyConvolutions renders frame as heard by this listener from emitter.
// Multi-channel input is downmixed to mono first. The result always has two
// channels, the same sample count, and the input's rate and duration. On
// error the frame must be dropped; neither the listener nor the emitter is
// affected.
func (l *Listener) ApplyConvolutions(frame audio.SoundFrame, emitter *Emitter, p Processor) (audio.SoundFrame, error) {
	n := frame.SampleCount()
	if n == 0 {
		return audio.SoundFrame{}, ErrEmptyFrame
	}

	geo, err := ComputeGeometry(l.Transform(), emitter.Transform())
	if err != nil {
		return audio.SoundFrame{}, err
	}
	params := DirectParams{
		Distance:      geo.Distance,
		Attenuation:   geo.Attenuation,
		AirAbsorption: p.AirAbsorption(geo.Distance),
		Directivity:   emitter.Directivity(),
		Transmission:  emitter.Transmission(),
	}

	l.work.Lock()
	defer l.work.Unlock()

	if n > len(l.mono) {
		return audio.SoundFrame{}, fmt.Errorf("%w: frame of %d samples, block of %d", ErrBufferSize, n, len(l.mono))
	}
	mono := audio.Downmix(l.mono[:0], frame.Data, frame.Channels)
	encoded, _ := l.encoded.View(n)
	direct, _ := l.direct.View(n)
	stereo, _ := l.stereo.View(n)

	err = emitter.withEffects(func(fx *EffectStack) error {
		if err := fx.Encoder.Apply(geo.Direction, mono, encoded); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := fx.Direct.Apply(params, encoded, direct); err != nil {
			return fmt.Errorf("direct effect: %w", err)
		}
		if err := fx.Output.Apply(direct, stereo); err != nil {
			return fmt.Errorf("%s decode: %w", fx.Stage, err)
		}
		return nil
	})
	if err != nil {
		return audio.SoundFrame{}, err
	}

	out := make([]float32, 2*n)
	if err := p.Interleave(stereo, out); err != nil {
		return audio.SoundFrame{}, fmt.Errorf("interleave: %w", err)
	}
	return audio.SoundFrame{
		Data:       out,
		Channels:   2,
		SampleRate: frame.SampleRate,
		Valid:      frame.Valid / frame.Channels * 2,
		Duration:   frame.Duration,
	}, nil
}

// Push appends a spatialized frame to the pending queue. It reports false,
// leaving the queue unchanged, when the queue is full.
func (l *Listener) Push(f audio.SoundFrame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) >= l.capacity {
		return false
	}
	l.queue = append(l.queue, f)
	return true
}

// Pending returns the number of queued frames.
func (l *Listener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Drain removes and returns every queued frame in push order.
func (l *Listener) Drain() []audio.SoundFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.queue
	l.queue = nil
	return out
}
