package sink

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/resound/pkg/audio"
)

var _ Sink = (*Oto)(nil)

// Oto plays blocks through the system audio device. The device pulls
// bytes from an internal queue; when the queue runs dry it plays silence
// and counts an underrun.
//
// Only one Oto sink may exist per process.
type Oto struct {
	format audio.Format
	ctx    *oto.Context
	player *oto.Player

	mu     sync.Mutex
	queue  [][]byte
	cur    []byte
	closed bool
	played bool

	underruns atomic.Int64
}

// NewOto opens the default output device for format. It returns an error
// wrapping [ErrNoDevice] when the driver cannot be initialised.
func NewOto(format audio.Format, opts ...Option) (*Oto, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   o.bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	<-ready

	s := &Oto{format: format, ctx: ctx}
	s.player = ctx.NewPlayer(s)
	if o.bufferSize > 0 {
		bytesPerSec := format.SampleRate * format.Channels * 4
		s.player.SetBufferSize(int(o.bufferSize.Seconds() * float64(bytesPerSec)))
	}
	s.player.Play()
	slog.Info("oto sink opened", "format", format.String(), "buffer", o.bufferSize)
	return s, nil
}

// Format implements [Sink].
func (s *Oto) Format() audio.Format { return s.format }

// Enqueue implements [Sink].
func (s *Oto) Enqueue(block []float32) error {
	if err := checkBlock(s.format, block); err != nil {
		return err
	}
	b := make([]byte, len(block)*4)
	for i, v := range block {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.queue = append(s.queue, b)
	return nil
}

// Pending implements [Sink]. A block counts until its last byte has been
// handed to the device.
func (s *Oto) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if len(s.cur) > 0 {
		n++
	}
	return n
}

// Underruns returns how many device reads found the queue empty after
// playback had started.
func (s *Oto) Underruns() int64 { return s.underruns.Load() }

// Read feeds the device. It never returns an error so the player keeps
// running; missing data is played as silence.
func (s *Oto) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(p) {
		if len(s.cur) == 0 {
			if len(s.queue) == 0 {
				break
			}
			s.cur = s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.played = true
		}
		c := copy(p[n:], s.cur)
		s.cur = s.cur[c:]
		n += c
	}
	if n < len(p) {
		if s.played && !s.closed {
			s.underruns.Add(1)
		}
		clear(p[n:])
	}
	return len(p), nil
}

// Close stops the player and suspends the device context.
func (s *Oto) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.cur = nil
	s.mu.Unlock()

	if err := s.player.Close(); err != nil {
		return fmt.Errorf("sink: close oto player: %w", err)
	}
	return s.ctx.Suspend()
}
