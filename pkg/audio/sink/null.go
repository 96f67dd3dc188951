package sink

import (
	"sync"

	"github.com/MrWong99/resound/pkg/audio"
)

var _ Sink = (*Null)(nil)

// Null discards blocks but drains them in real time, so an audio system
// driving it runs at the same pace as with a device.
type Null struct {
	format audio.Format

	mu     sync.Mutex
	pace   *pacer
	blocks int64
	closed bool
}

// NewNull returns a discarding sink for format.
func NewNull(format audio.Format, opts ...Option) (*Null, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	s := &Null{format: format}
	if !o.unpaced {
		s.pace = &pacer{now: o.now}
	}
	return s, nil
}

// Format implements [Sink].
func (s *Null) Format() audio.Format { return s.format }

// Enqueue implements [Sink].
func (s *Null) Enqueue(block []float32) error {
	if err := checkBlock(s.format, block); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.blocks++
	if s.pace != nil {
		s.pace.push(s.format.FrameDuration(len(block) / s.format.Channels))
	}
	return nil
}

// Pending implements [Sink].
func (s *Null) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pace == nil {
		return 0
	}
	return s.pace.pending()
}

// Blocks returns the number of blocks accepted.
func (s *Null) Blocks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks
}

// Close implements [Sink].
func (s *Null) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
