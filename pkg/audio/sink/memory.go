package sink

import (
	"sync"

	"github.com/MrWong99/resound/pkg/audio"
)

var _ Sink = (*Memory)(nil)

// Memory keeps every enqueued block. Blocks stay pending until consumed
// with [Memory.Drain], which lets callers step a device by hand.
type Memory struct {
	format audio.Format

	mu      sync.Mutex
	blocks  [][]float32
	drained int
	closed  bool
}

// NewMemory returns an in-memory sink for format.
func NewMemory(format audio.Format) *Memory {
	return &Memory{format: format}
}

// Format implements [Sink].
func (s *Memory) Format() audio.Format { return s.format }

// Enqueue implements [Sink].
func (s *Memory) Enqueue(block []float32) error {
	if err := checkBlock(s.format, block); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.blocks = append(s.blocks, append([]float32(nil), block...))
	return nil
}

// Pending implements [Sink].
func (s *Memory) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks) - s.drained
}

// Drain marks up to n of the oldest pending blocks as consumed and returns
// how many were drained. A negative n drains everything.
func (s *Memory) Drain(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := len(s.blocks) - s.drained
	if n < 0 || n > pending {
		n = pending
	}
	s.drained += n
	return n
}

// Blocks returns copies of every block enqueued so far, drained or not.
func (s *Memory) Blocks() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = append([]float32(nil), b...)
	}
	return out
}

// Close implements [Sink].
func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
