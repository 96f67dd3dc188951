// Package mock provides an in-memory mock implementation of the [sink.Sink]
// interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts and arguments, and it exposes exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	s := &mock.Sink{FormatResult: audio.Format{SampleRate: 44100, Channels: 2}}
//	sys, err := mixer.New(proc, s)
//	...
//	if len(s.Enqueued()) != 1 { ... }
package mock

import (
	"sync"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/sink"
)

// Compile-time interface assertion.
var _ sink.Sink = (*Sink)(nil)

// Sink is a mock implementation of [sink.Sink].
// Set the exported Result fields before use; inspect the CallCount fields
// and [Sink.Enqueued] after.
type Sink struct {
	mu sync.Mutex

	// FormatResult is returned by [Sink.Format].
	FormatResult audio.Format

	// EnqueueErr is returned by [Sink.Enqueue]. Blocks are recorded only
	// when it is nil.
	EnqueueErr error

	// PendingResult is added to the number of recorded blocks by
	// [Sink.Pending]. Set it to simulate a busy device.
	PendingResult int

	// AutoDrain makes every enqueued block count as consumed immediately.
	AutoDrain bool

	// CloseErr is returned by [Sink.Close].
	CloseErr error

	// CallCountEnqueue records how many times Enqueue was called.
	CallCountEnqueue int

	// CallCountPending records how many times Pending was called.
	CallCountPending int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	enqueued [][]float32
	drained  int
}

// Format implements [sink.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Enqueue implements [sink.Sink]. Records a copy of block.
func (s *Sink) Enqueue(block []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountEnqueue++
	if s.EnqueueErr != nil {
		return s.EnqueueErr
	}
	s.enqueued = append(s.enqueued, append([]float32(nil), block...))
	if s.AutoDrain {
		s.drained = len(s.enqueued)
	}
	return nil
}

// Pending implements [sink.Sink].
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPending++
	return s.PendingResult + len(s.enqueued) - s.drained
}

// Close implements [sink.Sink]. Returns CloseErr.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Enqueued returns a snapshot of every recorded block in order.
func (s *Sink) Enqueued() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.enqueued))
	copy(out, s.enqueued)
	return out
}

// Consume marks all recorded blocks as played.
func (s *Sink) Consume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = len(s.enqueued)
}

// Reset clears all recorded blocks and call counts.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = nil
	s.drained = 0
	s.CallCountEnqueue = 0
	s.CallCountPending = 0
	s.CallCountClose = 0
}
