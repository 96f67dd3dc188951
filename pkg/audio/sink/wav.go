package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/resound/pkg/audio"
)

// wavBitDepth is the sample width of captured files.
const wavBitDepth = 16

// wavPCM is the WAVE format tag for integer PCM.
const wavPCM = 1

var _ Sink = (*WAV)(nil)

// WAV captures the mixed stream to a 16-bit PCM WAVE file. Unless created
// with [Unpaced], blocks drain in real time as if a device played them.
type WAV struct {
	format audio.Format

	mu     sync.Mutex
	enc    *wav.Encoder
	closer io.Closer
	pace   *pacer
	frames int64
	closed bool
}

// CreateWAV creates or truncates the file at path and captures into it.
func CreateWAV(path string, format audio.Format, opts ...Option) (*WAV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create wav %q: %w", path, err)
	}
	s, err := NewWAV(f, format, opts...)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	s.closer = f
	return s, nil
}

// NewWAV captures into w. Closing the sink finalises the header but does
// not close w.
func NewWAV(w io.WriteSeeker, format audio.Format, opts ...Option) (*WAV, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	s := &WAV{
		format: format,
		enc:    wav.NewEncoder(w, format.SampleRate, wavBitDepth, format.Channels, wavPCM),
	}
	if !o.unpaced {
		s.pace = &pacer{now: o.now}
	}
	return s, nil
}

// Format implements [Sink].
func (s *WAV) Format() audio.Format { return s.format }

// Enqueue implements [Sink]. Samples are clamped to [-1, 1] and quantised.
func (s *WAV) Enqueue(block []float32) error {
	if err := checkBlock(s.format, block); err != nil {
		return err
	}
	data := make([]int, len(block))
	const scale = 1<<(wavBitDepth-1) - 1
	for i, v := range block {
		v = max(-1, min(1, v))
		data[i] = int(v * scale)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("sink: write wav: %w", err)
	}
	frames := len(block) / s.format.Channels
	s.frames += int64(frames)
	if s.pace != nil {
		s.pace.push(s.format.FrameDuration(frames))
	}
	return nil
}

// Pending implements [Sink].
func (s *WAV) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pace == nil {
		return 0
	}
	return s.pace.pending()
}

// Frames returns the number of sample frames written.
func (s *WAV) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close finalises the WAVE header and closes the file if the sink created it.
func (s *WAV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.enc.Close()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	if err != nil {
		return fmt.Errorf("sink: close wav: %w", err)
	}
	return nil
}
