package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultBlockSize is the number of interleaved values per block when a
	// Sound is created without [WithBlockSize].
	DefaultBlockSize = 1024

	// DefaultSampleRate is the engine sample rate in Hz.
	DefaultSampleRate = 44100
)

var (
	// ErrEmptySamples is returned by [NewSound] when no samples are supplied.
	ErrEmptySamples = errors.New("audio: empty sample buffer")

	// ErrInvalidFormat is returned when a channel count or sample rate is not
	// positive, or when a block size does not divide into whole sample frames.
	ErrInvalidFormat = errors.New("audio: invalid format")

	// ErrInvalidRange is returned by [NewVoice] when a [Partial] window ends
	// at or before its start, or starts before zero.
	ErrInvalidRange = errors.New("audio: invalid playback range")
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether both fields are positive.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f)
	}
	return nil
}

// String renders the format as e.g. "44100Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FrameDuration returns how long n sample frames last at this format's rate.
func (f Format) FrameDuration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}

// SoundFrame is a fixed-length block of interleaved float32 PCM. It is the
// unit that flows from a [Sound] through the spatializer into the output bus.
//
// A frame is a value: anything that keeps a frame past the call that produced
// it must hold its own copy via [SoundFrame.Clone].
type SoundFrame struct {
	// Data holds interleaved samples. len(Data) is a multiple of Channels.
	Data []float32

	// Channels: 1 for mono sources, 2 for spatialized output.
	Channels int

	// SampleRate in Hz.
	SampleRate int

	// Valid counts the leading interleaved values that carry real audio. The
	// remainder is zero padding (only ever present in a sound's last block).
	Valid int

	// Duration of the block.
	Duration time.Duration
}

// SampleCount returns the number of sample frames (values per channel).
func (f SoundFrame) SampleCount() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / f.Channels
}

// Format returns the frame's rate and channel layout.
func (f SoundFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Clone returns a deep copy of the frame.
func (f SoundFrame) Clone() SoundFrame {
	out := f
	if f.Data != nil {
		out.Data = make([]float32, len(f.Data))
		copy(out.Data, f.Data)
	}
	return out
}
