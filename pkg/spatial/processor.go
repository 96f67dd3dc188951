// Package spatial turns mono sound blocks into listener-relative stereo.
//
// The pipeline per (listener, emitter) pair is: ambisonics encode in the
// listener's frame of reference, direct effect (distance attenuation, air
// absorption, directivity, transmission), decode to two ears, interleave.
// Signal processing is delegated to a [Processor]; this package owns the
// geometry, the per-emitter effect handles and the per-listener scratch
// buffers.
package spatial

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrProcessorClosed is returned when creating effects on a closed processor.
	ErrProcessorClosed = errors.New("spatial: processor closed")

	// ErrEffectClosed is returned when applying an effect after Close.
	ErrEffectClosed = errors.New("spatial: effect closed")

	// ErrCoincident is returned when a listener and an emitter share a
	// position, which makes the 1/distance attenuation infinite.
	ErrCoincident = errors.New("spatial: listener and emitter are coincident")

	// ErrBufferSize is returned when a buffer is too small for a block.
	ErrBufferSize = errors.New("spatial: buffer size mismatch")

	// ErrEmitterClosed is returned when spatializing against a closed emitter.
	ErrEmitterClosed = errors.New("spatial: emitter closed")

	// ErrInvalidSettings is returned for unusable processor settings.
	ErrInvalidSettings = errors.New("spatial: invalid settings")
)

// ID identifies an emitter or listener inside an audio system.
type ID uint64

// Bands is the number of frequency bands used by the direct effect.
const Bands = 3

// Stage selects the final decode stage of the pipeline.
type Stage int

const (
	// StageBinaural decodes through the processor's HRTF.
	StageBinaural Stage = iota

	// StagePanning decodes with a plain stereo panner.
	StagePanning
)

// String returns the configuration name of the stage.
func (s Stage) String() string {
	switch s {
	case StageBinaural:
		return "binaural"
	case StagePanning:
		return "panning"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// ParseStage maps a configuration name to a stage. The empty string is
// [StageBinaural].
func ParseStage(s string) (Stage, error) {
	switch s {
	case "", "binaural":
		return StageBinaural, nil
	case "panning":
		return StagePanning, nil
	}
	return StageBinaural, fmt.Errorf("spatial: unknown output stage %q", s)
}

// Settings describes the block format every effect is created for.
type Settings struct {
	// SampleRate in Hz.
	SampleRate int

	// BlockSize is the number of sample frames per block.
	BlockSize int

	// Order is the ambisonics order. Order 2 uses nine channels.
	Order int
}

// Channels returns the ambisonics channel count, (Order+1)².
func (s Settings) Channels() int {
	return (s.Order + 1) * (s.Order + 1)
}

// Validate reports whether the settings are usable.
func (s Settings) Validate() error {
	var errs []error
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("%w: sample rate %d", ErrInvalidSettings, s.SampleRate))
	}
	if s.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: block size %d", ErrInvalidSettings, s.BlockSize))
	}
	if s.Order < 0 {
		errs = append(errs, fmt.Errorf("%w: ambisonics order %d", ErrInvalidSettings, s.Order))
	}
	return errors.Join(errs...)
}

// AmbisonicsBuffer is a planar buffer with one slice per ambisonics channel
// in ACN order.
type AmbisonicsBuffer struct {
	Order int
	Data  [][]float32
}

// NewAmbisonicsBuffer allocates a zeroed buffer of the given order and length.
func NewAmbisonicsBuffer(order, frames int) *AmbisonicsBuffer {
	n := (order + 1) * (order + 1)
	backing := make([]float32, n*frames)
	data := make([][]float32, n)
	for i := range data {
		data[i] = backing[i*frames : (i+1)*frames : (i+1)*frames]
	}
	return &AmbisonicsBuffer{Order: order, Data: data}
}

// Frames returns the per-channel length.
func (b *AmbisonicsBuffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// View returns a buffer sharing storage whose channels are truncated to n
// frames. It returns false when n exceeds the buffer length.
func (b *AmbisonicsBuffer) View(n int) (*AmbisonicsBuffer, bool) {
	if n > b.Frames() {
		return nil, false
	}
	data := make([][]float32, len(b.Data))
	for i, ch := range b.Data {
		data[i] = ch[:n]
	}
	return &AmbisonicsBuffer{Order: b.Order, Data: data}, true
}

// StereoBuffer is a planar two-channel buffer.
type StereoBuffer struct {
	L, R []float32
}

// NewStereoBuffer allocates a zeroed stereo buffer.
func NewStereoBuffer(frames int) *StereoBuffer {
	return &StereoBuffer{L: make([]float32, frames), R: make([]float32, frames)}
}

// View returns a buffer sharing storage truncated to n frames.
func (b *StereoBuffer) View(n int) (*StereoBuffer, bool) {
	if n > len(b.L) || n > len(b.R) {
		return nil, false
	}
	return &StereoBuffer{L: b.L[:n], R: b.R[:n]}, true
}

// DirectParams carries the per-call inputs of the direct effect.
type DirectParams struct {
	// Distance between listener and emitter in metres.
	Distance float32

	// Attenuation is the broadband distance gain, 1/Distance.
	Attenuation float32

	// AirAbsorption holds per-band gains for low, mid and high frequencies.
	AirAbsorption [Bands]float32

	// Directivity is the emitter's gain towards the listener.
	Directivity float32

	// Transmission holds per-band occlusion gains.
	Transmission [Bands]float32
}

// Encoder projects a mono block onto the ambisonics channels for a source
// at dir, a unit vector in the listener's frame.
type Encoder interface {
	Apply(dir mgl32.Vec3, in []float32, out *AmbisonicsBuffer) error
	Close() error
}

// DirectEffect applies distance and medium effects to an ambisonics block.
type DirectEffect interface {
	Apply(p DirectParams, in, out *AmbisonicsBuffer) error
	Close() error
}

// Decoder renders an ambisonics block to planar stereo.
type Decoder interface {
	Apply(in *AmbisonicsBuffer, out *StereoBuffer) error
	Close() error
}

// HRTF is an opaque head-related transfer function set owned by a processor.
type HRTF interface {
	Name() string
}

// Processor is the process-wide spatialization context. It is created once,
// shared read-only by every emitter and listener, and closed after all
// effects created from it have been closed.
//
// Effects returned by a Processor are not required to be safe for
// concurrent use; [Emitter] serialises access to its own effects.
type Processor interface {
	// Settings returns the block format effects are created for.
	Settings() Settings

	// HRTF returns the transfer function used by binaural decoders.
	HRTF() HRTF

	// AirAbsorption returns per-band gains for sound travelling distance metres.
	AirAbsorption(distance float32) [Bands]float32

	NewEncoder() (Encoder, error)
	NewDirectEffect() (DirectEffect, error)
	NewBinaural() (Decoder, error)
	NewPanner() (Decoder, error)

	// Interleave writes in as L/R pairs into out, which must hold
	// 2*len(in.L) values.
	Interleave(in *StereoBuffer, out []float32) error

	Close() error
}
