package spatial

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/MrWong99/resound/pkg/audio"
)

// SoundSource looks sounds up by name. [library.Library] implements it.
type SoundSource interface {
	Sound(name string) (*audio.Sound, bool)
}

// EmitterOption configures an [Emitter].
type EmitterOption func(*emitterOptions)

type emitterOptions struct {
	transform    Transform
	transmission [Bands]float32
	directivity  float32
	stage        Stage
}

// WithTransform sets the initial placement. Defaults to the origin.
func WithTransform(t Transform) EmitterOption {
	return func(o *emitterOptions) {
		o.transform = t
	}
}

// DefaultTransmission is the low, mid and high band gain of sound passing
// through the occluder between an emitter and a listener.
var DefaultTransmission = [Bands]float32{0.3, 0.2, 0.1}

// WithTransmission sets the per-band transmission gains applied by the
// direct effect. Defaults to [DefaultTransmission].
func WithTransmission(bands [Bands]float32) EmitterOption {
	return func(o *emitterOptions) {
		o.transmission = bands
	}
}

// WithDirectivity sets the emitter's gain towards listeners. Defaults to 1.
func WithDirectivity(g float32) EmitterOption {
	return func(o *emitterOptions) {
		o.directivity = g
	}
}

// WithStage selects the decode stage of the emitter's effect stack.
// Defaults to [StageBinaural].
func WithStage(s Stage) EmitterOption {
	return func(o *emitterOptions) {
		o.stage = s
	}
}

// Emitter is a positioned sound source. It holds the voices assigned to it
// and the effect handles used to spatialize them.
//
// All methods are safe for concurrent use.
type Emitter struct {
	mu           sync.Mutex
	transform    Transform
	transmission [Bands]float32
	directivity  float32
	voices       []*audio.Voice
	closed       bool

	// fxMu serialises effect use across listeners.
	fxMu    sync.Mutex
	effects *EffectStack
}

// NewEmitter creates an emitter whose effects are created against p.
func NewEmitter(p Processor, opts ...EmitterOption) (*Emitter, error) {
	o := emitterOptions{
		transform:    NewTransform(mgl32.Vec3{}),
		transmission: DefaultTransmission,
		directivity:  1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	fx, err := NewEffectStack(p, o.stage)
	if err != nil {
		return nil, err
	}
	return &Emitter{
		transform:    o.transform,
		transmission: o.transmission,
		directivity:  o.directivity,
		effects:      fx,
	}, nil
}

// WithSound attaches a fresh voice for the named sound and returns the
// emitter for chaining. Names src does not know are ignored. At most one
// playback setting is used; the default plays the sound once.
func (e *Emitter) WithSound(name string, src SoundSource, playback ...audio.Playback) *Emitter {
	s, ok := src.Sound(name)
	if !ok {
		slog.Debug("emitter: sound not in library, ignoring", "sound", name)
		return e
	}
	var p audio.Playback
	if len(playback) > 0 {
		p = playback[0]
	}
	if err := e.Play(name, s, p); err != nil {
		slog.Warn("emitter: sound not attached", "sound", name, "err", err)
	}
	return e
}

// Play attaches a voice for s. A sound may be attached several times; each
// voice has its own cursor. Playing on a closed emitter is a no-op.
func (e *Emitter) Play(name string, s *audio.Sound, p audio.Playback) error {
	v, err := audio.NewVoice(name, s, p)
	if err != nil {
		return fmt.Errorf("spatial: play %q: %w", name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.voices = append(e.voices, v)
	return nil
}

// Stop removes every voice playing name and returns how many were removed.
func (e *Emitter) Stop(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.voices[:0]
	for _, v := range e.voices {
		if v.Name() != name {
			kept = append(kept, v)
		}
	}
	n := len(e.voices) - len(kept)
	clear(e.voices[len(kept):])
	e.voices = kept
	return n
}

// StopAll removes every voice.
func (e *Emitter) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.voices)
	e.voices = e.voices[:0]
}

// Sounds returns the number of attached voices.
func (e *Emitter) Sounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// Frames advances every voice by one block and returns one frame per voice
// that still had data. Voices that end are dropped. It returns nil when no
// voice produced a frame.
func (e *Emitter) Frames() []audio.SoundFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}

	var frames []audio.SoundFrame
	kept := e.voices[:0]
	for _, v := range e.voices {
		f, ok := v.Next()
		if ok {
			frames = append(frames, f)
		}
		if !v.Ended() {
			kept = append(kept, v)
		}
	}
	clear(e.voices[len(kept):])
	e.voices = kept
	return frames
}

// Transform returns the current placement.
func (e *Emitter) Transform() Transform {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transform
}

// SetTransform moves the emitter.
func (e *Emitter) SetTransform(t Transform) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transform = t
}

// Transmission returns the per-band transmission gains.
func (e *Emitter) Transmission() [Bands]float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transmission
}

// SetTransmission replaces the per-band transmission gains.
func (e *Emitter) SetTransmission(bands [Bands]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transmission = bands
}

// Directivity returns the emitter's gain towards listeners.
func (e *Emitter) Directivity() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.directivity
}

// Stage returns the decode stage of the emitter's effects.
func (e *Emitter) Stage() Stage {
	return e.effects.Stage
}

// withEffects runs fn with exclusive use of the effect stack.
func (e *Emitter) withEffects(fn func(*EffectStack) error) error {
	e.fxMu.Lock()
	defer e.fxMu.Unlock()
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEmitterClosed
	}
	return fn(e.effects)
}

// Close drops all voices and releases the effect handles. It is safe to
// call more than once.
func (e *Emitter) Close() error {
	e.fxMu.Lock()
	defer e.fxMu.Unlock()
	e.mu.Lock()
	e.closed = true
	clear(e.voices)
	e.voices = nil
	e.mu.Unlock()
	return e.effects.Close()
}
