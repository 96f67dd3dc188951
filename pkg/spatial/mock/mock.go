// Package mock provides an in-memory [spatial.Processor] for unit tests.
//
// The mock pipeline is transparent: the encoder writes the mono
// input to the W channel only, the direct effect scales by
// [spatial.DirectParams.Attenuation], and both decoders copy W to the left
// and right ears. A spatialized frame therefore equals input × 1/distance
// on both channels.
//
// Every effect exposes an ApplyErr field for failure injection and counts
// its calls. All types are safe for concurrent use.
package mock

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/MrWong99/resound/pkg/spatial"
)

var _ spatial.Processor = (*Processor)(nil)

// Processor is a mock implementation of [spatial.Processor].
type Processor struct {
	mu sync.Mutex

	// SettingsResult is returned by Settings.
	SettingsResult spatial.Settings

	// NewEncoderErr, NewDirectEffectErr, NewBinauralErr and NewPannerErr are
	// returned by the corresponding constructors when non-nil.
	NewEncoderErr      error
	NewDirectEffectErr error
	NewBinauralErr     error
	NewPannerErr       error

	// InterleaveErr is returned by Interleave when non-nil.
	InterleaveErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Effects records every effect created, in creation order.
	Effects []*Effect

	// CallCountInterleave records how many times Interleave was called.
	CallCountInterleave int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Settings implements [spatial.Processor].
func (p *Processor) Settings() spatial.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SettingsResult
}

// HRTF implements [spatial.Processor].
func (p *Processor) HRTF() spatial.HRTF { return hrtf{} }

// AirAbsorption implements [spatial.Processor]. It always returns unity gains.
func (p *Processor) AirAbsorption(float32) [spatial.Bands]float32 {
	return [spatial.Bands]float32{1, 1, 1}
}

// NewEncoder implements [spatial.Processor].
func (p *Processor) NewEncoder() (spatial.Encoder, error) {
	e, err := p.newEffect("encoder", p.NewEncoderErr)
	if err != nil {
		return nil, err
	}
	return &Encoder{Effect: e}, nil
}

// NewDirectEffect implements [spatial.Processor].
func (p *Processor) NewDirectEffect() (spatial.DirectEffect, error) {
	e, err := p.newEffect("direct", p.NewDirectEffectErr)
	if err != nil {
		return nil, err
	}
	return &DirectEffect{Effect: e}, nil
}

// NewBinaural implements [spatial.Processor].
func (p *Processor) NewBinaural() (spatial.Decoder, error) {
	e, err := p.newEffect("binaural", p.NewBinauralErr)
	if err != nil {
		return nil, err
	}
	return &Decoder{Effect: e}, nil
}

// NewPanner implements [spatial.Processor].
func (p *Processor) NewPanner() (spatial.Decoder, error) {
	e, err := p.newEffect("panner", p.NewPannerErr)
	if err != nil {
		return nil, err
	}
	return &Decoder{Effect: e}, nil
}

func (p *Processor) newEffect(kind string, err error) (*Effect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e := &Effect{Kind: kind}
	p.Effects = append(p.Effects, e)
	return e, nil
}

// EffectsOf returns the created effects of the given kind.
func (p *Processor) EffectsOf(kind string) []*Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Effect
	for _, e := range p.Effects {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Interleave implements [spatial.Processor].
func (p *Processor) Interleave(in *spatial.StereoBuffer, out []float32) error {
	p.mu.Lock()
	p.CallCountInterleave++
	err := p.InterleaveErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if len(out) < 2*len(in.L) || len(in.R) != len(in.L) {
		return spatial.ErrBufferSize
	}
	for i := range in.L {
		out[2*i] = in.L[i]
		out[2*i+1] = in.R[i]
	}
	return nil
}

// Close implements [spatial.Processor].
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return p.CloseErr
}

// Open returns the number of created effects that are not closed.
func (p *Processor) Open() int {
	p.mu.Lock()
	defs := append([]*Effect(nil), p.Effects...)
	p.mu.Unlock()
	n := 0
	for _, e := range defs {
		if e.CloseCount() == 0 {
			n++
		}
	}
	return n
}

// Effect is the state shared by the mock effect types.
type Effect struct {
	mu sync.Mutex

	// Kind is "encoder", "direct", "binaural" or "panner".
	Kind string

	// ApplyErr is returned by Apply when non-nil.
	ApplyErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountApply records how many times Apply was called.
	CallCountApply int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// LastDirection and LastParams hold the most recent encoder and direct
	// effect inputs.
	LastDirection mgl32.Vec3
	LastParams    spatial.DirectParams
}

// SetApplyErr sets ApplyErr under the lock.
func (e *Effect) SetApplyErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ApplyErr = err
}

// Calls returns CallCountApply under the lock.
func (e *Effect) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCountApply
}

// CloseCount returns CallCountClose under the lock.
func (e *Effect) CloseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCountClose
}

// Close implements the effect interfaces.
func (e *Effect) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountClose++
	return e.CloseErr
}

func (e *Effect) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountApply++
	return e.ApplyErr
}

// Encoder is a mock [spatial.Encoder]. It writes the input to channel 0 and
// zeroes the rest.
type Encoder struct {
	*Effect
}

// Apply implements [spatial.Encoder].
func (e *Encoder) Apply(dir mgl32.Vec3, in []float32, out *spatial.AmbisonicsBuffer) error {
	if err := e.begin(); err != nil {
		return err
	}
	e.mu.Lock()
	e.LastDirection = dir
	e.mu.Unlock()
	for c, ch := range out.Data {
		if c == 0 {
			copy(ch, in)
			continue
		}
		clear(ch)
	}
	return nil
}

// DirectEffect is a mock [spatial.DirectEffect]. It scales every channel by
// the attenuation.
type DirectEffect struct {
	*Effect
}

// Apply implements [spatial.DirectEffect].
func (d *DirectEffect) Apply(p spatial.DirectParams, in, out *spatial.AmbisonicsBuffer) error {
	if err := d.begin(); err != nil {
		return err
	}
	d.mu.Lock()
	d.LastParams = p
	d.mu.Unlock()
	for c, src := range in.Data {
		for i, v := range src {
			out.Data[c][i] = v * p.Attenuation
		}
	}
	return nil
}

// Decoder is a mock [spatial.Decoder]. It copies channel 0 to both ears.
type Decoder struct {
	*Effect
}

// Apply implements [spatial.Decoder].
func (d *Decoder) Apply(in *spatial.AmbisonicsBuffer, out *spatial.StereoBuffer) error {
	if err := d.begin(); err != nil {
		return err
	}
	copy(out.L, in.Data[0])
	copy(out.R, in.Data[0])
	return nil
}

type hrtf struct{}

func (hrtf) Name() string { return "mock" }
