// Package soft is a pure software [spatial.Processor].
//
// It encodes to ambisonics up to second order (ACN channel order, SN3D
// normalisation), applies a three-band direct effect built from one-pole
// filters, and decodes binaurally through a ring of virtual speakers whose
// ear responses come from a spherical-head model: an interaural level
// difference and a Woodworth interaural time difference. Every effect is
// stateless between calls, so output depends only on the inputs.
package soft

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/resound/pkg/spatial"
)

// MaxOrder is the highest ambisonics order the processor supports.
const MaxOrder = 2

const (
	// DefaultHeadRadius in metres.
	DefaultHeadRadius = 0.0875

	// SpeedOfSound in metres per second.
	SpeedOfSound = 343.0

	// LowCrossover and HighCrossover split the direct effect bands in Hz.
	LowCrossover  = 800.0
	HighCrossover = 8000.0
)

// DefaultAirAbsorption holds per-metre absorption coefficients for the low,
// mid and high bands.
var DefaultAirAbsorption = [spatial.Bands]float32{0.0002, 0.0017, 0.0182}

// ErrUnsupportedOrder is returned for ambisonics orders above [MaxOrder].
var ErrUnsupportedOrder = errors.New("soft: unsupported ambisonics order")

var _ spatial.Processor = (*Processor)(nil)

// Option configures a [Processor].
type Option func(*Processor)

// WithAirAbsorption overrides the per-metre absorption coefficients.
func WithAirAbsorption(coef [spatial.Bands]float32) Option {
	return func(p *Processor) {
		p.air = coef
	}
}

// WithHeadRadius sets the head radius used for interaural time differences.
func WithHeadRadius(r float64) Option {
	return func(p *Processor) {
		if r > 0 {
			p.headRadius = r
		}
	}
}

// Processor implements [spatial.Processor] in software. It is safe for
// concurrent use; the effects it creates are not.
type Processor struct {
	settings   spatial.Settings
	air        [spatial.Bands]float32
	headRadius float64
	hrtf       *HRTF

	live   atomic.Int64
	closed atomic.Bool
}

// New validates settings and builds the HRTF tables.
func New(settings spatial.Settings, opts ...Option) (*Processor, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Order > MaxOrder {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedOrder, settings.Order)
	}
	p := &Processor{
		settings:   settings,
		air:        DefaultAirAbsorption,
		headRadius: DefaultHeadRadius,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.hrtf = newHRTF(settings.Order, settings.SampleRate, p.headRadius)
	return p, nil
}

// Settings implements [spatial.Processor].
func (p *Processor) Settings() spatial.Settings { return p.settings }

// HRTF implements [spatial.Processor].
func (p *Processor) HRTF() spatial.HRTF { return p.hrtf }

// LiveHandles returns the number of effects created and not yet closed.
func (p *Processor) LiveHandles() int64 { return p.live.Load() }

// AirAbsorption implements [spatial.Processor]: exp(-coef·distance) per band.
func (p *Processor) AirAbsorption(distance float32) [spatial.Bands]float32 {
	var out [spatial.Bands]float32
	for i, c := range p.air {
		out[i] = float32(math.Exp(-float64(c) * float64(distance)))
	}
	return out
}

// NewEncoder implements [spatial.Processor].
func (p *Processor) NewEncoder() (spatial.Encoder, error) {
	h, err := p.open()
	if err != nil {
		return nil, err
	}
	return &encoder{handle: h, order: p.settings.Order}, nil
}

// NewDirectEffect implements [spatial.Processor].
func (p *Processor) NewDirectEffect() (spatial.DirectEffect, error) {
	h, err := p.open()
	if err != nil {
		return nil, err
	}
	return &directEffect{
		handle: h,
		lowA:   onePoleCoef(LowCrossover, p.settings.SampleRate),
		highA:  onePoleCoef(HighCrossover, p.settings.SampleRate),
	}, nil
}

// NewBinaural implements [spatial.Processor].
func (p *Processor) NewBinaural() (spatial.Decoder, error) {
	h, err := p.open()
	if err != nil {
		return nil, err
	}
	return &binaural{handle: h, hrtf: p.hrtf}, nil
}

// NewPanner implements [spatial.Processor].
func (p *Processor) NewPanner() (spatial.Decoder, error) {
	h, err := p.open()
	if err != nil {
		return nil, err
	}
	return &panner{handle: h}, nil
}

// Interleave implements [spatial.Processor].
func (p *Processor) Interleave(in *spatial.StereoBuffer, out []float32) error {
	n := len(in.L)
	if len(in.R) != n || len(out) < 2*n {
		return fmt.Errorf("%w: interleave %d+%d frames into %d values",
			spatial.ErrBufferSize, len(in.L), len(in.R), len(out))
	}
	for i := range n {
		out[2*i] = in.L[i]
		out[2*i+1] = in.R[i]
	}
	return nil
}

// Close marks the processor closed. Effects still open keep working; new
// effects cannot be created.
func (p *Processor) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *Processor) open() (*handle, error) {
	if p.closed.Load() {
		return nil, spatial.ErrProcessorClosed
	}
	p.live.Add(1)
	return &handle{live: &p.live}, nil
}

// handle tracks one live effect and releases it exactly once.
type handle struct {
	once   sync.Once
	closed atomic.Bool
	live   *atomic.Int64
}

func (h *handle) Close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		h.live.Add(-1)
	})
	return nil
}

func (h *handle) check() error {
	if h.closed.Load() {
		return spatial.ErrEffectClosed
	}
	return nil
}
