package soft_test

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/MrWong99/resound/pkg/spatial"
	"github.com/MrWong99/resound/pkg/spatial/soft"
)

var settings = spatial.Settings{SampleRate: 44100, BlockSize: 512, Order: 2}

func newProcessor(t *testing.T, opts ...soft.Option) *soft.Processor {
	t.Helper()
	p, err := soft.New(settings, opts...)
	if err != nil {
		t.Fatalf("soft.New: %v", err)
	}
	return p
}

func near(a, b, tol float32) bool {
	return math.Abs(float64(a-b)) <= float64(tol)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := soft.New(spatial.Settings{SampleRate: 44100, BlockSize: 64, Order: 3}); !errors.Is(err, soft.ErrUnsupportedOrder) {
		t.Errorf("order 3: err = %v, want ErrUnsupportedOrder", err)
	}
	if _, err := soft.New(spatial.Settings{}); !errors.Is(err, spatial.ErrInvalidSettings) {
		t.Errorf("zero settings: err = %v, want ErrInvalidSettings", err)
	}
}

func TestEncoder_Harmonics(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	enc, err := p.NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer enc.Close()

	tests := []struct {
		name string
		dir  mgl32.Vec3
		want [9]float32
	}{
		// ACN: W, Y, Z, X, V, T, R, S, U.
		{name: "front", dir: mgl32.Vec3{0, 0, -1}, want: [9]float32{1, 0, 0, 1, 0, 0, -0.5, 0, float32(math.Sqrt(3) / 2)}},
		{name: "left", dir: mgl32.Vec3{-1, 0, 0}, want: [9]float32{1, 1, 0, 0, 0, 0, -0.5, 0, -float32(math.Sqrt(3) / 2)}},
		{name: "up", dir: mgl32.Vec3{0, 1, 0}, want: [9]float32{1, 0, 1, 0, 0, 0, 1, 0, 0}},
		{name: "unnormalised", dir: mgl32.Vec3{0, 0, -5}, want: [9]float32{1, 0, 0, 1, 0, 0, -0.5, 0, float32(math.Sqrt(3) / 2)}},
	}
	for _, tc := range tests {
		out := spatial.NewAmbisonicsBuffer(2, 1)
		if err := enc.Apply(tc.dir, []float32{1}, out); err != nil {
			t.Fatalf("%s: Apply: %v", tc.name, err)
		}
		for n, w := range tc.want {
			if !near(out.Data[n][0], w, 1e-5) {
				t.Errorf("%s: channel %d = %v, want %v", tc.name, n, out.Data[n][0], w)
			}
		}
	}
}

func TestEncoder_BufferMismatch(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	enc, _ := p.NewEncoder()
	defer enc.Close()

	if err := enc.Apply(spatial.Forward, make([]float32, 4), spatial.NewAmbisonicsBuffer(1, 4)); !errors.Is(err, spatial.ErrBufferSize) {
		t.Errorf("wrong order: err = %v", err)
	}
	if err := enc.Apply(spatial.Forward, make([]float32, 8), spatial.NewAmbisonicsBuffer(2, 4)); !errors.Is(err, spatial.ErrBufferSize) {
		t.Errorf("short buffer: err = %v", err)
	}
}

func TestAirAbsorption(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	if got := p.AirAbsorption(0); got != [spatial.Bands]float32{1, 1, 1} {
		t.Errorf("AirAbsorption(0) = %v, want unity", got)
	}
	near10, far := p.AirAbsorption(10), p.AirAbsorption(100)
	for b := range spatial.Bands {
		if far[b] >= near10[b] {
			t.Errorf("band %d: absorption does not grow with distance (%v vs %v)", b, near10[b], far[b])
		}
	}
	if !(far[2] < far[1] && far[1] < far[0]) {
		t.Errorf("high frequencies should be absorbed most: %v", far)
	}
	if want := float32(math.Exp(-0.0182 * 100)); !near(far[2], want, 1e-6) {
		t.Errorf("high band at 100m = %v, want %v", far[2], want)
	}
}

func TestDirectEffect_FlatGainIsBroadband(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	fx, _ := p.NewDirectEffect()
	defer fx.Close()

	in := spatial.NewAmbisonicsBuffer(2, 64)
	for c := range in.Data {
		for i := range in.Data[c] {
			in.Data[c][i] = float32(math.Sin(float64(i*(c+1)) * 0.3))
		}
	}
	out := spatial.NewAmbisonicsBuffer(2, 64)
	params := spatial.DirectParams{
		Attenuation:   0.5,
		AirAbsorption: [spatial.Bands]float32{1, 1, 1},
		Directivity:   1,
		Transmission:  [spatial.Bands]float32{1, 1, 1},
	}
	if err := fx.Apply(params, in, out); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for c := range in.Data {
		for i := range in.Data[c] {
			if !near(out.Data[c][i], 0.5*in.Data[c][i], 1e-5) {
				t.Fatalf("channel %d sample %d = %v, want %v", c, i, out.Data[c][i], 0.5*in.Data[c][i])
			}
		}
	}
}

func TestDirectEffect_HighBandAttenuation(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	fx, _ := p.NewDirectEffect()
	defer fx.Close()

	params := spatial.DirectParams{
		Attenuation:   1,
		AirAbsorption: [spatial.Bands]float32{1, 1, 0},
		Directivity:   1,
		Transmission:  [spatial.Bands]float32{1, 1, 1},
	}

	rms := func(signal func(i int) float32) float64 {
		in := spatial.NewAmbisonicsBuffer(0, 512)
		for i := range in.Data[0] {
			in.Data[0][i] = signal(i)
		}
		out := spatial.NewAmbisonicsBuffer(0, 512)
		if err := fx.Apply(params, in, out); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		var sum float64
		for _, v := range out.Data[0][256:] {
			sum += float64(v * v)
		}
		return math.Sqrt(sum / 256)
	}

	dc := rms(func(int) float32 { return 1 })
	nyquist := rms(func(i int) float32 { return float32(1 - 2*(i%2)) })
	if dc < 0.99 {
		t.Errorf("DC passed at %v, want ~1", dc)
	}
	if nyquist > 0.6 {
		t.Errorf("Nyquist passed at %v, want strongly attenuated", nyquist)
	}
}

func TestDirectEffect_Deterministic(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	fx, _ := p.NewDirectEffect()
	defer fx.Close()

	in := spatial.NewAmbisonicsBuffer(2, 32)
	for i := range in.Data[0] {
		in.Data[0][i] = float32(i % 3)
	}
	params := spatial.DirectParams{
		Attenuation:   1,
		AirAbsorption: p.AirAbsorption(50),
		Directivity:   1,
		Transmission:  [spatial.Bands]float32{1, 0.7, 0.3},
	}
	a := spatial.NewAmbisonicsBuffer(2, 32)
	b := spatial.NewAmbisonicsBuffer(2, 32)
	_ = fx.Apply(params, in, a)
	_ = fx.Apply(params, in, b)
	for i := range a.Data[0] {
		if a.Data[0][i] != b.Data[0][i] {
			t.Fatalf("sample %d differs between calls: %v vs %v", i, a.Data[0][i], b.Data[0][i])
		}
	}
}

func decodeImpulse(t *testing.T, p *soft.Processor, dir mgl32.Vec3) *spatial.StereoBuffer {
	t.Helper()
	enc, _ := p.NewEncoder()
	dec, _ := p.NewBinaural()
	defer enc.Close()
	defer dec.Close()

	in := make([]float32, 64)
	in[0] = 1
	amb := spatial.NewAmbisonicsBuffer(2, 64)
	if err := enc.Apply(dir, in, amb); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := spatial.NewStereoBuffer(64)
	if err := dec.Apply(amb, out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestBinaural_LateralSourceIsLouderOnNearEar(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	out := decodeImpulse(t, p, mgl32.Vec3{-1, 0, 0})

	var el, er float64
	for i := range out.L {
		el += float64(out.L[i] * out.L[i])
		er += float64(out.R[i] * out.R[i])
	}
	if el <= er {
		t.Errorf("energy L=%v R=%v, want left louder", el, er)
	}
}

func TestBinaural_FrontalSourceIsSymmetric(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	out := decodeImpulse(t, p, spatial.Forward)
	for i := range out.L {
		if !near(out.L[i], out.R[i], 1e-5) {
			t.Fatalf("sample %d: L=%v R=%v", i, out.L[i], out.R[i])
		}
	}
}

func TestBinaural_DelayedEarSeesSilenceFirst(t *testing.T) {
	t.Parallel()

	// The strongest arrival at the far ear comes from the left-hand speakers,
	// delayed by their interaural time difference.
	p := newProcessor(t)
	out := decodeImpulse(t, p, mgl32.Vec3{-1, 0, 0})

	var peakL, peakR int
	for i := range out.L {
		if math.Abs(float64(out.L[i])) > math.Abs(float64(out.L[peakL])) {
			peakL = i
		}
		if math.Abs(float64(out.R[i])) > math.Abs(float64(out.R[peakR])) {
			peakR = i
		}
	}
	if peakR <= peakL {
		t.Errorf("peak L=%d R=%d, want the right ear later", peakL, peakR)
	}
}

func TestBinaural_HRTF(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	h, ok := p.HRTF().(*soft.HRTF)
	if !ok {
		t.Fatalf("HRTF type = %T", p.HRTF())
	}
	if h.Speakers() != 10 {
		t.Errorf("Speakers = %d, want 10", h.Speakers())
	}
	if h.Name() == "" {
		t.Error("empty HRTF name")
	}
}

func TestPanner(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	pan, _ := p.NewPanner()
	defer pan.Close()

	in := spatial.NewAmbisonicsBuffer(2, 1)
	in.Data[0][0] = 1   // W
	in.Data[1][0] = 0.5 // Y, left
	out := spatial.NewStereoBuffer(1)
	if err := pan.Apply(in, out); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.L[0] != 0.75 || out.R[0] != 0.25 {
		t.Errorf("L=%v R=%v, want 0.75 0.25", out.L[0], out.R[0])
	}
}

func TestInterleave(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	out := make([]float32, 4)
	if err := p.Interleave(&spatial.StereoBuffer{L: []float32{1, 2}, R: []float32{3, 4}}, out); err != nil {
		t.Fatalf("Interleave: %v", err)
	}
	want := []float32{1, 3, 2, 4}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
	if err := p.Interleave(&spatial.StereoBuffer{L: []float32{1, 2}, R: []float32{3, 4}}, out[:3]); !errors.Is(err, spatial.ErrBufferSize) {
		t.Errorf("short output: err = %v", err)
	}
}

func TestHandleLifecycle(t *testing.T) {
	t.Parallel()

	p := newProcessor(t)
	enc, _ := p.NewEncoder()
	dec, _ := p.NewBinaural()
	if p.LiveHandles() != 2 {
		t.Fatalf("LiveHandles = %d, want 2", p.LiveHandles())
	}

	_ = enc.Close()
	_ = enc.Close()
	if p.LiveHandles() != 1 {
		t.Errorf("LiveHandles after double close = %d, want 1", p.LiveHandles())
	}
	if err := enc.Apply(spatial.Forward, []float32{1}, spatial.NewAmbisonicsBuffer(2, 1)); !errors.Is(err, spatial.ErrEffectClosed) {
		t.Errorf("Apply after Close: err = %v", err)
	}

	_ = p.Close()
	if _, err := p.NewEncoder(); !errors.Is(err, spatial.ErrProcessorClosed) {
		t.Errorf("NewEncoder after Close: err = %v", err)
	}
	_ = dec.Close()
	if p.LiveHandles() != 0 {
		t.Errorf("LiveHandles = %d, want 0", p.LiveHandles())
	}
}
