package spatial_test

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/spatial"
	"github.com/MrWong99/resound/pkg/spatial/mock"
)

// sounds is a map-backed [spatial.SoundSource].
type sounds map[string]*audio.Sound

func (s sounds) Sound(name string) (*audio.Sound, bool) {
	snd, ok := s[name]
	return snd, ok
}

func newSound(t *testing.T, n, block int) *audio.Sound {
	t.Helper()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i+1) / float32(n)
	}
	s, err := audio.NewSound(samples, 1, audio.DefaultSampleRate, audio.WithBlockSize(block))
	if err != nil {
		t.Fatalf("NewSound: %v", err)
	}
	return s
}

func newEmitter(t *testing.T, p spatial.Processor, opts ...spatial.EmitterOption) *spatial.Emitter {
	t.Helper()
	e, err := spatial.NewEmitter(p, opts...)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEmitter_UnknownSoundIgnored(t *testing.T) {
	t.Parallel()

	e := newEmitter(t, &mock.Processor{})
	e.WithSound("missing", sounds{})
	if e.Sounds() != 0 {
		t.Errorf("Sounds = %d, want 0", e.Sounds())
	}
	if got := e.Frames(); got != nil {
		t.Errorf("Frames = %v, want nil", got)
	}
}

func TestEmitter_InvalidRangeNotAttached(t *testing.T) {
	t.Parallel()

	lib := sounds{"s": newSound(t, 8, 4)}
	e := newEmitter(t, &mock.Processor{})

	bad := audio.Playback{Mode: audio.Partial, Start: 2 * time.Second, End: time.Second}
	if err := e.Play("s", lib["s"], bad); !errors.Is(err, audio.ErrInvalidRange) {
		t.Fatalf("Play err = %v, want ErrInvalidRange", err)
	}
	e.WithSound("s", lib, bad)
	if e.Sounds() != 0 {
		t.Errorf("Sounds = %d after invalid ranges, want 0", e.Sounds())
	}
}

func TestEmitter_FramesPerVoice(t *testing.T) {
	t.Parallel()

	lib := sounds{
		"short": newSound(t, 8, 4),  // 2 blocks
		"long":  newSound(t, 16, 4), // 4 blocks
	}
	e := newEmitter(t, &mock.Processor{})
	e.WithSound("short", lib).WithSound("long", lib)

	wantCounts := []int{2, 2, 1, 1}
	for tick, want := range wantCounts {
		if got := len(e.Frames()); got != want {
			t.Fatalf("tick %d: %d frames, want %d", tick, got, want)
		}
	}
	if got := e.Frames(); got != nil {
		t.Errorf("exhausted emitter returned %d frames, want nil", len(got))
	}
	if e.Sounds() != 0 {
		t.Errorf("Sounds = %d after exhaustion, want 0", e.Sounds())
	}
}

func TestEmitter_SharedSoundIndependentCursors(t *testing.T) {
	t.Parallel()

	lib := sounds{"s": newSound(t, 12, 4)}
	p := &mock.Processor{}
	a := newEmitter(t, p).WithSound("s", lib)
	b := newEmitter(t, p).WithSound("s", lib)

	a.Frames()
	a.Frames()
	fa := a.Frames()
	fb := b.Frames()
	if len(fa) != 1 || len(fb) != 1 {
		t.Fatalf("frames: a=%d b=%d", len(fa), len(fb))
	}
	if fa[0].Data[0] == fb[0].Data[0] {
		t.Error("second emitter shares the first emitter's cursor")
	}
}

func TestEmitter_LoopNeverEnds(t *testing.T) {
	t.Parallel()

	lib := sounds{"s": newSound(t, 4, 4)}
	e := newEmitter(t, &mock.Processor{}).WithSound("s", lib, audio.Playback{Mode: audio.Loop})
	for tick := range 10 {
		if got := len(e.Frames()); got != 1 {
			t.Fatalf("tick %d: %d frames, want 1", tick, got)
		}
	}
}

func TestEmitter_Stop(t *testing.T) {
	t.Parallel()

	lib := sounds{"a": newSound(t, 4, 4), "b": newSound(t, 4, 4)}
	e := newEmitter(t, &mock.Processor{})
	e.WithSound("a", lib).WithSound("a", lib).WithSound("b", lib)

	if n := e.Stop("a"); n != 2 {
		t.Errorf("Stop = %d, want 2", n)
	}
	if e.Sounds() != 1 {
		t.Errorf("Sounds = %d, want 1", e.Sounds())
	}
	e.StopAll()
	if e.Sounds() != 0 {
		t.Errorf("Sounds = %d after StopAll, want 0", e.Sounds())
	}
}

func TestEmitter_CloseReleasesOnce(t *testing.T) {
	t.Parallel()

	p := &mock.Processor{}
	e, err := spatial.NewEmitter(p)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	if p.Open() != 3 {
		t.Fatalf("open effects = %d, want 3", p.Open())
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	for _, fx := range p.Effects {
		if got := fx.CloseCount(); got != 1 {
			t.Errorf("%s closed %d times, want 1", fx.Kind, got)
		}
	}
	if e.Frames() != nil {
		t.Error("closed emitter produced frames")
	}
}

func TestEmitter_ConstructionFailureClosesPartialStack(t *testing.T) {
	t.Parallel()

	boom := errors.New("no hrtf")
	p := &mock.Processor{NewBinauralErr: boom}
	_, err := spatial.NewEmitter(p)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if p.Open() != 0 {
		t.Errorf("leaked %d effects", p.Open())
	}
}

func TestEmitter_StageSelectsDecoder(t *testing.T) {
	t.Parallel()

	p := &mock.Processor{}
	e := newEmitter(t, p, spatial.WithStage(spatial.StagePanning))
	if e.Stage() != spatial.StagePanning {
		t.Errorf("Stage = %v", e.Stage())
	}
	if len(p.EffectsOf("panner")) != 1 || len(p.EffectsOf("binaural")) != 0 {
		t.Errorf("effects = %d panner, %d binaural", len(p.EffectsOf("panner")), len(p.EffectsOf("binaural")))
	}
}

func TestEmitter_DefaultTransmission(t *testing.T) {
	t.Parallel()

	e := newEmitter(t, &mock.Processor{})
	if got, want := e.Transmission(), ([spatial.Bands]float32{0.3, 0.2, 0.1}); got != want {
		t.Errorf("Transmission = %v, want %v", got, want)
	}
}

func TestEmitter_TransformAndTransmission(t *testing.T) {
	t.Parallel()

	e := newEmitter(t, &mock.Processor{},
		spatial.WithTransform(spatial.NewTransform(mgl32.Vec3{1, 2, 3})),
		spatial.WithTransmission([spatial.Bands]float32{0.5, 0.25, 0.125}),
	)
	if got := e.Transform().Position; got != (mgl32.Vec3{1, 2, 3}) {
		t.Errorf("Position = %v", got)
	}
	e.SetTransform(spatial.NewTransform(mgl32.Vec3{4, 5, 6}))
	if got := e.Transform().Position; got != (mgl32.Vec3{4, 5, 6}) {
		t.Errorf("Position after SetTransform = %v", got)
	}
	if got := e.Transmission(); got != [spatial.Bands]float32{0.5, 0.25, 0.125} {
		t.Errorf("Transmission = %v", got)
	}
}
