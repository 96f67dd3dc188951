package mixer_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/mixer"
)

func stereoFrame(rate int, data ...float32) audio.SoundFrame {
	return audio.SoundFrame{Data: data, Channels: 2, SampleRate: rate, Valid: len(data)}
}

func TestBus_AddAndRender(t *testing.T) {
	t.Parallel()

	bus := mixer.NewBus(1000, 2)
	if err := bus.Add(stereoFrame(1000, 0.5, -0.5, 0.25, 0)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Shorter frames align to the start.
	if err := bus.Add(stereoFrame(1000, 0.75, -0.75)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if bus.Added() != 2 || bus.Frames() != 2 {
		t.Errorf("Added = %d, Frames = %d", bus.Added(), bus.Frames())
	}

	got := bus.Render(&audio.FormatConverter{Target: audio.Format{SampleRate: 1000, Channels: 2}})
	want := []float32{1, -1, 0.25, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stereo[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Render must not alias the bus: clamping the copy leaves the sum intact.
	mono := bus.Render(&audio.FormatConverter{Target: audio.Format{SampleRate: 1000, Channels: 1}})
	if len(mono) != 2 || mono[0] != 0 || mono[1] != 0.125 {
		t.Errorf("mono = %v, want [0 0.125]", mono)
	}
}

func TestBus_RenderKeepsDeviceRate(t *testing.T) {
	t.Parallel()

	const (
		engineRate = 44100
		deviceRate = 48000
		block      = 1024
		blocks     = 431
	)
	conv := &audio.FormatConverter{Target: audio.Format{SampleRate: deviceRate, Channels: 2}}
	rendered := 0
	for range blocks {
		rendered += len(mixer.NewBus(engineRate, block).Render(conv)) / 2
	}

	want := blocks * block * deviceRate / engineRate
	if d := rendered - want; d < -1 || d > 1 {
		t.Errorf("rendered %d device frames, want %d", rendered, want)
	}
}

func TestBus_RenderJoinsBlocks(t *testing.T) {
	t.Parallel()

	// A linear ramp interpolates exactly, so any seam or phase reset between
	// blocks shows up as a deviation.
	const (
		block = 4
		step  = 0.01
	)
	conv := &audio.FormatConverter{Target: audio.Format{SampleRate: 1500, Channels: 2}}
	var out []float32
	for b := range 20 {
		data := make([]float32, 0, block*2)
		for i := range block {
			v := float32(b*block+i) * step
			data = append(data, v, -v)
		}
		bus := mixer.NewBus(1000, block)
		if err := bus.Add(stereoFrame(1000, data...)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		out = append(out, bus.Render(conv)...)
	}

	if len(out)/2 < 115 {
		t.Fatalf("rendered %d frames, want about 120", len(out)/2)
	}
	for k := range len(out) / 2 {
		want := float32(k) * 1000 / 1500 * step
		if d := out[2*k] - want; d > 1e-5 || d < -1e-5 {
			t.Fatalf("frame %d left = %v, want %v", k, out[2*k], want)
		}
		if out[2*k+1] != -out[2*k] {
			t.Fatalf("frame %d right = %v, want %v", k, out[2*k+1], -out[2*k])
		}
	}
}

func TestBus_RejectsMismatchedFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame audio.SoundFrame
	}{
		{"mono", audio.SoundFrame{Data: []float32{1, 1}, Channels: 1, SampleRate: 1000}},
		{"wrong rate", stereoFrame(48000, 1, 1)},
		{"too long", stereoFrame(1000, 1, 1, 1, 1, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := mixer.NewBus(1000, 2)
			if err := bus.Add(tt.frame); !errors.Is(err, mixer.ErrFrameFormat) {
				t.Errorf("err = %v, want ErrFrameFormat", err)
			}
			if bus.Added() != 0 {
				t.Error("rejected frame was counted")
			}
		})
	}
}
