package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/resound/internal/config"
)

func sceneConfig() *config.Config {
	half := float32(0.5)
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Engine: config.EngineConfig{SampleRate: 48000, BlockSize: 1024},
		Scene: config.SceneConfig{
			Listeners: []config.ListenerConfig{
				{Name: "player", Position: config.Vec3{0, 1.7, 0}},
			},
			Emitters: []config.EmitterConfig{
				{
					Name:        "fire",
					Position:    config.Vec3{2, 0, 0},
					Directivity: &half,
					Sounds:      []config.SoundConfig{{Sound: "crackle", Mode: "loop", Gain: 1}},
				},
				{Name: "river", Position: config.Vec3{-5, 0, 3}},
			},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := sceneConfig()
	d := config.Diff(cfg, sceneConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := sceneConfig()
	new := sceneConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.EmittersChanged || d.ListenersChanged {
		t.Error("scene should be unchanged")
	}
}

func TestDiff_Emitters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   config.EmitterDiff
	}{
		{
			name:   "moved",
			mutate: func(c *config.Config) { c.Scene.Emitters[0].Position = config.Vec3{3, 0, 0} },
			want:   config.EmitterDiff{Name: "fire", TransformChanged: true},
		},
		{
			name:   "gain changed",
			mutate: func(c *config.Config) { c.Scene.Emitters[0].Sounds[0].Gain = 0.2 },
			want:   config.EmitterDiff{Name: "fire", SoundsChanged: true},
		},
		{
			name: "directivity changed",
			mutate: func(c *config.Config) {
				d := float32(0.9)
				c.Scene.Emitters[0].Directivity = &d
			},
			want: config.EmitterDiff{Name: "fire", AcousticsChanged: true},
		},
		{
			name:   "stage changed",
			mutate: func(c *config.Config) { c.Scene.Emitters[1].Output = "panning" },
			want:   config.EmitterDiff{Name: "river", AcousticsChanged: true},
		},
		{
			name:   "removed",
			mutate: func(c *config.Config) { c.Scene.Emitters = c.Scene.Emitters[:1] },
			want:   config.EmitterDiff{Name: "river", Removed: true},
		},
		{
			name: "added",
			mutate: func(c *config.Config) {
				c.Scene.Emitters = append(c.Scene.Emitters, config.EmitterConfig{Name: "wind"})
			},
			want: config.EmitterDiff{Name: "wind", Added: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := sceneConfig()
			new := sceneConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.EmittersChanged {
				t.Fatal("expected EmittersChanged=true")
			}
			if len(d.EmitterChanges) != 1 {
				t.Fatalf("expected 1 emitter change, got %+v", d.EmitterChanges)
			}
			if d.EmitterChanges[0] != tt.want {
				t.Errorf("change = %+v, want %+v", d.EmitterChanges[0], tt.want)
			}
		})
	}
}

func TestDiff_EmitterChangesSorted(t *testing.T) {
	t.Parallel()
	old := sceneConfig()
	new := sceneConfig()
	new.Scene.Emitters[0].Position = config.Vec3{}
	new.Scene.Emitters[1].Position = config.Vec3{}
	new.Scene.Emitters = append(new.Scene.Emitters, config.EmitterConfig{Name: "altar"})

	d := config.Diff(old, new)
	var names []string
	for _, c := range d.EmitterChanges {
		names = append(names, c.Name)
	}
	if want := []string{"altar", "fire", "river"}; !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestDiff_Listeners(t *testing.T) {
	t.Parallel()
	old := sceneConfig()
	new := sceneConfig()
	look := config.Vec3{0, 1.7, -1}
	new.Scene.Listeners[0].LookAt = &look
	new.Scene.Listeners = append(new.Scene.Listeners, config.ListenerConfig{Name: "camera"})

	d := config.Diff(old, new)
	if !d.ListenersChanged {
		t.Fatal("expected ListenersChanged=true")
	}
	want := []config.ListenerDiff{
		{Name: "camera", Added: true},
		{Name: "player", TransformChanged: true},
	}
	if !slices.Equal(d.ListenerChanges, want) {
		t.Errorf("ListenerChanges = %+v, want %+v", d.ListenerChanges, want)
	}

	d = config.Diff(new, old)
	if len(d.ListenerChanges) != 2 || !d.ListenerChanges[0].Removed {
		t.Errorf("reverse diff = %+v", d.ListenerChanges)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := sceneConfig()
	new := sceneConfig()
	new.Engine.BlockSize = 512
	new.Output.Breaker.ResetTimeout = time.Minute
	new.Spatial.Transmission = []float32{1, 1, 0.5}
	new.Assets.Sounds = []config.AssetConfig{{Name: "crackle", Path: "fire.ogg"}}

	d := config.Diff(old, new)
	want := []string{"engine", "output", "spatial", "assets"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if !d.Empty() {
		t.Error("restart-only changes should leave the diff empty")
	}
}
