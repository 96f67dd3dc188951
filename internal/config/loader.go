package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/library"
	"github.com/MrWong99/resound/pkg/spatial"
)

// ValidBackendNames lists known backend names per backend kind.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"output":    {"oto", "wav", "null"},
	"processor": {"soft"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Engine
	eng := cfg.Engine
	if eng.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("engine.sample_rate %d must be positive", eng.SampleRate))
	}
	if eng.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.block_size %d must be positive", eng.BlockSize))
	}
	if eng.FramesToBuffer <= 0 {
		errs = append(errs, fmt.Errorf("engine.frames_to_buffer %d must be positive", eng.FramesToBuffer))
	}
	if eng.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine.tick_interval %s must be positive", eng.TickInterval))
	}
	if eng.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers %d must be at least 1", eng.Workers))
	}
	if eng.AmbisonicsOrder < 0 {
		errs = append(errs, fmt.Errorf("engine.ambisonics_order %d must not be negative", eng.AmbisonicsOrder))
	}
	if eng.ListenerQueue < 0 {
		errs = append(errs, fmt.Errorf("engine.listener_queue %d must not be negative", eng.ListenerQueue))
	}

	// Output
	out := cfg.Output
	if len(out.Backends) == 0 {
		errs = append(errs, errors.New("output.backends must list at least one backend"))
	}
	for _, b := range out.Backends {
		validateBackendName("output", b)
		if b == "wav" && out.WAVPath == "" {
			errs = append(errs, errors.New("output.wav_path is required when the wav backend is listed"))
		}
	}
	if out.Channels != 1 && out.Channels != 2 {
		errs = append(errs, fmt.Errorf("output.channels %d is invalid; valid values: 1, 2", out.Channels))
	}
	if out.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("output.sample_rate %d must not be negative", out.SampleRate))
	}
	errs = append(errs, validateBreaker("output.breaker", out.Breaker)...)

	// Spatial
	sp := cfg.Spatial
	validateBackendName("processor", sp.Processor)
	if _, err := spatial.ParseStage(sp.Output); err != nil {
		errs = append(errs, fmt.Errorf("spatial.output %q is invalid; valid values: binaural, panning", sp.Output))
	}
	errs = append(errs, validateBands("spatial.transmission", sp.Transmission, true)...)
	errs = append(errs, validateBands("spatial.air_absorption", sp.AirAbsorption, false)...)
	if sp.HeadRadius < 0 {
		errs = append(errs, fmt.Errorf("spatial.head_radius %g must not be negative", sp.HeadRadius))
	}
	errs = append(errs, validateBreaker("spatial.breaker", sp.Breaker)...)

	// Assets
	assetNames := make(map[string]int, len(cfg.Assets.Sounds))
	for i, a := range cfg.Assets.Sounds {
		prefix := fmt.Sprintf("assets.sounds[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := assetNames[a.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of assets.sounds[%d]", prefix, a.Name, prev))
			}
			assetNames[a.Name] = i
		}
		if a.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		switch strings.ToLower(a.Format) {
		case "", library.FormatRaw, library.FormatWAV, library.FormatMP3, library.FormatOGG, library.FormatAIFF:
		default:
			errs = append(errs, fmt.Errorf("%s.format %q is invalid; valid values: raw, wav, mp3, ogg, aiff", prefix, a.Format))
		}
		if a.Channels < 0 || a.SampleRate < 0 {
			errs = append(errs, fmt.Errorf("%s: channels and sample_rate must not be negative", prefix))
		}
	}

	// Scene
	listenerNames := make(map[string]int, len(cfg.Scene.Listeners))
	for i, l := range cfg.Scene.Listeners {
		prefix := fmt.Sprintf("scene.listeners[%d]", i)
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := listenerNames[l.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of scene.listeners[%d]", prefix, l.Name, prev))
		}
		listenerNames[l.Name] = i
		if l.LookAt != nil && *l.LookAt == l.Position {
			errs = append(errs, fmt.Errorf("%s.look_at must differ from position", prefix))
		}
	}

	emitterNames := make(map[string]int, len(cfg.Scene.Emitters))
	for i, e := range cfg.Scene.Emitters {
		prefix := fmt.Sprintf("scene.emitters[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := emitterNames[e.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of scene.emitters[%d]", prefix, e.Name, prev))
			}
			emitterNames[e.Name] = i
		}
		if _, err := spatial.ParseStage(e.Output); err != nil {
			errs = append(errs, fmt.Errorf("%s.output %q is invalid; valid values: binaural, panning", prefix, e.Output))
		}
		errs = append(errs, validateBands(prefix+".transmission", e.Transmission, true)...)
		if e.Directivity != nil && (*e.Directivity < 0 || *e.Directivity > 1) {
			errs = append(errs, fmt.Errorf("%s.directivity %g is out of range [0, 1]", prefix, *e.Directivity))
		}

		for j, s := range e.Sounds {
			sp := fmt.Sprintf("%s.sounds[%d]", prefix, j)
			mode, err := audio.ParsePlaybackMode(s.Mode)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.mode %q is invalid; valid values: once, loop, pingpong, partial", sp, s.Mode))
			}
			pb := audio.Playback{Mode: mode, Start: s.Start, End: s.End}
			if err := pb.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sp, err))
			}
			if s.Gain < 0 {
				errs = append(errs, fmt.Errorf("%s.gain must not be negative", sp))
			}
			// Unknown sounds are ignored at runtime, so this only warns.
			if _, ok := assetNames[s.Sound]; !ok {
				slog.Warn("emitter references a sound that is not in assets",
					"emitter", e.Name,
					"sound", s.Sound,
				)
			}
		}
	}

	if len(cfg.Scene.Emitters) > 0 && len(cfg.Scene.Listeners) == 0 {
		slog.Warn("scene has emitters but no listeners; output will be silent")
	}

	return errors.Join(errs...)
}

// validateBands checks an optional three-band setting. Gains must lie in
// [0, 1]; coefficients only need to be non-negative.
func validateBands(field string, v []float32, gain bool) []error {
	if len(v) == 0 {
		return nil
	}
	if len(v) != spatial.Bands {
		return []error{fmt.Errorf("%s must have %d values (low, mid, high), got %d", field, spatial.Bands, len(v))}
	}
	var errs []error
	for i, x := range v {
		if x < 0 || (gain && x > 1) {
			errs = append(errs, fmt.Errorf("%s[%d] %g is out of range", field, i, x))
		}
	}
	return errs
}

func validateBreaker(field string, b BreakerConfig) []error {
	var errs []error
	if b.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("%s.max_failures %d must not be negative", field, b.MaxFailures))
	}
	if b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.reset_timeout %s must not be negative", field, b.ResetTimeout))
	}
	return errs
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or a third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
