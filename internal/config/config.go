// Package config provides the configuration schema, loader, and backend registry
// for the resound audio runtime.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the resound server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for resound.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Output  OutputConfig  `yaml:"output"`
	Spatial SpatialConfig `yaml:"spatial"`
	Assets  AssetsConfig  `yaml:"assets"`
	Scene   SceneConfig   `yaml:"scene"`
}

// ServerConfig holds the admin endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the admin HTTP server serving
	// /metrics, /healthz and /readyz (e.g., ":9090"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the admin server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// EngineConfig sets the block format and scheduling of the audio system.
type EngineConfig struct {
	// SampleRate is the engine rate in Hz. Assets are resampled to it.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of sample frames mixed per tick.
	BlockSize int `yaml:"block_size"`

	// FramesToBuffer is the sink low-water mark in blocks.
	FramesToBuffer int `yaml:"frames_to_buffer"`

	// TickInterval is how often the scheduler polls the sink (e.g., "5ms").
	TickInterval time.Duration `yaml:"tick_interval"`

	// Workers is how many listeners are spatialized in parallel.
	Workers int `yaml:"workers"`

	// AmbisonicsOrder is the spatial resolution of the encoder. Zero selects
	// order 2.
	AmbisonicsOrder int `yaml:"ambisonics_order"`

	// ListenerQueue bounds the frames a listener may hold per tick.
	ListenerQueue int `yaml:"listener_queue"`
}

// OutputConfig selects the playback sink.
type OutputConfig struct {
	// Backends are tried in order until one opens: "oto", "wav", "null".
	Backends []string `yaml:"backends"`

	// SampleRate of the device. Zero uses the engine rate.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the device: 1 or 2.
	Channels int `yaml:"channels"`

	// WAVPath is the capture file of the "wav" backend.
	WAVPath string `yaml:"wav_path"`

	// Buffer is the device-side buffer of the "oto" backend. Zero lets the
	// driver choose.
	Buffer time.Duration `yaml:"buffer"`

	// Unpaced makes "wav" and "null" consume blocks instantly, rendering
	// faster than real time.
	Unpaced bool `yaml:"unpaced"`

	// Breaker tunes the circuit breaker guarding each backend.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before it opens.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long it stays open before admitting trial calls.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// SpatialConfig configures the spatialization processor.
type SpatialConfig struct {
	// Processor selects the registered processor implementation.
	Processor string `yaml:"processor"`

	// Output is the default decode stage: "binaural" or "panning".
	Output string `yaml:"output"`

	// Transmission holds the default low, mid and high band gains applied
	// by the direct effect.
	Transmission []float32 `yaml:"transmission"`

	// AirAbsorption holds per-metre absorption coefficients for the low,
	// mid and high bands. Empty uses the processor default.
	AirAbsorption []float32 `yaml:"air_absorption"`

	// HeadRadius in metres for interaural delays. Zero uses the default.
	HeadRadius float32 `yaml:"head_radius"`

	// Breaker tunes the per-emitter circuit breaker that skips emitters
	// whose spatialization keeps failing.
	Breaker BreakerConfig `yaml:"breaker"`
}

// AssetsConfig lists the sounds loaded into the library at startup.
type AssetsConfig struct {
	// Dir is the directory asset paths are relative to.
	Dir string `yaml:"dir"`

	Sounds []AssetConfig `yaml:"sounds"`
}

// AssetConfig describes one sound file.
type AssetConfig struct {
	// Name is the key emitters refer to.
	Name string `yaml:"name"`

	// Path is relative to [AssetsConfig.Dir].
	Path string `yaml:"path"`

	// Format is "raw", "wav", "mp3", "ogg" or "aiff". Empty infers it from
	// Path.
	Format string `yaml:"format"`

	// Channels and SampleRate describe raw PCM.
	Channels   int `yaml:"channels"`
	SampleRate int `yaml:"sample_rate"`
}

// Vec3 is a position in engine space: -Z forward, +Y up, +X right.
type Vec3 [3]float32

// SceneConfig places listeners and emitters.
type SceneConfig struct {
	Listeners []ListenerConfig `yaml:"listeners"`
	Emitters  []EmitterConfig  `yaml:"emitters"`
}

// ListenerConfig places one listener.
type ListenerConfig struct {
	Name     string `yaml:"name"`
	Position Vec3   `yaml:"position"`

	// LookAt orients the listener towards a point. When nil it faces -Z.
	LookAt *Vec3 `yaml:"look_at"`
}

// EmitterConfig places one emitter and the sounds it plays.
type EmitterConfig struct {
	Name     string `yaml:"name"`
	Position Vec3   `yaml:"position"`

	// Output overrides [SpatialConfig.Output] for this emitter.
	Output string `yaml:"output"`

	// Transmission overrides [SpatialConfig.Transmission].
	Transmission []float32 `yaml:"transmission"`

	// Directivity is the gain towards listeners. Nil means 1.
	Directivity *float32 `yaml:"directivity"`

	Sounds []SoundConfig `yaml:"sounds"`
}

// SoundConfig assigns a library sound to an emitter.
type SoundConfig struct {
	// Sound is the asset name.
	Sound string `yaml:"sound"`

	// Mode is "once", "loop", "pingpong" or "partial".
	Mode string `yaml:"mode"`

	// Start and End bound "partial" playback.
	Start time.Duration `yaml:"start"`
	End   time.Duration `yaml:"end"`

	// Gain scales the sound. Zero means unity.
	Gain float32 `yaml:"gain"`
}
