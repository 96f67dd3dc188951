package config

import (
	"time"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/mixer"
	"github.com/MrWong99/resound/pkg/spatial"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultBlockSize       = 1024
	DefaultTickInterval    = 5 * time.Millisecond
	DefaultAmbisonicsOrder = 2
	DefaultProcessor       = "soft"
	DefaultMaxFailures     = 5
	DefaultResetTimeout    = 5 * time.Second
)

// DefaultBackends is the sink fallback order used when none is configured.
var DefaultBackends = []string{"oto", "null"}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	eng := &cfg.Engine
	if eng.SampleRate == 0 {
		eng.SampleRate = audio.DefaultSampleRate
	}
	if eng.BlockSize == 0 {
		eng.BlockSize = DefaultBlockSize
	}
	if eng.FramesToBuffer == 0 {
		eng.FramesToBuffer = mixer.DefaultFramesToBuffer
	}
	if eng.TickInterval == 0 {
		eng.TickInterval = DefaultTickInterval
	}
	if eng.Workers == 0 {
		eng.Workers = 1
	}
	if eng.AmbisonicsOrder == 0 {
		eng.AmbisonicsOrder = DefaultAmbisonicsOrder
	}
	if eng.ListenerQueue == 0 {
		eng.ListenerQueue = spatial.DefaultQueueSize
	}

	out := &cfg.Output
	if len(out.Backends) == 0 {
		out.Backends = append([]string(nil), DefaultBackends...)
	}
	if out.Channels == 0 {
		out.Channels = 2
	}
	applyBreakerDefaults(&out.Breaker)

	sp := &cfg.Spatial
	if sp.Processor == "" {
		sp.Processor = DefaultProcessor
	}
	if sp.Output == "" {
		sp.Output = spatial.StageBinaural.String()
	}
	applyBreakerDefaults(&sp.Breaker)
}

func applyBreakerDefaults(b *BreakerConfig) {
	if b.MaxFailures == 0 {
		b.MaxFailures = DefaultMaxFailures
	}
	if b.ResetTimeout == 0 {
		b.ResetTimeout = DefaultResetTimeout
	}
}
