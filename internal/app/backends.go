package app

import (
	"github.com/MrWong99/resound/internal/config"
	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/sink"
	"github.com/MrWong99/resound/pkg/spatial"
	"github.com/MrWong99/resound/pkg/spatial/soft"
)

// RegisterBuiltins registers the sinks and the processor shipped with
// resound: the "oto", "wav" and "null" outputs and the "soft" processor.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterSink("oto", func(cfg config.OutputConfig, f audio.Format) (sink.Sink, error) {
		return sink.NewOto(f, sinkOptions(cfg)...)
	})
	reg.RegisterSink("wav", func(cfg config.OutputConfig, f audio.Format) (sink.Sink, error) {
		return sink.CreateWAV(cfg.WAVPath, f, sinkOptions(cfg)...)
	})
	reg.RegisterSink("null", func(cfg config.OutputConfig, f audio.Format) (sink.Sink, error) {
		return sink.NewNull(f, sinkOptions(cfg)...)
	})
	reg.RegisterProcessor("soft", func(cfg config.SpatialConfig, s spatial.Settings) (spatial.Processor, error) {
		var opts []soft.Option
		if len(cfg.AirAbsorption) == spatial.Bands {
			opts = append(opts, soft.WithAirAbsorption([spatial.Bands]float32(cfg.AirAbsorption)))
		}
		if cfg.HeadRadius > 0 {
			opts = append(opts, soft.WithHeadRadius(float64(cfg.HeadRadius)))
		}
		return soft.New(s, opts...)
	})
}

func sinkOptions(cfg config.OutputConfig) []sink.Option {
	var opts []sink.Option
	if cfg.Unpaced {
		opts = append(opts, sink.Unpaced())
	}
	if cfg.Buffer > 0 {
		opts = append(opts, sink.WithBufferSize(cfg.Buffer))
	}
	return opts
}
