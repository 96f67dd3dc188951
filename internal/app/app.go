// Package app wires the resound subsystems into a running audio runtime.
//
// The App struct owns the full lifecycle: New decodes the asset library,
// opens the spatial processor and an output sink, and builds the scene; Run
// drives the scheduler; ApplyConfig hot-reloads the scene; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithProcessor,
// WithSink, WithAssets, etc.). When an option is not provided, New creates
// real implementations from the config through a [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/resound/internal/config"
	"github.com/MrWong99/resound/internal/observe"
	"github.com/MrWong99/resound/internal/resilience"
	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/library"
	"github.com/MrWong99/resound/pkg/audio/mixer"
	"github.com/MrWong99/resound/pkg/audio/sink"
	"github.com/MrWong99/resound/pkg/spatial"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar
	assets   fs.FS

	// Subsystems: initialised in New, torn down in Shutdown.
	lib      *library.Library
	proc     spatial.Processor
	out      sink.Sink
	sinkName string
	sys      *mixer.System
	scene    *Scene

	lastTick  atomic.Int64 // unix nanoseconds
	underruns atomic.Int64 // last device underrun count seen

	// reloadMu serialises ApplyConfig calls.
	reloadMu sync.Mutex

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	shut     atomic.Bool
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the backend registry. Defaults to one populated by
// [RegisterBuiltins].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithAssets reads asset files from fsys instead of assets.dir.
func WithAssets(fsys fs.FS) Option {
	return func(a *App) { a.assets = fsys }
}

// WithLibrary injects a prepared sound library. Configured assets are still
// loaded into it.
func WithLibrary(lib *library.Library) Option {
	return func(a *App) { a.lib = lib }
}

// WithProcessor injects a spatial processor instead of creating one from
// config.
func WithProcessor(p spatial.Processor) Option {
	return func(a *App) { a.proc = p }
}

// WithSink injects an output sink instead of opening the configured
// backends. name is reported in logs and readiness checks.
func WithSink(name string, s sink.Sink) Option {
	return func(a *App) {
		a.sinkName = name
		a.out = s
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It loads every
// configured asset, opens the processor and the first output backend that
// works, and adds the configured listeners and emitters.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltins(a.registry)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Sound library ─────────────────────────────────────────────────
	if err := a.initLibrary(ctx); err != nil {
		return nil, fmt.Errorf("app: init library: %w", err)
	}

	// ── 2. Spatial processor ─────────────────────────────────────────────
	if err := a.initProcessor(); err != nil {
		return nil, fmt.Errorf("app: init processor: %w", err)
	}

	// ── 3. Output sink ───────────────────────────────────────────────────
	if err := a.initSink(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("app: init sink: %w", err), a.proc.Close())
	}

	// ── 4. Audio system ──────────────────────────────────────────────────
	sys, err := mixer.New(a.proc, a.out,
		mixer.WithFramesToBuffer(cfg.Engine.FramesToBuffer),
		mixer.WithWorkers(cfg.Engine.Workers),
		mixer.WithGuard(a.newGuard),
		mixer.WithReporter(a.report),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: init mixer: %w", err), a.out.Close(), a.proc.Close())
	}
	a.sys = sys

	// ── 5. Scene ─────────────────────────────────────────────────────────
	a.scene = NewScene(sys, a.lib, cfg.Spatial, cfg.Engine.ListenerQueue)
	if err := a.scene.Load(cfg.Scene); err != nil {
		return nil, errors.Join(fmt.Errorf("app: init scene: %w", err), sys.Close())
	}

	slog.Info("audio system ready",
		"sink", a.sinkName,
		"format", a.out.Format().String(),
		"block_size", cfg.Engine.BlockSize,
		"sounds", a.lib.Len(),
		"emitters", len(a.scene.Emitters()),
		"listeners", len(a.scene.Listeners()),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initLibrary decodes the configured assets.
func (a *App) initLibrary(ctx context.Context) error {
	if a.lib == nil {
		a.lib = library.New(
			library.WithSampleRate(a.cfg.Engine.SampleRate),
			library.WithBlockSize(a.cfg.Engine.BlockSize),
		)
	}
	if a.assets == nil {
		dir := a.cfg.Assets.Dir
		if dir == "" {
			dir = "."
		}
		a.assets = os.DirFS(dir)
	}

	assets := make([]library.Asset, len(a.cfg.Assets.Sounds))
	for i, ac := range a.cfg.Assets.Sounds {
		assets[i] = library.Asset{
			Name:       ac.Name,
			Path:       ac.Path,
			Format:     ac.Format,
			Channels:   ac.Channels,
			SampleRate: ac.SampleRate,
		}
	}

	ctx, span := observe.StartSpan(ctx, "library.load")
	defer span.End()

	start := time.Now()
	if err := a.lib.LoadAll(ctx, a.assets, assets); err != nil {
		span.RecordError(err)
		return err
	}
	a.metrics.LibrarySounds.Record(ctx, int64(a.lib.Len()))
	observe.Logger(ctx).Info("assets loaded",
		"count", len(assets),
		"duration", time.Since(start),
	)
	return nil
}

// initProcessor creates the spatial processor unless one was injected.
func (a *App) initProcessor() error {
	if a.proc != nil {
		return nil
	}
	settings := spatial.Settings{
		SampleRate: a.cfg.Engine.SampleRate,
		BlockSize:  a.cfg.Engine.BlockSize,
		Order:      a.cfg.Engine.AmbisonicsOrder,
	}
	p, err := a.registry.CreateProcessor(a.cfg.Spatial, settings)
	if err != nil {
		return err
	}
	a.proc = p
	slog.Info("processor created",
		"name", a.cfg.Spatial.Processor,
		"hrtf", p.HRTF().Name(),
		"order", settings.Order,
	)
	return nil
}

// initSink opens the configured output backends in order until one works.
func (a *App) initSink(ctx context.Context) error {
	if a.out != nil {
		return nil
	}
	names := a.cfg.Output.Backends
	if len(names) == 0 {
		return errors.New("no output backends configured")
	}
	format := a.outputFormat()

	fg := resilience.NewFallbackGroup(names[0], names[0], resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Output.Breaker.MaxFailures,
			ResetTimeout: a.cfg.Output.Breaker.ResetTimeout,
		},
	})
	for _, name := range names[1:] {
		fg.AddFallback(name, name)
	}

	var opened string
	out, err := resilience.ExecuteWithResult(fg, func(name string) (sink.Sink, error) {
		s, err := a.registry.CreateSink(name, a.cfg.Output, format)
		if err != nil {
			return nil, err
		}
		opened = name
		return s, nil
	})
	if err != nil {
		return err
	}
	if opened != names[0] {
		a.metrics.RecordSinkFailover(ctx, names[0], opened)
		slog.Warn("primary output backend unavailable, using fallback",
			"primary", names[0],
			"backend", opened,
		)
	}
	a.out = out
	a.sinkName = opened
	return nil
}

// outputFormat is the device format: output.sample_rate, or the engine rate
// when unset, with output.channels.
func (a *App) outputFormat() audio.Format {
	rate := a.cfg.Output.SampleRate
	if rate == 0 {
		rate = a.cfg.Engine.SampleRate
	}
	return audio.Format{SampleRate: rate, Channels: a.cfg.Output.Channels}
}

// newGuard returns the circuit breaker isolating one emitter.
func (a *App) newGuard(id spatial.ID) mixer.Guard {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         fmt.Sprintf("emitter-%d", id),
		MaxFailures:  a.cfg.Spatial.Breaker.MaxFailures,
		ResetTimeout: a.cfg.Spatial.Breaker.ResetTimeout,
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the scheduler until ctx is cancelled. It returns nil on a clean
// cancellation.
func (a *App) Run(ctx context.Context) error {
	slog.Info("scheduler running",
		"tick_interval", a.cfg.Engine.TickInterval,
		"frames_to_buffer", a.cfg.Engine.FramesToBuffer,
		"workers", a.cfg.Engine.Workers,
	)
	return a.sys.Run(ctx, a.cfg.Engine.TickInterval)
}

// Render produces at least d of mixed audio as fast as the sink accepts it
// and returns the number of blocks enqueued. With an unpaced sink this
// renders offline.
func (a *App) Render(ctx context.Context, d time.Duration) (int, error) {
	engine := audio.Format{SampleRate: a.cfg.Engine.SampleRate, Channels: 1}
	block := engine.FrameDuration(a.cfg.Engine.BlockSize)
	if block <= 0 {
		return 0, fmt.Errorf("app: render: invalid block duration %s", block)
	}

	blocks := 0
	for rendered := time.Duration(0); rendered < d; {
		r, err := a.sys.Update(ctx)
		if err != nil {
			return blocks, err
		}
		if r.Result == mixer.TickProduced {
			blocks++
			rendered += block
			continue
		}
		// Sink is at its low-water mark; wait for it to drain.
		select {
		case <-ctx.Done():
			return blocks, ctx.Err()
		case <-time.After(a.cfg.Engine.TickInterval):
		}
	}
	return blocks, nil
}

// report receives every scheduler tick.
func (a *App) report(ctx context.Context, r mixer.TickReport) {
	now := time.Now()
	a.lastTick.Store(now.UnixNano())
	a.metrics.RecordTick(ctx, r)
	a.recordUnderruns(ctx)

	// Skipped ticks are the idle case and only add noise to traces.
	if r.Result == mixer.TickSkipped {
		return
	}
	_, span := observe.StartSpan(ctx, "mixer.tick", trace.WithTimestamp(now.Add(-r.Duration)))
	observe.EndTickSpan(span, r, trace.WithTimestamp(now))
}

// recordUnderruns forwards new device underruns to the metrics.
func (a *App) recordUnderruns(ctx context.Context) {
	u, ok := a.out.(interface{ Underruns() int64 })
	if !ok {
		return
	}
	total := u.Underruns()
	prev := a.underruns.Swap(total)
	a.metrics.RecordUnderruns(ctx, a.sinkName, total-prev)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// System returns the audio system.
func (a *App) System() *mixer.System { return a.sys }

// Scene returns the named scene objects.
func (a *App) Scene() *Scene { return a.scene }

// Library returns the decoded sounds.
func (a *App) Library() *library.Library { return a.lib }

// SinkName returns the name of the open output backend, or "" after
// Shutdown.
func (a *App) SinkName() string {
	if a.shut.Load() {
		return ""
	}
	return a.sinkName
}

// LastTick returns the time of the most recent scheduler tick, or the zero
// time before the first one.
func (a *App) LastTick() time.Time {
	n := a.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// AssetCount returns the number of configured assets.
func (a *App) AssetCount() int { return len(a.cfg.Assets.Sounds) }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level and the scene. Changes to other sections are logged and
// ignored until restart.
func (a *App) ApplyConfig(ctx context.Context, old, new *config.Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	d := config.Diff(old, new)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
	if d.Empty() {
		a.metrics.RecordConfigReload(ctx, "unchanged")
		return nil
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if err := a.scene.Apply(d, new.Scene); err != nil {
		a.metrics.RecordConfigReload(ctx, "error")
		return fmt.Errorf("app: apply scene: %w", err)
	}
	a.metrics.RecordConfigReload(ctx, "applied")
	slog.Info("config applied",
		"emitter_changes", len(d.EmitterChanges),
		"listener_changes", len(d.ListenerChanges),
	)
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the audio system, which closes every emitter, the
// processor and the sink. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.shut.Store(true)
		slog.Info("shutting down")
		done := make(chan error, 1)
		go func() { done <- a.sys.Close() }()

		select {
		case err := <-done:
			shutdownErr = err
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded")
			shutdownErr = ctx.Err()
			return
		}

		stats := a.sys.Stats()
		slog.Info("shutdown complete",
			"ticks", stats.Ticks,
			"produced", stats.Produced,
			"frames_dropped", stats.FramesDropped,
		)
	})
	return shutdownErr
}
