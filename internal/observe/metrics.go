// Package observe provides application-wide observability primitives for
// resound: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/resound/pkg/audio/mixer"
)

// meterName is the instrumentation scope name used for all resound metrics.
const meterName = "github.com/MrWong99/resound"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks the wall time of one scheduler tick. Use with
	// attribute.String("result", ...).
	TickDuration metric.Float64Histogram

	// SpatializeDuration tracks the listener fan-out of produced ticks.
	SpatializeDuration metric.Float64Histogram

	// --- Counters ---

	// Ticks counts scheduler ticks by result (produced, skipped, failed).
	Ticks metric.Int64Counter

	// Frames counts spatialized frames. Use with attribute:
	//   attribute.String("outcome", "mixed" | "dropped" | "rejected")
	Frames metric.Int64Counter

	// SinkUnderruns counts blocks the output device had to fill with
	// silence. Use with attribute.String("sink", ...).
	SinkUnderruns metric.Int64Counter

	// SinkFailovers counts switches to a fallback output backend.
	SinkFailovers metric.Int64Counter

	// ConfigReloads counts applied config changes by status.
	ConfigReloads metric.Int64Counter

	// --- Gauges ---

	// SinkPending is the output backlog in blocks seen by the last tick.
	SinkPending metric.Int64Gauge

	// ActiveEmitters is the number of registered emitters.
	ActiveEmitters metric.Int64Gauge

	// ActiveListeners is the number of registered listeners.
	ActiveListeners metric.Int64Gauge

	// LibrarySounds is the number of decoded sounds held in memory.
	LibrarySounds metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets defines histogram bucket boundaries (in seconds) sized for
// block processing, which must finish well within one block period.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("resound.tick.duration",
		metric.WithDescription("Wall time of one scheduler tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpatializeDuration, err = m.Float64Histogram("resound.spatialize.duration",
		metric.WithDescription("Time spent convolving emitter frames for all listeners."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Ticks, err = m.Int64Counter("resound.ticks",
		metric.WithDescription("Total scheduler ticks by result."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("resound.frames",
		metric.WithDescription("Total spatialized frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SinkUnderruns, err = m.Int64Counter("resound.sink.underruns",
		metric.WithDescription("Blocks the output device filled with silence."),
	); err != nil {
		return nil, err
	}
	if met.SinkFailovers, err = m.Int64Counter("resound.sink.failovers",
		metric.WithDescription("Switches to a fallback output backend."),
	); err != nil {
		return nil, err
	}
	if met.ConfigReloads, err = m.Int64Counter("resound.config.reloads",
		metric.WithDescription("Config reloads by status."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.SinkPending, err = m.Int64Gauge("resound.sink.pending",
		metric.WithDescription("Output backlog in blocks."),
	); err != nil {
		return nil, err
	}
	if met.ActiveEmitters, err = m.Int64Gauge("resound.active_emitters",
		metric.WithDescription("Number of registered emitters."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64Gauge("resound.active_listeners",
		metric.WithDescription("Number of registered listeners."),
	); err != nil {
		return nil, err
	}
	if met.LibrarySounds, err = m.Int64Gauge("resound.library.sounds",
		metric.WithDescription("Number of decoded sounds in the library."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("resound.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTick records one scheduler tick. It has the signature of a
// [mixer.WithReporter] callback.
func (m *Metrics) RecordTick(ctx context.Context, r mixer.TickReport) {
	result := metric.WithAttributes(attribute.String("result", r.Result.String()))
	m.Ticks.Add(ctx, 1, result)
	m.TickDuration.Record(ctx, r.Duration.Seconds(), result)
	m.SinkPending.Record(ctx, int64(r.Pending))
	m.ActiveEmitters.Record(ctx, int64(r.Emitters))
	m.ActiveListeners.Record(ctx, int64(r.Listeners))

	if r.Result != mixer.TickProduced {
		return
	}
	m.SpatializeDuration.Record(ctx, r.SpatializeDuration.Seconds())
	m.addFrames(ctx, "mixed", r.FramesMixed)
	m.addFrames(ctx, "dropped", r.FramesDropped)
	m.addFrames(ctx, "rejected", r.FramesRejected)
}

func (m *Metrics) addFrames(ctx context.Context, outcome string, n int) {
	if n == 0 {
		return
	}
	m.Frames.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordUnderruns adds n silent device blocks for the named sink.
func (m *Metrics) RecordUnderruns(ctx context.Context, sink string, n int64) {
	if n <= 0 {
		return
	}
	m.SinkUnderruns.Add(ctx, n, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordSinkFailover records a switch from one output backend to another.
func (m *Metrics) RecordSinkFailover(ctx context.Context, from, to string) {
	m.SinkFailovers.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordConfigReload records a config reload with status "applied",
// "unchanged" or "error".
func (m *Metrics) RecordConfigReload(ctx context.Context, status string) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
