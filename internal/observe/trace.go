package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/resound/pkg/audio/mixer"
)

// tracerName is the instrumentation scope name for the resound tracer.
const tracerName = "github.com/MrWong99/resound"

// Tracer returns the package-level [trace.Tracer] for resound. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// TickAttributes describes a scheduler tick as span attributes.
func TickAttributes(r mixer.TickReport) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tick.result", r.Result.String()),
		attribute.Int("tick.emitters", r.Emitters),
		attribute.Int("tick.listeners", r.Listeners),
		attribute.Int("tick.frames_mixed", r.FramesMixed),
		attribute.Int("tick.frames_dropped", r.FramesDropped),
		attribute.Int("tick.frames_rejected", r.FramesRejected),
		attribute.Int("tick.pending", r.Pending),
	}
}

// EndTickSpan annotates span with r and ends it. Failed ticks mark the span
// as an error.
func EndTickSpan(span trace.Span, r mixer.TickReport, opts ...trace.SpanEndOption) {
	span.SetAttributes(TickAttributes(r)...)
	if r.Err != nil {
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, r.Err.Error())
	}
	span.End(opts...)
}
