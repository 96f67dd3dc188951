package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/resound/pkg/audio/mixer"
)

// useTestTracer installs an in-memory tracer provider as the global one.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	useTestTracer(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "library.load")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 lowercase hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("correlation ID %s repeated", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(context.Background(), "library.load")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "library.load" {
		t.Fatalf("spans = %v, want one library.load span", spans)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	tests := []struct {
		name      string
		withSpan  bool
		wantTrace bool
	}{
		{name: "inside span", withSpan: true, wantTrace: true},
		{name: "no span", withSpan: false, wantTrace: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tt.withSpan {
				var span trace.Span
				ctx, span = StartSpan(ctx, "library.load")
				defer span.End()
			}

			Logger(ctx).Info("assets loaded", "count", 3)

			out := buf.String()
			if got := strings.Contains(out, "trace_id="); got != tt.wantTrace {
				t.Errorf("trace_id present = %v, want %v: %s", got, tt.wantTrace, out)
			}
			if got := strings.Contains(out, "span_id="); got != tt.wantTrace {
				t.Errorf("span_id present = %v, want %v: %s", got, tt.wantTrace, out)
			}
		})
	}
}

func TestEndTickSpan(t *testing.T) {
	exp := useTestTracer(t)
	start := time.Unix(1000, 0)
	end := start.Add(3 * time.Millisecond)

	_, ok := StartSpan(context.Background(), "mixer.tick", trace.WithTimestamp(start))
	EndTickSpan(ok, mixer.TickReport{Result: mixer.TickProduced, Emitters: 2, Listeners: 1, FramesMixed: 2}, trace.WithTimestamp(end))

	_, bad := StartSpan(context.Background(), "mixer.tick")
	EndTickSpan(bad, mixer.TickReport{Result: mixer.TickFailed, Err: errors.New("sink closed")})

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}

	produced := spans[0]
	attrs := map[string]string{}
	for _, kv := range produced.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["tick.result"] != "produced" || attrs["tick.frames_mixed"] != "2" || attrs["tick.listeners"] != "1" {
		t.Errorf("attributes = %v", attrs)
	}
	if produced.Status.Code != codes.Unset {
		t.Errorf("produced tick status = %v, want unset", produced.Status.Code)
	}
	if !produced.StartTime.Equal(start) || !produced.EndTime.Equal(end) {
		t.Errorf("span window = [%v, %v], want [%v, %v]", produced.StartTime, produced.EndTime, start, end)
	}

	failed := spans[1]
	if failed.Status.Code != codes.Error || failed.Status.Description != "sink closed" {
		t.Errorf("failed tick status = %+v", failed.Status)
	}
	if len(failed.Events) == 0 {
		t.Error("failed tick did not record the error event")
	}
}
