package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope under which all ghostWriter spans
// are produced.
const tracerName = "github.com/ReaperCord/ghostWriter"

// Tracer resolves the shared [trace.Tracer] through the global
// [trace.TracerProvider], so swapping the provider also redirects spans
// started here.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named name as a child of the span in ctx, if any.
// The caller owns the returned span and must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TagRun stamps the span in ctx with the capture run id so traces can be
// joined against exported files and log lines. Empty ids are ignored.
func TagRun(ctx context.Context, runID string) {
	if runID == "" {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("run_id", runID))
}

// CorrelationID reports the trace id of the span in ctx, or "" when no span
// context with a valid trace id is present.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger widened with trace_id and span_id taken
// from ctx. Without an active span it is just [slog.Default].
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
