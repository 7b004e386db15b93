package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/consultvox"

type ctxKey int

const (
	turnKey ctxKey = iota
	consultationKey
)

// Tracer returns the consultvox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithTurn tags ctx with a voice turn ID for [Logger].
func WithTurn(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnKey, turnID)
}

// WithConsultation tags ctx with a consultation ID for [Logger].
func WithConsultation(ctx context.Context, consultationID string) context.Context {
	return context.WithValue(ctx, consultationKey, consultationID)
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger annotated with whatever ctx carries:
// trace and span IDs, the consultation ID and the voice turn ID.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := ctx.Value(consultationKey).(string); ok && id != "" {
		attrs = append(attrs, slog.String("consultation_id", id))
	}
	if id, ok := ctx.Value(turnKey).(string); ok && id != "" {
		attrs = append(attrs, slog.String("turn_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
