package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/echovox"

// Tracer returns the echovox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// MessageAttrs returns the span attributes identifying a chat message.
func MessageAttrs(guildID, channelID, messageID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("discord.guild_id", guildID),
		attribute.String("discord.channel_id", channelID),
		attribute.String("discord.message_id", messageID),
	}
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type logAttrsKey struct{}

// WithLogAttrs returns a context whose [Logger] carries args in addition to
// any attributes already attached to ctx.
func WithLogAttrs(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(logAttrsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, logAttrsKey{}, merged)
}

// Logger returns the default logger enriched with trace_id and span_id of the
// active span and with attributes attached via [WithLogAttrs].
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if args, ok := ctx.Value(logAttrsKey{}).([]any); ok && len(args) > 0 {
		l = l.With(args...)
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
