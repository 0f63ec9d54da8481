package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every intervue span.
const tracerName = "github.com/MrWong99/intervue"

// SessionHeader carries the interview session id on HTTP requests and
// responses.
const SessionHeader = "X-Session-ID"

// Span attribute keys shared by the HTTP, analysis and relay spans.
const (
	AttrSessionID = attribute.Key("intervue.session.id")
	AttrContract  = attribute.Key("intervue.contract")
	AttrProvider  = attribute.Key("intervue.provider")
	AttrConnID    = attribute.Key("intervue.relay.conn_id")
	AttrFallback  = attribute.Key("intervue.analysis.fallback")
)

// Span names.
const (
	SpanAnalyze         = "analysis.Analyze"
	SpanRelayConnection = "relay.Connection"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	connKey
)

// Tracer returns the intervue tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartAnalysisSpan opens the span around one analysis in session sessionID.
// The returned context carries the session id for [Logger].
func StartAnalysisSpan(ctx context.Context, sessionID, contract, provider string) (context.Context, trace.Span) {
	ctx = WithSessionID(ctx, sessionID)
	return Tracer().Start(ctx, SpanAnalyze, trace.WithAttributes(
		AttrSessionID.String(sessionID),
		AttrContract.String(contract),
		AttrProvider.String(provider),
	))
}

// StartRelaySpan opens the span covering one transcript connection. It lives
// until the connection closes; each fragment is added as an event. The
// returned context carries both ids for [Logger].
func StartRelaySpan(ctx context.Context, connID, sessionID string) (context.Context, trace.Span) {
	ctx = WithSessionID(ctx, sessionID)
	ctx = context.WithValue(ctx, connKey, connID)
	return Tracer().Start(ctx, SpanRelayConnection,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrConnID.String(connID),
			AttrSessionID.String(sessionID),
		),
	)
}

// WithSessionID tags ctx with an interview session id. An empty id leaves ctx
// unchanged.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, id)
}

// SessionID returns the session id stored by [WithSessionID], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id, span_id, session_id and
// conn_id attached for whichever of them ctx carries.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	if id, _ := ctx.Value(connKey).(string); id != "" {
		attrs = append(attrs, slog.String("conn_id", id))
	}

	l := slog.Default()
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
