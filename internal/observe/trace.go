package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Arbiter tracer.
const tracerName = "github.com/MrWong99/arbiter"

// Span attribute keys for campaign work.
const (
	AttrCampaignID = "campaign.id"
	AttrActorID    = "actor.id"
	AttrAttempt    = "turn.attempt"
)

// Tracer returns the package-level [trace.Tracer] for Arbiter. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Scope names the campaign and actor a unit of work runs for.
type Scope struct {
	CampaignID string
	ActorID    string
}

type scopeKey struct{}

// WithScope returns a copy of ctx carrying s. Empty fields of s keep the
// values of any scope already in ctx, so a turn can narrow a campaign scope
// to one actor.
func WithScope(ctx context.Context, s Scope) context.Context {
	prev := ScopeFrom(ctx)
	if s.CampaignID == "" {
		s.CampaignID = prev.CampaignID
	}
	if s.ActorID == "" {
		s.ActorID = prev.ActorID
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope stored in ctx by [WithScope], or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

func (s Scope) attributes() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if s.CampaignID != "" {
		kv = append(kv, attribute.String(AttrCampaignID, s.CampaignID))
	}
	if s.ActorID != "" {
		kv = append(kv, attribute.String(AttrActorID, s.ActorID))
	}
	return kv
}

// StartSpan starts a new span and returns the updated context and span. The
// span carries the campaign and actor of the scope in ctx; attributes passed
// in opts take precedence. The caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if kv := ScopeFrom(ctx).attributes(); len(kv) > 0 {
		opts = append([]trace.SpanStartOption{trace.WithAttributes(kv...)}, opts...)
	}
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

// Logger returns the default [slog.Logger] enriched with whatever ctx knows:
// trace_id and span_id of the active span, the request_id set by
// [Middleware], and campaign_id and actor_id from [WithScope].
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if rid := RequestID(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	s := ScopeFrom(ctx)
	if s.CampaignID != "" {
		attrs = append(attrs, slog.String("campaign_id", s.CampaignID))
	}
	if s.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", s.ActorID))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
