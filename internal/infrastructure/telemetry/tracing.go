package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName scopes the fulfillment spans
const TracerName = "vipm-backend"

// Span attribute keys
const (
	SpanAttrOrderID      = "order_id"
	SpanAttrOrderType    = "order_type"
	SpanAttrOutcome      = "outcome"
	SpanAttrProductID    = "product_id"
	SpanAttrMembershipID = "membership_id"
	SpanAttrJobID        = "job_id"
	SpanAttrAttempt      = "attempt"
)

// SpanOption adjusts a span before it starts
type SpanOption func(*spanStart)

type spanStart struct {
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

// WithAttribute sets one attribute on the new span
func WithAttribute(key string, value any) SpanOption {
	return func(s *spanStart) {
		s.attrs = append(s.attrs, kv(key, value))
	}
}

// WithSpanKind overrides the default internal span kind
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(s *spanStart) {
		s.kind = kind
	}
}

// StartSpan opens a span on the global provider. The caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "fulfillment.job")
//	defer span.End()
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, trace.Span) {
	start := spanStart{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&start)
	}
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(start.kind),
		trace.WithAttributes(start.attrs...),
	)
}

// SetAttributes sets alternating key/value pairs on span. Pairs whose key
// is not a string are ignored, as is a trailing key without value.
func SetAttributes(span trace.Span, pairs ...any) {
	if span != nil {
		span.SetAttributes(kvs(pairs)...)
	}
}

// AddEvent records a named event carrying alternating key/value pairs
func AddEvent(span trace.Span, name string, pairs ...any) {
	if span != nil {
		span.AddEvent(name, trace.WithAttributes(kvs(pairs)...))
	}
}

// RecordError attaches err to span and marks the span failed. A nil err
// leaves the span untouched.
func RecordError(span trace.Span, err error, opts ...trace.EventOption) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the hex trace id of the span in ctx, or "" when ctx
// carries no valid span
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func kvs(pairs []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(pairs)/2)
	for i := 1; i < len(pairs); i += 2 {
		if key, ok := pairs[i-1].(string); ok {
			out = append(out, kv(key, pairs[i]))
		}
	}
	return out
}

func kv(key string, value any) attribute.KeyValue {
	k := attribute.Key(key)
	switch v := value.(type) {
	case string:
		return k.String(v)
	case bool:
		return k.Bool(v)
	case int:
		return k.Int(v)
	case int64:
		return k.Int64(v)
	case float64:
		return k.Float64(v)
	case []string:
		return k.StringSlice(v)
	case fmt.Stringer:
		return k.String(v.String())
	default:
		return k.String(fmt.Sprint(v))
	}
}
