package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

const zeroTraceID = "00000000000000000000000000000000"

// SpanRef identifies the span carried by a context.
type SpanRef struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// SpanRefFromContext returns the ids of the span in ctx. ok is false when ctx
// carries no valid span context.
func SpanRefFromContext(ctx context.Context) (ref SpanRef, ok bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return SpanRef{}, false
	}
	return SpanRef{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}, true
}

// GetTraceID returns the trace id of the span in ctx, or an all-zero id so log
// lines always carry a fixed-width field.
func GetTraceID(ctx context.Context) string {
	if ref, ok := SpanRefFromContext(ctx); ok {
		return ref.TraceID
	}
	return zeroTraceID
}

// SpanLogFields returns span_id and trace_sampled key/value pairs for a log
// call, or nil when ctx carries no span. trace_id is added by the logger.
func SpanLogFields(ctx context.Context) []any {
	ref, ok := SpanRefFromContext(ctx)
	if !ok {
		return nil
	}
	return []any{"span_id", ref.SpanID, "trace_sampled", ref.Sampled}
}
