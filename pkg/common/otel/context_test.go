package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestSpanRefFromContext(t *testing.T) {
	_, ok := SpanRefFromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, zeroTraceID, GetTraceID(context.Background()))
	assert.Nil(t, SpanLogFields(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b},
		SpanID:     trace.SpanID{0x01},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	ref, ok := SpanRefFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, sc.TraceID().String(), ref.TraceID)
	assert.Equal(t, "0100000000000000", ref.SpanID)
	assert.True(t, ref.Sampled)
	assert.Equal(t, ref.TraceID, GetTraceID(ctx))
	assert.Equal(t, []any{"span_id", "0100000000000000", "trace_sampled", true}, SpanLogFields(ctx))
}
