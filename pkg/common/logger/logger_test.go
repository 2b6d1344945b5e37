package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithMetadata(&buf, LevelInfo, "svc", func(context.Context) string { return "trace-1" },
		Events{}, map[string]string{"hostname": "h1", "pod": ""})

	log.With("component", "scheduler").Info(context.Background(), "batch started", "batch_id", "b1")
	log.Debug(context.Background(), "dropped")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "batch started", rec["msg"])
	assert.Equal(t, "svc", rec["service"])
	assert.Equal(t, "h1", rec["hostname"])
	assert.Equal(t, "scheduler", rec["component"])
	assert.Equal(t, "b1", rec["batch_id"])
	assert.Equal(t, "trace-1", rec["trace_id"])
	assert.NotContains(t, rec, "pod")
}

func TestLoggerErrorEvent(t *testing.T) {
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}
	log := NewWithEvents(&bytes.Buffer{}, LevelDebug, "svc", nil, events)

	log.Error(context.Background(), "render failed", "item_id", "i1")

	assert.Equal(t, "render failed", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "i1", got.Attributes["item_id"])
}

func TestLoggerContextAccumulates(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelDebug, "svc", nil))
	lc.Add("term_id", "t1")
	lc.Info(context.Background(), "closing")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "t1", rec["term_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
