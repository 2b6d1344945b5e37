package reliability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/term-closure/internal/domain/events"
)

func TestIsCriticalEvent(t *testing.T) {
	tests := []struct {
		name      string
		eventType events.EventType
		want      bool
	}{
		{name: "BatchCompleted is critical", eventType: events.EventTypeBatchCompleted, want: true},
		{name: "BatchCancelled is critical", eventType: events.EventTypeBatchCancelled, want: true},
		{name: "BatchDistributed is critical", eventType: events.EventTypeBatchDistributed, want: true},
		{name: "TermClosing is critical", eventType: events.EventTypeTermClosing, want: true},
		{name: "TermClosed is critical", eventType: events.EventTypeTermClosed, want: true},

		{name: "BatchStarted is not critical", eventType: events.EventTypeBatchStarted, want: false},
		{name: "BatchStalled is not critical", eventType: events.EventTypeBatchStalled, want: false},
		{name: "unknown event is not critical", eventType: events.EventType("Unknown"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCriticalEvent(tt.eventType))
		})
	}
}
