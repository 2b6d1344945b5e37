// Package reliability classifies domain events by how much their loss would
// hurt. Critical events are retried by transports before an error is
// surfaced; the rest are published once.
package reliability

import "github.com/ahrav/term-closure/internal/domain/events"

// IsCriticalEvent reports whether eventType marks a terminal or closure
// transition. Such events are never re-sent by a later message, so a dropped
// one leaves downstream consumers with a stale view of the batch or term.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case events.EventTypeBatchCompleted,
		events.EventTypeBatchCancelled,
		events.EventTypeBatchDistributed:
		return true

	case events.EventTypeTermClosing, events.EventTypeTermClosed:
		return true

	// A stalled batch is re-reported on every detector tick.
	case events.EventTypeBatchStalled:
		return false

	case events.EventTypeBatchStarted:
		return false

	default:
		return false
	}
}
