package events

import "time"

// DomainEvent is a fact about a term or report batch that other parts of the
// system may react to, for example a notifier or an audit log consumer.
type DomainEvent struct {
	// Type identifies the fact that occurred.
	Type EventType

	// Key groups related events. Publishers use the batch or term id so
	// events for one aggregate stay ordered on a partitioned transport.
	Key string

	// Headers carry optional metadata.
	Headers map[string]string

	// Timestamp is when the fact occurred.
	Timestamp time.Time

	// Payload is the event body. Its concrete type depends on Type.
	Payload any
}

// NewDomainEvent stamps a new event with the given key.
func NewDomainEvent(typ EventType, key string, payload any, at time.Time) DomainEvent {
	return DomainEvent{Type: typ, Key: key, Timestamp: at, Payload: payload}
}
