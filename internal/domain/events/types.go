package events

// EventType names a domain event.
type EventType string

// Event types emitted by the term-closure workflow.
const (
	EventTypeBatchStarted     EventType = "BatchStarted"
	EventTypeBatchCompleted   EventType = "BatchCompleted"
	EventTypeBatchCancelled   EventType = "BatchCancelled"
	EventTypeBatchStalled     EventType = "BatchStalled"
	EventTypeBatchDistributed EventType = "BatchDistributed"
	EventTypeTermClosing      EventType = "TermClosing"
	EventTypeTermClosed       EventType = "TermClosed"
)

func (t EventType) String() string { return string(t) }

// PublishOption configures a single publish call.
type PublishOption func(*PublishParams)

// PublishParams holds the resolved publish options.
type PublishParams struct {
	// Key overrides the event key used for partitioning.
	Key string
	// Headers are attached to the outgoing message.
	Headers map[string]string
}

// WithKey sets the partition key.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders attaches metadata headers.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}

// ResolvePublishOptions applies opts over the event's own key and headers.
func ResolvePublishOptions(evt DomainEvent, opts ...PublishOption) PublishParams {
	p := PublishParams{Key: evt.Key, Headers: evt.Headers}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
