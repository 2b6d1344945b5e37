// Package events defines the domain events emitted while closing a term and
// the publisher boundary used to emit them.
package events

import "context"

// DomainEventPublisher emits domain events without exposing the transport.
// Publishing is best effort from the caller's point of view: state changes
// are committed to storage before the corresponding event is published.
type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}
