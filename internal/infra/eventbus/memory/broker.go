// Package memory provides an in-process event bus. It is non-durable and
// delivers synchronously, which suits single-node deployments and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/term-closure/internal/domain/events"
)

// Handler processes a delivered domain event.
type Handler func(ctx context.Context, evt events.DomainEvent) error

type subscription struct {
	id      uint64
	types   map[events.EventType]struct{}
	handler Handler
}

func (s subscription) matches(t events.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

var _ events.DomainEventPublisher = (*Broker)(nil)

// Broker fans published domain events out to subscribers. Handlers run on the
// publisher's goroutine; the first handler error is returned to the publisher.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBroker creates a Broker with no subscribers.
func NewBroker() *Broker { return &Broker{} }

// Subscribe registers handler for the given event types, or for every event
// when types is empty. The subscription ends when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, types []events.EventType, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	set := make(map[events.EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: set, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}()

	return nil
}

func (b *Broker) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.ResolvePublishOptions(evt, opts...)
	evt.Key = params.Key
	evt.Headers = params.Headers

	// Copy so handlers run without the lock held.
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(evt.Type) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.handler(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
