package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/term-closure/internal/domain/events"
)

func TestBroker_FiltersByType(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	var closed, all []events.EventType
	require.NoError(t, b.Subscribe(ctx, []events.EventType{events.EventTypeTermClosed}, func(_ context.Context, e events.DomainEvent) error {
		closed = append(closed, e.Type)
		return nil
	}))
	require.NoError(t, b.Subscribe(ctx, nil, func(_ context.Context, e events.DomainEvent) error {
		all = append(all, e.Type)
		return nil
	}))

	now := time.Now()
	require.NoError(t, b.PublishDomainEvent(ctx, events.NewDomainEvent(events.EventTypeBatchStarted, "b1", nil, now)))
	require.NoError(t, b.PublishDomainEvent(ctx, events.NewDomainEvent(events.EventTypeTermClosed, "t1", nil, now)))

	assert.Equal(t, []events.EventType{events.EventTypeTermClosed}, closed)
	assert.Equal(t, []events.EventType{events.EventTypeBatchStarted, events.EventTypeTermClosed}, all)
}

func TestBroker_KeyOptionAndHandlerError(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	var gotKey string
	boom := errors.New("boom")
	require.NoError(t, b.Subscribe(ctx, nil, func(_ context.Context, e events.DomainEvent) error {
		gotKey = e.Key
		return boom
	}))

	err := b.PublishDomainEvent(ctx, events.NewDomainEvent(events.EventTypeBatchCompleted, "batch", nil, time.Now()),
		events.WithKey("term"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "term", gotKey)
}

func TestBroker_UnsubscribesOnContextDone(t *testing.T) {
	b := NewBroker()
	subCtx, cancel := context.WithCancel(context.Background())

	calls := 0
	require.NoError(t, b.Subscribe(subCtx, nil, func(context.Context, events.DomainEvent) error {
		calls++
		return nil
	}))
	cancel()

	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subs) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.PublishDomainEvent(context.Background(), events.NewDomainEvent(events.EventTypeBatchStarted, "b", nil, time.Now())))
	assert.Zero(t, calls)

	assert.Error(t, b.Subscribe(subCtx, nil, func(context.Context, events.DomainEvent) error { return nil }))
	assert.Error(t, b.Subscribe(context.Background(), nil, nil))
}
