package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/term-closure/internal/domain/events"
	"github.com/ahrav/term-closure/internal/infra/eventbus/serialization"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

type countingMetrics struct {
	mu        sync.Mutex
	published map[string]int
	errors    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{published: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) IncMessagePublished(_ context.Context, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic]++
}

func (m *countingMetrics) IncPublishError(_ context.Context, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[topic]++
}

func newTestPublisher(t *testing.T) (*Publisher, *mocks.SyncProducer, *countingMetrics) {
	t.Helper()
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	t.Cleanup(func() { _ = producer.Close() })

	metrics := newCountingMetrics()
	pub := NewPublisher(producer, &Config{
		EventsTopic:        "term-closure.events",
		NotificationsTopic: "term-closure.notifications",
	}, logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))
	return pub, producer, metrics
}

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublisher_PublishDomainEvent(t *testing.T) {
	pub, producer, metrics := newTestPublisher(t)

	evt := events.NewDomainEvent(events.EventTypeTermClosed, "term-1", map[string]any{"status": "CLOSED"}, time.Now())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "term-closure.events" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "override" {
			return errors.New("wrong key " + string(key))
		}
		if headerValue(msg, "event_type") != string(events.EventTypeTermClosed) {
			return errors.New("missing event_type header")
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		decoded, err := serialization.DecodeEvent(value)
		if err != nil {
			return err
		}
		if decoded.Type != events.EventTypeTermClosed {
			return errors.New("wrong event type in envelope")
		}
		return nil
	})

	require.NoError(t, pub.PublishDomainEvent(context.Background(), evt, events.WithKey("override")))
	assert.Equal(t, 1, metrics.published["term-closure.events"])
}

func TestPublisher_SendFailureIsCounted(t *testing.T) {
	pub, producer, metrics := newTestPublisher(t)

	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)

	err := pub.SendMessage(context.Background(), pub.NotificationsTopic(), "k", []byte("{}"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
	assert.Equal(t, 1, metrics.errors["term-closure.notifications"])
	assert.Zero(t, metrics.published["term-closure.notifications"])
}

func TestPublisher_RejectsUnconfiguredTopicAndBadEvent(t *testing.T) {
	pub, _, metrics := newTestPublisher(t)

	assert.Error(t, pub.SendMessage(context.Background(), "", "k", nil, nil))
	assert.Error(t, pub.PublishDomainEvent(context.Background(), events.DomainEvent{}))
	assert.Equal(t, 1, metrics.errors["term-closure.events"])
}

func TestNewPublisherFromConfig_NoBrokers(t *testing.T) {
	_, err := NewPublisherFromConfig(&Config{}, logger.Noop(), nil, noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}

func TestPublisher_RetriesCriticalEvents(t *testing.T) {
	pub, producer, metrics := newTestPublisher(t)
	pub.retryInterval = time.Millisecond

	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)
	producer.ExpectSendMessageAndSucceed()

	evt := events.NewDomainEvent(events.EventTypeBatchCompleted, "batch-1", map[string]any{"status": "COMPLETED"}, time.Now())
	require.NoError(t, pub.PublishDomainEvent(context.Background(), evt))
	assert.Equal(t, 1, metrics.errors["term-closure.events"])
	assert.Equal(t, 1, metrics.published["term-closure.events"])
}

func TestPublisher_NonCriticalEventsAreSentOnce(t *testing.T) {
	pub, producer, metrics := newTestPublisher(t)
	pub.retryInterval = time.Millisecond

	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)

	evt := events.NewDomainEvent(events.EventTypeBatchStarted, "batch-1", map[string]any{"total": 3}, time.Now())
	err := pub.PublishDomainEvent(context.Background(), evt)
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
	assert.Equal(t, 1, metrics.errors["term-closure.events"])
}
