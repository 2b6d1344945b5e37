package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/domain/events"
	"github.com/ahrav/term-closure/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/term-closure/internal/infra/eventbus/reliability"
	"github.com/ahrav/term-closure/internal/infra/eventbus/serialization"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

var _ events.DomainEventPublisher = (*Publisher)(nil)

// Publisher writes domain events and notification requests to Kafka through a
// synchronous producer, so a nil error means the broker acknowledged the write.
type Publisher struct {
	producer           sarama.SyncProducer
	eventsTopic        string
	notificationsTopic string

	// criticalRetries bounds resends of events that reliability marks as
	// critical.
	criticalRetries uint64
	retryInterval   time.Duration

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics BrokerMetrics
}

// NewPublisher wraps an existing producer. Tests pass a mock producer here.
func NewPublisher(
	producer sarama.SyncProducer,
	cfg *Config,
	logger *logger.Logger,
	metrics BrokerMetrics,
	tracer trace.Tracer,
) *Publisher {
	return &Publisher{
		producer:           producer,
		eventsTopic:        cfg.EventsTopic,
		notificationsTopic: cfg.NotificationsTopic,
		criticalRetries:    3,
		retryInterval:      200 * time.Millisecond,
		logger:             logger.With("component", "kafka_publisher"),
		tracer:             tracer,
		metrics:            metrics,
	}
}

// NewPublisherFromConfig dials the brokers in cfg and returns a Publisher.
func NewPublisherFromConfig(
	cfg *Config,
	logger *logger.Logger,
	metrics BrokerMetrics,
	tracer trace.Tracer,
) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1
	producerConfig.Version = sarama.V2_8_0_0
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewPublisher(producer, cfg, logger, metrics, tracer), nil
}

// NotificationsTopic is the topic SendMessage callers route notifications to.
func (p *Publisher) NotificationsTopic() string { return p.notificationsTopic }

// PublishDomainEvent encodes evt into the event envelope and writes it to the
// events topic, keyed so that events for one batch or term stay ordered.
func (p *Publisher) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	params := events.ResolvePublishOptions(evt, opts...)
	evt.Key = params.Key
	evt.Headers = params.Headers

	value, err := serialization.EncodeEvent(evt)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncPublishError(ctx, p.eventsTopic)
		}
		return fmt.Errorf("failed to serialize event %s: %w", evt.Type, err)
	}

	headers := map[string]string{"event_type": string(evt.Type)}
	for k, v := range evt.Headers {
		headers[k] = v
	}

	if !reliability.IsCriticalEvent(evt.Type) {
		return p.SendMessage(ctx, p.eventsTopic, evt.Key, value, headers)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := p.SendMessage(ctx, p.eventsTopic, evt.Key, value, headers)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn(ctx, "critical event publish failed",
				"event_type", evt.Type,
				"key", evt.Key,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.criticalRetries), ctx))
}

// SendMessage writes a raw message to topic.
func (p *Publisher) SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	ctx, span := tracing.StartProducerSpan(ctx, topic, p.tracer)
	defer span.End()

	if topic == "" {
		err := errors.New("no kafka topic configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
		span.SetAttributes(attribute.String("message.key", key))
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		if p.metrics != nil {
			p.metrics.IncPublishError(ctx, topic)
		}
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}

	if p.metrics != nil {
		p.metrics.IncMessagePublished(ctx, topic)
	}
	p.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", key,
	)
	return nil
}

// Close flushes and closes the underlying producer.
func (p *Publisher) Close() error { return p.producer.Close() }
