// Package notify implements the notification channels artifacts are
// delivered over.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

// MessageSender writes one message to a topic. The Kafka publisher satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// message is the wire form of a delivery request consumed by the mailer and
// the portal.
type message struct {
	TaskID       string `json:"task_id"`
	Channel      string `json:"channel"`
	Recipient    string `json:"recipient"`
	Subject      string `json:"subject"`
	ArtifactPath string `json:"artifact_path"`
	DownloadURL  string `json:"download_url"`
}

var _ domain.NotificationChannel = (*KafkaChannel)(nil)

// KafkaChannel hands notifications for one channel to downstream delivery
// services through a topic. A successful Send means the broker accepted the
// request, not that the recipient received it.
type KafkaChannel struct {
	channel domain.Channel
	topic   string
	sender  MessageSender

	logger *logger.Logger
	tracer trace.Tracer
}

// NewKafkaChannel creates a channel that publishes to topic.
func NewKafkaChannel(
	channel domain.Channel,
	topic string,
	sender MessageSender,
	logger *logger.Logger,
	tracer trace.Tracer,
) *KafkaChannel {
	return &KafkaChannel{
		channel: channel,
		topic:   topic,
		sender:  sender,
		logger:  logger.With("component", "kafka_channel", "channel", channel),
		tracer:  tracer,
	}
}

func (k *KafkaChannel) Channel() domain.Channel { return k.channel }

func (k *KafkaChannel) Send(ctx context.Context, n domain.Notification) error {
	ctx, span := k.tracer.Start(ctx, "kafka_channel.send",
		trace.WithAttributes(
			attribute.String("channel", k.channel.String()),
			attribute.String("task_id", n.TaskID.String()),
		))
	defer span.End()

	if n.Channel != k.channel {
		err := fmt.Errorf("notification for channel %s sent to %s channel", n.Channel, k.channel)
		span.RecordError(err)
		span.SetStatus(codes.Error, "channel mismatch")
		return err
	}

	value, err := json.Marshal(message{
		TaskID:       n.TaskID.String(),
		Channel:      n.Channel.String(),
		Recipient:    n.Recipient,
		Subject:      n.Subject,
		ArtifactPath: n.ArtifactPath,
		DownloadURL:  n.DownloadURL,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode notification")
		return fmt.Errorf("failed to encode notification (task_id: %s): %w", n.TaskID, err)
	}

	// Keyed by recipient so one person's notifications stay ordered.
	headers := map[string]string{"channel": k.channel.String()}
	if err := k.sender.SendMessage(ctx, k.topic, n.Recipient, value, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish notification")
		return fmt.Errorf("failed to publish notification (task_id: %s): %w", n.TaskID, err)
	}

	k.logger.Debug(ctx, "Notification queued", "task_id", n.TaskID, "recipient", n.Recipient)
	return nil
}
