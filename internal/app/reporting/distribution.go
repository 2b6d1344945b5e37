package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/domain/events"
	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/pkg/common"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

// errNoRecipient marks items whose audience has no address on file.
var errNoRecipient = errors.New("no recipient")

// DistributionConfig controls delivery pacing and addressing.
type DistributionConfig struct {
	// RatePerSecond caps notification sends on each channel.
	RatePerSecond float64
	// Burst is the number of sends allowed at once.
	Burst int
	// ManagementRecipient receives management summaries.
	ManagementRecipient string
	// DownloadBaseURL prefixes artifact download links.
	DownloadBaseURL string
}

// DistributionCoordinator delivers the artifacts of a finished batch. Each
// (item, channel) pair is a task that is sent at most once successfully;
// running it again only retries tasks that are not yet SENT.
type DistributionCoordinator struct {
	batches   domain.BatchStore
	tasks     domain.DistributionStore
	roster    roster.Reader
	channels  map[domain.Channel]domain.NotificationChannel
	pacer     *common.SendPacer
	publisher events.DomainEventPublisher
	metrics   Metrics

	cfg          DistributionConfig
	timeProvider timeProvider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDistributionCoordinator returns a coordinator sending over channels.
func NewDistributionCoordinator(
	batches domain.BatchStore,
	tasks domain.DistributionStore,
	rosterReader roster.Reader,
	channels []domain.NotificationChannel,
	publisher events.DomainEventPublisher,
	metrics Metrics,
	cfg DistributionConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
) *DistributionCoordinator {
	logger = logger.With("component", "distribution_coordinator")

	byChannel := make(map[domain.Channel]domain.NotificationChannel, len(channels))
	for _, c := range channels {
		byChannel[c.Channel()] = c
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &DistributionCoordinator{
		batches:      batches,
		tasks:        tasks,
		roster:       rosterReader,
		channels:     byChannel,
		pacer:        common.NewSendPacer(cfg.RatePerSecond, cfg.Burst),
		publisher:    publisher,
		metrics:      metrics,
		cfg:          cfg,
		timeProvider: realTimeProvider{},
		logger:       logger,
		tracer:       tracer,
	}
}

// Distribute sends every COMPLETED item of a terminal batch over its channels.
// Failed and skipped items are never distributed. Task failures are recorded
// per task and do not stop the others.
func (d *DistributionCoordinator) Distribute(ctx context.Context, batchID uuid.UUID) (*domain.DistributionSummary, error) {
	logger := d.logger.With("operation", "distribute", "batch_id", batchID)
	ctx, span := d.tracer.Start(ctx, "distribution_coordinator.distribute",
		trace.WithAttributes(attribute.String("batch_id", batchID.String())))
	defer span.End()

	batch, err := d.batches.GetBatch(ctx, batchID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get batch")
		return nil, fmt.Errorf("failed to get batch (batch_id: %s): %w", batchID, err)
	}
	if !batch.Status.IsTerminal() {
		err := shared.NewInvalidState("batch %s is %s; distribution requires a finished batch", batchID, batch.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch not terminal")
		return nil, err
	}

	items, err := d.batches.ListItems(ctx, batchID, domain.ItemStatusCompleted)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list completed items")
		return nil, fmt.Errorf("failed to list completed items (batch_id: %s): %w", batchID, err)
	}
	span.SetAttributes(attribute.Int("completed_items", len(items)))

	summary := &domain.DistributionSummary{BatchID: batchID}
	recipients := make(map[string]string)

	for _, item := range items {
		for _, ch := range domain.ChannelsFor(item.Type) {
			task, err := d.tasks.EnsureTask(ctx, domain.NewDistributionTask(item, ch, d.timeProvider.Now()))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to ensure distribution task")
				return summary, fmt.Errorf("failed to ensure task (item_id: %s, channel: %s): %w", item.ID, ch, err)
			}
			summary.Total++

			if task.Status == domain.DistributionStatusSent {
				summary.AlreadySent++
				continue
			}

			if err := d.deliver(ctx, item, task, recipients); err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				logger.Warn(ctx, "Distribution task failed",
					"item_id", item.ID, "channel", ch, "error", err)
			}

			if err := d.tasks.UpdateTask(ctx, task); err != nil {
				span.RecordError(err)
				return summary, fmt.Errorf("failed to update task (task_id: %s): %w", task.ID, err)
			}
			d.metrics.IncDistribution(ctx, ch, task.Status)

			switch task.Status {
			case domain.DistributionStatusSent:
				summary.Sent++
			case domain.DistributionStatusFailed:
				summary.Failed++
			}
		}
	}

	if err := d.batches.MarkDistributed(ctx, batchID, d.timeProvider.Now()); err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "Failed to mark batch distributed", "error", err)
	}

	if d.publisher != nil {
		evt := events.NewDomainEvent(events.EventTypeBatchDistributed, batchID.String(), domain.BatchDistributedEvent{
			BatchID:    batchID,
			Sent:       summary.Sent,
			Failed:     summary.Failed,
			OccurredAt: d.timeProvider.Now(),
		}, d.timeProvider.Now())
		if err := d.publisher.PublishDomainEvent(ctx, evt, events.WithKey(batch.TermID.String())); err != nil {
			logger.Warn(ctx, "Failed to publish distribution event", "error", err)
		}
	}

	span.SetAttributes(
		attribute.Int("sent", summary.Sent),
		attribute.Int("failed", summary.Failed),
		attribute.Int("already_sent", summary.AlreadySent),
	)
	span.SetStatus(codes.Ok, "batch distributed")
	logger.Info(ctx, "Batch distributed",
		"total", summary.Total, "sent", summary.Sent, "failed", summary.Failed, "already_sent", summary.AlreadySent)

	return summary, nil
}

// deliver attempts one task and records the outcome on it. The returned error
// explains a failure; the task itself carries the persisted status.
func (d *DistributionCoordinator) deliver(
	ctx context.Context,
	item *domain.ReportItem,
	task *domain.DistributionTask,
	recipients map[string]string,
) error {
	task.Attempts++
	task.UpdatedAt = d.timeProvider.Now()

	fail := func(err error) error {
		task.Status = domain.DistributionStatusFailed
		task.LastError = domain.TruncateDetail(err.Error())
		return err
	}

	channel, ok := d.channels[task.Channel]
	if !ok {
		return fail(fmt.Errorf("channel %s not configured", task.Channel))
	}

	recipient, err := d.resolveRecipient(ctx, item, recipients)
	if err != nil {
		return fail(err)
	}
	task.Recipient = recipient

	waited, err := d.pacer.Wait(ctx, string(task.Channel))
	if err != nil {
		return fail(err)
	}
	if waited > time.Millisecond {
		trace.SpanFromContext(ctx).AddEvent("send_paced", trace.WithAttributes(
			attribute.String("channel", string(task.Channel)),
			attribute.Int64("waited_ms", waited.Milliseconds()),
		))
	}

	n := domain.Notification{
		TaskID:       task.ID,
		Channel:      task.Channel,
		Recipient:    recipient,
		Subject:      domain.NotificationSubject(item.Type, item.Subject),
		ArtifactPath: item.ArtifactPath,
		DownloadURL:  strings.TrimRight(d.cfg.DownloadBaseURL, "/") + "/download/" + item.ID.String(),
	}
	if err := channel.Send(ctx, n); err != nil {
		return fail(err)
	}

	task.Status = domain.DistributionStatusSent
	task.LastError = ""
	return nil
}

// resolveRecipient finds the address for an item's audience, caching lookups
// for the duration of one distribute call.
func (d *DistributionCoordinator) resolveRecipient(
	ctx context.Context,
	item *domain.ReportItem,
	cache map[string]string,
) (string, error) {
	key := item.Type.String() + "/" + item.TargetEntityID.String()
	if r, ok := cache[key]; ok {
		return r, nil
	}

	var recipient string
	switch item.Type {
	case domain.ItemTypeStudentReport, domain.ItemTypeParentNotification:
		c, err := d.roster.StudentContact(ctx, item.TargetEntityID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve student contact: %w", err)
		}
		recipient = c.Email
		if item.Type == domain.ItemTypeParentNotification {
			recipient = c.GuardianEmail
		}

	case domain.ItemTypeClassSummary, domain.ItemTypeTeacherEvaluation:
		class, err := d.roster.GetClass(ctx, item.TargetEntityID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve class: %w", err)
		}
		if !class.HasInstructor() {
			return "", fmt.Errorf("class %s has no instructor: %w", class.Name, errNoRecipient)
		}
		c, err := d.roster.InstructorContact(ctx, class.InstructorID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve instructor contact: %w", err)
		}
		recipient = c.Email

	case domain.ItemTypeManagementSummary:
		recipient = d.cfg.ManagementRecipient
	}

	if recipient == "" {
		return "", errNoRecipient
	}
	cache[key] = recipient
	return recipient, nil
}

// ListTasks returns the distribution tasks recorded for a batch. Unknown
// batches yield a NOT_FOUND error rather than an empty list.
func (d *DistributionCoordinator) ListTasks(ctx context.Context, batchID uuid.UUID) ([]*domain.DistributionTask, error) {
	if _, err := d.batches.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return d.tasks.ListTasks(ctx, batchID)
}
