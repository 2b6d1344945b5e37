package reporting

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/domain/events"
	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

// StuckBatchDetector periodically looks for IN_PROGRESS batches whose
// counters have not moved for longer than a threshold. Detection is an
// observability signal only: stalled batches are logged, counted and
// announced, never cancelled.
type StuckBatchDetector struct {
	store     domain.BatchStore
	publisher events.DomainEventPublisher
	metrics   Metrics

	checkInterval time.Duration
	threshold     time.Duration

	cancel       context.CancelCauseFunc
	done         chan struct{}
	timeProvider timeProvider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewStuckBatchDetector returns a detector checking every interval for
// batches idle longer than threshold.
func NewStuckBatchDetector(
	store domain.BatchStore,
	publisher events.DomainEventPublisher,
	metrics Metrics,
	interval time.Duration,
	threshold time.Duration,
	logger *logger.Logger,
	tracer trace.Tracer,
) *StuckBatchDetector {
	logger = logger.With("component", "stuck_batch_detector")
	if interval <= 0 {
		interval = time.Minute
	}
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	return &StuckBatchDetector{
		store:         store,
		publisher:     publisher,
		metrics:       metrics,
		checkInterval: interval,
		threshold:     threshold,
		done:          make(chan struct{}),
		timeProvider:  realTimeProvider{},
		logger:        logger,
		tracer:        tracer,
	}
}

// Start launches the check loop. It runs until ctx is cancelled or Stop is
// called.
func (d *StuckBatchDetector) Start(ctx context.Context) {
	ctx, span := d.tracer.Start(ctx, "stuck_batch_detector.start",
		trace.WithAttributes(
			attribute.String("interval", d.checkInterval.String()),
			attribute.String("threshold", d.threshold.String()),
		))
	defer span.End()

	ctx, d.cancel = context.WithCancelCause(ctx)
	span.AddEvent("detector_loop_started")

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.Check(ctx)
			case <-ctx.Done():
				d.logger.Info(context.Background(), "Stuck batch detector stopped", "cause", context.Cause(ctx))
				return
			}
		}
	}()
}

// Stop ends the check loop and waits for it to exit.
func (d *StuckBatchDetector) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel(context.Canceled)
	<-d.done
}

// Check runs one detection pass and returns the stalled batches it found.
func (d *StuckBatchDetector) Check(ctx context.Context) []*domain.ReportBatch {
	ctx, span := d.tracer.Start(ctx, "stuck_batch_detector.check")
	defer span.End()

	now := d.timeProvider.Now()
	stalled, err := d.store.ListStalledBatches(ctx, now.Add(-d.threshold))
	if err != nil {
		span.RecordError(err)
		d.logger.Error(ctx, "Failed to list stalled batches", "error", err)
		return nil
	}
	span.SetAttributes(attribute.Int("stalled_count", len(stalled)))

	for _, b := range stalled {
		idle := now.Sub(b.LastProgressAt)
		d.metrics.IncStalledBatches(ctx)
		d.logger.Warn(ctx, "Batch has made no progress",
			"batch_id", b.ID,
			"term_id", b.TermID,
			"idle", idle,
			"pending", b.PendingCount(),
			"last_progress_at", b.LastProgressAt,
		)

		if d.publisher == nil {
			continue
		}
		evt := events.NewDomainEvent(events.EventTypeBatchStalled, b.ID.String(), domain.BatchStalledEvent{
			BatchID:        b.ID,
			TermID:         b.TermID,
			LastProgressAt: b.LastProgressAt,
			StalledFor:     idle,
			OccurredAt:     now,
		}, now)
		if err := d.publisher.PublishDomainEvent(ctx, evt); err != nil {
			d.logger.Warn(ctx, "Failed to publish stalled batch event", "batch_id", b.ID, "error", err)
		}
	}
	return stalled
}
