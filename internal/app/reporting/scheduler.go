// Package reporting runs end-of-term report batches: it expands generation
// requests into items, renders them on a bounded pool of workers, distributes
// finished artifacts and watches for batches that stop making progress.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/term-closure/internal/domain/events"
	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

type timeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// SchedulerConfig controls worker pool size and storage write retries.
type SchedulerConfig struct {
	// WorkerCount is the number of long-lived workers started per batch.
	WorkerCount int
	// StorageRetryAttempts is how many times a failed store write is retried.
	StorageRetryAttempts int
	// StorageRetryInterval is the pause between retries.
	StorageRetryInterval time.Duration
	// RenderTimeout bounds a single render call. Zero means no limit.
	RenderTimeout time.Duration
}

// DefaultSchedulerConfig returns the configuration used when none is given.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WorkerCount:          4,
		StorageRetryAttempts: 3,
		StorageRetryInterval: 200 * time.Millisecond,
	}
}

// StartOption configures a single CreateAndStart call.
type StartOption func(*startParams)

type startParams struct {
	termName       string
	autoDistribute bool
}

// WithTermName sets the term name used in the batch name and item subjects.
func WithTermName(name string) StartOption {
	return func(p *startParams) { p.termName = name }
}

// WithAutoDistribute records that artifacts should be distributed once the
// term is closed.
func WithAutoDistribute(auto bool) StartOption {
	return func(p *startParams) { p.autoDistribute = auto }
}

// batchRun tracks the workers of one batch running in this process.
type batchRun struct {
	done chan struct{}
}

// BatchScheduler creates batches and drives them to a terminal status. The
// store is the single source of truth; the scheduler only remembers which
// batches have workers in this process so it can wait for them.
type BatchScheduler struct {
	store     domain.BatchStore
	roster    roster.Reader
	renderer  domain.ItemRenderer
	publisher events.DomainEventPublisher
	metrics   Metrics

	cfg          SchedulerConfig
	timeProvider timeProvider

	mu      sync.Mutex
	running map[uuid.UUID]*batchRun
	wg      sync.WaitGroup

	// stopCtx is cancelled on Shutdown. Workers stop claiming new items once
	// it is done; renders already in flight are allowed to finish.
	stopCtx context.Context
	stop    context.CancelFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBatchScheduler returns a scheduler that renders items with renderer and
// records their outcomes in store.
func NewBatchScheduler(
	store domain.BatchStore,
	rosterReader roster.Reader,
	renderer domain.ItemRenderer,
	publisher events.DomainEventPublisher,
	metrics Metrics,
	cfg SchedulerConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
) *BatchScheduler {
	logger = logger.With("component", "batch_scheduler")
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultSchedulerConfig().WorkerCount
	}
	if cfg.StorageRetryAttempts < 0 {
		cfg.StorageRetryAttempts = 0
	}

	stopCtx, stop := context.WithCancel(context.Background())
	return &BatchScheduler{
		store:        store,
		roster:       rosterReader,
		renderer:     renderer,
		publisher:    publisher,
		metrics:      metrics,
		cfg:          cfg,
		timeProvider: realTimeProvider{},
		running:      make(map[uuid.UUID]*batchRun),
		stopCtx:      stopCtx,
		stop:         stop,
		logger:       logger,
		tracer:       tracer,
	}
}

// CreateAndStart expands selection into items, persists the batch and starts
// its workers in the background. It returns once the batch is IN_PROGRESS, or
// already terminal when the expansion produced no items. A CONFLICT error is
// returned when the term already has an active batch.
func (s *BatchScheduler) CreateAndStart(
	ctx context.Context,
	termID uuid.UUID,
	selection domain.ItemSelection,
	requestedBy string,
	opts ...StartOption,
) (uuid.UUID, error) {
	params := startParams{termName: termID.String()}
	for _, opt := range opts {
		opt(&params)
	}

	batch := domain.NewReportBatch(termID, params.termName, selection, params.autoDistribute, requestedBy, s.timeProvider.Now())

	logger := s.logger.With("operation", "create_and_start", "term_id", termID, "batch_id", batch.ID)
	ctx, span := s.tracer.Start(ctx, "batch_scheduler.create_and_start",
		trace.WithAttributes(
			attribute.String("term_id", termID.String()),
			attribute.String("batch_id", batch.ID.String()),
			attribute.String("report_type", batch.ReportType),
		))
	defer span.End()

	items, err := expandItems(ctx, s.roster, batch, params.termName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to expand items")
		return uuid.Nil, fmt.Errorf("failed to expand items (term_id: %s): %w", termID, err)
	}
	span.SetAttributes(attribute.Int("item_count", len(items)))

	return s.start(ctx, logger, span, batch, items)
}

// RegenerateItem starts a single-item batch that re-renders one artifact, for
// example a student's report after a grade correction. It is subject to the
// same one-active-batch-per-term rule as a full run.
func (s *BatchScheduler) RegenerateItem(
	ctx context.Context,
	termID uuid.UUID,
	itemType domain.ItemType,
	targetID uuid.UUID,
	requestedBy string,
	opts ...StartOption,
) (uuid.UUID, error) {
	params := startParams{termName: termID.String()}
	for _, opt := range opts {
		opt(&params)
	}

	var sel domain.ItemSelection
	switch itemType {
	case domain.ItemTypeStudentReport:
		sel.IncludeStudentReports = true
	case domain.ItemTypeClassSummary:
		sel.IncludeClassSummaries = true
	case domain.ItemTypeTeacherEvaluation:
		sel.IncludeTeacherEvaluations = true
	case domain.ItemTypeParentNotification:
		sel.IncludeParentNotifications = true
	case domain.ItemTypeManagementSummary:
		sel.IncludeManagementSummary = true
	default:
		return uuid.Nil, fmt.Errorf("unknown item type %q", itemType)
	}

	now := s.timeProvider.Now()
	batch := domain.NewReportBatch(termID, params.termName, sel, params.autoDistribute, requestedBy, now)
	batch.Name = fmt.Sprintf("Regenerate %s - %s - %s", itemType, params.termName, now.Format("20060102-1504"))
	batch.ReportType = domain.ReportTypeRegeneration

	logger := s.logger.With("operation", "regenerate_item", "term_id", termID, "batch_id", batch.ID)
	ctx, span := s.tracer.Start(ctx, "batch_scheduler.regenerate_item",
		trace.WithAttributes(
			attribute.String("term_id", termID.String()),
			attribute.String("batch_id", batch.ID.String()),
			attribute.String("item_type", itemType.String()),
			attribute.String("target_id", targetID.String()),
		))
	defer span.End()

	item := domain.NewReportItem(batch.ID, itemType, targetID, fmt.Sprintf("%s - %s (regenerated)", itemType, targetID))
	item.Priority = 1

	return s.start(ctx, logger, span, batch, []*domain.ReportItem{item})
}

func (s *BatchScheduler) start(
	ctx context.Context,
	logger *logger.Logger,
	span trace.Span,
	batch *domain.ReportBatch,
	items []*domain.ReportItem,
) (uuid.UUID, error) {
	if err := s.store.CreateBatch(ctx, batch, items); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create batch")
		return uuid.Nil, fmt.Errorf("failed to create batch (term_id: %s): %w", batch.TermID, err)
	}
	span.AddEvent("batch_created")

	// Register before any transition so a concurrent cancel leaves finalization
	// to this call instead of racing it.
	run := s.register(batch.ID)
	handedOff := false
	defer func() {
		if !handedOff {
			s.unregister(batch.ID, run)
		}
	}()

	if _, err := s.store.TransitionBatch(ctx, batch.ID,
		[]domain.BatchStatus{domain.BatchStatusInitiated}, domain.BatchStatusValidating, s.timeProvider.Now()); err != nil {
		return s.abortStart(ctx, logger, span, batch.ID, err)
	}

	if err := checkExpansion(batch, items); err != nil {
		span.RecordError(err)
		logger.Error(ctx, "Expanded items failed consistency check, cancelling batch", "error", err)
		if _, cerr := s.store.RequestCancel(ctx, batch.ID, s.timeProvider.Now()); cerr != nil {
			return uuid.Nil, fmt.Errorf("failed to cancel inconsistent batch (batch_id: %s): %w", batch.ID, cerr)
		}
		s.finalize(ctx, batch.ID)
		return batch.ID, shared.NewInvalidState("batch %s failed consistency check: %v", batch.ID, err)
	}

	if len(items) == 0 {
		done, err := s.store.TransitionBatch(ctx, batch.ID,
			[]domain.BatchStatus{domain.BatchStatusValidating}, domain.BatchStatusCompleted, s.timeProvider.Now())
		if err != nil {
			return s.abortStart(ctx, logger, span, batch.ID, err)
		}
		span.AddEvent("empty_batch_completed")
		logger.Info(ctx, "Batch has no items, completed immediately")
		s.metrics.IncBatchesFinished(ctx, done.Status)
		s.publishFinished(ctx, done)
		return batch.ID, nil
	}

	started, err := s.store.TransitionBatch(ctx, batch.ID,
		[]domain.BatchStatus{domain.BatchStatusValidating}, domain.BatchStatusInProgress, s.timeProvider.Now())
	if err != nil {
		return s.abortStart(ctx, logger, span, batch.ID, err)
	}
	span.AddEvent("batch_in_progress")
	s.metrics.IncBatchesStarted(ctx)

	evt := events.NewDomainEvent(events.EventTypeBatchStarted, batch.ID.String(), domain.BatchStartedEvent{
		BatchID:    batch.ID,
		TermID:     batch.TermID,
		TotalItems: started.TotalItemCount,
		OccurredAt: s.timeProvider.Now(),
	}, s.timeProvider.Now())
	s.publish(ctx, logger, evt)

	handedOff = true
	s.wg.Add(1)
	go s.runBatch(trace.LinkFromContext(ctx), batch.ID, run)

	span.SetStatus(codes.Ok, "batch started")
	logger.Info(ctx, "Batch started", "items", len(items), "workers", s.cfg.WorkerCount)
	return batch.ID, nil
}

// abortStart handles a failed start transition. If the batch was cancelled in
// the meantime it is finalized and returned without error; any other failure
// is reported to the caller.
func (s *BatchScheduler) abortStart(
	ctx context.Context,
	logger *logger.Logger,
	span trace.Span,
	batchID uuid.UUID,
	cause error,
) (uuid.UUID, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err == nil && (b.Status == domain.BatchStatusCancelling || b.Status == domain.BatchStatusCancelled) {
		span.AddEvent("batch_cancelled_before_dispatch")
		logger.Info(ctx, "Batch cancelled before dispatch")
		s.finalize(ctx, batchID)
		return batchID, nil
	}

	span.RecordError(cause)
	span.SetStatus(codes.Error, "failed to start batch")
	return uuid.Nil, fmt.Errorf("failed to start batch (batch_id: %s): %w", batchID, cause)
}

func (s *BatchScheduler) register(batchID uuid.UUID) *batchRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &batchRun{done: make(chan struct{})}
	s.running[batchID] = run
	return run
}

func (s *BatchScheduler) unregister(batchID uuid.UUID, run *batchRun) {
	s.mu.Lock()
	if s.running[batchID] == run {
		delete(s.running, batchID)
	}
	s.mu.Unlock()
	close(run.done)
}

func (s *BatchScheduler) isRunning(batchID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[batchID]
	return ok
}

// runBatch starts the worker pool for a batch and finalizes it once every
// worker has exited. It runs detached from the request that started it.
func (s *BatchScheduler) runBatch(link trace.Link, batchID uuid.UUID, run *batchRun) {
	defer s.wg.Done()
	defer s.unregister(batchID, run)

	logger := s.logger.With("operation", "run_batch", "batch_id", batchID)
	ctx, span := s.tracer.Start(context.Background(), "batch_scheduler.run_batch",
		trace.WithLinks(link),
		trace.WithAttributes(
			attribute.String("batch_id", batchID.String()),
			attribute.Int("worker_count", s.cfg.WorkerCount),
		))
	defer span.End()

	var g errgroup.Group
	for i := 0; i < s.cfg.WorkerCount; i++ {
		workerID := i
		g.Go(func() error {
			s.metrics.SetActiveWorkers(ctx, 1)
			defer s.metrics.SetActiveWorkers(ctx, -1)
			s.runWorker(ctx, batchID, workerID)
			return nil
		})
	}
	_ = g.Wait()
	span.AddEvent("workers_exited")

	if s.stopCtx.Err() != nil {
		// Shutting down: leave unclaimed items for recovery on the next start,
		// but still settle a batch that was being cancelled.
		logger.Info(ctx, "Workers stopped for shutdown")
	}

	// Every worker that claimed an item has exited, so anything still
	// PROCESSING is an item whose result could not be stored.
	if n, err := s.store.FailProcessingItems(ctx, batchID, "storage error: result could not be recorded", s.timeProvider.Now()); err != nil {
		span.RecordError(err)
		logger.Error(ctx, "Failed to settle orphaned items", "error", err)
	} else if n > 0 {
		logger.Warn(ctx, "Settled orphaned items as failed", "count", n)
	}

	s.finalize(ctx, batchID)
}

// runWorker claims and processes items until none are claimable, the batch is
// being cancelled or the scheduler is shutting down.
func (s *BatchScheduler) runWorker(ctx context.Context, batchID uuid.UUID, workerID int) {
	logger := s.logger.With("operation", "worker", "batch_id", batchID, "worker_id", workerID)

	for {
		if s.stopCtx.Err() != nil {
			return
		}

		var item *domain.ReportItem
		err := s.withStorageRetry(ctx, func() error {
			var err error
			item, err = s.store.ClaimNextItem(ctx, batchID, s.timeProvider.Now())
			return err
		})
		if errors.Is(err, domain.ErrNoClaimableItem) {
			return
		}
		if err != nil {
			logger.Error(ctx, "Failed to claim item, worker exiting", "error", err)
			return
		}

		s.processItem(ctx, logger, item)
	}
}

func (s *BatchScheduler) processItem(ctx context.Context, logger *logger.Logger, item *domain.ReportItem) {
	ctx, span := s.tracer.Start(ctx, "batch_scheduler.process_item",
		trace.WithAttributes(
			attribute.String("item_id", item.ID.String()),
			attribute.String("item_type", item.Type.String()),
			attribute.String("target_id", item.TargetEntityID.String()),
		))
	defer span.End()

	begin := time.Now()
	res, renderErr := s.render(ctx, item)
	elapsed := time.Since(begin)

	var result domain.ItemResult
	if renderErr != nil {
		span.RecordError(renderErr)
		logger.Warn(ctx, "Item render failed", "item_id", item.ID, "item_type", item.Type, "error", renderErr)
		result = domain.FailedResult(item, renderErr.Error(), s.timeProvider.Now())
	} else {
		result = domain.CompletedResult(item, res.ArtifactPath, s.timeProvider.Now())
	}

	err := s.withStorageRetry(ctx, func() error { return s.store.RecordItemResult(ctx, result) })
	if err == nil {
		s.metrics.ObserveItem(ctx, item.Type, result.Status, elapsed)
		span.AddEvent("item_result_recorded", trace.WithAttributes(attribute.String("status", result.Status.String())))
		return
	}
	if errors.Is(err, domain.ErrItemNotProcessing) {
		// Someone else settled the item, e.g. restart recovery. Nothing to do.
		logger.Warn(ctx, "Item no longer processing, dropping result", "item_id", item.ID)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "failed to record item result")
	logger.Error(ctx, "Failed to record item result, marking item failed", "item_id", item.ID, "error", err)

	fallback := domain.FailedResult(item, "storage error: "+err.Error(), s.timeProvider.Now())
	if err := s.withStorageRetry(ctx, func() error { return s.store.RecordItemResult(ctx, fallback) }); err != nil &&
		!errors.Is(err, domain.ErrItemNotProcessing) {
		logger.Error(ctx, "Failed to record storage failure for item", "item_id", item.ID, "error", err)
		return
	}
	s.metrics.ObserveItem(ctx, item.Type, domain.ItemStatusFailed, elapsed)
}

// render calls the renderer, converting panics into item failures.
func (s *BatchScheduler) render(ctx context.Context, item *domain.ReportItem) (res domain.RenderResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("renderer panic: %v", r)
		}
	}()

	if s.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RenderTimeout)
		defer cancel()
	}
	return s.renderer.Render(ctx, item.Type, item.TargetEntityID)
}

// withStorageRetry retries transient store failures a bounded number of
// times. Domain errors and sentinel outcomes are returned immediately.
func (s *BatchScheduler) withStorageRetry(ctx context.Context, op func() error) error {
	attempt := 0
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.StorageRetryInterval), uint64(s.cfg.StorageRetryAttempts))
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			s.metrics.IncStorageRetries(ctx)
		}
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNoClaimableItem) ||
			errors.Is(err, domain.ErrItemNotProcessing) ||
			shared.CodeOf(err) != "" {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// finalize asks the store to settle the batch and publishes the outcome if it
// reached a terminal status.
func (s *BatchScheduler) finalize(ctx context.Context, batchID uuid.UUID) {
	logger := s.logger.With("operation", "finalize", "batch_id", batchID)

	var b *domain.ReportBatch
	err := s.withStorageRetry(ctx, func() error {
		var err error
		b, err = s.store.FinalizeBatch(ctx, batchID, s.timeProvider.Now())
		return err
	})
	if err != nil {
		logger.Error(ctx, "Failed to finalize batch", "error", err)
		return
	}
	if !b.Status.IsTerminal() {
		logger.Debug(ctx, "Batch not ready to finalize", "status", b.Status, "pending", b.PendingCount())
		return
	}

	logger.Info(ctx, "Batch finished",
		"status", b.Status,
		"completed", b.CompletedCount,
		"failed", b.FailedCount,
		"skipped", b.SkippedCount,
		"duration", b.ActualDuration(),
	)
	s.metrics.IncBatchesFinished(ctx, b.Status)
	s.publishFinished(ctx, b)
}

func (s *BatchScheduler) publishFinished(ctx context.Context, b *domain.ReportBatch) {
	typ := events.EventTypeBatchCompleted
	if b.Status == domain.BatchStatusCancelled {
		typ = events.EventTypeBatchCancelled
	}
	evt := events.NewDomainEvent(typ, b.ID.String(), domain.BatchFinishedEvent{
		BatchID:    b.ID,
		TermID:     b.TermID,
		Status:     b.Status,
		Completed:  b.CompletedCount,
		Failed:     b.FailedCount,
		Skipped:    b.SkippedCount,
		OccurredAt: s.timeProvider.Now(),
	}, s.timeProvider.Now())
	s.publish(ctx, s.logger.With("batch_id", b.ID), evt)
}

// publish emits evt. State has already been committed, so a publish failure
// is logged rather than returned.
func (s *BatchScheduler) publish(ctx context.Context, logger *logger.Logger, evt events.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(evt.Key)); err != nil {
		logger.Warn(ctx, "Failed to publish domain event", "event_type", evt.Type, "error", err)
	}
}

// RequestCancel asks a batch to stop. Workers stop claiming new items, items
// already being rendered finish, and the batch becomes CANCELLED once nothing
// is processing. Repeated calls are no-ops; cancelling a COMPLETED batch is an
// INVALID_STATE error.
func (s *BatchScheduler) RequestCancel(ctx context.Context, batchID uuid.UUID, requestedBy string) (*domain.Progress, error) {
	logger := s.logger.With("operation", "request_cancel", "batch_id", batchID, "requested_by", requestedBy)
	ctx, span := s.tracer.Start(ctx, "batch_scheduler.request_cancel",
		trace.WithAttributes(attribute.String("batch_id", batchID.String())))
	defer span.End()

	b, err := s.store.RequestCancel(ctx, batchID, s.timeProvider.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to request cancel")
		return nil, fmt.Errorf("failed to request cancel (batch_id: %s): %w", batchID, err)
	}
	span.AddEvent("cancel_requested", trace.WithAttributes(attribute.String("status", b.Status.String())))

	// Without local workers nobody else will settle the batch here. Workers in
	// another process finalize it themselves once their in-flight items end.
	if b.Status == domain.BatchStatusCancelling && !s.isRunning(batchID) {
		s.finalize(ctx, batchID)
	}
	logger.Info(ctx, "Cancel requested", "status", b.Status)

	return s.GetStatus(ctx, batchID)
}

// GetStatus returns a consistent progress snapshot for a batch.
func (s *BatchScheduler) GetStatus(ctx context.Context, batchID uuid.UUID) (*domain.Progress, error) {
	ctx, span := s.tracer.Start(ctx, "batch_scheduler.get_status",
		trace.WithAttributes(attribute.String("batch_id", batchID.String())))
	defer span.End()

	p, err := s.store.GetProgress(ctx, batchID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get batch progress (batch_id: %s): %w", batchID, err)
	}
	return p, nil
}

// GetBatch returns the batch record.
func (s *BatchScheduler) GetBatch(ctx context.Context, batchID uuid.UUID) (*domain.ReportBatch, error) {
	return s.store.GetBatch(ctx, batchID)
}

// LatestBatch returns the most recent batch for a term.
func (s *BatchScheduler) LatestBatch(ctx context.Context, termID uuid.UUID) (*domain.ReportBatch, error) {
	return s.store.LatestBatchForTerm(ctx, termID)
}

// LatestGenerationBatch returns the most recent term-wide batch for a term,
// skipping single-item regeneration batches. It returns a NOT_FOUND error
// when the term has never run a full or custom generation.
func (s *BatchScheduler) LatestGenerationBatch(ctx context.Context, termID uuid.UUID) (*domain.ReportBatch, error) {
	history, err := s.store.ListBatchesForTerm(ctx, termID)
	if err != nil {
		return nil, err
	}
	for _, b := range history {
		if !b.IsRegeneration() {
			return b, nil
		}
	}
	return nil, shared.NewNotFound("term %s has no generation batch", termID)
}

// ListBatches returns a term's batch history, newest first.
func (s *BatchScheduler) ListBatches(ctx context.Context, termID uuid.UUID) ([]*domain.ReportBatch, error) {
	return s.store.ListBatchesForTerm(ctx, termID)
}

// ListItems returns a batch's items, optionally filtered by status.
func (s *BatchScheduler) ListItems(ctx context.Context, batchID uuid.UUID, status domain.ItemStatus) ([]*domain.ReportItem, error) {
	return s.store.ListItems(ctx, batchID, status)
}

// ItemBreakdown returns per-type status counts for a batch.
func (s *BatchScheduler) ItemBreakdown(ctx context.Context, batchID uuid.UUID) (map[domain.ItemType]domain.TypeCounts, error) {
	return s.store.CountItemsByType(ctx, batchID)
}

// Wait blocks until the workers of batchID in this process have exited and
// the batch has been finalized, or ctx is done.
func (s *BatchScheduler) Wait(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	run, ok := s.running[batchID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverInterrupted settles batches left non-terminal by a previous process.
// Their PROCESSING items are marked failed, the batch is cancelled and its
// unclaimed items skipped, so the term can be re-generated. It must only run
// when no other process is executing batches against the same store.
func (s *BatchScheduler) RecoverInterrupted(ctx context.Context) (int, error) {
	logger := s.logger.With("operation", "recover_interrupted")
	ctx, span := s.tracer.Start(ctx, "batch_scheduler.recover_interrupted")
	defer span.End()

	batches, err := s.store.ListBatchesByStatus(ctx, domain.ActiveBatchStatuses...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list active batches")
		return 0, fmt.Errorf("failed to list active batches: %w", err)
	}

	recovered := 0
	for _, b := range batches {
		if s.isRunning(b.ID) {
			continue
		}

		if _, err := s.store.RequestCancel(ctx, b.ID, s.timeProvider.Now()); err != nil {
			logger.Error(ctx, "Failed to cancel interrupted batch", "batch_id", b.ID, "error", err)
			continue
		}
		n, err := s.store.FailProcessingItems(ctx, b.ID, "interrupted by restart", s.timeProvider.Now())
		if err != nil {
			logger.Error(ctx, "Failed to settle interrupted items", "batch_id", b.ID, "error", err)
			continue
		}
		s.finalize(ctx, b.ID)
		recovered++
		logger.Warn(ctx, "Recovered interrupted batch", "batch_id", b.ID, "term_id", b.TermID, "failed_items", n)
	}

	span.SetAttributes(attribute.Int("recovered", recovered))
	return recovered, nil
}

// Shutdown stops workers from claiming new items and waits for in-flight
// renders to finish or ctx to expire.
func (s *BatchScheduler) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
