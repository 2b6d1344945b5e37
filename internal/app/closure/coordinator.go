// Package closure gates the irreversible close of an academic term on the
// outcome of its end-of-term report batch.
package closure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apprep "github.com/ahrav/term-closure/internal/app/reporting"
	"github.com/ahrav/term-closure/internal/domain/events"
	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/domain/term"
	"github.com/ahrav/term-closure/internal/domain/validation"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

// DefaultFailureThreshold is the largest accepted ratio of failed to
// completed items.
const DefaultFailureThreshold = 0.10

// Validator produces a validation report for a term.
type Validator interface {
	Validate(ctx context.Context, termID uuid.UUID) (*validation.Report, error)
}

// BatchRunner starts and controls report batches.
type BatchRunner interface {
	CreateAndStart(ctx context.Context, termID uuid.UUID, sel reporting.ItemSelection, requestedBy string, opts ...apprep.StartOption) (uuid.UUID, error)
	RegenerateItem(
		ctx context.Context,
		termID uuid.UUID,
		itemType reporting.ItemType,
		targetID uuid.UUID,
		requestedBy string,
		opts ...apprep.StartOption,
	) (uuid.UUID, error)
	GetStatus(ctx context.Context, batchID uuid.UUID) (*reporting.Progress, error)
	RequestCancel(ctx context.Context, batchID uuid.UUID, requestedBy string) (*reporting.Progress, error)
	LatestBatch(ctx context.Context, termID uuid.UUID) (*reporting.ReportBatch, error)
	LatestGenerationBatch(ctx context.Context, termID uuid.UUID) (*reporting.ReportBatch, error)
	ItemBreakdown(ctx context.Context, batchID uuid.UUID) (map[reporting.ItemType]reporting.TypeCounts, error)
}

// Distributor sends the artifacts of a finished batch.
type Distributor interface {
	Distribute(ctx context.Context, batchID uuid.UUID) (*reporting.DistributionSummary, error)
}

// GenerationConfig describes a report generation request.
type GenerationConfig struct {
	Selection      reporting.ItemSelection
	AutoDistribute bool
	RequestedBy    string
	// OverrideValidationErrors starts generation even when validation
	// reported ERROR findings.
	OverrideValidationErrors bool
}

// GenerationResult is returned when a batch has been started.
type GenerationResult struct {
	BatchID    uuid.UUID
	Validation *validation.Report

	// TermTransitionError is set when the batch started but the term could
	// not be moved to CLOSING. The batch keeps running.
	TermTransitionError string
}

// ClosureResult is the outcome of a successful closure request.
type ClosureResult struct {
	TermID        uuid.UUID
	AlreadyClosed bool
	BatchID       uuid.UUID
	ClosedAt      time.Time

	// Distribution is set when the batch asked for automatic distribution.
	// DistributionError reports a failed distribution; the term stays closed.
	Distribution      *reporting.DistributionSummary
	DistributionError string
}

type timeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Coordinator is the entry point for the term-closure workflow: validate,
// generate, poll, cancel and close.
type Coordinator struct {
	terms       term.Repository
	validator   Validator
	batches     BatchRunner
	distributor Distributor
	publisher   events.DomainEventPublisher

	failureThreshold float64
	timeProvider     timeProvider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator returns a Coordinator. A negative or NaN threshold falls
// back to DefaultFailureThreshold; zero tolerates no failed items.
// distributor and publisher may be nil.
func NewCoordinator(
	terms term.Repository,
	validator Validator,
	batches BatchRunner,
	distributor Distributor,
	publisher events.DomainEventPublisher,
	failureThreshold float64,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Coordinator {
	logger = logger.With("component", "term_closure_coordinator")
	if failureThreshold < 0 || math.IsNaN(failureThreshold) {
		failureThreshold = DefaultFailureThreshold
	}
	return &Coordinator{
		terms:            terms,
		validator:        validator,
		batches:          batches,
		distributor:      distributor,
		publisher:        publisher,
		failureThreshold: failureThreshold,
		timeProvider:     realTimeProvider{},
		logger:           logger,
		tracer:           tracer,
	}
}

// RequestValidation runs the read-only validation pass for a term.
func (c *Coordinator) RequestValidation(ctx context.Context, termID uuid.UUID) (*validation.Report, error) {
	ctx, span := c.tracer.Start(ctx, "term_closure_coordinator.request_validation",
		trace.WithAttributes(attribute.String("term_id", termID.String())))
	defer span.End()

	report, err := c.validator.Validate(ctx, termID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("failed to validate term (term_id: %s): %w", termID, err)
	}
	span.SetAttributes(attribute.Int("finding_count", len(report.Findings)))
	return report, nil
}

// RequestGeneration validates the term and starts a report batch for it. The
// term moves to CLOSING once the batch has been created.
func (c *Coordinator) RequestGeneration(ctx context.Context, termID uuid.UUID, cfg GenerationConfig) (*GenerationResult, error) {
	logger := c.logger.With("operation", "request_generation", "term_id", termID, "requested_by", cfg.RequestedBy)
	ctx, span := c.tracer.Start(ctx, "term_closure_coordinator.request_generation",
		trace.WithAttributes(
			attribute.String("term_id", termID.String()),
			attribute.Bool("auto_distribute", cfg.AutoDistribute),
			attribute.Bool("override_validation_errors", cfg.OverrideValidationErrors),
		))
	defer span.End()

	t, err := c.terms.GetTerm(ctx, termID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get term")
		return nil, fmt.Errorf("failed to get term (term_id: %s): %w", termID, err)
	}
	if !t.Status.AllowsGeneration() {
		err := shared.NewInvalidState("term %s is %s; reports can no longer be generated", termID, t.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "term does not allow generation")
		return nil, err
	}
	if cfg.Selection.IsEmpty() {
		cfg.Selection = reporting.FullSelection()
	}

	report, err := c.validator.Validate(ctx, termID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("failed to validate term (term_id: %s): %w", termID, err)
	}
	if report.HasErrors() {
		if !cfg.OverrideValidationErrors {
			err := shared.NewInvalidState("term %s has %d validation errors: %s",
				termID, len(report.Errors()), findingCodes(report.Errors()))
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation errors block generation")
			return nil, err
		}
		logger.Warn(ctx, "Generating despite validation errors", "errors", len(report.Errors()))
		span.AddEvent("validation_errors_overridden")
	}

	batchID, err := c.batches.CreateAndStart(ctx, termID, cfg.Selection, cfg.RequestedBy,
		apprep.WithTermName(t.Name), apprep.WithAutoDistribute(cfg.AutoDistribute))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start batch")
		return nil, fmt.Errorf("failed to start report batch (term_id: %s): %w", termID, err)
	}
	span.SetAttributes(attribute.String("batch_id", batchID.String()))

	result := &GenerationResult{BatchID: batchID, Validation: report}
	if t.Status != term.StatusClosing {
		if err := c.markClosing(ctx, t, cfg.RequestedBy); err != nil {
			span.RecordError(err)
			span.AddEvent("term_transition_failed")
			logger.Error(ctx, "Batch started but term was not moved to closing", "batch_id", batchID, "error", err)
			result.TermTransitionError = err.Error()
		}
	}

	span.SetStatus(codes.Ok, "generation started")
	logger.Info(ctx, "Report generation started", "batch_id", batchID)
	return result, nil
}

// RequestRegeneration re-renders one artifact of a term in its own batch.
// It is refused once the term is CLOSED. Regeneration batches never count
// toward the closure decision.
func (c *Coordinator) RequestRegeneration(
	ctx context.Context,
	termID uuid.UUID,
	itemType reporting.ItemType,
	targetID uuid.UUID,
	requestedBy string,
) (uuid.UUID, error) {
	logger := c.logger.With("operation", "request_regeneration", "term_id", termID, "requested_by", requestedBy)
	ctx, span := c.tracer.Start(ctx, "term_closure_coordinator.request_regeneration",
		trace.WithAttributes(
			attribute.String("term_id", termID.String()),
			attribute.String("item_type", itemType.String()),
			attribute.String("target_id", targetID.String()),
		))
	defer span.End()

	t, err := c.terms.GetTerm(ctx, termID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get term")
		return uuid.Nil, fmt.Errorf("failed to get term (term_id: %s): %w", termID, err)
	}
	if !t.Status.AllowsGeneration() {
		err := shared.NewInvalidState("term %s is %s; reports can no longer be regenerated", termID, t.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "term does not allow regeneration")
		return uuid.Nil, err
	}

	batchID, err := c.batches.RegenerateItem(ctx, termID, itemType, targetID, requestedBy, apprep.WithTermName(t.Name))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start regeneration")
		return uuid.Nil, fmt.Errorf("failed to start regeneration (term_id: %s): %w", termID, err)
	}
	span.SetAttributes(attribute.String("batch_id", batchID.String()))
	span.SetStatus(codes.Ok, "regeneration started")
	logger.Info(ctx, "Item regeneration started", "batch_id", batchID, "item_type", itemType, "target_id", targetID)
	return batchID, nil
}

func (c *Coordinator) markClosing(ctx context.Context, t *term.Term, requestedBy string) error {
	updated, err := c.terms.TransitionStatus(ctx, t.ID,
		[]term.Status{term.StatusPlanning, term.StatusActive}, term.StatusClosing)
	if err != nil {
		// A concurrent request may already have moved the term along.
		if cur, gerr := c.terms.GetTerm(ctx, t.ID); gerr == nil && cur.Status == term.StatusClosing {
			return nil
		}
		return fmt.Errorf("failed to move term to closing (term_id: %s): %w", t.ID, err)
	}
	c.publishStatusChange(ctx, events.EventTypeTermClosing, t.Status, updated, requestedBy)
	return nil
}

// RequestClosure closes the term if its latest generation batch finished
// with an acceptable failure rate and no regeneration is still running. Closing an already closed term succeeds without
// doing anything.
func (c *Coordinator) RequestClosure(ctx context.Context, termID uuid.UUID, requestedBy string) (*ClosureResult, error) {
	logger := c.logger.With("operation", "request_closure", "term_id", termID, "requested_by", requestedBy)
	ctx, span := c.tracer.Start(ctx, "term_closure_coordinator.request_closure",
		trace.WithAttributes(
			attribute.String("term_id", termID.String()),
			attribute.Float64("failure_threshold", c.failureThreshold),
		))
	defer span.End()

	t, err := c.terms.GetTerm(ctx, termID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get term")
		return nil, fmt.Errorf("failed to get term (term_id: %s): %w", termID, err)
	}
	if t.IsClosed() {
		span.AddEvent("term_already_closed")
		return &ClosureResult{TermID: termID, AlreadyClosed: true, ClosedAt: t.UpdatedAt}, nil
	}
	if t.Status != term.StatusClosing {
		err := shared.NewNotReady("term %s is %s; generate reports before closing", termID, t.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "term not closing")
		return nil, err
	}

	batch, err := c.batches.LatestGenerationBatch(ctx, termID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			err = shared.NewNotReady("term %s has no report batch", termID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "no batch to close on")
		return nil, err
	}
	span.SetAttributes(attribute.String("batch_id", batch.ID.String()))

	if latest, err := c.batches.LatestBatch(ctx, termID); err == nil && latest.ID != batch.ID && !latest.Status.IsTerminal() {
		err := shared.NewNotReady("regeneration batch %s is %s", latest.ID, latest.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "regeneration in progress")
		logger.Info(ctx, "Term not ready to close", "batch_id", latest.ID, "reason", shared.MessageOf(err))
		return nil, err
	}

	if err := c.checkBatchReady(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch not ready")
		logger.Info(ctx, "Term not ready to close", "batch_id", batch.ID, "reason", shared.MessageOf(err))
		return nil, err
	}

	closed, err := c.terms.TransitionStatus(ctx, termID, []term.Status{term.StatusClosing}, term.StatusClosed)
	if err != nil {
		if cur, gerr := c.terms.GetTerm(ctx, termID); gerr == nil && cur.IsClosed() {
			span.AddEvent("term_closed_concurrently")
			return &ClosureResult{TermID: termID, AlreadyClosed: true, BatchID: batch.ID, ClosedAt: cur.UpdatedAt}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close term")
		return nil, fmt.Errorf("failed to close term (term_id: %s): %w", termID, err)
	}
	span.AddEvent("term_closed")
	c.publishStatusChange(ctx, events.EventTypeTermClosed, term.StatusClosing, closed, requestedBy)
	logger.Info(ctx, "Term closed",
		"batch_id", batch.ID, "completed", batch.CompletedCount, "failed", batch.FailedCount)

	result := &ClosureResult{TermID: termID, BatchID: batch.ID, ClosedAt: closed.UpdatedAt}
	if batch.AutoDistribute && c.distributor != nil {
		summary, err := c.distributor.Distribute(ctx, batch.ID)
		if err != nil {
			span.RecordError(err)
			logger.Error(ctx, "Distribution after closure failed", "batch_id", batch.ID, "error", err)
			result.DistributionError = err.Error()
		}
		result.Distribution = summary
	}

	span.SetStatus(codes.Ok, "term closed")
	return result, nil
}

// checkBatchReady returns a NOT_READY error explaining why batch does not
// allow the term to close.
func (c *Coordinator) checkBatchReady(ctx context.Context, batch *reporting.ReportBatch) error {
	if batch.Status.IsTerminal() && batch.FailureRateAcceptable(c.failureThreshold) {
		return nil
	}

	var reasons []string
	if !batch.Status.IsTerminal() {
		reasons = append(reasons, fmt.Sprintf("batch %s is %s", batch.ID, batch.Status))
	} else {
		reasons = append(reasons, fmt.Sprintf("%d failed vs %d completed exceeds failure threshold %.0f%%",
			batch.FailedCount, batch.CompletedCount, c.failureThreshold*100))
	}

	breakdown, err := c.batches.ItemBreakdown(ctx, batch.ID)
	if err == nil {
		for _, typ := range reporting.AllItemTypes {
			counts := breakdown[typ]
			if counts.Failed > 0 {
				reasons = append(reasons, fmt.Sprintf("%d %s failed", counts.Failed, typ))
			}
			if n := counts.Pending + counts.Processing; n > 0 {
				reasons = append(reasons, fmt.Sprintf("%d %s pending", n, typ))
			}
		}
	}
	return shared.NewNotReady("%s", strings.Join(reasons, ", "))
}

// GetBatchStatus returns the current progress of a batch.
func (c *Coordinator) GetBatchStatus(ctx context.Context, batchID uuid.UUID) (*reporting.Progress, error) {
	return c.batches.GetStatus(ctx, batchID)
}

// CancelBatch requests cooperative cancellation of a batch.
func (c *Coordinator) CancelBatch(ctx context.Context, batchID uuid.UUID, requestedBy string) (*reporting.Progress, error) {
	return c.batches.RequestCancel(ctx, batchID, requestedBy)
}

func (c *Coordinator) publishStatusChange(
	ctx context.Context,
	typ events.EventType,
	from term.Status,
	t *term.Term,
	requestedBy string,
) {
	if c.publisher == nil {
		return
	}
	now := c.timeProvider.Now()
	evt := events.NewDomainEvent(typ, t.ID.String(), term.StatusChangedEvent{
		TermID:      t.ID,
		From:        from,
		To:          t.Status,
		RequestedBy: requestedBy,
		OccurredAt:  now,
	}, now)
	if err := c.publisher.PublishDomainEvent(ctx, evt, events.WithKey(t.ID.String())); err != nil {
		c.logger.Warn(ctx, "Failed to publish term status event", "term_id", t.ID, "event_type", typ, "error", err)
	}
}

func findingCodes(fs []validation.Finding) string {
	seen := make(map[string]struct{}, len(fs))
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		if _, ok := seen[f.Code]; ok {
			continue
		}
		seen[f.Code] = struct{}{}
		out = append(out, f.Code)
	}
	return strings.Join(out, ", ")
}
