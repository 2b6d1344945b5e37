package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/api/errs"
	"github.com/ahrav/term-closure/internal/app/closure"
	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/shared"
)

const maxBodyBytes = 64 << 10

// generationRequest starts report generation for a term. Leaving every
// include flag false selects every category.
type generationRequest struct {
	reporting.ItemSelection
	AutoDistribute     bool   `json:"auto_distribute"`
	RequestedBy        string `json:"requested_by" validate:"required,max=128"`
	OverrideValidation bool   `json:"override_validation"`
}

type generationResponse struct {
	BatchID    uuid.UUID `json:"batch_id"`
	Validation any       `json:"validation,omitempty"`
	// TermTransitionError is set when the batch started but the term is
	// still not CLOSING.
	TermTransitionError string `json:"term_transition_error,omitempty"`
}

// regenerationRequest re-renders one artifact, for example a student report
// after a grade correction.
type regenerationRequest struct {
	ItemType       string    `json:"item_type" validate:"required"`
	TargetEntityID uuid.UUID `json:"target_entity_id" validate:"required"`
	RequestedBy    string    `json:"requested_by" validate:"required,max=128"`
}

type closeRequest struct {
	RequestedBy string `json:"requested_by" validate:"required,max=128"`
}

type cancelRequest struct {
	RequestedBy string `json:"requested_by" validate:"max=128"`
}

type batchResponse struct {
	ID                uuid.UUID               `json:"id"`
	TermID            uuid.UUID               `json:"term_id"`
	Name              string                  `json:"name"`
	ReportType        string                  `json:"report_type"`
	RequestedBy       string                  `json:"requested_by"`
	Status            reporting.BatchStatus   `json:"status"`
	Selection         reporting.ItemSelection `json:"selection"`
	AutoDistribute    bool                    `json:"auto_distribute"`
	Total             int                     `json:"total_item_count"`
	Completed         int                     `json:"completed_item_count"`
	Failed            int                     `json:"failed_item_count"`
	Skipped           int                     `json:"skipped_item_count"`
	CreatedAt         time.Time               `json:"created_at"`
	StartedAt         *time.Time              `json:"started_at,omitempty"`
	CompletedAt       *time.Time              `json:"completed_at,omitempty"`
	CancelRequestedAt *time.Time              `json:"cancel_requested_at,omitempty"`
	DistributedAt     *time.Time              `json:"distributed_at,omitempty"`
}

func toBatchResponse(b *reporting.ReportBatch) batchResponse {
	return batchResponse{
		ID:                b.ID,
		TermID:            b.TermID,
		Name:              b.Name,
		ReportType:        b.ReportType,
		RequestedBy:       b.RequestedBy,
		Status:            b.Status,
		Selection:         b.Selection,
		AutoDistribute:    b.AutoDistribute,
		Total:             b.TotalItemCount,
		Completed:         b.CompletedCount,
		Failed:            b.FailedCount,
		Skipped:           b.SkippedCount,
		CreatedAt:         b.CreatedAt,
		StartedAt:         optionalTime(b.StartedAt),
		CompletedAt:       optionalTime(b.CompletedAt),
		CancelRequestedAt: b.CancelRequestedAt,
		DistributedAt:     b.DistributedAt,
	}
}

type itemResponse struct {
	ID             uuid.UUID            `json:"id"`
	Type           reporting.ItemType   `json:"item_type"`
	TargetEntityID uuid.UUID            `json:"target_entity_id"`
	Subject        string               `json:"subject"`
	Priority       int                  `json:"priority"`
	Status         reporting.ItemStatus `json:"status"`
	ArtifactPath   string               `json:"artifact_path,omitempty"`
	ErrorDetail    string               `json:"error_detail,omitempty"`
	AttemptCount   int                  `json:"attempt_count"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
}

func toItemResponse(it *reporting.ReportItem) itemResponse {
	return itemResponse{
		ID:             it.ID,
		Type:           it.Type,
		TargetEntityID: it.TargetEntityID,
		Subject:        it.Subject,
		Priority:       it.Priority,
		Status:         it.Status,
		ArtifactPath:   it.ArtifactPath,
		ErrorDetail:    it.ErrorDetail,
		AttemptCount:   it.AttemptCount,
		StartedAt:      optionalTime(it.StartedAt),
		CompletedAt:    optionalTime(it.CompletedAt),
	}
}

type distributionTaskResponse struct {
	ID           uuid.UUID                    `json:"id"`
	SourceItemID uuid.UUID                    `json:"source_item_id"`
	Channel      reporting.Channel            `json:"channel"`
	Recipient    string                       `json:"recipient,omitempty"`
	Status       reporting.DistributionStatus `json:"status"`
	Attempts     int                          `json:"attempts"`
	LastError    string                       `json:"last_error,omitempty"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// resultsResponse summarizes what a finished batch produced.
type resultsResponse struct {
	BatchID        uuid.UUID             `json:"batch_id"`
	Status         reporting.BatchStatus `json:"status"`
	OverallSuccess bool                  `json:"overall_success"`
	Generated      int                   `json:"total_reports_generated"`
	Failed         int                   `json:"failed_reports"`
	DurationSecs   float64               `json:"duration_seconds"`
	Reports        []itemResponse        `json:"generated_reports"`
}

type closureResponse struct {
	TermID            uuid.UUID                      `json:"term_id"`
	AlreadyClosed     bool                           `json:"already_closed"`
	BatchID           *uuid.UUID                     `json:"batch_id,omitempty"`
	ClosedAt          *time.Time                     `json:"closed_at,omitempty"`
	Distribution      *reporting.DistributionSummary `json:"distribution,omitempty"`
	DistributionError string                         `json:"distribution_error,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func pathUUID(r *http.Request, name string) (uuid.UUID, *errs.Error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errs.Newf(errs.InvalidArgument, "invalid %s: %v", name, err)
	}
	return id, nil
}

// decode reads a JSON body into dst. An empty body is accepted when
// allowEmpty is set; validation tags are checked either way.
func decode(r *http.Request, dst any, allowEmpty bool) *errs.Error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return errs.New(errs.InvalidArgument, fmt.Errorf("invalid request body: %w", err))
		}
	}
	if err := errs.Check(dst); err != nil {
		return errs.New(errs.InvalidArgument, err)
	}
	return nil
}

// fail converts an application error into a response, logging errors the
// client is not told the details of.
func (s *Server) fail(ctx context.Context, op string, err error) Encoder {
	if shared.CodeOf(err) == "" {
		s.logger.Error(ctx, "Request failed", "operation", op, "error", err)
	}
	trace.SpanFromContext(ctx).RecordError(err)
	return errs.FromDomain(err)
}

func (s *Server) validate(ctx context.Context, r *http.Request) Encoder {
	termID, perr := pathUUID(r, "termID")
	if perr != nil {
		return perr
	}

	report, err := s.deps.Closure.RequestValidation(ctx, termID)
	if err != nil {
		return s.fail(ctx, "validate", err)
	}
	return ok(report)
}

func (s *Server) generate(ctx context.Context, r *http.Request) Encoder {
	termID, perr := pathUUID(r, "termID")
	if perr != nil {
		return perr
	}

	var req generationRequest
	if derr := decode(r, &req, false); derr != nil {
		return derr
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("term_id", termID.String()),
		attribute.String("requested_by", req.RequestedBy),
	)

	res, err := s.deps.Closure.RequestGeneration(ctx, termID, closure.GenerationConfig{
		Selection:                req.ItemSelection,
		AutoDistribute:           req.AutoDistribute,
		RequestedBy:              req.RequestedBy,
		OverrideValidationErrors: req.OverrideValidation,
	})
	if err != nil {
		return s.fail(ctx, "generate", err)
	}

	resp := generationResponse{BatchID: res.BatchID, TermTransitionError: res.TermTransitionError}
	if res.Validation != nil {
		resp.Validation = res.Validation
	}
	return accepted(resp)
}

func (s *Server) regenerate(ctx context.Context, r *http.Request) Encoder {
	termID, perr := pathUUID(r, "termID")
	if perr != nil {
		return perr
	}

	var req regenerationRequest
	if derr := decode(r, &req, false); derr != nil {
		return derr
	}
	itemType := reporting.ParseItemType(req.ItemType)
	if itemType == "" {
		return errs.Newf(errs.InvalidArgument, "unknown item type %q", req.ItemType)
	}

	batchID, err := s.deps.Closure.RequestRegeneration(ctx, termID, itemType, req.TargetEntityID, req.RequestedBy)
	if err != nil {
		return s.fail(ctx, "regenerate", err)
	}
	return accepted(generationResponse{BatchID: batchID})
}

func (s *Server) listBatches(ctx context.Context, r *http.Request) Encoder {
	termID, perr := pathUUID(r, "termID")
	if perr != nil {
		return perr
	}

	batches, err := s.deps.Batches.ListBatches(ctx, termID)
	if err != nil {
		return s.fail(ctx, "list_batches", err)
	}

	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	return ok(out)
}

func (s *Server) latestBatch(ctx context.Context, r *http.Request) Encoder {
	termID, perr := pathUUID(r, "termID")
	if perr != nil {
		return perr
	}

	b, err := s.deps.Batches.LatestBatch(ctx, termID)
	if err != nil {
		return s.fail(ctx, "latest_batch", err)
	}
	return ok(toBatchResponse(b))
}

func (s *Server) closeTerm(ctx context.Context, r *http.Request) Encoder {
	termID, perr := pathUUID(r, "termID")
	if perr != nil {
		return perr
	}

	var req closeRequest
	if derr := decode(r, &req, false); derr != nil {
		return derr
	}

	res, err := s.deps.Closure.RequestClosure(ctx, termID, req.RequestedBy)
	if err != nil {
		return s.fail(ctx, "close_term", err)
	}

	resp := closureResponse{
		TermID:            res.TermID,
		AlreadyClosed:     res.AlreadyClosed,
		ClosedAt:          optionalTime(res.ClosedAt),
		Distribution:      res.Distribution,
		DistributionError: res.DistributionError,
	}
	if res.BatchID != uuid.Nil {
		resp.BatchID = &res.BatchID
	}
	return ok(resp)
}

func (s *Server) batchStatus(ctx context.Context, r *http.Request) Encoder {
	batchID, perr := pathUUID(r, "batchID")
	if perr != nil {
		return perr
	}

	p, err := s.deps.Closure.GetBatchStatus(ctx, batchID)
	if err != nil {
		return s.fail(ctx, "batch_status", err)
	}
	return ok(p)
}

func (s *Server) listItems(ctx context.Context, r *http.Request) Encoder {
	batchID, perr := pathUUID(r, "batchID")
	if perr != nil {
		return perr
	}

	var status reporting.ItemStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status = reporting.ParseItemStatus(raw); status == "" {
			return errs.Newf(errs.InvalidArgument, "unknown item status %q", raw)
		}
	}

	items, err := s.deps.Batches.ListItems(ctx, batchID, status)
	if err != nil {
		return s.fail(ctx, "list_items", err)
	}

	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	return ok(out)
}

func (s *Server) batchResults(ctx context.Context, r *http.Request) Encoder {
	batchID, perr := pathUUID(r, "batchID")
	if perr != nil {
		return perr
	}

	b, err := s.deps.Batches.GetBatch(ctx, batchID)
	if err != nil {
		return s.fail(ctx, "batch_results", err)
	}
	if !b.Status.IsTerminal() {
		return errs.Newf(errs.InvalidState, "batch %s is %s; results are available once it finishes", batchID, b.Status)
	}

	items, err := s.deps.Batches.ListItems(ctx, batchID, reporting.ItemStatusCompleted)
	if err != nil {
		return s.fail(ctx, "batch_results", err)
	}

	resp := resultsResponse{
		BatchID:        b.ID,
		Status:         b.Status,
		OverallSuccess: b.FailedCount == 0 && b.Status == reporting.BatchStatusCompleted,
		Generated:      b.CompletedCount,
		Failed:         b.FailedCount,
		Reports:        make([]itemResponse, 0, len(items)),
	}
	if !b.StartedAt.IsZero() && !b.CompletedAt.IsZero() {
		resp.DurationSecs = b.CompletedAt.Sub(b.StartedAt).Seconds()
	}
	for _, it := range items {
		resp.Reports = append(resp.Reports, toItemResponse(it))
	}
	return ok(resp)
}

func (s *Server) cancelBatch(ctx context.Context, r *http.Request) Encoder {
	batchID, perr := pathUUID(r, "batchID")
	if perr != nil {
		return perr
	}

	var req cancelRequest
	if derr := decode(r, &req, true); derr != nil {
		return derr
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "api"
	}

	p, err := s.deps.Closure.CancelBatch(ctx, batchID, req.RequestedBy)
	if err != nil {
		return s.fail(ctx, "cancel_batch", err)
	}
	return accepted(p)
}

func (s *Server) distribute(ctx context.Context, r *http.Request) Encoder {
	batchID, perr := pathUUID(r, "batchID")
	if perr != nil {
		return perr
	}

	summary, err := s.deps.Distributor.Distribute(ctx, batchID)
	if err != nil {
		return s.fail(ctx, "distribute", err)
	}
	return ok(summary)
}

func (s *Server) distributionTasks(ctx context.Context, r *http.Request) Encoder {
	batchID, perr := pathUUID(r, "batchID")
	if perr != nil {
		return perr
	}

	tasks, err := s.deps.Distributor.ListTasks(ctx, batchID)
	if err != nil {
		return s.fail(ctx, "distribution_tasks", err)
	}

	out := make([]distributionTaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, distributionTaskResponse{
			ID:           t.ID,
			SourceItemID: t.SourceItemID,
			Channel:      t.Channel,
			Recipient:    t.Recipient,
			Status:       t.Status,
			Attempts:     t.Attempts,
			LastError:    t.LastError,
			UpdatedAt:    t.UpdatedAt,
		})
	}
	return ok(out)
}
