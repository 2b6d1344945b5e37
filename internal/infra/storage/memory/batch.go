// Package memory provides in-process implementations of the term, roster,
// batch and distribution stores for development and tests. Each store guards
// its state with a single lock so item writes and counter updates are applied
// together and readers never observe a torn snapshot.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/shared"
)

var _ reporting.BatchStore = (*BatchStore)(nil)

type batchEntry struct {
	batch      *reporting.ReportBatch
	items      []*reporting.ReportItem // claim order
	processing int
	seq        int
}

// BatchStore is an in-memory reporting.BatchStore.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]*batchEntry
	items   map[uuid.UUID]*reporting.ReportItem
	seq     int
}

// NewBatchStore creates an empty BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches: make(map[uuid.UUID]*batchEntry),
		items:   make(map[uuid.UUID]*reporting.ReportItem),
	}
}

func (s *BatchStore) CreateBatch(ctx context.Context, batch *reporting.ReportBatch, items []*reporting.ReportItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.batches {
		if e.batch.TermID == batch.TermID && !e.batch.Status.IsTerminal() {
			return reporting.ActiveBatchConflictError(batch.TermID, e.batch.ID)
		}
	}

	s.seq++
	entry := &batchEntry{batch: cloneBatch(batch), seq: s.seq}
	entry.batch.TotalItemCount = len(items)

	entry.items = make([]*reporting.ReportItem, 0, len(items))
	for _, it := range items {
		c := cloneItem(it)
		entry.items = append(entry.items, c)
		s.items[c.ID] = c
	}
	sort.SliceStable(entry.items, func(i, j int) bool { return entry.items[i].Priority < entry.items[j].Priority })

	s.batches[batch.ID] = entry
	batch.TotalItemCount = len(items)
	return nil
}

func (s *BatchStore) GetBatch(ctx context.Context, id uuid.UUID) (*reporting.ReportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.batches[id]
	if !ok {
		return nil, reporting.BatchNotFoundError(id)
	}
	return cloneBatch(e.batch), nil
}

func (s *BatchStore) GetProgress(ctx context.Context, id uuid.UUID) (*reporting.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.batches[id]
	if !ok {
		return nil, reporting.BatchNotFoundError(id)
	}
	return reporting.NewProgress(cloneBatch(e.batch), e.processing), nil
}

func (s *BatchStore) LatestBatchForTerm(ctx context.Context, termID uuid.UUID) (*reporting.ReportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *batchEntry
	for _, e := range s.batches {
		if e.batch.TermID != termID {
			continue
		}
		if latest == nil || e.seq > latest.seq {
			latest = e
		}
	}
	if latest == nil {
		return nil, shared.NewNotFound("term %s has no report batches", termID)
	}
	return cloneBatch(latest.batch), nil
}

func (s *BatchStore) ListBatchesForTerm(ctx context.Context, termID uuid.UUID) ([]*reporting.ReportBatch, error) {
	return s.listWhere(func(b *reporting.ReportBatch) bool { return b.TermID == termID }), nil
}

func (s *BatchStore) ListBatchesByStatus(ctx context.Context, statuses ...reporting.BatchStatus) ([]*reporting.ReportBatch, error) {
	return s.listWhere(func(b *reporting.ReportBatch) bool { return slices.Contains(statuses, b.Status) }), nil
}

// listWhere returns matching batches newest first.
func (s *BatchStore) listWhere(match func(*reporting.ReportBatch) bool) []*reporting.ReportBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*batchEntry, 0)
	for _, e := range s.batches {
		if match(e.batch) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	out := make([]*reporting.ReportBatch, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneBatch(e.batch))
	}
	return out
}

func (s *BatchStore) TransitionBatch(
	ctx context.Context,
	id uuid.UUID,
	from []reporting.BatchStatus,
	to reporting.BatchStatus,
	at time.Time,
) (*reporting.ReportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.batches[id]
	if !ok {
		return nil, reporting.BatchNotFoundError(id)
	}

	b := e.batch
	if !slices.Contains(from, b.Status) {
		return nil, shared.NewInvalidState("batch %s is %s, expected one of %v", id, b.Status, from)
	}
	if err := b.Status.ValidateTransition(to); err != nil {
		return nil, &shared.Error{Code: shared.CodeInvalidState, Message: err.Error()}
	}
	if to.IsTerminal() && (b.PendingCount() > 0 || e.processing > 0) {
		return nil, shared.NewInvalidState("batch %s still has %d unfinished items", id, b.PendingCount())
	}

	b.Status = to
	switch to {
	case reporting.BatchStatusInProgress:
		b.StartedAt = at
		b.LastProgressAt = at
	case reporting.BatchStatusCompleted, reporting.BatchStatusCancelled:
		if b.StartedAt.IsZero() {
			b.StartedAt = at
		}
		b.CompletedAt = at
	}
	return cloneBatch(b), nil
}

func (s *BatchStore) RequestCancel(ctx context.Context, id uuid.UUID, at time.Time) (*reporting.ReportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.batches[id]
	if !ok {
		return nil, reporting.BatchNotFoundError(id)
	}

	b := e.batch
	switch b.Status {
	case reporting.BatchStatusCancelling, reporting.BatchStatusCancelled:
		return cloneBatch(b), nil
	case reporting.BatchStatusCompleted:
		return nil, shared.NewInvalidState("batch %s already completed", id)
	}

	b.Status = reporting.BatchStatusCancelling
	t := at
	b.CancelRequestedAt = &t
	return cloneBatch(b), nil
}

func (s *BatchStore) ClaimNextItem(ctx context.Context, batchID uuid.UUID, at time.Time) (*reporting.ReportItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.batches[batchID]
	if !ok {
		return nil, reporting.BatchNotFoundError(batchID)
	}
	if e.batch.Status != reporting.BatchStatusInProgress {
		return nil, reporting.ErrNoClaimableItem
	}

	for _, it := range e.items {
		if it.Status != reporting.ItemStatusPending {
			continue
		}
		it.Status = reporting.ItemStatusProcessing
		it.AttemptCount++
		it.StartedAt = at
		e.processing++
		return cloneItem(it), nil
	}
	return nil, reporting.ErrNoClaimableItem
}

func (s *BatchStore) RecordItemResult(ctx context.Context, result reporting.ItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.batches[result.BatchID]
	if !ok {
		return reporting.BatchNotFoundError(result.BatchID)
	}
	if e.batch.Status.IsTerminal() {
		return shared.NewInvalidState("batch %s is %s; item results are no longer accepted", result.BatchID, e.batch.Status)
	}
	it, ok := s.items[result.ItemID]
	if !ok || it.BatchID != result.BatchID {
		return reporting.ErrItemNotProcessing
	}
	if it.Status != reporting.ItemStatusProcessing {
		return reporting.ErrItemNotProcessing
	}
	if err := it.Status.ValidateTransition(result.Status); err != nil {
		return err
	}

	s.applyResult(e, it, result)
	return nil
}

// applyResult must be called with s.mu held.
func (s *BatchStore) applyResult(e *batchEntry, it *reporting.ReportItem, result reporting.ItemResult) {
	it.Status = result.Status
	it.CompletedAt = result.At
	switch result.Status {
	case reporting.ItemStatusCompleted:
		it.ArtifactPath = result.ArtifactPath
		e.batch.CompletedCount++
	case reporting.ItemStatusFailed:
		it.ErrorDetail = reporting.TruncateDetail(result.ErrorDetail)
		e.batch.FailedCount++
	}
	e.processing--
	e.batch.LastProgressAt = result.At
}

func (s *BatchStore) FinalizeBatch(ctx context.Context, id uuid.UUID, at time.Time) (*reporting.ReportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.batches[id]
	if !ok {
		return nil, reporting.BatchNotFoundError(id)
	}

	b := e.batch
	if e.processing > 0 {
		return cloneBatch(b), nil
	}

	switch b.Status {
	case reporting.BatchStatusCancelling:
		for _, it := range e.items {
			if it.Status == reporting.ItemStatusPending {
				it.Status = reporting.ItemStatusSkipped
				it.CompletedAt = at
				b.SkippedCount++
			}
		}
		b.Status = reporting.BatchStatusCancelled
	case reporting.BatchStatusInProgress:
		if b.PendingCount() > 0 {
			return cloneBatch(b), nil
		}
		b.Status = reporting.BatchStatusCompleted
	default:
		return cloneBatch(b), nil
	}

	if b.StartedAt.IsZero() {
		b.StartedAt = at
	}
	b.CompletedAt = at
	b.LastProgressAt = at
	return cloneBatch(b), nil
}

func (s *BatchStore) FailProcessingItems(ctx context.Context, batchID uuid.UUID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.batches[batchID]
	if !ok {
		return 0, reporting.BatchNotFoundError(batchID)
	}

	n := 0
	for _, it := range e.items {
		if it.Status != reporting.ItemStatusProcessing {
			continue
		}
		s.applyResult(e, it, reporting.ItemResult{
			ItemID:      it.ID,
			BatchID:     batchID,
			Status:      reporting.ItemStatusFailed,
			ErrorDetail: reason,
			At:          at,
		})
		n++
	}
	return n, nil
}

func (s *BatchStore) ListItems(ctx context.Context, batchID uuid.UUID, status reporting.ItemStatus) ([]*reporting.ReportItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.batches[batchID]
	if !ok {
		return nil, reporting.BatchNotFoundError(batchID)
	}

	out := make([]*reporting.ReportItem, 0, len(e.items))
	for _, it := range e.items {
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, cloneItem(it))
	}
	return out, nil
}

func (s *BatchStore) CountItemsByType(ctx context.Context, batchID uuid.UUID) (map[reporting.ItemType]reporting.TypeCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.batches[batchID]
	if !ok {
		return nil, reporting.BatchNotFoundError(batchID)
	}

	counts := make(map[reporting.ItemType]reporting.TypeCounts)
	for _, it := range e.items {
		c := counts[it.Type]
		c.Add(it.Status, 1)
		counts[it.Type] = c
	}
	return counts, nil
}

func (s *BatchStore) MarkDistributed(ctx context.Context, batchID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.batches[batchID]
	if !ok {
		return reporting.BatchNotFoundError(batchID)
	}
	t := at
	e.batch.DistributedAt = &t
	return nil
}

func (s *BatchStore) ListStalledBatches(ctx context.Context, cutoff time.Time) ([]*reporting.ReportBatch, error) {
	return s.listWhere(func(b *reporting.ReportBatch) bool {
		return b.Status == reporting.BatchStatusInProgress && b.LastProgressAt.Before(cutoff)
	}), nil
}

func cloneBatch(b *reporting.ReportBatch) *reporting.ReportBatch {
	c := *b
	if b.CancelRequestedAt != nil {
		t := *b.CancelRequestedAt
		c.CancelRequestedAt = &t
	}
	if b.DistributedAt != nil {
		t := *b.DistributedAt
		c.DistributedAt = &t
	}
	return &c
}

func cloneItem(it *reporting.ReportItem) *reporting.ReportItem {
	c := *it
	return &c
}
