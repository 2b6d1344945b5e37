package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BatchStore is the single source of truth for batch and item state. Every
// mutation that touches an item's status also updates the batch counters in
// the same atomic operation, and every read returns a consistent snapshot.
type BatchStore interface {
	// CreateBatch persists an INITIATED batch and its PENDING items. It fails
	// with a CONFLICT error if the term already has a non-terminal batch.
	CreateBatch(ctx context.Context, batch *ReportBatch, items []*ReportItem) error

	GetBatch(ctx context.Context, id uuid.UUID) (*ReportBatch, error)
	GetProgress(ctx context.Context, id uuid.UUID) (*Progress, error)

	// LatestBatchForTerm returns the most recently created batch, or a
	// NOT_FOUND error when the term has none.
	LatestBatchForTerm(ctx context.Context, termID uuid.UUID) (*ReportBatch, error)
	ListBatchesForTerm(ctx context.Context, termID uuid.UUID) ([]*ReportBatch, error)

	// ListBatchesByStatus returns batches across all terms in any of statuses.
	ListBatchesByStatus(ctx context.Context, statuses ...BatchStatus) ([]*ReportBatch, error)

	// TransitionBatch moves the batch to `to` if its status is one of `from`.
	// It returns an INVALID_STATE error with the observed status otherwise.
	TransitionBatch(ctx context.Context, id uuid.UUID, from []BatchStatus, to BatchStatus, at time.Time) (*ReportBatch, error)

	// RequestCancel moves a cancellable batch to CANCELLING and stamps
	// CancelRequestedAt. It is a no-op for a CANCELLING or CANCELLED batch and
	// returns an INVALID_STATE error for a COMPLETED one.
	RequestCancel(ctx context.Context, id uuid.UUID, at time.Time) (*ReportBatch, error)

	// ClaimNextItem atomically moves the next PENDING item of an IN_PROGRESS
	// batch to PROCESSING. It returns ErrNoClaimableItem when nothing is left
	// or the batch is no longer IN_PROGRESS.
	ClaimNextItem(ctx context.Context, batchID uuid.UUID, at time.Time) (*ReportItem, error)

	// RecordItemResult writes an item's terminal status together with the
	// batch counters. It returns ErrItemNotProcessing if the item was not
	// PROCESSING.
	RecordItemResult(ctx context.Context, result ItemResult) error

	// FinalizeBatch moves a batch with no PROCESSING items to its terminal
	// status: CANCELLING batches skip their PENDING items and become
	// CANCELLED, IN_PROGRESS batches with nothing left become COMPLETED.
	// Batches that cannot be finalized yet are returned unchanged.
	FinalizeBatch(ctx context.Context, id uuid.UUID, at time.Time) (*ReportBatch, error)

	// FailProcessingItems marks every PROCESSING item of a batch FAILED with
	// reason. It is used when the process that claimed them is gone.
	FailProcessingItems(ctx context.Context, batchID uuid.UUID, reason string, at time.Time) (int, error)

	ListItems(ctx context.Context, batchID uuid.UUID, status ItemStatus) ([]*ReportItem, error)
	CountItemsByType(ctx context.Context, batchID uuid.UUID) (map[ItemType]TypeCounts, error)

	MarkDistributed(ctx context.Context, batchID uuid.UUID, at time.Time) error

	// ListStalledBatches returns IN_PROGRESS batches whose counters have not
	// changed since cutoff.
	ListStalledBatches(ctx context.Context, cutoff time.Time) ([]*ReportBatch, error)
}

// DistributionStore persists distribution tasks keyed by item and channel.
type DistributionStore interface {
	// EnsureTask returns the existing task for (item, channel) or creates a
	// PENDING one.
	EnsureTask(ctx context.Context, task *DistributionTask) (*DistributionTask, error)

	// UpdateTask records the outcome of a delivery attempt.
	UpdateTask(ctx context.Context, task *DistributionTask) error

	ListTasks(ctx context.Context, batchID uuid.UUID) ([]*DistributionTask, error)
}

// RenderResult is a successfully rendered artifact.
type RenderResult struct {
	ArtifactPath string
}

// ItemRenderer produces the artifact for one item. A returned error is the
// item's failure reason; it never aborts the batch.
type ItemRenderer interface {
	Render(ctx context.Context, itemType ItemType, targetEntityID uuid.UUID) (RenderResult, error)
}

// NotificationChannel delivers a notification over one channel.
type NotificationChannel interface {
	Channel() Channel
	Send(ctx context.Context, n Notification) error
}
