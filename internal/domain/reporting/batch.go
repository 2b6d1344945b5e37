// Package reporting models end-of-term report batches: the items they expand
// to, the counters that track them, and the distribution of finished
// artifacts.
package reporting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReportBatch is one generation run for a term. Counters are only ever changed
// together with the item they account for, so
// completed+failed+skipped+pending == total holds at every observation.
type ReportBatch struct {
	ID                uuid.UUID
	TermID            uuid.UUID
	Name              string
	ReportType        string
	RequestedBy       string
	Status            BatchStatus
	Selection         ItemSelection
	AutoDistribute    bool
	TotalItemCount    int
	CompletedCount    int
	FailedCount       int
	SkippedCount      int
	CreatedAt         time.Time
	StartedAt         time.Time
	CompletedAt       time.Time
	CancelRequestedAt *time.Time
	LastProgressAt    time.Time
	DistributedAt     *time.Time
}

// NewReportBatch returns an INITIATED batch named after the term.
func NewReportBatch(
	termID uuid.UUID,
	termName string,
	selection ItemSelection,
	autoDistribute bool,
	requestedBy string,
	now time.Time,
) *ReportBatch {
	return &ReportBatch{
		ID:             uuid.New(),
		TermID:         termID,
		Name:           fmt.Sprintf("Semester End Reports - %s - %s", termName, now.Format("20060102-1504")),
		ReportType:     selection.ReportType(),
		RequestedBy:    requestedBy,
		Status:         BatchStatusInitiated,
		Selection:      selection,
		AutoDistribute: autoDistribute,
		CreatedAt:      now,
		LastProgressAt: now,
	}
}

// IsRegeneration reports whether the batch re-runs a single item rather
// than a term-wide generation. Regeneration batches never gate closure.
func (b *ReportBatch) IsRegeneration() bool {
	return b.ReportType == ReportTypeRegeneration
}

// PendingCount is the number of items not yet finished, including items
// currently being processed.
func (b *ReportBatch) PendingCount() int {
	return b.TotalItemCount - b.CompletedCount - b.FailedCount - b.SkippedCount
}

// FailureRateAcceptable reports whether failed <= threshold*completed. The
// boundary is inclusive: 2 failures against 8 completions passes a 0.25
// threshold.
func (b *ReportBatch) FailureRateAcceptable(threshold float64) bool {
	return float64(b.FailedCount) <= threshold*float64(b.CompletedCount)
}

// ActualDuration is the wall time from dispatch to terminal status.
func (b *ReportBatch) ActualDuration() time.Duration {
	if b.StartedAt.IsZero() || b.CompletedAt.IsZero() {
		return 0
	}
	return b.CompletedAt.Sub(b.StartedAt)
}

// Progress is a point-in-time, internally consistent snapshot of a batch.
type Progress struct {
	BatchID           uuid.UUID   `json:"batch_id"`
	TermID            uuid.UUID   `json:"term_id"`
	Status            BatchStatus `json:"status"`
	Total             int         `json:"total_item_count"`
	Completed         int         `json:"completed_item_count"`
	Failed            int         `json:"failed_item_count"`
	Skipped           int         `json:"skipped_item_count"`
	Pending           int         `json:"pending_item_count"`
	Processing        int         `json:"processing_item_count"`
	Percentage        float64     `json:"percentage"`
	CancelRequestedAt *time.Time  `json:"cancel_requested_at,omitempty"`
	LastProgressAt    time.Time   `json:"last_progress_at"`
}

// NewProgress derives a snapshot from a batch and its processing count.
// Pending excludes items currently being processed.
func NewProgress(b *ReportBatch, processing int) *Progress {
	return &Progress{
		BatchID:           b.ID,
		TermID:            b.TermID,
		Status:            b.Status,
		Total:             b.TotalItemCount,
		Completed:         b.CompletedCount,
		Failed:            b.FailedCount,
		Skipped:           b.SkippedCount,
		Pending:           b.PendingCount() - processing,
		Processing:        processing,
		Percentage:        Percentage(b.CompletedCount+b.FailedCount+b.SkippedCount, b.TotalItemCount),
		CancelRequestedAt: b.CancelRequestedAt,
		LastProgressAt:    b.LastProgressAt,
	}
}

// Percentage returns done/total*100, treating an empty batch as fully done.
func Percentage(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

// TypeCounts breaks a batch's items down by status for one item type.
type TypeCounts struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

// Add increments the counter matching status.
func (c *TypeCounts) Add(status ItemStatus, n int) {
	switch status {
	case ItemStatusCompleted:
		c.Completed += n
	case ItemStatusFailed:
		c.Failed += n
	case ItemStatusSkipped:
		c.Skipped += n
	case ItemStatusPending:
		c.Pending += n
	case ItemStatusProcessing:
		c.Processing += n
	}
}
