package reporting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ItemType is the closed set of artifacts a batch can produce. Renderers
// dispatch on it rather than on concrete types.
type ItemType string

const (
	ItemTypeStudentReport      ItemType = "STUDENT_REPORT"
	ItemTypeClassSummary       ItemType = "CLASS_SUMMARY"
	ItemTypeTeacherEvaluation  ItemType = "TEACHER_EVALUATION"
	ItemTypeParentNotification ItemType = "PARENT_NOTIFICATION"
	ItemTypeManagementSummary  ItemType = "MANAGEMENT_SUMMARY"
)

// AllItemTypes lists item types in reporting order.
var AllItemTypes = []ItemType{
	ItemTypeStudentReport,
	ItemTypeClassSummary,
	ItemTypeTeacherEvaluation,
	ItemTypeParentNotification,
	ItemTypeManagementSummary,
}

func (t ItemType) String() string { return string(t) }

// ParseItemType converts a string to an ItemType.
func ParseItemType(s string) ItemType {
	for _, t := range AllItemTypes {
		if string(t) == s {
			return t
		}
	}
	return ""
}

// ItemStatus represents the lifecycle of a single report item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusCompleted  ItemStatus = "COMPLETED"
	ItemStatusFailed     ItemStatus = "FAILED"
	ItemStatusSkipped    ItemStatus = "SKIPPED"
)

func (s ItemStatus) String() string { return string(s) }

// ParseItemStatus converts a string to an ItemStatus.
func ParseItemStatus(s string) ItemStatus {
	switch s {
	case "PENDING":
		return ItemStatusPending
	case "PROCESSING":
		return ItemStatusProcessing
	case "COMPLETED":
		return ItemStatusCompleted
	case "FAILED":
		return ItemStatusFailed
	case "SKIPPED":
		return ItemStatusSkipped
	default:
		return ""
	}
}

// IsTerminal reports whether the item has finished.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed || s == ItemStatusSkipped
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s ItemStatus) ValidateTransition(target ItemStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid item status transition from %s to %s", s, target)
	}
	return nil
}

func (s ItemStatus) isValidTransition(target ItemStatus) bool {
	switch s {
	case ItemStatusPending:
		return target == ItemStatusProcessing || target == ItemStatusSkipped
	case ItemStatusProcessing:
		return target == ItemStatusCompleted || target == ItemStatusFailed
	default:
		return false
	}
}

// maxErrorDetailLen bounds stored failure reasons.
const maxErrorDetailLen = 500

// ReportItem is one unit of rendering work inside a batch. Only the worker
// that claimed an item may move it out of PROCESSING.
type ReportItem struct {
	ID             uuid.UUID
	BatchID        uuid.UUID
	Type           ItemType
	TargetEntityID uuid.UUID
	Subject        string
	Priority       int
	Status         ItemStatus
	ArtifactPath   string
	ErrorDetail    string
	AttemptCount   int
	StartedAt      time.Time
	CompletedAt    time.Time
}

// NewReportItem returns a PENDING item.
func NewReportItem(batchID uuid.UUID, typ ItemType, target uuid.UUID, subject string) *ReportItem {
	return &ReportItem{
		ID:             uuid.New(),
		BatchID:        batchID,
		Type:           typ,
		TargetEntityID: target,
		Subject:        subject,
		Status:         ItemStatusPending,
	}
}

// ItemResult is the outcome a worker writes back after rendering an item.
type ItemResult struct {
	ItemID       uuid.UUID
	BatchID      uuid.UUID
	Status       ItemStatus
	ArtifactPath string
	ErrorDetail  string
	At           time.Time
}

// CompletedResult builds a successful result.
func CompletedResult(item *ReportItem, artifactPath string, at time.Time) ItemResult {
	return ItemResult{
		ItemID:       item.ID,
		BatchID:      item.BatchID,
		Status:       ItemStatusCompleted,
		ArtifactPath: artifactPath,
		At:           at,
	}
}

// FailedResult builds a failed result. Long reasons are truncated.
func FailedResult(item *ReportItem, reason string, at time.Time) ItemResult {
	return ItemResult{
		ItemID:      item.ID,
		BatchID:     item.BatchID,
		Status:      ItemStatusFailed,
		ErrorDetail: TruncateDetail(reason),
		At:          at,
	}
}

// TruncateDetail caps a failure reason at the stored length.
func TruncateDetail(s string) string {
	if len(s) <= maxErrorDetailLen {
		return s
	}
	return s[:maxErrorDetailLen]
}
