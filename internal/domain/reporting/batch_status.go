package reporting

import "fmt"

// BatchStatus represents the lifecycle of a report batch.
type BatchStatus string

const (
	// BatchStatusInitiated indicates the batch and its items have been created.
	BatchStatusInitiated BatchStatus = "INITIATED"

	// BatchStatusValidating indicates the expanded items are being checked
	// for internal consistency before any work is dispatched.
	BatchStatusValidating BatchStatus = "VALIDATING"

	// BatchStatusInProgress indicates workers are claiming and rendering items.
	BatchStatusInProgress BatchStatus = "IN_PROGRESS"

	// BatchStatusCancelling indicates cancellation was requested. Workers stop
	// claiming new items; items already processing are allowed to finish.
	BatchStatusCancelling BatchStatus = "CANCELLING"

	// BatchStatusCancelled is terminal: unclaimed items were skipped.
	BatchStatusCancelled BatchStatus = "CANCELLED"

	// BatchStatusCompleted is terminal: every item completed or failed.
	BatchStatusCompleted BatchStatus = "COMPLETED"
)

func (s BatchStatus) String() string { return string(s) }

// ParseBatchStatus converts a string to a BatchStatus.
func ParseBatchStatus(s string) BatchStatus {
	switch s {
	case "INITIATED":
		return BatchStatusInitiated
	case "VALIDATING":
		return BatchStatusValidating
	case "IN_PROGRESS":
		return BatchStatusInProgress
	case "CANCELLING":
		return BatchStatusCancelling
	case "CANCELLED":
		return BatchStatusCancelled
	case "COMPLETED":
		return BatchStatusCompleted
	default:
		return "" // represents unspecified
	}
}

// IsTerminal reports whether the batch can no longer change.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCancelled
}

// ActiveBatchStatuses are the non-terminal statuses. At most one batch per
// term may be in any of them.
var ActiveBatchStatuses = []BatchStatus{
	BatchStatusInitiated,
	BatchStatusValidating,
	BatchStatusInProgress,
	BatchStatusCancelling,
}

// CancellableBatchStatuses are the statuses from which a cancel request moves
// the batch to CANCELLING.
var CancellableBatchStatuses = []BatchStatus{
	BatchStatusInitiated,
	BatchStatusValidating,
	BatchStatusInProgress,
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s BatchStatus) ValidateTransition(target BatchStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid batch status transition from %s to %s", s, target)
	}
	return nil
}

func (s BatchStatus) isValidTransition(target BatchStatus) bool {
	switch s {
	case BatchStatusInitiated:
		return target == BatchStatusValidating || target == BatchStatusCancelling
	case BatchStatusValidating:
		// Zero-item batches complete straight from VALIDATING.
		return target == BatchStatusInProgress ||
			target == BatchStatusCompleted ||
			target == BatchStatusCancelling
	case BatchStatusInProgress:
		return target == BatchStatusCompleted || target == BatchStatusCancelling
	case BatchStatusCancelling:
		return target == BatchStatusCancelled
	case BatchStatusCompleted, BatchStatusCancelled:
		return false
	default:
		return false
	}
}
