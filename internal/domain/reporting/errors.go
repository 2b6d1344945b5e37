package reporting

import (
	"errors"

	"github.com/google/uuid"

	"github.com/ahrav/term-closure/internal/domain/shared"
)

var (
	// ErrNoClaimableItem is returned by a claim when no PENDING item is left
	// or the batch no longer accepts claims.
	ErrNoClaimableItem = errors.New("no claimable item")

	// ErrItemNotProcessing is returned when a result is written for an item
	// that is not PROCESSING, for example a duplicate write.
	ErrItemNotProcessing = errors.New("item is not processing")

	// ErrBatchNotFound is wrapped by the NOT_FOUND error stores return for
	// unknown batches.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrTaskNotFound is returned when updating a distribution task that was
	// never created.
	ErrTaskNotFound = errors.New("distribution task not found")
)

// BatchNotFoundError returns a NOT_FOUND domain error for id.
func BatchNotFoundError(id uuid.UUID) error {
	return &shared.Error{Code: shared.CodeNotFound, Message: "batch " + id.String() + " not found", Err: ErrBatchNotFound}
}

// ActiveBatchConflictError returns the CONFLICT error raised when a term
// already has a non-terminal batch.
func ActiveBatchConflictError(termID, activeID uuid.UUID) error {
	return shared.NewConflict("term %s already has an active batch %s", termID, activeID)
}
