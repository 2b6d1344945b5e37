package term

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists terms. Implementations must apply TransitionStatus as a
// single atomic check-then-set so two concurrent callers can never both move a
// term out of the same status.
type Repository interface {
	// GetTerm returns the term or a shared NOT_FOUND error.
	GetTerm(ctx context.Context, id uuid.UUID) (*Term, error)

	// TransitionStatus moves the term to `to` only if its current status is one
	// of `from`. It returns a shared INVALID_STATE error carrying the observed
	// status when the guard fails, and the updated term otherwise.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Term, error)
}
