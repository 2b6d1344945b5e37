// Package term models academic terms and the one-way status transition that
// closes them.
package term

import (
	"time"

	"github.com/google/uuid"
)

// Term is an academic period whose records are frozen once it is closed.
type Term struct {
	ID        uuid.UUID
	Name      string
	Status    Status
	UpdatedAt time.Time
}

// IsClosed reports whether the term has reached its terminal status.
func (t *Term) IsClosed() bool { return t.Status == StatusClosed }

// StatusChangedEvent is published when a term moves to CLOSING or CLOSED.
type StatusChangedEvent struct {
	TermID      uuid.UUID
	From        Status
	To          Status
	RequestedBy string
	OccurredAt  time.Time
}
