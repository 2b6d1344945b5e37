package reporting

import (
	"time"

	"github.com/google/uuid"
)

// BatchStartedEvent is published once a batch is dispatched to workers.
type BatchStartedEvent struct {
	BatchID    uuid.UUID
	TermID     uuid.UUID
	TotalItems int
	OccurredAt time.Time
}

// BatchFinishedEvent is published when a batch reaches COMPLETED or CANCELLED.
type BatchFinishedEvent struct {
	BatchID    uuid.UUID
	TermID     uuid.UUID
	Status     BatchStatus
	Completed  int
	Failed     int
	Skipped    int
	OccurredAt time.Time
}

// BatchStalledEvent is published when an IN_PROGRESS batch has made no
// progress for longer than the configured threshold.
type BatchStalledEvent struct {
	BatchID        uuid.UUID
	TermID         uuid.UUID
	LastProgressAt time.Time
	StalledFor     time.Duration
	OccurredAt     time.Time
}

// BatchDistributedEvent is published after a distribute call.
type BatchDistributedEvent struct {
	BatchID    uuid.UUID
	Sent       int
	Failed     int
	OccurredAt time.Time
}
