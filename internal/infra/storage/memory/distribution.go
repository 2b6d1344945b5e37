package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/term-closure/internal/domain/reporting"
)

var _ reporting.DistributionStore = (*DistributionStore)(nil)

type taskKey struct {
	itemID  uuid.UUID
	channel reporting.Channel
}

// DistributionStore is an in-memory reporting.DistributionStore.
type DistributionStore struct {
	mu    sync.Mutex
	tasks map[taskKey]*reporting.DistributionTask
	order []taskKey
}

// NewDistributionStore creates an empty DistributionStore.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{tasks: make(map[taskKey]*reporting.DistributionTask)}
}

func (s *DistributionStore) EnsureTask(ctx context.Context, task *reporting.DistributionTask) (*reporting.DistributionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := taskKey{itemID: task.SourceItemID, channel: task.Channel}
	if existing, ok := s.tasks[k]; ok {
		c := *existing
		return &c, nil
	}

	c := *task
	s.tasks[k] = &c
	s.order = append(s.order, k)
	out := c
	return &out, nil
}

func (s *DistributionStore) UpdateTask(ctx context.Context, task *reporting.DistributionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := taskKey{itemID: task.SourceItemID, channel: task.Channel}
	if _, ok := s.tasks[k]; !ok {
		return reporting.ErrTaskNotFound
	}
	c := *task
	s.tasks[k] = &c
	return nil
}

func (s *DistributionStore) ListTasks(ctx context.Context, batchID uuid.UUID) ([]*reporting.DistributionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*reporting.DistributionTask, 0)
	for _, k := range s.order {
		t := s.tasks[k]
		if t.BatchID == batchID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}
