package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/domain/term"
)

func TestTermStore_TransitionIsAtomic(t *testing.T) {
	s := NewTermStore()
	id := uuid.New()
	s.AddTerm(&term.Term{ID: id, Name: "Fall", Status: term.StatusClosing})

	var (
		wins int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TransitionStatus(context.Background(), id, []term.Status{term.StatusClosing}, term.StatusClosed); err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.ErrorIs(t, err, shared.ErrInvalidState)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	got, err := s.GetTerm(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, term.StatusClosed, got.Status)
}

func TestTermStore_NotFound(t *testing.T) {
	s := NewTermStore()
	_, err := s.GetTerm(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDistributionStore_EnsureTaskIsIdempotent(t *testing.T) {
	s := NewDistributionStore()
	ctx := context.Background()
	batchID, itemID := uuid.New(), uuid.New()

	item := &reporting.ReportItem{ID: itemID, BatchID: batchID}

	first, err := s.EnsureTask(ctx, reporting.NewDistributionTask(item, reporting.ChannelEmail, time.Now()))
	require.NoError(t, err)
	first.Status = reporting.DistributionStatusSent
	require.NoError(t, s.UpdateTask(ctx, first))

	second, err := s.EnsureTask(ctx, reporting.NewDistributionTask(item, reporting.ChannelEmail, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, reporting.DistributionStatusSent, second.Status)

	tasks, err := s.ListTasks(ctx, batchID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
