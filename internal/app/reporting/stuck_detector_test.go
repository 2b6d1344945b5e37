package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/term-closure/internal/domain/events"
	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/infra/storage/memory"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

type fixedTime struct{ now time.Time }

func (f fixedTime) Now() time.Time { return f.now }

func TestStuckBatchDetector_Check(t *testing.T) {
	store := memory.NewBatchStore()
	stalled := startInProgress(t, store, 3)
	pub := &recordingPublisher{}

	d := NewStuckBatchDetector(store, pub, NoopMetrics(), time.Minute, 10*time.Minute,
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))

	t.Run("fresh batch is not stalled", func(t *testing.T) {
		d.timeProvider = fixedTime{now: time.Now().Add(time.Minute)}
		assert.Empty(t, d.Check(context.Background()))
	})

	t.Run("idle batch is reported but left running", func(t *testing.T) {
		d.timeProvider = fixedTime{now: time.Now().Add(30 * time.Minute)}
		found := d.Check(context.Background())
		require.Len(t, found, 1)
		assert.Equal(t, stalled.ID, found[0].ID)
		assert.Equal(t, []events.EventType{events.EventTypeBatchStalled}, pub.types())

		b, err := store.GetBatch(context.Background(), stalled.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusInProgress, b.Status)
	})
}

func TestStuckBatchDetector_StartStop(t *testing.T) {
	d := NewStuckBatchDetector(memory.NewBatchStore(), nil, NoopMetrics(), 5*time.Millisecond, time.Minute,
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))

	d.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("detector did not stop")
	}
}
