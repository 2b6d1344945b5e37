package closure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	apprep "github.com/ahrav/term-closure/internal/app/reporting"
	appval "github.com/ahrav/term-closure/internal/app/validation"
	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/domain/term"
	"github.com/ahrav/term-closure/internal/infra/storage/memory"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

type renderFunc func(ctx context.Context, t reporting.ItemType, target uuid.UUID) (reporting.RenderResult, error)

func (f renderFunc) Render(ctx context.Context, t reporting.ItemType, target uuid.UUID) (reporting.RenderResult, error) {
	return f(ctx, t, target)
}

type countingChannel struct {
	mu   sync.Mutex
	sent int
}

func (c *countingChannel) Channel() reporting.Channel { return reporting.ChannelEmail }

func (c *countingChannel) Send(context.Context, reporting.Notification) error {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

type harness struct {
	termID     uuid.UUID
	studentIDs []uuid.UUID
	failing    map[uuid.UUID]bool

	terms     *memory.TermStore
	roster    *memory.Roster
	scheduler *apprep.BatchScheduler
	email     *countingChannel
	coord     *Coordinator
}

// newHarness seeds a term with one fully recorded class of n students.
func newHarness(t *testing.T, status term.Status, n int, threshold float64) *harness {
	t.Helper()

	h := &harness{
		termID:  uuid.New(),
		failing: make(map[uuid.UUID]bool),
		terms:   memory.NewTermStore(),
		roster:  memory.NewRoster(),
		email:   &countingChannel{},
	}
	h.terms.AddTerm(&term.Term{ID: h.termID, Name: "Fall 2025", Status: status})

	classID, instructorID := uuid.New(), uuid.New()
	h.roster.AddClass(roster.ClassGroup{ID: classID, TermID: h.termID, Name: "Algebra", InstructorID: instructorID, InstructorName: "Ada"})
	h.roster.AddInstructor(instructorID, roster.Contact{Name: "Ada", Email: "ada@school.test"})
	h.roster.SetAttendance(classID, 30)
	for i := 0; i < n; i++ {
		sid := uuid.New()
		h.studentIDs = append(h.studentIDs, sid)
		h.roster.Enroll(classID, sid, roster.Contact{
			Name:          fmt.Sprintf("Student %d", i+1),
			Email:         fmt.Sprintf("s%d@school.test", i+1),
			GuardianEmail: fmt.Sprintf("p%d@home.test", i+1),
		})
		h.roster.SetAssessments(sid, 4, true)
	}

	log := logger.Noop()
	tracer := noop.NewTracerProvider().Tracer("test")
	batches := memory.NewBatchStore()

	renderer := renderFunc(func(_ context.Context, _ reporting.ItemType, target uuid.UUID) (reporting.RenderResult, error) {
		if h.failing[target] {
			return reporting.RenderResult{}, errors.New("render failed")
		}
		return reporting.RenderResult{ArtifactPath: "/artifacts/" + target.String()}, nil
	})
	h.scheduler = apprep.NewBatchScheduler(batches, h.roster, renderer, nil, apprep.NoopMetrics(),
		apprep.SchedulerConfig{WorkerCount: 3, StorageRetryAttempts: 1, StorageRetryInterval: time.Millisecond},
		log, tracer)
	distributor := apprep.NewDistributionCoordinator(batches, memory.NewDistributionStore(), h.roster,
		[]reporting.NotificationChannel{h.email}, nil, apprep.NoopMetrics(),
		apprep.DistributionConfig{RatePerSecond: 1000, Burst: 100}, log, tracer)

	h.coord = NewCoordinator(h.terms, appval.NewService(h.terms, h.roster, log, tracer),
		h.scheduler, distributor, nil, threshold, log, tracer)
	return h
}

func (h *harness) generate(t *testing.T, cfg GenerationConfig) uuid.UUID {
	t.Helper()
	if cfg.RequestedBy == "" {
		cfg.RequestedBy = "registrar"
	}
	res, err := h.coord.RequestGeneration(context.Background(), h.termID, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.scheduler.Wait(ctx, res.BatchID))
	return res.BatchID
}

func (h *harness) termStatus(t *testing.T) term.Status {
	t.Helper()
	got, err := h.terms.GetTerm(context.Background(), h.termID)
	require.NoError(t, err)
	return got.Status
}

func studentReports() reporting.ItemSelection {
	return reporting.ItemSelection{IncludeStudentReports: true}
}

func TestRequestClosure_InclusiveThreshold(t *testing.T) {
	h := newHarness(t, term.StatusActive, 10, 0.25)
	h.failing[h.studentIDs[2]] = true
	h.failing[h.studentIDs[6]] = true

	h.generate(t, GenerationConfig{Selection: studentReports()})
	assert.Equal(t, term.StatusClosing, h.termStatus(t))

	res, err := h.coord.RequestClosure(context.Background(), h.termID, "principal")
	require.NoError(t, err)
	assert.False(t, res.AlreadyClosed)
	assert.Equal(t, term.StatusClosed, h.termStatus(t))
}

func TestRequestClosure_NotReadyThenCleanRun(t *testing.T) {
	h := newHarness(t, term.StatusActive, 10, DefaultFailureThreshold)
	h.failing[h.studentIDs[0]] = true
	h.failing[h.studentIDs[1]] = true
	ctx := context.Background()

	h.generate(t, GenerationConfig{Selection: studentReports()})

	_, err := h.coord.RequestClosure(ctx, h.termID, "principal")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotReady)
	assert.Contains(t, shared.MessageOf(err), "2 STUDENT_REPORT failed")
	assert.Equal(t, term.StatusClosing, h.termStatus(t))

	// Data fixed; a new batch may be generated while CLOSING.
	h.failing = map[uuid.UUID]bool{}
	h.generate(t, GenerationConfig{Selection: studentReports()})

	_, err = h.coord.RequestClosure(ctx, h.termID, "principal")
	require.NoError(t, err)
	assert.Equal(t, term.StatusClosed, h.termStatus(t))
}

func TestRequestClosure_Idempotent(t *testing.T) {
	h := newHarness(t, term.StatusActive, 2, DefaultFailureThreshold)
	ctx := context.Background()
	h.generate(t, GenerationConfig{Selection: studentReports()})

	first, err := h.coord.RequestClosure(ctx, h.termID, "principal")
	require.NoError(t, err)
	assert.False(t, first.AlreadyClosed)

	second, err := h.coord.RequestClosure(ctx, h.termID, "principal")
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
}

func TestRequestClosure_ConcurrentCallersCloseOnce(t *testing.T) {
	h := newHarness(t, term.StatusActive, 3, DefaultFailureThreshold)
	h.generate(t, GenerationConfig{Selection: studentReports()})

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.coord.RequestClosure(context.Background(), h.termID, "principal")
			if !assert.NoError(t, err) {
				return
			}
			if !res.AlreadyClosed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestRequestClosure_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("active term without generation", func(t *testing.T) {
		h := newHarness(t, term.StatusActive, 1, 0)
		_, err := h.coord.RequestClosure(ctx, h.termID, "principal")
		assert.ErrorIs(t, err, shared.ErrNotReady)
	})

	t.Run("closing term without a batch", func(t *testing.T) {
		h := newHarness(t, term.StatusClosing, 1, 0)
		_, err := h.coord.RequestClosure(ctx, h.termID, "principal")
		assert.ErrorIs(t, err, shared.ErrNotReady)
	})

	t.Run("unknown term", func(t *testing.T) {
		h := newHarness(t, term.StatusActive, 1, 0)
		_, err := h.coord.RequestClosure(ctx, uuid.New(), "principal")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestRequestClosure_EmptyBatchProceeds(t *testing.T) {
	h := newHarness(t, term.StatusActive, 0, 0)
	ctx := context.Background()

	// The class has no students, so a student-only run produces no items.
	res, err := h.coord.RequestGeneration(ctx, h.termID, GenerationConfig{Selection: studentReports(), RequestedBy: "registrar"})
	require.NoError(t, err)

	p, err := h.coord.GetBatchStatus(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, reporting.BatchStatusCompleted, p.Status)

	_, err = h.coord.RequestClosure(ctx, h.termID, "principal")
	require.NoError(t, err)
}

func TestRequestClosure_AutoDistribute(t *testing.T) {
	h := newHarness(t, term.StatusActive, 3, 0)
	h.generate(t, GenerationConfig{Selection: studentReports(), AutoDistribute: true})

	res, err := h.coord.RequestClosure(context.Background(), h.termID, "principal")
	require.NoError(t, err)
	require.NotNil(t, res.Distribution)
	assert.Empty(t, res.DistributionError)
	// Only the email channel is configured; portal tasks fail independently.
	assert.Equal(t, 3, res.Distribution.Sent)
	assert.Equal(t, 3, res.Distribution.Failed)
	assert.Equal(t, 3, h.email.sent)
}

func TestRequestGeneration_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("closed term", func(t *testing.T) {
		h := newHarness(t, term.StatusClosed, 1, 0)
		_, err := h.coord.RequestGeneration(ctx, h.termID, GenerationConfig{RequestedBy: "registrar"})
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("unknown term", func(t *testing.T) {
		h := newHarness(t, term.StatusActive, 1, 0)
		_, err := h.coord.RequestGeneration(ctx, uuid.New(), GenerationConfig{RequestedBy: "registrar"})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("validation errors block unless overridden", func(t *testing.T) {
		h := newHarness(t, term.StatusActive, 2, 0)
		h.roster.SetAssessments(h.studentIDs[0], 0, false)

		_, err := h.coord.RequestGeneration(ctx, h.termID, GenerationConfig{Selection: studentReports(), RequestedBy: "registrar"})
		require.ErrorIs(t, err, shared.ErrInvalidState)
		assert.Contains(t, shared.MessageOf(err), "STUDENT_MISSING_ASSESSMENTS")
		assert.Equal(t, term.StatusActive, h.termStatus(t))

		id := h.generate(t, GenerationConfig{Selection: studentReports(), OverrideValidationErrors: true})
		assert.NotEqual(t, uuid.Nil, id)
		assert.Equal(t, term.StatusClosing, h.termStatus(t))
	})

	t.Run("active batch conflicts", func(t *testing.T) {
		h := newHarness(t, term.StatusActive, 2, 0)
		release := make(chan struct{})
		started := make(chan struct{}, 16)
		h.scheduler = apprep.NewBatchScheduler(memory.NewBatchStore(), h.roster,
			renderFunc(func(context.Context, reporting.ItemType, uuid.UUID) (reporting.RenderResult, error) {
				started <- struct{}{}
				<-release
				return reporting.RenderResult{ArtifactPath: "/a"}, nil
			}),
			nil, apprep.NoopMetrics(), apprep.SchedulerConfig{WorkerCount: 1}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
		h.coord.batches = h.scheduler

		first, err := h.coord.RequestGeneration(ctx, h.termID, GenerationConfig{Selection: studentReports(), RequestedBy: "registrar"})
		require.NoError(t, err)
		<-started

		_, err = h.coord.RequestGeneration(ctx, h.termID, GenerationConfig{Selection: studentReports(), RequestedBy: "registrar"})
		assert.ErrorIs(t, err, shared.ErrConflict)

		p, err := h.coord.CancelBatch(ctx, first.BatchID, "registrar")
		require.NoError(t, err)
		assert.Equal(t, reporting.BatchStatusCancelling, p.Status)

		close(release)
		require.NoError(t, h.scheduler.Wait(ctx, first.BatchID))

		p, err = h.coord.GetBatchStatus(ctx, first.BatchID)
		require.NoError(t, err)
		assert.Equal(t, reporting.BatchStatusCancelled, p.Status)
		assert.Equal(t, 1, p.Completed)
		assert.Equal(t, 1, p.Skipped)
	})
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, term.StatusActive, 3, 0)
	report, err := h.coord.RequestValidation(context.Background(), h.termID)
	require.NoError(t, err)
	assert.False(t, report.HasErrors())
	assert.Equal(t, 3, report.Summary.TotalStudents)
	assert.Equal(t, term.StatusActive, h.termStatus(t), "validation does not mutate the term")
}

func TestRequestClosure_RegenerationDoesNotReplaceGenerationBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, term.StatusActive, 10, DefaultFailureThreshold)
	for _, sid := range h.studentIDs[:5] {
		h.failing[sid] = true
	}

	genID := h.generate(t, GenerationConfig{Selection: studentReports()})
	_, err := h.coord.RequestClosure(ctx, h.termID, "principal")
	require.ErrorIs(t, err, shared.ErrNotReady)

	regenID, err := h.coord.RequestRegeneration(ctx, h.termID, reporting.ItemTypeStudentReport, h.studentIDs[9], "registrar")
	require.NoError(t, err)
	require.NoError(t, h.scheduler.Wait(ctx, regenID))

	latest, err := h.scheduler.LatestBatch(ctx, h.termID)
	require.NoError(t, err)
	assert.Equal(t, regenID, latest.ID)
	assert.Equal(t, reporting.ReportTypeRegeneration, latest.ReportType)

	gen, err := h.scheduler.LatestGenerationBatch(ctx, h.termID)
	require.NoError(t, err)
	assert.Equal(t, genID, gen.ID)

	_, err = h.coord.RequestClosure(ctx, h.termID, "principal")
	require.ErrorIs(t, err, shared.ErrNotReady)
	assert.Contains(t, shared.MessageOf(err), "5 failed vs 5 completed")
	assert.Equal(t, term.StatusClosing, h.termStatus(t))
}

func TestRequestClosure_RunningRegenerationBlocksClosure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, term.StatusActive, 2, 0)

	var block atomic.Bool
	gate := make(chan struct{})
	h.scheduler = apprep.NewBatchScheduler(memory.NewBatchStore(), h.roster,
		renderFunc(func(_ context.Context, _ reporting.ItemType, target uuid.UUID) (reporting.RenderResult, error) {
			if block.Load() {
				<-gate
			}
			return reporting.RenderResult{ArtifactPath: "/artifacts/" + target.String()}, nil
		}),
		nil, apprep.NoopMetrics(), apprep.SchedulerConfig{WorkerCount: 1}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	h.coord.batches = h.scheduler

	h.generate(t, GenerationConfig{Selection: studentReports()})

	block.Store(true)
	regenID, err := h.coord.RequestRegeneration(ctx, h.termID, reporting.ItemTypeStudentReport, h.studentIDs[0], "registrar")
	require.NoError(t, err)

	_, err = h.coord.RequestClosure(ctx, h.termID, "principal")
	require.ErrorIs(t, err, shared.ErrNotReady)
	assert.Contains(t, shared.MessageOf(err), "regeneration batch")

	close(gate)
	require.NoError(t, h.scheduler.Wait(ctx, regenID))

	_, err = h.coord.RequestClosure(ctx, h.termID, "principal")
	require.NoError(t, err)
	assert.Equal(t, term.StatusClosed, h.termStatus(t))
}

func TestRequestRegeneration_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("closed term", func(t *testing.T) {
		h := newHarness(t, term.StatusClosed, 1, 0)
		_, err := h.coord.RequestRegeneration(ctx, h.termID, reporting.ItemTypeStudentReport, h.studentIDs[0], "registrar")
		assert.ErrorIs(t, err, shared.ErrInvalidState)

		batches, err := h.scheduler.ListBatches(ctx, h.termID)
		require.NoError(t, err)
		assert.Empty(t, batches)
	})

	t.Run("unknown term", func(t *testing.T) {
		h := newHarness(t, term.StatusActive, 1, 0)
		_, err := h.coord.RequestRegeneration(ctx, uuid.New(), reporting.ItemTypeStudentReport, h.studentIDs[0], "registrar")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("closing term leaves status unchanged", func(t *testing.T) {
		h := newHarness(t, term.StatusClosing, 1, 0)
		id, err := h.coord.RequestRegeneration(ctx, h.termID, reporting.ItemTypeStudentReport, h.studentIDs[0], "registrar")
		require.NoError(t, err)
		require.NoError(t, h.scheduler.Wait(ctx, id))

		p, err := h.coord.GetBatchStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, reporting.BatchStatusCompleted, p.Status)
		assert.Equal(t, 1, p.Completed)
		assert.Equal(t, term.StatusClosing, h.termStatus(t))
	})
}

func TestRequestClosure_ZeroThresholdRejectsAnyFailure(t *testing.T) {
	h := newHarness(t, term.StatusActive, 11, 0)
	h.failing[h.studentIDs[4]] = true

	h.generate(t, GenerationConfig{Selection: studentReports()})

	_, err := h.coord.RequestClosure(context.Background(), h.termID, "principal")
	require.ErrorIs(t, err, shared.ErrNotReady)
	assert.Contains(t, shared.MessageOf(err), "1 failed vs 10 completed")
	assert.Equal(t, term.StatusClosing, h.termStatus(t))
}

func TestNewCoordinator_ThresholdFallback(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero is honored", 0, 0},
		{"explicit value", 0.3, 0.3},
		{"negative falls back", -1, DefaultFailureThreshold},
		{"NaN falls back", math.NaN(), DefaultFailureThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(memory.NewTermStore(), nil, nil, nil, nil, tt.in, logger.Noop(), tracer)
			assert.Equal(t, tt.want, c.failureThreshold)
		})
	}
}

// transitionFailingTerms refuses every status change.
type transitionFailingTerms struct{ term.Repository }

func (transitionFailingTerms) TransitionStatus(context.Context, uuid.UUID, []term.Status, term.Status) (*term.Term, error) {
	return nil, errors.New("terms table unavailable")
}

func TestRequestGeneration_TermTransitionFailureKeepsBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, term.StatusActive, 3, 0)
	h.coord.terms = transitionFailingTerms{h.terms}

	res, err := h.coord.RequestGeneration(ctx, h.termID, GenerationConfig{Selection: studentReports(), RequestedBy: "registrar"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.BatchID)
	assert.Contains(t, res.TermTransitionError, "terms table unavailable")
	require.NoError(t, h.scheduler.Wait(ctx, res.BatchID))

	p, err := h.coord.GetBatchStatus(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, reporting.BatchStatusCompleted, p.Status)
	assert.Equal(t, term.StatusActive, h.termStatus(t))
}
