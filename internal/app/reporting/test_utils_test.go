package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/term-closure/internal/domain/events"
	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/infra/storage/memory"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

type stubRenderer struct {
	fn func(ctx context.Context, t domain.ItemType, target uuid.UUID) (domain.RenderResult, error)
}

func (r *stubRenderer) Render(ctx context.Context, t domain.ItemType, target uuid.UUID) (domain.RenderResult, error) {
	if r.fn == nil {
		return domain.RenderResult{ArtifactPath: fmt.Sprintf("/artifacts/%s/%s.pdf", t, target)}, nil
	}
	return r.fn(ctx, t, target)
}

// gatedRenderer blocks every render until release is closed and reports each
// render start on started.
type gatedRenderer struct {
	started chan uuid.UUID
	release chan struct{}
}

func newGatedRenderer() *gatedRenderer {
	return &gatedRenderer{started: make(chan uuid.UUID, 1024), release: make(chan struct{})}
}

func (r *gatedRenderer) Render(ctx context.Context, t domain.ItemType, target uuid.UUID) (domain.RenderResult, error) {
	r.started <- target
	<-r.release
	return domain.RenderResult{ArtifactPath: "/artifacts/" + target.String()}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errStorageDown = errors.New("storage unavailable")

// flakyStore fails RecordItemResult according to failResult.
type flakyStore struct {
	*memory.BatchStore

	mu         sync.Mutex
	failResult func(r domain.ItemResult, attempt int) bool
	attempts   map[uuid.UUID]int
}

func newFlakyStore(fail func(r domain.ItemResult, attempt int) bool) *flakyStore {
	return &flakyStore{BatchStore: memory.NewBatchStore(), failResult: fail, attempts: make(map[uuid.UUID]int)}
}

func (f *flakyStore) RecordItemResult(ctx context.Context, r domain.ItemResult) error {
	f.mu.Lock()
	f.attempts[r.ItemID]++
	attempt := f.attempts[r.ItemID]
	f.mu.Unlock()

	if f.failResult(r, attempt) {
		return errStorageDown
	}
	return f.BatchStore.RecordItemResult(ctx, r)
}

type rosterFixture struct {
	termID     uuid.UUID
	classIDs   []uuid.UUID
	studentIDs []uuid.UUID
	roster     *memory.Roster
}

// newRosterFixture builds a term with the given number of students per class.
// Each class gets an instructor; every student has contact details.
func newRosterFixture(studentsPerClass ...int) *rosterFixture {
	f := &rosterFixture{termID: uuid.New(), roster: memory.NewRoster()}
	for ci, n := range studentsPerClass {
		classID, instructorID := uuid.New(), uuid.New()
		f.classIDs = append(f.classIDs, classID)
		f.roster.AddClass(roster.ClassGroup{
			ID:             classID,
			TermID:         f.termID,
			Name:           fmt.Sprintf("Class %d", ci+1),
			InstructorID:   instructorID,
			InstructorName: fmt.Sprintf("Teacher %d", ci+1),
		})
		f.roster.AddInstructor(instructorID, roster.Contact{Name: "Teacher", Email: fmt.Sprintf("teacher%d@school.test", ci+1)})

		for i := 0; i < n; i++ {
			sid := uuid.New()
			f.studentIDs = append(f.studentIDs, sid)
			f.roster.Enroll(classID, sid, roster.Contact{
				Name:          fmt.Sprintf("Student %d-%d", ci+1, i+1),
				Email:         fmt.Sprintf("s%d-%d@school.test", ci+1, i+1),
				GuardianEmail: fmt.Sprintf("p%d-%d@home.test", ci+1, i+1),
			})
		}
	}
	return f
}

func studentsOnly() domain.ItemSelection {
	return domain.ItemSelection{IncludeStudentReports: true}
}

func newTestScheduler(
	store domain.BatchStore,
	r roster.Reader,
	renderer domain.ItemRenderer,
	publisher events.DomainEventPublisher,
	cfg SchedulerConfig,
) *BatchScheduler {
	return NewBatchScheduler(store, r, renderer, publisher, NoopMetrics(), cfg,
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func testSchedulerConfig(workers int) SchedulerConfig {
	return SchedulerConfig{WorkerCount: workers, StorageRetryAttempts: 2, StorageRetryInterval: time.Millisecond}
}

func waitForBatch(t *testing.T, s *BatchScheduler, id uuid.UUID) *domain.ReportBatch {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, id))

	b, err := s.GetBatch(context.Background(), id)
	require.NoError(t, err)
	return b
}

// startInProgress creates a batch directly in the store and moves it to
// IN_PROGRESS without any local workers.
func startInProgress(t *testing.T, store domain.BatchStore, n int) *domain.ReportBatch {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	b := domain.NewReportBatch(uuid.New(), "Fall", studentsOnly(), false, "tester", now)
	items := make([]*domain.ReportItem, 0, n)
	for i := 0; i < n; i++ {
		it := domain.NewReportItem(b.ID, domain.ItemTypeStudentReport, uuid.New(), "Student Report")
		it.Priority = i + 1
		items = append(items, it)
	}
	require.NoError(t, store.CreateBatch(ctx, b, items))
	_, err := store.TransitionBatch(ctx, b.ID, []domain.BatchStatus{domain.BatchStatusInitiated}, domain.BatchStatusValidating, now)
	require.NoError(t, err)
	_, err = store.TransitionBatch(ctx, b.ID, []domain.BatchStatus{domain.BatchStatusValidating}, domain.BatchStatusInProgress, now)
	require.NoError(t, err)
	return b
}

func rosterContact(name string) roster.Contact { return roster.Contact{Name: name} }
