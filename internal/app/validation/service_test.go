package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/term"
	domain "github.com/ahrav/term-closure/internal/domain/validation"
	"github.com/ahrav/term-closure/internal/infra/storage/memory"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

type fixedTime struct{ t time.Time }

func (f fixedTime) Now() time.Time { return f.t }

// failingRoster wraps a roster and fails selected reads.
type failingRoster struct {
	*memory.Roster
	failEnrollments uuid.UUID
	failAssessments uuid.UUID
}

func (f *failingRoster) ListEnrollments(ctx context.Context, classID uuid.UUID) ([]roster.Enrollment, error) {
	if classID == f.failEnrollments {
		return nil, errors.New("connection reset")
	}
	return f.Roster.ListEnrollments(ctx, classID)
}

func (f *failingRoster) AssessmentSummary(ctx context.Context, termID, studentID uuid.UUID) (roster.AssessmentSummary, error) {
	if studentID == f.failAssessments {
		return roster.AssessmentSummary{}, errors.New("timeout")
	}
	return f.Roster.AssessmentSummary(ctx, termID, studentID)
}

type fixture struct {
	termID      uuid.UUID
	classA      uuid.UUID
	classB      uuid.UUID
	complete    uuid.UUID
	noFinal     uuid.UUID
	noAssess    uuid.UUID
	instructorA uuid.UUID
	terms       *memory.TermStore
	roster      *memory.Roster
}

func newFixture(status term.Status) *fixture {
	f := &fixture{
		termID:      uuid.New(),
		classA:      uuid.New(),
		classB:      uuid.New(),
		complete:    uuid.New(),
		noFinal:     uuid.New(),
		noAssess:    uuid.New(),
		instructorA: uuid.New(),
		terms:       memory.NewTermStore(),
		roster:      memory.NewRoster(),
	}
	f.terms.AddTerm(&term.Term{ID: f.termID, Name: "Fall 2025", Status: status})

	f.roster.AddClass(roster.ClassGroup{ID: f.classA, TermID: f.termID, Name: "Math", InstructorID: f.instructorA})
	f.roster.AddClass(roster.ClassGroup{ID: f.classB, TermID: f.termID, Name: "Art"})
	f.roster.SetAttendance(f.classA, 40)

	f.roster.Enroll(f.classA, f.complete, roster.Contact{Name: "Ada"})
	f.roster.Enroll(f.classA, f.noFinal, roster.Contact{Name: "Ben"})
	f.roster.Enroll(f.classB, f.noAssess, roster.Contact{Name: "Cy"})
	f.roster.Enroll(f.classB, f.complete, roster.Contact{Name: "Ada"})

	f.roster.SetAssessments(f.complete, 3, true)
	f.roster.SetAssessments(f.noFinal, 2, false)
	return f
}

func newTestService(terms term.Repository, r roster.Reader) *Service {
	svc := NewService(terms, r, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	svc.timeProvider = fixedTime{time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)}
	return svc
}

func codesOf(r *domain.Report) map[string][]uuid.UUID {
	out := make(map[string][]uuid.UUID)
	for _, f := range r.Findings {
		out[f.Code] = append(out[f.Code], f.AffectedEntityID)
	}
	return out
}

func TestValidate_Findings(t *testing.T) {
	f := newFixture(term.StatusActive)
	svc := newTestService(f.terms, f.roster)

	report, err := svc.Validate(context.Background(), f.termID)
	require.NoError(t, err)

	codes := codesOf(report)
	assert.Equal(t, []uuid.UUID{f.noAssess}, codes[domain.CodeStudentMissingAssessment])
	assert.Equal(t, []uuid.UUID{f.noFinal}, codes[domain.CodeStudentMissingFinalGrade])
	assert.Equal(t, []uuid.UUID{f.classB}, codes[domain.CodeClassMissingInstructor])
	assert.Equal(t, []uuid.UUID{f.classB}, codes[domain.CodeClassNoAttendance])
	assert.True(t, report.HasErrors())
	assert.Equal(t, domain.SeverityError, report.Findings[0].Severity)

	assert.Equal(t, 3, report.Summary.TotalStudents)
	assert.Equal(t, 1, report.Summary.StudentsWithCompleteData)
	assert.Equal(t, 2, report.Summary.TotalClasses)
	assert.Equal(t, 1, report.Summary.ClassesWithCompleteData)
	// 3 student reports + 3 parent notifications + 2 summaries + 2 evaluations + 1 management.
	assert.Equal(t, 11, report.Summary.EstimatedItemCount)
}

func TestValidate_IsDeterministic(t *testing.T) {
	f := newFixture(term.StatusActive)
	svc := newTestService(f.terms, f.roster)

	first, err := svc.Validate(context.Background(), f.termID)
	require.NoError(t, err)
	second, err := svc.Validate(context.Background(), f.termID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestValidate_UnknownTerm(t *testing.T) {
	f := newFixture(term.StatusActive)
	svc := newTestService(f.terms, f.roster)
	unknown := uuid.New()

	report, err := svc.Validate(context.Background(), unknown)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, domain.CodeTermNotFound, report.Findings[0].Code)
	assert.Equal(t, domain.SeverityError, report.Findings[0].Severity)
	assert.Equal(t, unknown, report.TermID)
}

func TestValidate_ClosedTerm(t *testing.T) {
	f := newFixture(term.StatusClosed)
	svc := newTestService(f.terms, f.roster)

	report, err := svc.Validate(context.Background(), f.termID)
	require.NoError(t, err)
	assert.Contains(t, codesOf(report), domain.CodeTermAlreadyClosed)
}

func TestValidate_NoClasses(t *testing.T) {
	terms := memory.NewTermStore()
	id := uuid.New()
	terms.AddTerm(&term.Term{ID: id, Name: "Empty", Status: term.StatusPlanning})
	svc := newTestService(terms, memory.NewRoster())

	report, err := svc.Validate(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, domain.CodeNoClasses, report.Findings[0].Code)
	assert.False(t, report.HasErrors())
	assert.Equal(t, 1, report.Summary.EstimatedItemCount)
}

func TestValidate_DataSourceFailuresBecomeWarnings(t *testing.T) {
	f := newFixture(term.StatusActive)
	r := &failingRoster{Roster: f.roster, failEnrollments: f.classB, failAssessments: f.noFinal}
	svc := newTestService(f.terms, r)

	report, err := svc.Validate(context.Background(), f.termID)
	require.NoError(t, err)

	codes := codesOf(report)
	assert.ElementsMatch(t, []uuid.UUID{f.classB, f.noFinal}, codes[domain.CodeDataUnavailable])
	for _, finding := range report.Findings {
		if finding.Code == domain.CodeDataUnavailable {
			assert.Equal(t, domain.SeverityWarning, finding.Severity)
		}
	}
	// Class B's students were never read, so Cy is not reported.
	assert.NotContains(t, codes, domain.CodeStudentMissingAssessment)
}

func TestValidate_ContextCancelled(t *testing.T) {
	f := newFixture(term.StatusActive)
	svc := newTestService(f.terms, &cancellingRoster{Roster: f.roster})

	ctx, cancel := context.WithCancel(context.Background())
	svc.roster.(*cancellingRoster).cancel = cancel

	_, err := svc.Validate(ctx, f.termID)
	assert.ErrorIs(t, err, context.Canceled)
}

type cancellingRoster struct {
	*memory.Roster
	cancel context.CancelFunc
}

func (c *cancellingRoster) ListClasses(ctx context.Context, termID uuid.UUID) ([]roster.ClassGroup, error) {
	c.cancel()
	return nil, ctx.Err()
}
