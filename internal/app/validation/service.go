// Package validation checks a term's roster, assessment and attendance data
// for completeness before end-of-term reports are generated.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/domain/term"
	domain "github.com/ahrav/term-closure/internal/domain/validation"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

// defaultReadConcurrency bounds parallel roster reads per validation.
const defaultReadConcurrency = 8

type timeProvider interface{ Now() time.Time }

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Service produces validation reports. It never mutates anything and never
// fails a caller because of missing or unreadable data: such conditions become
// findings in the report.
type Service struct {
	terms  term.Repository
	roster roster.Reader

	readConcurrency int
	timeProvider    timeProvider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService returns a Service reading terms and roster data from the given
// sources.
func NewService(terms term.Repository, rosterReader roster.Reader, logger *logger.Logger, tracer trace.Tracer) *Service {
	logger = logger.With("component", "validation_service")
	return &Service{
		terms:           terms,
		roster:          rosterReader,
		readConcurrency: defaultReadConcurrency,
		timeProvider:    realTimeProvider{},
		logger:          logger,
		tracer:          tracer,
	}
}

type classCheck struct {
	class       roster.ClassGroup
	enrollments []roster.Enrollment
	attendance  int
}

// Validate returns the findings for termID. The only error it returns is the
// context's, when the caller gives up before validation finishes.
func (s *Service) Validate(ctx context.Context, termID uuid.UUID) (*domain.Report, error) {
	logger := s.logger.With("operation", "validate", "term_id", termID)
	ctx, span := s.tracer.Start(ctx, "validation_service.validate",
		trace.WithAttributes(attribute.String("term_id", termID.String())))
	defer span.End()

	report := domain.NewReport(termID, s.timeProvider.Now())

	t, err := s.terms.GetTerm(ctx, termID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, shared.ErrNotFound) {
			span.AddEvent("term_not_found")
			report.AddError(domain.CodeTermNotFound, fmt.Sprintf("term %s not found", termID), termID)
			return report, nil
		}
		span.RecordError(err)
		logger.Warn(ctx, "Failed to load term", "error", err)
		report.AddError(domain.CodeDataUnavailable, "term record could not be read: "+err.Error(), termID)
		return report, nil
	}
	if t.IsClosed() {
		report.AddError(domain.CodeTermAlreadyClosed, fmt.Sprintf("term %s is already closed", t.Name), termID)
	}

	classes, err := s.roster.ListClasses(ctx, termID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		span.RecordError(err)
		logger.Warn(ctx, "Failed to list classes", "error", err)
		report.AddError(domain.CodeDataUnavailable, "class list could not be read: "+err.Error(), termID)
		return report, nil
	}
	span.SetAttributes(attribute.Int("class_count", len(classes)))

	if len(classes) == 0 {
		report.AddWarning(domain.CodeNoClasses, "term has no classes; generation will produce no class or student items", termID)
		report.Summary.EstimatedItemCount = reporting.FullSelection().EstimateItemCount(0, 0)
		report.Summary.EstimatedDuration = domain.EstimateDuration(report.Summary.EstimatedItemCount)
		report.Sort()
		return report, nil
	}

	var mu sync.Mutex
	checks, err := s.checkClasses(ctx, report, &mu, classes)
	if err != nil {
		return nil, err
	}

	students := distinctStudents(checks)
	complete, err := s.checkStudents(ctx, report, &mu, termID, students)
	if err != nil {
		return nil, err
	}

	classesComplete := 0
	for _, c := range checks {
		if c.class.HasInstructor() && len(c.enrollments) > 0 && c.attendance > 0 {
			classesComplete++
		}
	}

	report.Summary.TotalClasses = len(classes)
	report.Summary.ClassesWithCompleteData = classesComplete
	report.Summary.TotalStudents = len(students)
	report.Summary.StudentsWithCompleteData = complete
	report.Summary.EstimatedItemCount = reporting.FullSelection().EstimateItemCount(len(students), len(classes))
	report.Summary.EstimatedDuration = domain.EstimateDuration(report.Summary.EstimatedItemCount)
	report.Sort()

	span.SetAttributes(
		attribute.Int("finding_count", len(report.Findings)),
		attribute.Bool("has_errors", report.HasErrors()),
	)
	span.SetStatus(codes.Ok, "term validated")
	logger.Info(ctx, "Term validated",
		"findings", len(report.Findings),
		"errors", len(report.Errors()),
		"students", len(students),
		"classes", len(classes),
	)

	return report, nil
}

func (s *Service) checkClasses(
	ctx context.Context,
	report *domain.Report,
	mu *sync.Mutex,
	classes []roster.ClassGroup,
) ([]classCheck, error) {
	checks := make([]classCheck, len(classes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readConcurrency)
	for i, c := range classes {
		g.Go(func() error {
			check := classCheck{class: c}

			if !c.HasInstructor() {
				mu.Lock()
				report.AddWarning(domain.CodeClassMissingInstructor, fmt.Sprintf("class %s has no instructor", c.Name), c.ID)
				mu.Unlock()
			}

			enrollments, err := s.roster.ListEnrollments(gctx, c.ID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				report.AddWarning(domain.CodeDataUnavailable, fmt.Sprintf("enrollments for class %s could not be read: %v", c.Name, err), c.ID)
				mu.Unlock()
			} else if len(enrollments) == 0 {
				mu.Lock()
				report.AddWarning(domain.CodeClassNoEnrollments, fmt.Sprintf("class %s has no enrolled students", c.Name), c.ID)
				mu.Unlock()
			}
			check.enrollments = enrollments

			attendance, err := s.roster.CountAttendance(gctx, c.ID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				report.AddWarning(domain.CodeDataUnavailable, fmt.Sprintf("attendance for class %s could not be read: %v", c.Name, err), c.ID)
				mu.Unlock()
			} else if attendance == 0 {
				mu.Lock()
				report.AddWarning(domain.CodeClassNoAttendance, fmt.Sprintf("class %s has no attendance records", c.Name), c.ID)
				mu.Unlock()
			}
			check.attendance = attendance

			checks[i] = check
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checks, nil
}

func (s *Service) checkStudents(
	ctx context.Context,
	report *domain.Report,
	mu *sync.Mutex,
	termID uuid.UUID,
	students []roster.Enrollment,
) (int, error) {
	var complete int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readConcurrency)
	for _, st := range students {
		g.Go(func() error {
			summary, err := s.roster.AssessmentSummary(gctx, termID, st.StudentID)
			mu.Lock()
			defer mu.Unlock()

			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.AddWarning(domain.CodeDataUnavailable,
					fmt.Sprintf("assessments for %s could not be read: %v", st.StudentName, err), st.StudentID)
			case summary.AssessmentCount == 0:
				report.AddError(domain.CodeStudentMissingAssessment,
					fmt.Sprintf("%s has no assessment records for the term", st.StudentName), st.StudentID)
			case !summary.HasFinalGrade:
				report.AddWarning(domain.CodeStudentMissingFinalGrade,
					fmt.Sprintf("%s has no final grade recorded", st.StudentName), st.StudentID)
			default:
				complete++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return complete, nil
}

// distinctStudents returns one enrollment per student in first-seen class
// order.
func distinctStudents(checks []classCheck) []roster.Enrollment {
	seen := make(map[uuid.UUID]struct{})
	out := make([]roster.Enrollment, 0)
	for _, c := range checks {
		for _, e := range c.enrollments {
			if _, ok := seen[e.StudentID]; ok {
				continue
			}
			seen[e.StudentID] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
