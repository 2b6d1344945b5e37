package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/shared"
	"github.com/ahrav/term-closure/internal/infra/storage"
)

var _ roster.Reader = (*RosterStore)(nil)

// RosterStore reads classes, enrollments, assessments and attendance.
type RosterStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRosterStore creates a RosterStore.
func NewRosterStore(pool *pgxpool.Pool, tracer trace.Tracer) *RosterStore {
	return &RosterStore{pool: pool, tracer: tracer}
}

const classColumns = `c.id, c.term_id, c.name, c.instructor_id, COALESCE(i.name, '')`

func scanClass(row pgx.Row) (roster.ClassGroup, error) {
	var (
		c            roster.ClassGroup
		instructorID pgtype.UUID
	)
	if err := row.Scan(&c.ID, &c.TermID, &c.Name, &instructorID, &c.InstructorName); err != nil {
		return roster.ClassGroup{}, err
	}
	if instructorID.Valid {
		c.InstructorID = instructorID.Bytes
	}
	return c, nil
}

func (s *RosterStore) ListClasses(ctx context.Context, termID uuid.UUID) ([]roster.ClassGroup, error) {
	attrs := storage.Attrs(attribute.String("term_id", termID.String()))

	var classes []roster.ClassGroup
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.roster.list_classes", attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+classColumns+`
			FROM classes c LEFT JOIN instructors i ON i.id = c.instructor_id
			WHERE c.term_id = $1
			ORDER BY c.seq`, termID)
		if err != nil {
			return fmt.Errorf("failed to list classes: %w", err)
		}
		classes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (roster.ClassGroup, error) {
			return scanClass(row)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return classes, nil
}

func (s *RosterStore) GetClass(ctx context.Context, classID uuid.UUID) (roster.ClassGroup, error) {
	attrs := storage.Attrs(attribute.String("class_id", classID.String()))

	var c roster.ClassGroup
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.roster.get_class", attrs, func(ctx context.Context) error {
		var err error
		c, err = scanClass(s.pool.QueryRow(ctx, `
			SELECT `+classColumns+`
			FROM classes c LEFT JOIN instructors i ON i.id = c.instructor_id
			WHERE c.id = $1`, classID))
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NewNotFound("class %s not found", classID)
		}
		return err
	})
	return c, err
}

func (s *RosterStore) ListEnrollments(ctx context.Context, classID uuid.UUID) ([]roster.Enrollment, error) {
	attrs := storage.Attrs(attribute.String("class_id", classID.String()))

	var out []roster.Enrollment
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.roster.list_enrollments", attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT e.class_id, e.student_id, s.name
			FROM enrollments e JOIN students s ON s.id = e.student_id
			WHERE e.class_id = $1
			ORDER BY e.seq`, classID)
		if err != nil {
			return fmt.Errorf("failed to list enrollments: %w", err)
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (roster.Enrollment, error) {
			var e roster.Enrollment
			err := row.Scan(&e.ClassID, &e.StudentID, &e.StudentName)
			return e, err
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RosterStore) AssessmentSummary(ctx context.Context, termID, studentID uuid.UUID) (roster.AssessmentSummary, error) {
	attrs := storage.Attrs(
		attribute.String("term_id", termID.String()),
		attribute.String("student_id", studentID.String()),
	)

	sum := roster.AssessmentSummary{StudentID: studentID}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.roster.assessment_summary", attrs, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, `
			SELECT COUNT(*), COALESCE(BOOL_OR(kind = 'FINAL' AND score IS NOT NULL), FALSE)
			FROM assessments
			WHERE term_id = $1 AND student_id = $2`, termID, studentID).
			Scan(&sum.AssessmentCount, &sum.HasFinalGrade)
		if err != nil {
			return fmt.Errorf("failed to summarize assessments: %w", err)
		}
		return nil
	})
	return sum, err
}

func (s *RosterStore) CountAttendance(ctx context.Context, classID uuid.UUID) (int, error) {
	attrs := storage.Attrs(attribute.String("class_id", classID.String()))

	var n int
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.roster.count_attendance", attrs, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM attendance WHERE class_id = $1`, classID).Scan(&n); err != nil {
			return fmt.Errorf("failed to count attendance: %w", err)
		}
		return nil
	})
	return n, err
}

func (s *RosterStore) StudentContact(ctx context.Context, studentID uuid.UUID) (roster.Contact, error) {
	attrs := storage.Attrs(attribute.String("student_id", studentID.String()))

	var c roster.Contact
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.roster.student_contact", attrs, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, `SELECT name, email, guardian_email FROM students WHERE id = $1`, studentID).
			Scan(&c.Name, &c.Email, &c.GuardianEmail)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NewNotFound("student %s not found", studentID)
		}
		return err
	})
	return c, err
}

func (s *RosterStore) InstructorContact(ctx context.Context, instructorID uuid.UUID) (roster.Contact, error) {
	attrs := storage.Attrs(attribute.String("instructor_id", instructorID.String()))

	var c roster.Contact
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.roster.instructor_contact", attrs, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, `SELECT name, email FROM instructors WHERE id = $1`, instructorID).
			Scan(&c.Name, &c.Email)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NewNotFound("instructor %s not found", instructorID)
		}
		return err
	})
	return c, err
}
