// Package roster describes the read-only view of classes, enrollments and
// assessments that end-of-term processing consumes. The data is owned by the
// registration workflows; this context only reads it.
package roster

import (
	"context"

	"github.com/google/uuid"
)

// ClassGroup is a class taught during a term. InstructorID is uuid.Nil when no
// instructor has been assigned.
type ClassGroup struct {
	ID             uuid.UUID
	TermID         uuid.UUID
	Name           string
	InstructorID   uuid.UUID
	InstructorName string
}

// HasInstructor reports whether an instructor is assigned to the class.
func (c ClassGroup) HasInstructor() bool { return c.InstructorID != uuid.Nil }

// Enrollment links a student to a class.
type Enrollment struct {
	ClassID     uuid.UUID
	StudentID   uuid.UUID
	StudentName string
}

// AssessmentSummary aggregates a student's assessment records for a term.
type AssessmentSummary struct {
	StudentID       uuid.UUID
	AssessmentCount int
	HasFinalGrade   bool
}

// Contact is where artifacts for a person are delivered.
type Contact struct {
	Name          string
	Email         string
	GuardianEmail string
}

// Reader is the read-only boundary over term roster, enrollment, assessment
// and attendance records.
type Reader interface {
	ListClasses(ctx context.Context, termID uuid.UUID) ([]ClassGroup, error)
	GetClass(ctx context.Context, classID uuid.UUID) (ClassGroup, error)
	ListEnrollments(ctx context.Context, classID uuid.UUID) ([]Enrollment, error)
	AssessmentSummary(ctx context.Context, termID, studentID uuid.UUID) (AssessmentSummary, error)
	CountAttendance(ctx context.Context, classID uuid.UUID) (int, error)
	StudentContact(ctx context.Context, studentID uuid.UUID) (Contact, error)
	InstructorContact(ctx context.Context, instructorID uuid.UUID) (Contact, error)
}
