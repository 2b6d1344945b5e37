package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/domain/shared"
)

var _ roster.Reader = (*Roster)(nil)

// Roster is an in-memory roster.Reader seeded by tests and the dev server.
type Roster struct {
	mu          sync.RWMutex
	classes     []roster.ClassGroup
	enrollments map[uuid.UUID][]roster.Enrollment
	assessments map[uuid.UUID]roster.AssessmentSummary // keyed by student
	attendance  map[uuid.UUID]int
	students    map[uuid.UUID]roster.Contact
	instructors map[uuid.UUID]roster.Contact
}

// NewRoster creates an empty Roster.
func NewRoster() *Roster {
	return &Roster{
		enrollments: make(map[uuid.UUID][]roster.Enrollment),
		assessments: make(map[uuid.UUID]roster.AssessmentSummary),
		attendance:  make(map[uuid.UUID]int),
		students:    make(map[uuid.UUID]roster.Contact),
		instructors: make(map[uuid.UUID]roster.Contact),
	}
}

// AddClass seeds a class.
func (r *Roster) AddClass(c roster.ClassGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = append(r.classes, c)
}

// AddInstructor seeds an instructor contact.
func (r *Roster) AddInstructor(id uuid.UUID, c roster.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructors[id] = c
}

// Enroll seeds a student into a class.
func (r *Roster) Enroll(classID, studentID uuid.UUID, c roster.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrollments[classID] = append(r.enrollments[classID], roster.Enrollment{
		ClassID:     classID,
		StudentID:   studentID,
		StudentName: c.Name,
	})
	r.students[studentID] = c
}

// SetAssessments seeds a student's assessment summary.
func (r *Roster) SetAssessments(studentID uuid.UUID, count int, hasFinal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessments[studentID] = roster.AssessmentSummary{StudentID: studentID, AssessmentCount: count, HasFinalGrade: hasFinal}
}

// SetAttendance seeds a class's attendance record count.
func (r *Roster) SetAttendance(classID uuid.UUID, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attendance[classID] = n
}

func (r *Roster) ListClasses(ctx context.Context, termID uuid.UUID) ([]roster.ClassGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]roster.ClassGroup, 0)
	for _, c := range r.classes {
		if c.TermID == termID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Roster) GetClass(ctx context.Context, classID uuid.UUID) (roster.ClassGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.classes {
		if c.ID == classID {
			return c, nil
		}
	}
	return roster.ClassGroup{}, shared.NewNotFound("class %s not found", classID)
}

func (r *Roster) ListEnrollments(ctx context.Context, classID uuid.UUID) ([]roster.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]roster.Enrollment(nil), r.enrollments[classID]...), nil
}

func (r *Roster) AssessmentSummary(ctx context.Context, termID, studentID uuid.UUID) (roster.AssessmentSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.assessments[studentID]
	if !ok {
		return roster.AssessmentSummary{StudentID: studentID}, nil
	}
	return s, nil
}

func (r *Roster) CountAttendance(ctx context.Context, classID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attendance[classID], nil
}

func (r *Roster) StudentContact(ctx context.Context, studentID uuid.UUID) (roster.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.students[studentID]
	if !ok {
		return roster.Contact{}, shared.NewNotFound("student %s not found", studentID)
	}
	return c, nil
}

func (r *Roster) InstructorContact(ctx context.Context, instructorID uuid.UUID) (roster.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.instructors[instructorID]
	if !ok {
		return roster.Contact{}, shared.NewNotFound("instructor %s not found", instructorID)
	}
	return c, nil
}
