// Package validation models the data-completeness report produced before a
// term's end-of-term reports are generated.
package validation

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Severity distinguishes blocking findings from advisory ones.
type Severity string

const (
	// SeverityError blocks generation unless the caller overrides it.
	SeverityError Severity = "ERROR"
	// SeverityWarning is advisory only.
	SeverityWarning Severity = "WARNING"
)

func (s Severity) String() string { return string(s) }

func (s Severity) rank() int {
	if s == SeverityError {
		return 0
	}
	return 1
}

// Finding codes.
const (
	CodeTermNotFound             = "TERM_NOT_FOUND"
	CodeTermAlreadyClosed        = "TERM_ALREADY_CLOSED"
	CodeNoClasses                = "NO_CLASSES"
	CodeClassMissingInstructor   = "CLASS_MISSING_INSTRUCTOR"
	CodeClassNoEnrollments       = "CLASS_NO_ENROLLMENTS"
	CodeClassNoAttendance        = "CLASS_NO_ATTENDANCE"
	CodeStudentMissingAssessment = "STUDENT_MISSING_ASSESSMENTS"
	CodeStudentMissingFinalGrade = "STUDENT_MISSING_FINAL_GRADE"
	CodeDataUnavailable          = "DATA_UNAVAILABLE"
)

// Finding is a single data-quality observation.
type Finding struct {
	Severity         Severity  `json:"severity"`
	Code             string    `json:"code"`
	Message          string    `json:"message"`
	AffectedEntityID uuid.UUID `json:"affected_entity_id"`
}

// Summary carries roster counts and an estimate of the work a full generation
// run would produce.
type Summary struct {
	TotalStudents            int           `json:"total_students"`
	StudentsWithCompleteData int           `json:"students_with_complete_data"`
	TotalClasses             int           `json:"total_classes"`
	ClassesWithCompleteData  int           `json:"classes_with_complete_data"`
	EstimatedItemCount       int           `json:"estimated_item_count"`
	EstimatedDuration        time.Duration `json:"estimated_duration"`
}

// Report is the ephemeral outcome of validating one term. It is recomputed on
// every request and never stored.
type Report struct {
	TermID      uuid.UUID `json:"term_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Findings    []Finding `json:"findings"`
	Summary     Summary   `json:"summary"`
}

// NewReport returns an empty report for termID.
func NewReport(termID uuid.UUID, at time.Time) *Report {
	return &Report{TermID: termID, GeneratedAt: at, Findings: make([]Finding, 0)}
}

// AddError records a blocking finding.
func (r *Report) AddError(code, msg string, entity uuid.UUID) {
	r.Findings = append(r.Findings, Finding{Severity: SeverityError, Code: code, Message: msg, AffectedEntityID: entity})
}

// AddWarning records an advisory finding.
func (r *Report) AddWarning(code, msg string, entity uuid.UUID) {
	r.Findings = append(r.Findings, Finding{Severity: SeverityWarning, Code: code, Message: msg, AffectedEntityID: entity})
}

// HasErrors reports whether any blocking finding is present.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the blocking findings.
func (r *Report) Errors() []Finding { return r.filter(SeverityError) }

// Warnings returns the advisory findings.
func (r *Report) Warnings() []Finding { return r.filter(SeverityWarning) }

func (r *Report) filter(s Severity) []Finding {
	out := make([]Finding, 0, len(r.Findings))
	for _, f := range r.Findings {
		if f.Severity == s {
			out = append(out, f)
		}
	}
	return out
}

// Sort orders findings by severity, code and entity so two validations of the
// same data produce identical reports.
func (r *Report) Sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.AffectedEntityID.String() < b.AffectedEntityID.String()
	})
}

// EstimateDuration approximates wall time for itemCount renders: thirty
// seconds per item plus a fixed overhead of at least five minutes.
func EstimateDuration(itemCount int) time.Duration {
	perItem := time.Duration(itemCount) * 30 * time.Second
	overhead := time.Duration(itemCount/10) * time.Minute
	if overhead < 5*time.Minute {
		overhead = 5 * time.Minute
	}
	return perItem + overhead
}
