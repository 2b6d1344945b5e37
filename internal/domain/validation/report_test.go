package validation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReportSortIsDeterministic(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	r := NewReport(uuid.New(), time.Now())
	r.AddWarning(CodeClassNoAttendance, "no attendance", b)
	r.AddError(CodeStudentMissingAssessment, "missing", b)
	r.AddWarning(CodeClassMissingInstructor, "no instructor", a)
	r.AddError(CodeStudentMissingAssessment, "missing", a)
	r.Sort()

	codes := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		codes = append(codes, f.Code+"/"+f.AffectedEntityID.String()[35:])
	}
	assert.Equal(t, []string{
		CodeStudentMissingAssessment + "/1",
		CodeStudentMissingAssessment + "/2",
		CodeClassMissingInstructor + "/1",
		CodeClassNoAttendance + "/2",
	}, codes)
	assert.True(t, r.HasErrors())
	assert.Len(t, r.Errors(), 2)
	assert.Len(t, r.Warnings(), 2)
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, EstimateDuration(0))
	assert.Equal(t, 10*time.Minute, EstimateDuration(10))
	assert.Equal(t, 100*time.Minute+20*time.Minute, EstimateDuration(200))
}
