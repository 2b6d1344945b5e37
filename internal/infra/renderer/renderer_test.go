package renderer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/internal/infra/storage/memory"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

func TestFileRenderer_Render(t *testing.T) {
	dir := t.TempDir()
	r := memory.NewRoster()

	termID := uuid.New()
	classID := uuid.New()
	instructorID := uuid.New()
	studentID := uuid.New()
	r.AddInstructor(instructorID, roster.Contact{Name: "Ms. Rahma", Email: "rahma@school.test"})
	r.AddClass(roster.ClassGroup{ID: classID, TermID: termID, Name: "Tahsin 1", InstructorID: instructorID})
	r.Enroll(classID, studentID, roster.Contact{Name: "Ahmad", GuardianEmail: "parent@home.test"})

	fr := NewFileRenderer(dir, r, logger.Noop(), noop.NewTracerProvider().Tracer("test"))

	tests := []struct {
		name     string
		itemType domain.ItemType
		target   uuid.UUID
		contains string
		wantErr  bool
	}{
		{name: "student report", itemType: domain.ItemTypeStudentReport, target: studentID, contains: "Ahmad"},
		{name: "parent notification", itemType: domain.ItemTypeParentNotification, target: studentID, contains: "Ahmad"},
		{name: "class summary", itemType: domain.ItemTypeClassSummary, target: classID, contains: "Tahsin 1"},
		{name: "teacher evaluation", itemType: domain.ItemTypeTeacherEvaluation, target: instructorID, contains: "Ms. Rahma"},
		{name: "management summary", itemType: domain.ItemTypeManagementSummary, target: termID, contains: termID.String()},
		{name: "unknown student", itemType: domain.ItemTypeStudentReport, target: uuid.New(), wantErr: true},
		{name: "unsupported type", itemType: domain.ItemType("BOGUS"), target: studentID, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := fr.Render(context.Background(), tt.itemType, tt.target)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, filepath.Join(dir, strings.ToLower(tt.itemType.String()), tt.target.String()+".pdf"), res.ArtifactPath)
			data, err := os.ReadFile(res.ArtifactPath)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
			assert.Contains(t, string(data), tt.contains)

			_, err = os.Stat(res.ArtifactPath + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestFileRenderer_UnwritableOutputDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	fr := NewFileRenderer(blocker, memory.NewRoster(), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	_, err := fr.Render(context.Background(), domain.ItemTypeManagementSummary, uuid.New())
	assert.Error(t, err)
}
