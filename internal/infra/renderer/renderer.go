// Package renderer provides a filesystem ItemRenderer. It writes a small
// placeholder document per item so the orchestration pipeline can run end to
// end before real report templates exist.
package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

type timeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

var _ domain.ItemRenderer = (*FileRenderer)(nil)

// FileRenderer writes one artifact per item under outputDir, laid out as
// <outputDir>/<item type>/<target id>.pdf. Rendering the same item twice
// overwrites the previous artifact.
type FileRenderer struct {
	outputDir    string
	roster       roster.Reader
	timeProvider timeProvider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewFileRenderer creates a FileRenderer rooted at outputDir. The roster is
// used to resolve the display name printed on each artifact; a target that
// cannot be resolved fails the item.
func NewFileRenderer(outputDir string, roster roster.Reader, logger *logger.Logger, tracer trace.Tracer) *FileRenderer {
	return &FileRenderer{
		outputDir:    outputDir,
		roster:       roster,
		timeProvider: realTimeProvider{},
		logger:       logger.With("component", "file_renderer"),
		tracer:       tracer,
	}
}

// ArtifactPath is where an item's artifact lands.
func (r *FileRenderer) ArtifactPath(itemType domain.ItemType, targetEntityID uuid.UUID) string {
	return filepath.Join(r.outputDir, strings.ToLower(itemType.String()), targetEntityID.String()+".pdf")
}

func (r *FileRenderer) Render(ctx context.Context, itemType domain.ItemType, targetEntityID uuid.UUID) (domain.RenderResult, error) {
	ctx, span := r.tracer.Start(ctx, "file_renderer.render",
		trace.WithAttributes(
			attribute.String("item_type", itemType.String()),
			attribute.String("target_entity_id", targetEntityID.String()),
		))
	defer span.End()

	title, err := r.title(ctx, itemType, targetEntityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve target")
		return domain.RenderResult{}, err
	}

	path := r.ArtifactPath(itemType, targetEntityID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create output directory")
		return domain.RenderResult{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	body := fmt.Sprintf("%%PDF-1.4\n%% %s\n%% %s\n%% generated %s\n%%%%EOF\n",
		itemType, title, r.timeProvider.Now().UTC().Format(time.RFC3339))

	// Write then rename so readers never observe a partial artifact.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write artifact")
		return domain.RenderResult{}, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move artifact")
		return domain.RenderResult{}, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	r.logger.Debug(ctx, "Artifact written", "item_type", itemType, "path", path)
	span.SetAttributes(attribute.String("artifact_path", path))
	return domain.RenderResult{ArtifactPath: path}, nil
}

func (r *FileRenderer) title(ctx context.Context, itemType domain.ItemType, id uuid.UUID) (string, error) {
	switch itemType {
	case domain.ItemTypeStudentReport, domain.ItemTypeParentNotification:
		c, err := r.roster.StudentContact(ctx, id)
		if err != nil {
			return "", fmt.Errorf("student %s: %w", id, err)
		}
		return c.Name, nil
	case domain.ItemTypeClassSummary:
		c, err := r.roster.GetClass(ctx, id)
		if err != nil {
			return "", fmt.Errorf("class %s: %w", id, err)
		}
		return c.Name, nil
	case domain.ItemTypeTeacherEvaluation:
		c, err := r.roster.InstructorContact(ctx, id)
		if err != nil {
			return "", fmt.Errorf("instructor %s: %w", id, err)
		}
		return c.Name, nil
	case domain.ItemTypeManagementSummary:
		return "term " + id.String(), nil
	default:
		return "", fmt.Errorf("unsupported item type %q", itemType)
	}
}
