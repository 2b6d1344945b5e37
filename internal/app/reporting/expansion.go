package reporting

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/internal/domain/roster"
)

// expandItems turns a selection into concrete PENDING items. The management
// summary is claimed first; everything else is numbered in roster order: per
// class, the student-facing items for newly seen students, then the class
// summary and teacher evaluation. A student enrolled in several classes gets
// one report for the term.
func expandItems(
	ctx context.Context,
	reader roster.Reader,
	batch *domain.ReportBatch,
	termName string,
) ([]*domain.ReportItem, error) {
	sel := batch.Selection
	items := make([]*domain.ReportItem, 0)

	if sel.IncludeManagementSummary {
		it := domain.NewReportItem(batch.ID, domain.ItemTypeManagementSummary, batch.TermID,
			"Management Executive Summary - "+termName)
		it.Priority = 1
		items = append(items, it)
	}

	needsClasses := sel.IncludeStudentReports || sel.IncludeParentNotifications ||
		sel.IncludeClassSummaries || sel.IncludeTeacherEvaluations
	if !needsClasses {
		return items, nil
	}

	classes, err := reader.ListClasses(ctx, batch.TermID)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes (term_id: %s): %w", batch.TermID, err)
	}

	priority := 2
	next := func(it *domain.ReportItem) {
		it.Priority = priority
		priority++
		items = append(items, it)
	}

	seen := make(map[uuid.UUID]struct{})
	for _, c := range classes {
		if sel.IncludeStudentReports || sel.IncludeParentNotifications {
			enrollments, err := reader.ListEnrollments(ctx, c.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to list enrollments (class_id: %s): %w", c.ID, err)
			}
			for _, e := range enrollments {
				if _, ok := seen[e.StudentID]; ok {
					continue
				}
				seen[e.StudentID] = struct{}{}

				if sel.IncludeStudentReports {
					next(domain.NewReportItem(batch.ID, domain.ItemTypeStudentReport, e.StudentID,
						"Student Report - "+e.StudentName))
				}
				if sel.IncludeParentNotifications {
					next(domain.NewReportItem(batch.ID, domain.ItemTypeParentNotification, e.StudentID,
						"Parent Notification - "+e.StudentName))
				}
			}
		}

		if sel.IncludeClassSummaries {
			next(domain.NewReportItem(batch.ID, domain.ItemTypeClassSummary, c.ID, "Class Summary - "+c.Name))
		}
		if sel.IncludeTeacherEvaluations {
			subject := "Teacher Evaluation - " + c.Name
			if c.InstructorName != "" {
				subject = fmt.Sprintf("Teacher Evaluation - %s (%s)", c.InstructorName, c.Name)
			}
			next(domain.NewReportItem(batch.ID, domain.ItemTypeTeacherEvaluation, c.ID, subject))
		}
	}

	return items, nil
}

type itemKey struct {
	typ    domain.ItemType
	target uuid.UUID
}

// checkExpansion is the consistency check run while a batch is VALIDATING.
func checkExpansion(batch *domain.ReportBatch, items []*domain.ReportItem) error {
	if batch.TotalItemCount != len(items) {
		return fmt.Errorf("batch total %d does not match %d expanded items", batch.TotalItemCount, len(items))
	}

	seen := make(map[itemKey]struct{}, len(items))
	for _, it := range items {
		if it.BatchID != batch.ID {
			return fmt.Errorf("item %s belongs to batch %s", it.ID, it.BatchID)
		}
		if it.Status != domain.ItemStatusPending {
			return fmt.Errorf("item %s is %s, expected PENDING", it.ID, it.Status)
		}
		if !batch.Selection.Includes(it.Type) {
			return fmt.Errorf("item %s has unselected type %s", it.ID, it.Type)
		}
		k := itemKey{typ: it.Type, target: it.TargetEntityID}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate %s item for target %s", it.Type, it.TargetEntityID)
		}
		seen[k] = struct{}{}
	}
	return nil
}
