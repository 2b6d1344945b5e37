package reporting

// ItemSelection chooses which item categories a generation request expands to.
type ItemSelection struct {
	IncludeStudentReports      bool `json:"include_student_reports"`
	IncludeClassSummaries      bool `json:"include_class_summaries"`
	IncludeTeacherEvaluations  bool `json:"include_teacher_evaluations"`
	IncludeParentNotifications bool `json:"include_parent_notifications"`
	IncludeManagementSummary   bool `json:"include_management_summary"`
}

// FullSelection selects every category.
func FullSelection() ItemSelection {
	return ItemSelection{
		IncludeStudentReports:      true,
		IncludeClassSummaries:      true,
		IncludeTeacherEvaluations:  true,
		IncludeParentNotifications: true,
		IncludeManagementSummary:   true,
	}
}

// IsFull reports whether every category is selected.
func (s ItemSelection) IsFull() bool { return s == FullSelection() }

// IsEmpty reports whether no category is selected.
func (s ItemSelection) IsEmpty() bool { return s == ItemSelection{} }

// Includes reports whether items of typ are selected.
func (s ItemSelection) Includes(typ ItemType) bool {
	switch typ {
	case ItemTypeStudentReport:
		return s.IncludeStudentReports
	case ItemTypeClassSummary:
		return s.IncludeClassSummaries
	case ItemTypeTeacherEvaluation:
		return s.IncludeTeacherEvaluations
	case ItemTypeParentNotification:
		return s.IncludeParentNotifications
	case ItemTypeManagementSummary:
		return s.IncludeManagementSummary
	default:
		return false
	}
}

// Batch report types.
const (
	ReportTypeSemesterEnd  = "SEMESTER_END_STUDENT_REPORTS"
	ReportTypeCustom       = "CUSTOM_REPORT_BATCH"
	ReportTypeRegeneration = "ITEM_REGENERATION"
)

// ReportType labels a batch by what it was asked to produce.
func (s ItemSelection) ReportType() string {
	if s.IsFull() {
		return ReportTypeSemesterEnd
	}
	return ReportTypeCustom
}

// EstimateItemCount returns how many items a selection expands to for a term
// with the given number of distinct students and classes.
func (s ItemSelection) EstimateItemCount(students, classes int) int {
	n := 0
	if s.IncludeStudentReports {
		n += students
	}
	if s.IncludeParentNotifications {
		n += students
	}
	if s.IncludeClassSummaries {
		n += classes
	}
	if s.IncludeTeacherEvaluations {
		n += classes
	}
	if s.IncludeManagementSummary {
		n++
	}
	return n
}
