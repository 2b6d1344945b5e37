package reporting

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery medium for a finished artifact.
type Channel string

const (
	ChannelEmail  Channel = "EMAIL"
	ChannelPortal Channel = "PORTAL"
)

func (c Channel) String() string { return string(c) }

// DistributionStatus is the lifecycle of one delivery attempt.
type DistributionStatus string

const (
	DistributionStatusPending DistributionStatus = "PENDING"
	DistributionStatusSent    DistributionStatus = "SENT"
	DistributionStatusFailed  DistributionStatus = "FAILED"
)

func (s DistributionStatus) String() string { return string(s) }

// ChannelsFor returns the channels an item type is delivered over. Parent
// notifications are email only; every other artifact is also published to
// the portal.
func ChannelsFor(t ItemType) []Channel {
	switch t {
	case ItemTypeParentNotification:
		return []Channel{ChannelEmail}
	case ItemTypeStudentReport, ItemTypeTeacherEvaluation, ItemTypeClassSummary, ItemTypeManagementSummary:
		return []Channel{ChannelEmail, ChannelPortal}
	default:
		return nil
	}
}

// DistributionTask tracks delivery of one item over one channel. Tasks are
// unique by (SourceItemID, Channel), which is what makes re-distribution
// idempotent.
type DistributionTask struct {
	ID           uuid.UUID
	BatchID      uuid.UUID
	SourceItemID uuid.UUID
	Channel      Channel
	Recipient    string
	Status       DistributionStatus
	Attempts     int
	LastError    string
	UpdatedAt    time.Time
}

// NewDistributionTask returns a PENDING task.
func NewDistributionTask(item *ReportItem, channel Channel, now time.Time) *DistributionTask {
	return &DistributionTask{
		ID:           uuid.New(),
		BatchID:      item.BatchID,
		SourceItemID: item.ID,
		Channel:      channel,
		Status:       DistributionStatusPending,
		UpdatedAt:    now,
	}
}

// DistributionSummary reports the outcome of one distribute call.
type DistributionSummary struct {
	BatchID     uuid.UUID `json:"batch_id"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	AlreadySent int       `json:"already_sent"`
}

// Notification is what a channel delivers.
type Notification struct {
	TaskID       uuid.UUID
	Channel      Channel
	Recipient    string
	Subject      string
	ArtifactPath string
	DownloadURL  string
}

// NotificationSubject returns the message subject for an item type.
func NotificationSubject(t ItemType, itemSubject string) string {
	switch t {
	case ItemTypeStudentReport:
		return "Your semester report is ready: " + itemSubject
	case ItemTypeParentNotification:
		return "Semester report available for your child: " + itemSubject
	case ItemTypeClassSummary:
		return "Class summary report ready: " + itemSubject
	case ItemTypeTeacherEvaluation:
		return "Teaching evaluation report ready: " + itemSubject
	case ItemTypeManagementSummary:
		return "Management executive summary ready: " + itemSubject
	default:
		return itemSubject
	}
}
