package notify

import (
	"context"

	domain "github.com/ahrav/term-closure/internal/domain/reporting"
	"github.com/ahrav/term-closure/pkg/common/logger"
)

var _ domain.NotificationChannel = (*LogChannel)(nil)

// LogChannel records notifications in the service log instead of delivering
// them. It backs both channels when no Kafka brokers are configured.
type LogChannel struct {
	channel domain.Channel
	logger  *logger.Logger
}

// NewLogChannel creates a LogChannel for channel.
func NewLogChannel(channel domain.Channel, logger *logger.Logger) *LogChannel {
	return &LogChannel{channel: channel, logger: logger.With("component", "log_channel", "channel", channel)}
}

func (l *LogChannel) Channel() domain.Channel { return l.channel }

func (l *LogChannel) Send(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info(ctx, "Notification delivered",
		"task_id", n.TaskID,
		"recipient", n.Recipient,
		"subject", n.Subject,
		"download_url", n.DownloadURL,
	)
	return nil
}
