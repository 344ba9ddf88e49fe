package notifier

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("notifications")}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.logger.Info("notification",
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}
