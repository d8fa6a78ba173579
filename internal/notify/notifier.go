package notify

import (
	"context"

	"owl-loadshed/internal/models"

	"go.uber.org/zap"
)

// Notifier 面向用户的通知（发出即忘，不重试、不回执）
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// Multi 依次分发给多个 Notifier
type Multi []Notifier

// Notify 实现 Notifier
func (m Multi) Notify(ctx context.Context, n models.Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}

// LogNotifier 把通知写入日志：warning -> Warn，其余 -> Info
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify 实现 Notifier
func (l *LogNotifier) Notify(_ context.Context, n models.Notification) {
	fields := []zap.Field{
		zap.String("level", string(n.Level)),
		zap.String("trigger_key", n.TriggerKey),
	}
	if n.Level == models.NotifyWarning {
		l.logger.Warn(n.Message, fields...)
		return
	}
	l.logger.Info(n.Message, fields...)
}
