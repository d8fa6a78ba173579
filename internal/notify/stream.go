package notify

import (
	"context"

	rediscommon "owl-loadshed/common/redis"
	"owl-loadshed/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamNotifier 把通知写入 Redis Stream，供前端或其他服务消费
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamNotifier 创建 Stream 通知器
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamNotifier {
	return &StreamNotifier{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Notify 实现 Notifier；失败只记录日志
func (s *StreamNotifier) Notify(ctx context.Context, n models.Notification) {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, n); err != nil {
		s.logger.Warn("Failed to publish notification",
			zap.String("stream", s.stream),
			zap.Error(err),
		)
	}
}

// Recent 最近的通知（倒序）
func (s *StreamNotifier) Recent(ctx context.Context, count int64) ([]rediscommon.StreamMessage, error) {
	return rediscommon.ReadLatest(ctx, s.client, s.stream, count)
}
