package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Subscription 策略变更订阅
type Subscription struct {
	changes chan struct{}
	close   func() error
}

// Changes 变更信号（只表示"有变化"，订阅者需自行重新读取策略）
func (s *Subscription) Changes() <-chan struct{} {
	return s.changes
}

// Close 释放订阅
func (s *Subscription) Close() error {
	return s.close()
}

// Subscribe 订阅策略变更通知
func (s *Store) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	// 等待订阅确认，确保之后的 PUBLISH 不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe load settings: %w", err)
	}

	out := make(chan struct{}, 1)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		for range msgs {
			// 合并连续的通知
			select {
			case out <- struct{}{}:
			default:
			}
		}
		s.logger.Debug("Load settings subscription closed",
			zap.String("channel", s.channel),
		)
	}()

	return &Subscription{changes: out, close: pubsub.Close}, nil
}
