package telemetry

import (
	"fmt"
	"strings"

	mqttcommon "owl-loadshed/common/mqtt"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTSource 订阅 powerSources/# 并把消息写入 Tracker
// 主题格式: powerSources（整个文档）或 powerSources/{source}[/{field}...]（子树）
// 注意 powerSources/# 同时匹配 powerSources 本身
type MQTTSource struct {
	sub     Subscriber
	topic   string
	qos     byte
	tracker *Tracker
	logger  *zap.Logger
}

// NewMQTTSource 创建 MQTT 遥测源
func NewMQTTSource(sub Subscriber, topic string, qos byte, tracker *Tracker, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		sub:     sub,
		topic:   topic,
		qos:     qos,
		tracker: tracker,
		logger:  logger,
	}
}

// Start 订阅主题
func (s *MQTTSource) Start() error {
	if err := s.sub.Subscribe(s.topic, s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe telemetry: %w", err)
	}

	s.logger.Info("Telemetry MQTT source started",
		zap.String("topic", s.topic),
	)
	return nil
}

// Close 取消订阅
func (s *MQTTSource) Close() error {
	if err := s.sub.Unsubscribe(s.topic); err != nil {
		return err
	}
	s.logger.Info("Telemetry MQTT source stopped")
	return nil
}

// handleMessage 处理遥测消息；格式错误只记录，不影响控制器
func (s *MQTTSource) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) == 0 || parts[0] != rootTopic(s.topic) {
		return fmt.Errorf("unexpected telemetry topic: %s", topic)
	}

	if err := s.tracker.Apply(parts[1:], payload); err != nil {
		s.logger.Warn("Dropping malformed telemetry message",
			zap.String("topic", topic),
			zap.Int("payload_size", len(payload)),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Debug("Telemetry updated",
		zap.String("topic", topic),
	)
	return nil
}

// rootTopic powerSources/# -> powerSources
func rootTopic(topic string) string {
	t := strings.TrimSuffix(topic, "/#")
	t = strings.TrimSuffix(t, "/+")
	if i := strings.Index(t, "/"); i >= 0 {
		return t[:i]
	}
	return t
}
