package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"owl-loadshed/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher MQTT 发布能力（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Recorder 指令审计（repository.CommandRepository 实现）
type Recorder interface {
	Insert(ctx context.Context, cmd models.DeviceCommand) error
}

// SinkConfig 指令下发配置
type SinkConfig struct {
	KeyPrefix   string        // 设备状态键前缀，如 "rooms:" -> rooms:{roomId}:devices:{deviceId}
	TopicPrefix string        // MQTT 主题前缀，如 "rooms/" -> rooms/{roomId}/devices/{deviceId}/set
	QoS         byte
	Timeout     time.Duration // 单条指令超时
}

// Sink 设备指令下发：Redis 设备状态为准，MQTT 下发与审计为附加动作
type Sink struct {
	client    *redis.Client
	publisher Publisher
	recorder  Recorder
	config    SinkConfig
	logger    *zap.Logger
}

// NewSink 创建指令下发器；publisher、recorder 可以为 nil
func NewSink(client *redis.Client, publisher Publisher, recorder Recorder, cfg SinkConfig, logger *zap.Logger) *Sink {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rooms:"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "rooms/"
	}
	return &Sink{
		client:    client,
		publisher: publisher,
		recorder:  recorder,
		config:    cfg,
		logger:    logger,
	}
}

// commandPayload MQTT 下发内容
type commandPayload struct {
	CommandID   string `json:"commandId"`
	IsOn        bool   `json:"isOn"`
	LastUpdated int64  `json:"lastUpdated"`
	Reason      string `json:"reason,omitempty"`
}

// Send 下发单条设备指令
// 写入 {isOn, lastUpdated} 到设备状态（合并更新，不覆盖其他字段）；只有该写入失败才返回错误
func (s *Sink) Send(ctx context.Context, cmd models.DeviceCommand) error {
	if cmd.RoomID == "" || cmd.DeviceID == "" {
		return fmt.Errorf("roomId and deviceId are required")
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	lastUpdated := cmd.Timestamp.UnixMilli()
	key := s.DeviceKey(cmd.RoomID, cmd.DeviceID)
	stateCtx, cancel := s.withTimeout(ctx)
	err := s.client.HSet(stateCtx, key,
		"isOn", strconv.FormatBool(cmd.IsOn),
		"lastUpdated", lastUpdated,
	).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("failed to write device state %s: %w", key, err)
	}

	if s.publisher != nil {
		pubCtx, cancel := s.withTimeout(ctx)
		s.publish(pubCtx, cmd, lastUpdated)
		cancel()
	}

	if s.recorder != nil {
		recCtx, cancel := s.withTimeout(ctx)
		err := s.recorder.Insert(recCtx, cmd)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to record device command",
				zap.String("command_id", cmd.ID),
				zap.String("device_id", cmd.DeviceID),
				zap.Error(err),
			)
		}
	}

	s.logger.Debug("Device command sent",
		zap.String("command_id", cmd.ID),
		zap.String("room_id", cmd.RoomID),
		zap.String("device_id", cmd.DeviceID),
		zap.Bool("is_on", cmd.IsOn),
		zap.String("reason", cmd.Reason),
	)
	return nil
}

// withTimeout 每一步（状态写入、下发、审计）各自受 Timeout 约束
func (s *Sink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return ctx, func() {}
}

// publish 等待发布结果直到 ctx 结束；超时后发布在后台继续，结果只记录日志
func (s *Sink) publish(ctx context.Context, cmd models.DeviceCommand, lastUpdated int64) {
	payload, err := json.Marshal(commandPayload{
		CommandID:   cmd.ID,
		IsOn:        cmd.IsOn,
		LastUpdated: lastUpdated,
		Reason:      cmd.Reason,
	})
	if err != nil {
		s.logger.Error("Failed to marshal device command", zap.Error(err))
		return
	}

	topic := s.CommandTopic(cmd.RoomID, cmd.DeviceID)
	done := make(chan error, 1)
	go func() {
		done <- s.publisher.Publish(topic, s.config.QoS, false, payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("Failed to publish device command",
				zap.String("topic", topic),
				zap.String("command_id", cmd.ID),
				zap.Error(err),
			)
		}
	case <-ctx.Done():
		s.logger.Warn("Timed out publishing device command",
			zap.String("topic", topic),
			zap.String("command_id", cmd.ID),
			zap.Error(ctx.Err()),
		)
	}
}

// DeviceKey rooms:{roomId}:devices:{deviceId}
func (s *Sink) DeviceKey(roomID, deviceID string) string {
	return fmt.Sprintf("%s%s:devices:%s", s.config.KeyPrefix, roomID, deviceID)
}

// CommandTopic rooms/{roomId}/devices/{deviceId}/set
func (s *Sink) CommandTopic(roomID, deviceID string) string {
	return fmt.Sprintf("%s%s/devices/%s/set", s.config.TopicPrefix, roomID, deviceID)
}

// DeviceState 读取设备当前开关状态
func (s *Sink) DeviceState(ctx context.Context, roomID, deviceID string) (isOn bool, lastUpdated int64, err error) {
	vals, err := s.client.HGetAll(ctx, s.DeviceKey(roomID, deviceID)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read device state: %w", err)
	}
	if len(vals) == 0 {
		return false, 0, fmt.Errorf("device state not found: %s/%s", roomID, deviceID)
	}
	isOn, _ = strconv.ParseBool(vals["isOn"])
	lastUpdated, _ = strconv.ParseInt(vals["lastUpdated"], 10, 64)
	return isOn, lastUpdated, nil
}
