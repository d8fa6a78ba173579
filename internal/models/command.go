package models

import "time"

// DeviceCommand 设备开关指令（无回执）
type DeviceCommand struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	RoomID    string    `json:"roomId"`
	IsOn      bool      `json:"isOn"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"` // 触发原因，如 "auto:battery-40" / "manual:save-power"
}

// NotificationLevel 通知级别
type NotificationLevel string

const (
	NotifyWarning NotificationLevel = "warning"
	NotifySuccess NotificationLevel = "success"
	NotifyInfo    NotificationLevel = "info"
)

// Notification 面向用户的提示（toast）
type Notification struct {
	Level      NotificationLevel `json:"level"`
	Message    string            `json:"message"`
	TriggerKey string            `json:"triggerKey,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
