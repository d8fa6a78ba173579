package models

import (
	"bytes"
	"encoding/json"
)

// Mode 运行模式
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// LoadType 负载类型
type LoadType string

const (
	LoadEssential    LoadType = "essential"
	LoadNonEssential LoadType = "non-essential"
)

// 默认阈值（百分比）
const (
	DefaultBatteryThreshold = 40
	DefaultSolarThreshold   = 20
	DefaultGridThreshold    = 10
)

// LoadItem 负载列表中的设备（名称为展示用的冗余字段）
type LoadItem struct {
	ID         string   `json:"id"`
	DeviceID   string   `json:"deviceId"`
	DeviceName string   `json:"deviceName"`
	RoomID     string   `json:"roomId"`
	RoomName   string   `json:"roomName"`
	LoadType   LoadType `json:"loadType"`
	Priority   int      `json:"priority"`
}

// LoadItemID 组合 ID：roomId-deviceId
func LoadItemID(roomID, deviceID string) string {
	return roomID + "-" + deviceID
}

// LoadPolicy 负载策略（loadSettings）
// SavePowerActive 是"非必要负载是否被强制关闭"的唯一事实来源
type LoadPolicy struct {
	Mode              Mode         `json:"mode"`
	ActivePowerSource *PowerSource `json:"activePowerSource"`
	BatteryThreshold  int          `json:"batteryThreshold"`
	SolarThreshold    int          `json:"solarThreshold"`
	GridThreshold     int          `json:"gridThreshold"`
	EssentialLoads    []LoadItem   `json:"essentialLoads"`
	NonEssentialLoads []LoadItem   `json:"nonEssentialLoads"`
	SavePowerActive   bool         `json:"savePowerActive"`
}

// DefaultPolicy 存储中没有 loadSettings 时使用
func DefaultPolicy() *LoadPolicy {
	p := &LoadPolicy{}
	p.ApplyDefaults()
	return p
}

// ApplyDefaults 缺失字段补默认值（阈值为 0 视为缺失）
func (p *LoadPolicy) ApplyDefaults() {
	if p.Mode == "" {
		p.Mode = ModeManual
	}
	if p.BatteryThreshold == 0 {
		p.BatteryThreshold = DefaultBatteryThreshold
	}
	if p.SolarThreshold == 0 {
		p.SolarThreshold = DefaultSolarThreshold
	}
	if p.GridThreshold == 0 {
		p.GridThreshold = DefaultGridThreshold
	}
	if p.EssentialLoads == nil {
		p.EssentialLoads = []LoadItem{}
	}
	if p.NonEssentialLoads == nil {
		p.NonEssentialLoads = []LoadItem{}
	}
}

// Threshold 按电源取阈值
func (p *LoadPolicy) Threshold(source PowerSource) int {
	switch source {
	case SourceSolar:
		return p.SolarThreshold
	case SourceGrid:
		return p.GridThreshold
	default:
		return p.BatteryThreshold
	}
}

// FindLoad 在两个列表中查找负载
func (p *LoadPolicy) FindLoad(id string) (LoadItem, LoadType, bool) {
	for _, l := range p.EssentialLoads {
		if l.ID == id {
			return l, LoadEssential, true
		}
	}
	for _, l := range p.NonEssentialLoads {
		if l.ID == id {
			return l, LoadNonEssential, true
		}
	}
	return LoadItem{}, "", false
}

// PolicyPatch 部分更新；nil 字段保留原值
// ActivePowerSource 指向空字符串表示清空；JSON 中显式的 null 与 "" 等价
type PolicyPatch struct {
	Mode              *Mode        `json:"mode,omitempty"`
	ActivePowerSource *PowerSource `json:"activePowerSource,omitempty"`
	BatteryThreshold  *int         `json:"batteryThreshold,omitempty"`
	SolarThreshold    *int         `json:"solarThreshold,omitempty"`
	GridThreshold     *int         `json:"gridThreshold,omitempty"`
	EssentialLoads    *[]LoadItem  `json:"essentialLoads,omitempty"`
	NonEssentialLoads *[]LoadItem  `json:"nonEssentialLoads,omitempty"`
	SavePowerActive   *bool        `json:"savePowerActive,omitempty"`
}

// UnmarshalJSON 区分 "activePowerSource" 缺省（保留）与 null（清空）
func (patch *PolicyPatch) UnmarshalJSON(data []byte) error {
	type plain PolicyPatch
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["activePowerSource"]; ok && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		cleared := PowerSource("")
		p.ActivePowerSource = &cleared
	}

	*patch = PolicyPatch(p)
	return nil
}

// Apply 把 patch 合并到 policy 上
func (patch PolicyPatch) Apply(p *LoadPolicy) {
	if patch.Mode != nil {
		p.Mode = *patch.Mode
	}
	if patch.ActivePowerSource != nil {
		if *patch.ActivePowerSource == "" {
			p.ActivePowerSource = nil
		} else {
			src := *patch.ActivePowerSource
			p.ActivePowerSource = &src
		}
	}
	if patch.BatteryThreshold != nil {
		p.BatteryThreshold = *patch.BatteryThreshold
	}
	if patch.SolarThreshold != nil {
		p.SolarThreshold = *patch.SolarThreshold
	}
	if patch.GridThreshold != nil {
		p.GridThreshold = *patch.GridThreshold
	}
	if patch.EssentialLoads != nil {
		p.EssentialLoads = append([]LoadItem{}, (*patch.EssentialLoads)...)
	}
	if patch.NonEssentialLoads != nil {
		p.NonEssentialLoads = append([]LoadItem{}, (*patch.NonEssentialLoads)...)
	}
	if patch.SavePowerActive != nil {
		p.SavePowerActive = *patch.SavePowerActive
	}
}

// SetSavePowerActive 便捷构造
func SetSavePowerActive(active bool) PolicyPatch {
	return PolicyPatch{SavePowerActive: &active}
}
