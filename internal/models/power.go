package models

// PowerSource 电源类型
type PowerSource string

const (
	SourceSolar   PowerSource = "solar"
	SourceGrid    PowerSource = "grid"
	SourceBattery PowerSource = "battery"
)

// Valid 是否为已知电源
func (s PowerSource) Valid() bool {
	switch s {
	case SourceSolar, SourceGrid, SourceBattery:
		return true
	}
	return false
}

// PowerReading 单个电源的百分比读数（0..100）
type PowerReading struct {
	Source     PowerSource `json:"source"`
	Percentage int         `json:"percentage"`
}

// PowerReadings 一次完整的读数集合（每次原始数据更新都整体重算）
type PowerReadings struct {
	Solar   PowerReading `json:"solar"`
	Grid    PowerReading `json:"grid"`
	Battery PowerReading `json:"battery"`
}

// Get 按电源取读数
func (r PowerReadings) Get(source PowerSource) PowerReading {
	switch source {
	case SourceSolar:
		return r.Solar
	case SourceGrid:
		return r.Grid
	default:
		return r.Battery
	}
}

// RawPowerSources 遥测原始数据（powerSources 节点），所有字段均可缺失
type RawPowerSources struct {
	Solar   *RawSolar   `json:"solar,omitempty"`
	Grid    *RawGrid    `json:"grid,omitempty"`
	Battery *RawBattery `json:"battery,omitempty"`
}

type RawSolar struct {
	Current *SolarCurrent `json:"current,omitempty"`
}

type SolarCurrent struct {
	Generated float64 `json:"generated"`
}

type RawGrid struct {
	Current *GridCurrent `json:"current,omitempty"`
}

type GridCurrent struct {
	Used float64 `json:"used"`
}

type RawBattery struct {
	Status *BatteryStatus `json:"status,omitempty"`
}

type BatteryStatus struct {
	CurrentCharge float64 `json:"currentCharge"`
	Capacity      float64 `json:"capacity"` // Wh
}

// SolarGenerated 缺失时为 0
func (r RawPowerSources) SolarGenerated() float64 {
	if r.Solar == nil || r.Solar.Current == nil {
		return 0
	}
	return r.Solar.Current.Generated
}

// GridUsed 缺失时为 0
func (r RawPowerSources) GridUsed() float64 {
	if r.Grid == nil || r.Grid.Current == nil {
		return 0
	}
	return r.Grid.Current.Used
}

// BatteryCharge 返回 (currentCharge, capacity)，缺失时为 0
func (r RawPowerSources) BatteryCharge() (float64, float64) {
	if r.Battery == nil || r.Battery.Status == nil {
		return 0, 0
	}
	return r.Battery.Status.CurrentCharge, r.Battery.Status.Capacity
}
