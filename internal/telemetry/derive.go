package telemetry

import (
	"math"

	"owl-loadshed/internal/models"
)

// DefaultBatteryCapacityWh 电池容量缺失时的默认值
const DefaultBatteryCapacityWh = 5000

// Derive 从原始遥测数据计算百分比
// solar% = generated/(generated+used)，grid% = used/(generated+used)，battery% = currentCharge/capacity
// 缺失字段按 0 处理，分母为 0 时结果为 0，结果限制在 0..100
func Derive(raw models.RawPowerSources) models.PowerReadings {
	generated := nonNegative(raw.SolarGenerated())
	used := nonNegative(raw.GridUsed())
	total := generated + used

	charge, capacity := raw.BatteryCharge()
	if capacity <= 0 {
		capacity = DefaultBatteryCapacityWh
	}

	return models.PowerReadings{
		Solar:   models.PowerReading{Source: models.SourceSolar, Percentage: percent(generated, total)},
		Grid:    models.PowerReading{Source: models.SourceGrid, Percentage: percent(used, total)},
		Battery: models.PowerReading{Source: models.SourceBattery, Percentage: percent(nonNegative(charge), capacity)},
	}
}

func percent(part, total float64) int {
	if total <= 0 {
		return 0
	}
	// 先在浮点上截断，避免极端比值转换 int 时溢出
	return int(math.Round(math.Min(part/total*100, 100)))
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 1) {
		return 0
	}
	return v
}
