package controller

import (
	"fmt"

	"owl-loadshed/internal/models"
)

// Decision 一次评估的结果
type Decision struct {
	ShouldShed bool
	TriggerKey string // 如 "battery-40"，未触发时为空
	Source     models.PowerSource
	Threshold  int
	Percentage int
}

// triggerSources 参与触发判断的电源（电网只作为后备，不参与）
// 顺序同时决定百分比相同时的优先级
var triggerSources = []models.PowerSource{models.SourceBattery, models.SourceSolar}

// Decide 根据读数和策略决定是否需要关闭非必要负载
// 0 < percentage <= threshold 时触发；0% 视为无数据，永不触发
// 多个电源同时触发时，百分比最低的生效，相同时电池优先
func Decide(readings models.PowerReadings, policy *models.LoadPolicy) Decision {
	var d Decision
	for _, src := range triggerSources {
		pct := readings.Get(src).Percentage
		threshold := policy.Threshold(src)
		if pct <= 0 || pct > threshold {
			continue
		}
		if d.ShouldShed && pct >= d.Percentage {
			continue
		}
		d = Decision{
			ShouldShed: true,
			TriggerKey: TriggerKey(src, threshold),
			Source:     src,
			Threshold:  threshold,
			Percentage: pct,
		}
	}
	return d
}

// TriggerKey battery + 40 -> "battery-40"
func TriggerKey(source models.PowerSource, threshold int) string {
	return fmt.Sprintf("%s-%d", source, threshold)
}
