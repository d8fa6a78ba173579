package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"

	"owl-loadshed/internal/models"

	"go.uber.org/zap"
)

// Tracker 维护 powerSources 原始数据树，每次更新后整体重算百分比
// 并通过合并通道推送最新读数（消费者落后时只保留最新值）
type Tracker struct {
	mu        sync.Mutex
	doc       map[string]interface{}
	latest    models.PowerReadings
	hasLatest bool
	out       chan models.PowerReadings
	logger    *zap.Logger
}

// NewTracker 创建 Tracker
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		doc:    map[string]interface{}{},
		out:    make(chan models.PowerReadings, 1),
		logger: logger,
	}
}

// Readings 读数通道（供控制器消费）
func (t *Tracker) Readings() <-chan models.PowerReadings {
	return t.out
}

// Latest 最近一次计算的读数
func (t *Tracker) Latest() (models.PowerReadings, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.hasLatest
}

// Apply 用 payload 替换 path 处的子树（path 为空表示整个 powerSources 文档）
func (t *Tracker) Apply(path []string, payload []byte) error {
	var value interface{}
	if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("failed to unmarshal telemetry payload: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(path) == 0 {
		doc, ok := value.(map[string]interface{})
		if !ok {
			// null 或非对象：视为无数据
			doc = map[string]interface{}{}
		}
		t.doc = doc
	} else {
		setPath(t.doc, path, value)
	}

	readings, err := t.derive()
	if err != nil {
		return err
	}
	t.publish(readings)
	return nil
}

// derive 重新解析整个文档
func (t *Tracker) derive() (models.PowerReadings, error) {
	data, err := json.Marshal(t.doc)
	if err != nil {
		return models.PowerReadings{}, fmt.Errorf("failed to marshal telemetry document: %w", err)
	}

	// 类型错误时 json 会跳过该字段并继续解析其余字段
	var raw models.RawPowerSources
	if err := json.Unmarshal(data, &raw); err != nil {
		t.logger.Debug("Telemetry document partially invalid, treating bad fields as missing",
			zap.Error(err),
		)
	}
	return Derive(raw), nil
}

// publish 必须在持有 mu 时调用，保证多生产者下的顺序
func (t *Tracker) publish(readings models.PowerReadings) {
	t.latest = readings
	t.hasLatest = true

	select {
	case t.out <- readings:
		return
	default:
	}
	// 丢弃旧值
	select {
	case <-t.out:
	default:
	}
	select {
	case t.out <- readings:
	default:
	}
}

func setPath(doc map[string]interface{}, path []string, value interface{}) {
	node := doc
	for _, key := range path[:len(path)-1] {
		child, ok := node[key].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			node[key] = child
		}
		node = child
	}
	last := path[len(path)-1]
	if value == nil {
		delete(node, last)
		return
	}
	node[last] = value
}
