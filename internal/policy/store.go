package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"owl-loadshed/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	ErrDuplicateLoad = errors.New("device already in a load list")
	ErrLoadNotFound  = errors.New("load not found")
	ErrInvalidPatch  = errors.New("invalid load settings")
)

const maxTxRetries = 5

// Store 负载策略的权威存储（Redis，最后写入生效）
// 文档以 JSON 保存在单个键下，写入使用 WATCH/MULTI 做读-改-写，提交后 PUBLISH 变更通知
type Store struct {
	client  *redis.Client
	key     string
	channel string
	logger  *zap.Logger
}

// NewStore 创建策略存储
func NewStore(client *redis.Client, key, channel string, logger *zap.Logger) *Store {
	return &Store{
		client:  client,
		key:     key,
		channel: channel,
		logger:  logger,
	}
}

// Get 读取当前策略（已补默认值；不存在时返回默认策略）
func (s *Store) Get(ctx context.Context) (*models.LoadPolicy, error) {
	return s.load(ctx, s.client)
}

// Update 把 patch 合并到当前策略（未指定字段保留原值）
func (s *Store) Update(ctx context.Context, patch models.PolicyPatch) (*models.LoadPolicy, error) {
	return s.mutate(ctx, func(p *models.LoadPolicy) error {
		patch.Apply(p)
		return nil
	})
}

// AddLoad 把设备加入指定列表，priority = 当前列表长度 + 1
func (s *Store) AddLoad(ctx context.Context, loadType models.LoadType, item models.LoadItem) (*models.LoadItem, error) {
	if item.RoomID == "" || item.DeviceID == "" {
		return nil, fmt.Errorf("%w: roomId and deviceId are required", ErrInvalidPatch)
	}
	item.ID = models.LoadItemID(item.RoomID, item.DeviceID)
	item.LoadType = loadType

	_, err := s.mutate(ctx, func(p *models.LoadPolicy) error {
		if _, _, exists := p.FindLoad(item.ID); exists {
			return fmt.Errorf("%w: %s", ErrDuplicateLoad, item.ID)
		}
		switch loadType {
		case models.LoadEssential:
			item.Priority = len(p.EssentialLoads) + 1
			p.EssentialLoads = append(p.EssentialLoads, item)
		case models.LoadNonEssential:
			item.Priority = len(p.NonEssentialLoads) + 1
			p.NonEssentialLoads = append(p.NonEssentialLoads, item)
		default:
			return fmt.Errorf("%w: unknown load type %q", ErrInvalidPatch, loadType)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveLoad 从所在列表移除（其余负载的 priority 不重排）
func (s *Store) RemoveLoad(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, func(p *models.LoadPolicy) error {
		var removed bool
		p.EssentialLoads, removed = without(p.EssentialLoads, id)
		if !removed {
			p.NonEssentialLoads, removed = without(p.NonEssentialLoads, id)
		}
		if !removed {
			return fmt.Errorf("%w: %s", ErrLoadNotFound, id)
		}
		return nil
	})
	return err
}

// mutate 乐观事务：WATCH key -> 读 -> 修改 -> MULTI SET，冲突时重试
func (s *Store) mutate(ctx context.Context, fn func(p *models.LoadPolicy) error) (*models.LoadPolicy, error) {
	var result *models.LoadPolicy

	txf := func(tx *redis.Tx) error {
		p, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		normalize(p)
		if err := Validate(p); err != nil {
			return err
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal load settings: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = p
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == redis.TxFailedErr {
			s.logger.Debug("Load settings write conflict, retrying",
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := s.client.Publish(ctx, s.channel, "changed").Err(); err != nil {
			// 写入已成功，通知失败只影响订阅者的及时性
			s.logger.Warn("Failed to publish load settings change",
				zap.String("channel", s.channel),
				zap.Error(err),
			)
		}
		return result, nil
	}

	return nil, fmt.Errorf("failed to update load settings: too many concurrent writers")
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) load(ctx context.Context, g getter) (*models.LoadPolicy, error) {
	val, err := g.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return models.DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("failed to get load settings: %w", err)
	}

	var p models.LoadPolicy
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal load settings: %w", err)
	}
	p.ApplyDefaults()
	return &p, nil
}

// normalize 列表中的 LoadType 与所在列表保持一致，ID 缺失时按组合规则补齐
func normalize(p *models.LoadPolicy) {
	p.ApplyDefaults()
	for i := range p.EssentialLoads {
		p.EssentialLoads[i].LoadType = models.LoadEssential
		if p.EssentialLoads[i].ID == "" {
			p.EssentialLoads[i].ID = models.LoadItemID(p.EssentialLoads[i].RoomID, p.EssentialLoads[i].DeviceID)
		}
	}
	for i := range p.NonEssentialLoads {
		p.NonEssentialLoads[i].LoadType = models.LoadNonEssential
		if p.NonEssentialLoads[i].ID == "" {
			p.NonEssentialLoads[i].ID = models.LoadItemID(p.NonEssentialLoads[i].RoomID, p.NonEssentialLoads[i].DeviceID)
		}
	}
}

// Validate 校验策略：模式、电源、阈值范围，以及同一设备最多出现在一个列表中
func Validate(p *models.LoadPolicy) error {
	if p.Mode != models.ModeAutomatic && p.Mode != models.ModeManual {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPatch, p.Mode)
	}
	if p.ActivePowerSource != nil && !p.ActivePowerSource.Valid() {
		return fmt.Errorf("%w: unknown power source %q", ErrInvalidPatch, *p.ActivePowerSource)
	}
	for name, v := range map[string]int{
		"batteryThreshold": p.BatteryThreshold,
		"solarThreshold":   p.SolarThreshold,
		"gridThreshold":    p.GridThreshold,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: %s must be within 0..100", ErrInvalidPatch, name)
		}
	}

	seen := make(map[string]struct{}, len(p.EssentialLoads)+len(p.NonEssentialLoads))
	for _, list := range [][]models.LoadItem{p.EssentialLoads, p.NonEssentialLoads} {
		for _, l := range list {
			if _, dup := seen[l.ID]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateLoad, l.ID)
			}
			seen[l.ID] = struct{}{}
		}
	}
	return nil
}

func without(list []models.LoadItem, id string) ([]models.LoadItem, bool) {
	for i, l := range list {
		if l.ID == id {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}
