package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"owl-loadshed/internal/models"
	"owl-loadshed/internal/notify"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// PolicyStore 策略存储（policy.Store 实现）
type PolicyStore interface {
	Get(ctx context.Context) (*models.LoadPolicy, error)
	Update(ctx context.Context, patch models.PolicyPatch) (*models.LoadPolicy, error)
}

// CommandSink 设备指令下发（command.Sink 实现）
type CommandSink interface {
	Send(ctx context.Context, cmd models.DeviceCommand) error
}

// EventRecorder 减载事件记录（repository.ShedEventRepository 实现，可选）
type EventRecorder interface {
	RecordActivation(ctx context.Context, triggerKey string, deviceCount, failedCount int) (int64, error)
	RecordRecovery(ctx context.Context) (int64, error)
}

// State 控制器状态
type State string

const (
	StateNormal   State = "normal"
	StateShedding State = "shedding"
)

// Options 控制器参数
type Options struct {
	Parallelism       int           // 批量关断的最大并发数，<=0 不限制
	EvaluationTimeout time.Duration // 单次评估中外部调用的总超时
	FlagRetries       uint64        // savePowerActive 写入失败的重试次数
	FlagRetryInterval time.Duration // 首次重试间隔（指数退避）
}

// Snapshot 控制器状态快照
type Snapshot struct {
	State            State                 `json:"state"`
	LastTriggeredKey string                `json:"lastTriggeredKey"`
	FlagWritePending bool                  `json:"flagWritePending"`
	LastEvaluatedAt  *time.Time            `json:"lastEvaluatedAt,omitempty"`
	Readings         *models.PowerReadings `json:"readings,omitempty"`
}

// Controller 自动减载控制器
// 所有评估都在 mu 内串行执行；lastTriggeredKey 只在进程内有效，重启后清空
type Controller struct {
	store    PolicyStore
	sink     CommandSink
	notifier notify.Notifier
	recorder EventRecorder
	opts     Options
	logger   *zap.Logger

	mu               sync.Mutex
	readings         *models.PowerReadings
	lastTriggeredKey string
	flagPending      bool
	state            State
	lastEvaluatedAt  time.Time
}

// New 创建控制器；recorder 可以为 nil
func New(store PolicyStore, sink CommandSink, notifier notify.Notifier, recorder EventRecorder, opts Options, logger *zap.Logger) *Controller {
	if opts.EvaluationTimeout <= 0 {
		opts.EvaluationTimeout = 30 * time.Second
	}
	if opts.FlagRetryInterval <= 0 {
		opts.FlagRetryInterval = 200 * time.Millisecond
	}
	return &Controller{
		store:    store,
		sink:     sink,
		notifier: notifier,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
		state:    StateNormal,
	}
}

// Run 事件循环：读数与策略变更两路输入合并到同一个消费者
// ctx 取消时返回；进行中的评估不会被取消
func (c *Controller) Run(ctx context.Context, readings <-chan models.PowerReadings, policyChanges <-chan struct{}) error {
	c.logger.Info("Load controller started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Load controller stopped")
			return nil
		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			c.HandleReadings(ctx, r)
		case _, ok := <-policyChanges:
			if !ok {
				policyChanges = nil
				continue
			}
			c.HandlePolicyChange(ctx)
		}
	}
}

// HandleReadings 新读数到达：更新本地读数并评估
func (c *Controller) HandleReadings(ctx context.Context, r models.PowerReadings) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readings = &r
	c.evaluate(ctx, "telemetry")
}

// HandlePolicyChange 策略变更：用最新读数重新评估
func (c *Controller) HandlePolicyChange(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evaluate(ctx, "policy")
}

// LastTriggeredKey 最近一次触发的阈值键
func (c *Controller) LastTriggeredKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTriggeredKey
}

// Snapshot 当前状态
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:            c.state,
		LastTriggeredKey: c.lastTriggeredKey,
		FlagWritePending: c.flagPending,
	}
	if !c.lastEvaluatedAt.IsZero() {
		t := c.lastEvaluatedAt
		s.LastEvaluatedAt = &t
	}
	if c.readings != nil {
		r := *c.readings
		s.Readings = &r
	}
	return s
}

// evaluate 必须持有 mu
// 每次都重新读取策略，不缓存 savePowerActive（外部操作可能随时修改）
func (c *Controller) evaluate(ctx context.Context, cause string) {
	if c.readings == nil {
		c.logger.Debug("No telemetry yet, skipping evaluation", zap.String("cause", cause))
		return
	}

	// 外部调用不随 ctx 取消，只受评估超时约束
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.EvaluationTimeout)
	defer cancel()

	policy, err := c.store.Get(opCtx)
	if err != nil {
		c.logger.Error("Failed to read load settings", zap.String("cause", cause), zap.Error(err))
		return
	}
	c.lastEvaluatedAt = time.Now()

	if policy.Mode != models.ModeAutomatic {
		return
	}

	d := Decide(*c.readings, policy)

	switch {
	case d.ShouldShed && !policy.SavePowerActive && d.TriggerKey != c.lastTriggeredKey:
		c.activate(opCtx, d, policy)
	case d.ShouldShed && !policy.SavePowerActive && c.flagPending:
		// 上次激活时标志写入失败：只补写标志，不重复下发指令
		c.retryFlag(opCtx, d)
	case !d.ShouldShed && policy.SavePowerActive:
		c.deactivate(opCtx)
	case !d.ShouldShed && c.flagPending:
		// 标志一直没写进去就已恢复：结束本轮，下次下降需要重新关断
		c.abandonPending()
	default:
		c.logger.Debug("No load shedding transition",
			zap.String("cause", cause),
			zap.Bool("should_shed", d.ShouldShed),
			zap.String("trigger_key", d.TriggerKey),
			zap.Bool("save_power_active", policy.SavePowerActive),
		)
	}
}

// activate Normal -> Shedding
func (c *Controller) activate(ctx context.Context, d Decision, policy *models.LoadPolicy) {
	c.lastTriggeredKey = d.TriggerKey
	c.state = StateShedding

	loads := policy.NonEssentialLoads
	failed, err := c.shutdown(ctx, loads, "auto:"+d.TriggerKey)
	if err != nil {
		c.logger.Warn("Some non-essential loads could not be turned off",
			zap.String("trigger_key", d.TriggerKey),
			zap.Int("failed", failed),
			zap.Int("total", len(loads)),
			zap.Error(err),
		)
	}

	// 部分失败仍然记为已减载
	if err := c.writeFlag(ctx, true); err != nil {
		c.flagPending = true
		c.logger.Error("Failed to persist savePowerActive=true, will retry on next evaluation",
			zap.String("trigger_key", d.TriggerKey),
			zap.Error(err),
		)
	} else {
		c.flagPending = false
	}

	if c.recorder != nil {
		if _, err := c.recorder.RecordActivation(ctx, d.TriggerKey, len(loads), failed); err != nil {
			c.logger.Warn("Failed to record load shed activation", zap.Error(err))
		}
	}

	c.logger.Warn("Load shedding activated",
		zap.String("trigger_key", d.TriggerKey),
		zap.Int("percentage", d.Percentage),
		zap.Int("devices", len(loads)),
		zap.Int("failed", failed),
	)
	c.notifier.Notify(ctx, models.Notification{
		Level:      models.NotifyWarning,
		Message:    fmt.Sprintf("Auto Power Save: %s below %d%% - Non-essential loads turned off", d.Source, d.Threshold),
		TriggerKey: d.TriggerKey,
		Timestamp:  time.Now(),
	})
}

func (c *Controller) retryFlag(ctx context.Context, d Decision) {
	if err := c.writeFlag(ctx, true); err != nil {
		c.logger.Error("Still failing to persist savePowerActive=true",
			zap.String("trigger_key", d.TriggerKey),
			zap.Error(err),
		)
		return
	}
	c.flagPending = false
	c.logger.Info("Persisted pending savePowerActive=true", zap.String("trigger_key", d.TriggerKey))
}

// abandonPending 放弃未写入的 savePowerActive=true，回到 Normal
func (c *Controller) abandonPending() {
	c.logger.Warn("Power recovered before savePowerActive=true was persisted, resetting trigger",
		zap.String("trigger_key", c.lastTriggeredKey),
	)
	c.lastTriggeredKey = ""
	c.flagPending = false
	c.state = StateNormal
}

// deactivate Shedding -> Normal；只解除锁定，不会重新打开任何设备
func (c *Controller) deactivate(ctx context.Context) {
	if err := c.writeFlag(ctx, false); err != nil {
		c.logger.Error("Failed to persist savePowerActive=false", zap.Error(err))
		return
	}

	previous := c.lastTriggeredKey
	c.lastTriggeredKey = ""
	c.flagPending = false
	c.state = StateNormal

	if c.recorder != nil {
		if _, err := c.recorder.RecordRecovery(ctx); err != nil {
			c.logger.Warn("Failed to record load shed recovery", zap.Error(err))
		}
	}

	c.logger.Info("Load shedding deactivated", zap.String("previous_trigger_key", previous))
	c.notifier.Notify(ctx, models.Notification{
		Level:     models.NotifySuccess,
		Message:   "Power levels recovered - Auto power save deactivated",
		Timestamp: time.Now(),
	})
}

// writeFlag 写入 savePowerActive，失败时指数退避重试
func (c *Controller) writeFlag(ctx context.Context, active bool) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.FlagRetryInterval
	bo.MaxElapsedTime = 0

	op := func() error {
		_, err := c.store.Update(ctx, models.SetSavePowerActive(active))
		return err
	}
	notifyRetry := func(err error, wait time.Duration) {
		c.logger.Warn("Retrying savePowerActive write",
			zap.Bool("active", active),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.opts.FlagRetries), ctx), notifyRetry)
}
