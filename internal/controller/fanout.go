package controller

import (
	"context"
	"fmt"
	"time"

	"owl-loadshed/internal/models"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// shutdown 并发关闭所有负载；各设备互不影响，全部完成（成功或失败）后返回
// 返回失败数量与合并后的错误
func (c *Controller) shutdown(ctx context.Context, loads []models.LoadItem, reason string) (int, error) {
	return TurnOff(ctx, c.sink, loads, reason, c.opts.Parallelism)
}

// TurnOff 批量下发关闭指令（也供手动"省电"操作使用）
func TurnOff(ctx context.Context, sink CommandSink, loads []models.LoadItem, reason string, parallelism int) (int, error) {
	if len(loads) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	now := time.Now()
	errs := make([]error, len(loads))
	for i, load := range loads {
		g.Go(func() error {
			err := sink.Send(ctx, models.DeviceCommand{
				DeviceID:  load.DeviceID,
				RoomID:    load.RoomID,
				IsOn:      false,
				Timestamp: now,
				Reason:    reason,
			})
			if err != nil {
				errs[i] = fmt.Errorf("turn off %s: %w", load.ID, err)
			}
			// 不返回错误，避免一个失败影响其他设备
			return nil
		})
	}
	_ = g.Wait()

	err := multierr.Combine(errs...)
	return len(multierr.Errors(err)), err
}
