package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPPoller 定时拉取 powerSources 文档（如实时数据库的 REST 接口 .../powerSources.json）
type HTTPPoller struct {
	client   *resty.Client
	url      string
	interval time.Duration
	tracker  *Tracker
	logger   *zap.Logger
}

// NewHTTPPoller 创建 HTTP 轮询源
func NewHTTPPoller(url string, interval time.Duration, tracker *Tracker, logger *zap.Logger) *HTTPPoller {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")

	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &HTTPPoller{
		client:   client,
		url:      url,
		interval: interval,
		tracker:  tracker,
		logger:   logger,
	}
}

// Run 轮询直到 ctx 取消
func (p *HTTPPoller) Run(ctx context.Context) error {
	p.logger.Info("Telemetry HTTP poller started",
		zap.String("url", p.url),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// 立即执行一次
	if err := p.PollOnce(ctx); err != nil {
		p.logger.Warn("Failed to poll telemetry", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Telemetry HTTP poller stopped")
			return nil
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				p.logger.Warn("Failed to poll telemetry", zap.Error(err))
				// 继续轮询
			}
		}
	}
}

// PollOnce 拉取一次并整体替换文档
func (p *HTTPPoller) PollOnce(ctx context.Context) error {
	resp, err := p.client.R().
		SetContext(ctx).
		Get(p.url)
	if err != nil {
		return fmt.Errorf("failed to fetch telemetry: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telemetry endpoint returned status %d", resp.StatusCode())
	}

	return p.tracker.Apply(nil, resp.Body())
}
