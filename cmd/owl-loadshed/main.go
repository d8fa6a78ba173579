package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"owl-loadshed/common/logger"
	"owl-loadshed/internal/config"
	"owl-loadshed/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "owl-loadshed",
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. 创建服务
	loadShedService, err := service.NewLoadShedService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create load shed service", zap.Error(err))
	}

	// 5. 运行直到收到信号
	if err := loadShedService.Start(ctx); err != nil {
		log.Error("Service error", zap.Error(err))
		loadShedService.Stop()
		os.Exit(1)
	}

	loadShedService.Stop()
	log.Info("Load shed service stopped")
}
