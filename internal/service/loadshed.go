package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	dbcommon "owl-loadshed/common/database"
	mqttcommon "owl-loadshed/common/mqtt"
	rediscommon "owl-loadshed/common/redis"
	"owl-loadshed/internal/command"
	"owl-loadshed/internal/config"
	"owl-loadshed/internal/controller"
	"owl-loadshed/internal/httpapi"
	"owl-loadshed/internal/notify"
	"owl-loadshed/internal/policy"
	"owl-loadshed/internal/repository"
	"owl-loadshed/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// LoadShedService 自动减载服务（整合各层）
type LoadShedService struct {
	config      *config.Config
	db          *sql.DB // 审计关闭时为 nil
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client // 未配置 broker 时为 nil
	logger      *zap.Logger

	// 各层组件
	tracker     *telemetry.Tracker
	mqttSource  *telemetry.MQTTSource
	poller      *telemetry.HTTPPoller
	policyStore *policy.Store
	sink        *command.Sink
	hub         *notify.Hub
	controller  *controller.Controller
	server      *http.Server
}

// NewLoadShedService 创建服务并建立外部连接
func NewLoadShedService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LoadShedService, error) {
	s := &LoadShedService{config: cfg, logger: logger}

	// 1. 连接 Redis（策略、设备状态、通知流）
	s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
		s.redisClient.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 2. 审计库（可选）
	var recorder command.Recorder
	var eventRecorder controller.EventRecorder
	var eventLister httpapi.ShedEventLister
	var commandLister httpapi.CommandLister
	if cfg.Audit.Enabled {
		db, err := dbcommon.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			s.closeConnections()
			return nil, fmt.Errorf("failed to connect audit database: %w", err)
		}
		s.db = db
		commands := repository.NewCommandRepository(db, logger)
		recorder = commands
		commandLister = commands
		shedEvents := repository.NewShedEventRepository(db, logger)
		eventRecorder = shedEvents
		eventLister = shedEvents
	}

	// 3. MQTT（遥测订阅 + 指令下发）
	var publisher command.Publisher
	if cfg.MQTT.Broker != "" {
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeConnections()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.mqttClient = client
		publisher = client
	}

	// 4. 遥测
	s.tracker = telemetry.NewTracker(logger)
	switch cfg.Telemetry.Source {
	case config.TelemetryHTTP:
		s.poller = telemetry.NewHTTPPoller(cfg.Telemetry.HTTPURL, cfg.Telemetry.PollInterval, s.tracker, logger)
	default:
		if s.mqttClient == nil {
			s.closeConnections()
			return nil, errors.New("mqtt telemetry requires MQTT_BROKER")
		}
		s.mqttSource = telemetry.NewMQTTSource(s.mqttClient, cfg.Telemetry.Topic, cfg.MQTT.QoS, s.tracker, logger)
	}

	// 5. 策略、指令、通知
	s.policyStore = policy.NewStore(s.redisClient, cfg.Policy.Key, cfg.Policy.Channel, logger)
	s.sink = command.NewSink(s.redisClient, publisher, recorder, command.SinkConfig{
		KeyPrefix:   cfg.Command.KeyPrefix,
		TopicPrefix: cfg.Command.TopicPrefix,
		QoS:         cfg.MQTT.QoS,
		Timeout:     cfg.Command.Timeout,
	}, logger)
	s.hub = notify.NewHub(logger)
	notifier := notify.Multi{
		notify.NewLogNotifier(logger),
		notify.NewStreamNotifier(s.redisClient, cfg.Notify.Stream, cfg.Notify.StreamMax, logger),
		s.hub,
	}

	// 6. 控制器
	s.controller = controller.New(s.policyStore, s.sink, notifier, eventRecorder, controller.Options{
		Parallelism: cfg.Command.Parallelism,
		FlagRetries: 3,
	}, logger)

	// 7. HTTP
	handler := httpapi.NewLoadHandler(s.policyStore, s.sink, s.controller, s.tracker, eventLister, commandLister, cfg.Command.Parallelism, logger)
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(handler, s.hub, zap.NewStdLog(logger.Named("access")).Writer(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// Start 启动服务，阻塞直到 ctx 取消或任一组件失败
// 返回前释放所有订阅
func (s *LoadShedService) Start(ctx context.Context) error {
	s.logger.Info("Starting load shed service",
		zap.String("telemetry_source", s.config.Telemetry.Source),
		zap.String("policy_key", s.config.Policy.Key),
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Bool("audit_enabled", s.config.Audit.Enabled),
	)

	sub, err := s.policyStore.Subscribe(ctx)
	if err != nil {
		return err
	}

	if s.mqttSource != nil {
		if err := s.mqttSource.Start(); err != nil {
			sub.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.controller.Run(gctx, s.tracker.Readings(), sub.Changes())
	})

	if s.poller != nil {
		g.Go(func() error {
			return s.poller.Run(gctx)
		})
	}

	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// 释放订阅
	var releaseErr error
	if s.mqttSource != nil {
		releaseErr = multierr.Append(releaseErr, s.mqttSource.Close())
	}
	releaseErr = multierr.Append(releaseErr, sub.Close())
	s.hub.Close()
	if releaseErr != nil {
		s.logger.Warn("Failed to release subscriptions", zap.Error(releaseErr))
	}

	s.logger.Info("Load shed service stopped")
	return runErr
}

// Controller 控制器（用于状态查询）
func (s *LoadShedService) Controller() *controller.Controller {
	return s.controller
}

// Stop 关闭外部连接
func (s *LoadShedService) Stop() error {
	s.logger.Info("Stopping load shed service")
	return s.closeConnections()
}

func (s *LoadShedService) closeConnections() error {
	var err error

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.db != nil {
		if closeErr := s.db.Close(); closeErr != nil {
			s.logger.Error("Failed to close database", zap.Error(closeErr))
			err = multierr.Append(err, closeErr)
		}
	}

	if s.redisClient != nil {
		if closeErr := s.redisClient.Close(); closeErr != nil {
			s.logger.Error("Failed to close redis", zap.Error(closeErr))
			err = multierr.Append(err, closeErr)
		}
	}

	return err
}
