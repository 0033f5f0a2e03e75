package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"pillbox/common/database"
	"pillbox/common/mqtt"
	"pillbox/common/redis"
	"pillbox/internal/clock"
	"pillbox/internal/config"
	"pillbox/internal/consumer"
	"pillbox/internal/evaluator"
	"pillbox/internal/metrics"
	"pillbox/internal/repository"

	"go.uber.org/zap"
)

// Repositories 存储层集合
type Repositories struct {
	Schedules  repository.ScheduleRepository
	Intakes    repository.IntakeRepository
	Slots      repository.SlotStatusRepository
	Alerts     repository.AlertRepository
	RefillLogs repository.RefillLogRepository
	PillEvents repository.PillEventRepository
}

// NewPostgresRepositories 基于 PostgreSQL 的存储层
func NewPostgresRepositories(db *sql.DB, logger *zap.Logger) *Repositories {
	audit := repository.NewPostgresAuditRepository(db, logger)
	return &Repositories{
		Schedules:  repository.NewPostgresScheduleRepository(db, logger),
		Intakes:    repository.NewPostgresIntakeRepository(db, logger),
		Slots:      repository.NewPostgresSlotStatusRepository(db, logger),
		Alerts:     repository.NewPostgresAlertRepository(db, logger),
		RefillLogs: audit,
		PillEvents: audit,
	}
}

// NewMemoryRepositories 内存存储层（未启用数据库时）
func NewMemoryRepositories(store *repository.MemoryStore) *Repositories {
	return &Repositories{
		Schedules:  store,
		Intakes:    store,
		Slots:      store,
		Alerts:     store,
		RefillLogs: store,
		PillEvents: store,
	}
}

// Services 业务服务集合（供 httpapi 与 pillctl 使用）
type Services struct {
	Alerts    *AlertService
	Audit     *AuditService
	Intakes   *IntakeService
	Slots     *SlotService
	Refills   *RefillService
	Schedules *ScheduleService
	Dispatch  *DispatchService
	Evaluator *evaluator.Evaluator
}

// NewServices 组装业务服务
func NewServices(
	cfg *config.Config,
	repos *Repositories,
	directory PatientDirectory,
	publisher Publisher,
	redisClient *redis.Client,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Services {
	alerts := NewAlertService(repos.Alerts, redisClient, clk, m, logger)
	audit := NewAuditService(repos.PillEvents, clk, logger)

	// 前一天漏服的补查窗口至少覆盖两个评估间隔
	catchUp := time.Hour
	if 2*cfg.Evaluation.Interval > catchUp {
		catchUp = 2 * cfg.Evaluation.Interval
	}
	return &Services{
		Alerts:    alerts,
		Audit:     audit,
		Intakes:   NewIntakeService(repos.Schedules, repos.Intakes, alerts, clk, m, logger),
		Slots:     NewSlotService(repos.Slots, directory, alerts, clk, logger),
		Refills:   NewRefillService(repos.RefillLogs, alerts, clk, logger),
		Schedules: NewScheduleService(repos.Schedules, repos.Intakes, cfg.Pillbox.Compartments, clk, logger),
		Dispatch: NewDispatchService(publisher, audit, DispatchConfig{
			Topic:          cfg.Pillbox.ScheduleTopic,
			QoS:            cfg.MQTT.QoS,
			Compartments:   cfg.Pillbox.Compartments,
			PublishTimeout: cfg.Pillbox.PublishTimeout,
		}, clk, m, logger),
		Evaluator: evaluator.NewEvaluator(evaluator.Config{
			Lookahead:    cfg.Evaluation.Lookahead,
			Grace:        cfg.Evaluation.Grace,
			CatchUp:      catchUp,
			Compartments: cfg.Pillbox.Compartments,
			Location:     cfg.Location,
		}, repos.Schedules, repos.Intakes, alerts, logger),
	}
}

// PillboxService 药盒服务（整合各层）
type PillboxService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger
	clock       clock.Clock
	metrics     *metrics.Metrics

	Services  *Services
	runner    *evaluator.Runner
	consumer  *consumer.StatusConsumer
	consumeWg sync.WaitGroup
}

// NewPillboxService 创建药盒服务
func NewPillboxService(cfg *config.Config, logger *zap.Logger) (*PillboxService, error) {
	clk := clock.NewSystemClock(cfg.Location)
	m := metrics.New()

	// 1. 存储层：数据库不可用时回退到内存
	var db *sql.DB
	var repos *Repositories
	if cfg.DBEnabled {
		d, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := repository.EnsureSchema(context.Background(), d); err != nil {
			_ = database.Close(d)
			return nil, err
		}
		db = d
		repos = NewPostgresRepositories(db, logger)
		logger.Info("DB enabled for pillbox")
	} else {
		repos = NewMemoryRepositories(repository.NewMemoryStore())
		logger.Warn("DB disabled, using in-memory repositories")
	}

	// 2. Redis（可选，仅用于通知流）
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewRedisClient(&cfg.Redis)
		if err := redis.Ping(context.Background(), redisClient); err != nil {
			logger.Warn("Redis enabled but ping failed, streams disabled", zap.Error(err))
			_ = redis.Close(redisClient)
			redisClient = nil
		}
	}

	// 3. 账号目录
	var directory PatientDirectory
	if cfg.PatientDirectoryURL != "" {
		directory = NewHTTPPatientDirectory(cfg.PatientDirectoryURL, logger)
	} else {
		directory = NewMemoryPatientDirectory()
		logger.Warn("PATIENT_DIRECTORY_URL not set, using empty in-memory directory")
	}

	// 4. MQTT
	mqttClient := mqtt.NewClient(&cfg.MQTT, logger)

	services := NewServices(cfg, repos, directory, mqttClient, redisClient, clk, m, logger)

	runner := evaluator.NewRunner(services.Evaluator, clk, cfg.Evaluation.Interval, m, logger)
	statusConsumer := consumer.NewStatusConsumer(
		mqttClient,
		cfg.Pillbox.StatusTopic,
		cfg.MQTT.QoS,
		services.Intakes,
		services.Slots,
		services.Audit,
		redisClient,
		clk,
		cfg.Location,
		m,
		logger,
	)

	return &PillboxService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
		clock:       clk,
		metrics:     m,
		Services:    services,
		runner:      runner,
		consumer:    statusConsumer,
	}, nil
}

// Metrics 服务指标
func (s *PillboxService) Metrics() *metrics.Metrics {
	return s.metrics
}

// Clock 服务时钟
func (s *PillboxService) Clock() clock.Clock {
	return s.clock
}

// Start 连接 MQTT，启动消费者和评估调度
func (s *PillboxService) Start(ctx context.Context) error {
	s.logger.Info("Starting pillbox service",
		zap.String("schedule_topic", s.config.Pillbox.ScheduleTopic),
		zap.String("status_topic", s.config.Pillbox.StatusTopic),
	)

	if err := s.mqttClient.Connect(); err != nil {
		return err
	}

	s.consumeWg.Add(1)
	go func() {
		defer s.consumeWg.Done()
		if err := s.consumer.Start(ctx); err != nil {
			s.logger.Error("Status consumer exited", zap.Error(err))
		}
	}()

	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start evaluator runner: %w", err)
	}
	return nil
}

// Stop 停止服务；调用前应先取消 Start 的 ctx
func (s *PillboxService) Stop() error {
	s.logger.Info("Stopping pillbox service")

	s.runner.Stop()
	s.consumer.Stop()
	s.consumeWg.Wait()

	if s.mqttClient.IsConnected() {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := redis.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	return nil
}
