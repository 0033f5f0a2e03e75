package service

import (
	"context"
	"fmt"

	"pillbox/common/redis"
	"pillbox/internal/clock"
	"pillbox/internal/metrics"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertStream 新建提醒的通知出口（Redis Streams）
const AlertStream = "pillbox:alerts:stream"

// AlertService 提醒去重服务
// 同一 (patient, kind, context_key) 在未解决状态下只保留一条
type AlertService struct {
	alertRepo   repository.AlertRepository
	redisClient *redis.Client // 可为 nil
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewAlertService 创建提醒服务
func NewAlertService(
	alertRepo repository.AlertRepository,
	redisClient *redis.Client,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AlertService {
	return &AlertService{
		alertRepo:   alertRepo,
		redisClient: redisClient,
		clock:       clk,
		metrics:     m,
		logger:      logger,
	}
}

// Raise 若不存在未解决的同键提醒则创建；created 表示是否新建
func (s *AlertService) Raise(ctx context.Context, patientID int64, kind models.AlertKind, contextKey, message string) (*models.Alert, bool, error) {
	if !kind.Valid() {
		return nil, false, fmt.Errorf("%w: unknown alert kind %q", models.ErrInvalidArgument, kind)
	}
	if contextKey == "" {
		return nil, false, fmt.Errorf("%w: context key is required", models.ErrInvalidArgument)
	}

	alert, created, err := s.alertRepo.CreateIfAbsent(ctx, &models.Alert{
		ID:         uuid.New().String(),
		PatientID:  patientID,
		Kind:       kind,
		ContextKey: contextKey,
		Message:    message,
		CreatedAt:  s.clock.Now(),
	})
	if err != nil {
		return nil, false, err
	}
	s.metrics.ObserveAlert(string(kind), created)

	if created {
		s.logger.Info("Alert raised",
			zap.String("alert_id", alert.ID),
			zap.Int64("patient_id", patientID),
			zap.String("kind", string(kind)),
			zap.String("context_key", contextKey),
		)
		s.fanOut(ctx, alert)
	} else {
		s.logger.Debug("Alert already open",
			zap.String("alert_id", alert.ID),
			zap.String("context_key", contextKey),
		)
	}
	return alert, created, nil
}

// fanOut 写入通知流，失败只记录日志
func (s *AlertService) fanOut(ctx context.Context, alert *models.Alert) {
	if s.redisClient == nil {
		return
	}
	if _, err := redis.PublishJSONToStream(ctx, s.redisClient, AlertStream, alert); err != nil {
		s.logger.Warn("Failed to publish alert to stream",
			zap.String("alert_id", alert.ID),
			zap.String("stream", AlertStream),
			zap.Error(err),
		)
	}
}

// ListAlerts 查询提醒
func (s *AlertService) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	return s.alertRepo.ListAlerts(ctx, filter)
}

// ResolveAlert 护理人员处理提醒
func (s *AlertService) ResolveAlert(ctx context.Context, id string) (*models.Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: alert id %q", models.ErrInvalidArgument, id)
	}
	if err := s.alertRepo.ResolveAlert(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("Alert resolved", zap.String("alert_id", id))
	return s.alertRepo.GetAlert(ctx, id)
}
