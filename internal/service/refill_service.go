package service

import (
	"context"
	"fmt"

	"pillbox/internal/clock"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"go.uber.org/zap"
)

// RefillService 补药日志服务
type RefillService struct {
	refillRepo repository.RefillLogRepository
	alerts     *AlertService
	clock      clock.Clock
	logger     *zap.Logger
}

func NewRefillService(refillRepo repository.RefillLogRepository, alerts *AlertService, clk clock.Clock, logger *zap.Logger) *RefillService {
	return &RefillService{refillRepo: refillRepo, alerts: alerts, clock: clk, logger: logger}
}

// LogRefill 追加补药日志；count 为 0 时标记需要补药，并在给出患者时触发提醒
func (s *RefillService) LogRefill(ctx context.Context, medicationName string, count int, patientID *int64) (*models.RefillLog, error) {
	if medicationName == "" {
		return nil, fmt.Errorf("%w: pill_name is required", models.ErrInvalidArgument)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: count must not be negative", models.ErrInvalidArgument)
	}

	l := &models.RefillLog{
		MedicationName: medicationName,
		Count:          count,
		Timestamp:      s.clock.Now(),
		RefillNeeded:   count == 0,
	}
	if err := s.refillRepo.CreateRefillLog(ctx, l); err != nil {
		return nil, err
	}

	if l.RefillNeeded && patientID != nil {
		msg := fmt.Sprintf("Refill needed: %s is out of stock", medicationName)
		if _, _, err := s.alerts.Raise(ctx, *patientID, models.AlertRefillNeeded, models.RefillContextKey(*patientID, medicationName), msg); err != nil {
			s.logger.Error("Failed to raise refill alert",
				zap.Int64("patient_id", *patientID),
				zap.String("pill_name", medicationName),
				zap.Error(err),
			)
			return l, err
		}
	}
	return l, nil
}

// ListRefillLogs 查询补药日志
func (s *RefillService) ListRefillLogs(ctx context.Context) ([]*models.RefillLog, error) {
	return s.refillRepo.ListRefillLogs(ctx)
}
