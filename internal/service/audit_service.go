package service

import (
	"context"

	"pillbox/internal/clock"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditService 审计事件记录（pill_events）
type AuditService struct {
	eventRepo repository.PillEventRepository
	clock     clock.Clock
	logger    *zap.Logger
}

func NewAuditService(eventRepo repository.PillEventRepository, clk clock.Clock, logger *zap.Logger) *AuditService {
	return &AuditService{eventRepo: eventRepo, clock: clk, logger: logger}
}

// Record 记录一条审计事件
func (s *AuditService) Record(ctx context.Context, event string) error {
	e := &models.PillEvent{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: s.clock.Now(),
	}
	if err := s.eventRepo.CreatePillEvent(ctx, e); err != nil {
		s.logger.Error("Failed to record pill event", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

// Recent 最近的审计事件
func (s *AuditService) Recent(ctx context.Context, limit int) ([]*models.PillEvent, error) {
	return s.eventRepo.ListPillEvents(ctx, limit)
}
