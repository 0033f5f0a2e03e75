package service

import (
	"context"
	"fmt"

	"pillbox/internal/clock"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"go.uber.org/zap"
)

// ScheduleService 服药计划服务
type ScheduleService struct {
	scheduleRepo repository.ScheduleRepository
	intakeRepo   repository.IntakeRepository
	compartments int
	clock        clock.Clock
	logger       *zap.Logger
}

// NewScheduleService 创建服药计划服务；compartments 为设备仓位数
func NewScheduleService(
	scheduleRepo repository.ScheduleRepository,
	intakeRepo repository.IntakeRepository,
	compartments int,
	clk clock.Clock,
	logger *zap.Logger,
) *ScheduleService {
	return &ScheduleService{
		scheduleRepo: scheduleRepo,
		intakeRepo:   intakeRepo,
		compartments: compartments,
		clock:        clk,
		logger:       logger,
	}
}

// CreateSchedule 创建计划
func (s *ScheduleService) CreateSchedule(ctx context.Context, sched *models.Schedule) (*models.Schedule, error) {
	if sched.Frequency == "" {
		sched.Frequency = models.FrequencyDaily
	}
	if err := sched.Validate(s.compartments); err != nil {
		return nil, err
	}
	if err := s.scheduleRepo.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.Info("Schedule created",
		zap.Int64("schedule_id", sched.ID),
		zap.Int64("patient_id", sched.PatientID),
		zap.String("pill_name", sched.MedicationName),
	)
	return sched, nil
}

// GetSchedule 获取计划
func (s *ScheduleService) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	return s.scheduleRepo.GetSchedule(ctx, id)
}

// ListSchedules 查询计划
func (s *ScheduleService) ListSchedules(ctx context.Context, patientID *int64) ([]*models.Schedule, error) {
	return s.scheduleRepo.ListSchedules(ctx, patientID)
}

// UpdateSchedule 修改计划
// 已有服药记录的计划只允许从今天之后生效的修改（新 start_date 晚于今天）
func (s *ScheduleService) UpdateSchedule(ctx context.Context, sched *models.Schedule) (*models.Schedule, error) {
	existing, err := s.scheduleRepo.GetSchedule(ctx, sched.ID)
	if err != nil {
		return nil, err
	}
	sched.PatientID = existing.PatientID
	if sched.Frequency == "" {
		sched.Frequency = existing.Frequency
	}
	if err := sched.Validate(s.compartments); err != nil {
		return nil, err
	}

	n, err := s.intakeRepo.CountIntakes(ctx, sched.ID)
	if err != nil {
		return nil, err
	}
	today := models.FormatDate(s.clock.Now())
	if n > 0 && models.FormatDate(sched.StartDate) <= today {
		return nil, fmt.Errorf("%w: schedule %d has %d intake records; only forward-dated edits are allowed", models.ErrConflict, sched.ID, n)
	}

	if err := s.scheduleRepo.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.Info("Schedule updated", zap.Int64("schedule_id", sched.ID))
	return sched, nil
}

// DeleteSchedule 删除计划（级联删除服药记录）
func (s *ScheduleService) DeleteSchedule(ctx context.Context, id int64) error {
	if err := s.scheduleRepo.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Schedule deleted", zap.Int64("schedule_id", id))
	return nil
}
