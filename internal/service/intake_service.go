package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pillbox/internal/clock"
	"pillbox/internal/metrics"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"go.uber.org/zap"
)

// TakenTimeLayout taken_time 格式
const TakenTimeLayout = "15:04:05"

// IntakeService 服药记录服务
type IntakeService struct {
	scheduleRepo repository.ScheduleRepository
	intakeRepo   repository.IntakeRepository
	alerts       *AlertService
	clock        clock.Clock
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewIntakeService 创建服药记录服务
func NewIntakeService(
	scheduleRepo repository.ScheduleRepository,
	intakeRepo repository.IntakeRepository,
	alerts *AlertService,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IntakeService {
	return &IntakeService{
		scheduleRepo: scheduleRepo,
		intakeRepo:   intakeRepo,
		alerts:       alerts,
		clock:        clk,
		metrics:      m,
		logger:       logger,
	}
}

// RecordIntake 按 (schedule, date) upsert 服药记录
// taken=true 且未给出时间时使用当前时间；taken=false 时触发漏服提醒
func (s *IntakeService) RecordIntake(ctx context.Context, scheduleID int64, date time.Time, taken bool, takenTime *string) (*models.IntakeRecord, error) {
	if !taken && takenTime != nil {
		return nil, fmt.Errorf("%w: taken_time must be empty when not taken", models.ErrInvalidArgument)
	}
	if taken {
		normalized, err := s.normalizeTakenTime(takenTime)
		if err != nil {
			return nil, err
		}
		takenTime = &normalized
	}

	schedule, err := s.scheduleRepo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !schedule.ActiveOn(date) {
		return nil, fmt.Errorf("%w: schedule %d is not active on %s", models.ErrNotFound, scheduleID, models.FormatDate(date))
	}
	if !schedule.OccursOn(date) {
		return nil, fmt.Errorf("%w: schedule %d has no dose on %s", models.ErrNotFound, scheduleID, models.FormatDate(date))
	}

	rec := &models.IntakeRecord{
		ScheduleID: scheduleID,
		Date:       models.DateOf(date),
		Taken:      taken,
		TakenTime:  takenTime,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	saved, err := s.intakeRepo.UpsertIntake(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveIntake(taken)

	s.logger.Info("Intake recorded",
		zap.Int64("schedule_id", scheduleID),
		zap.String("date", models.FormatDate(date)),
		zap.Bool("taken", taken),
	)

	if !taken {
		key := models.OccurrenceKey(scheduleID, date)
		msg := fmt.Sprintf("Missed dose: %s %s at %s on %s",
			schedule.MedicationName, schedule.Dosage, schedule.TimeOfDay, models.FormatDate(date))
		if _, _, err := s.alerts.Raise(ctx, schedule.PatientID, models.AlertMissedDose, key, msg); err != nil {
			s.logger.Error("Failed to raise missed-dose alert",
				zap.Int64("schedule_id", scheduleID),
				zap.Error(err),
			)
			return saved, err
		}
	}
	return saved, nil
}

// RecordIntakeByMedication 按 (患者, 药名) 记录当天服药，status 为 "Taken" 或 "Missed"
func (s *IntakeService) RecordIntakeByMedication(ctx context.Context, patientID int64, medicationName, status string) (*models.IntakeRecord, error) {
	var taken bool
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "taken":
		taken = true
	case "missed":
	default:
		return nil, fmt.Errorf("%w: status must be Taken or Missed", models.ErrInvalidArgument)
	}
	if medicationName == "" {
		return nil, fmt.Errorf("%w: pill_name is required", models.ErrInvalidArgument)
	}

	now := s.clock.Now()
	schedule, err := s.scheduleRepo.FindScheduleByMedication(ctx, patientID, medicationName, now)
	if err != nil {
		return nil, err
	}
	return s.RecordIntake(ctx, schedule.ID, now, taken, nil)
}

// ListIntakes 计划的全部服药记录
func (s *IntakeService) ListIntakes(ctx context.Context, scheduleID int64) ([]*models.IntakeRecord, error) {
	if _, err := s.scheduleRepo.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.intakeRepo.ListIntakes(ctx, scheduleID)
}

// normalizeTakenTime 接受 HH:MM 或 HH:MM:SS，统一为 HH:MM:SS
func (s *IntakeService) normalizeTakenTime(takenTime *string) (string, error) {
	if takenTime == nil || *takenTime == "" {
		return s.clock.Now().Format(TakenTimeLayout), nil
	}
	v := *takenTime
	if len(v) == 5 {
		if _, _, err := models.ParseTimeOfDay(v); err != nil {
			return "", err
		}
		return v + ":00", nil
	}
	if _, err := time.Parse(TakenTimeLayout, v); err != nil || len(v) != 8 {
		return "", fmt.Errorf("%w: taken_time %q must be HH:MM:SS", models.ErrInvalidArgument, v)
	}
	return v, nil
}
