package evaluator

import (
	"context"
	"fmt"
	"time"

	"pillbox/internal/models"
	"pillbox/internal/repository"

	"go.uber.org/zap"
)

// AlertRaiser 提醒去重入口（由 service.AlertService 实现）
type AlertRaiser interface {
	Raise(ctx context.Context, patientID int64, kind models.AlertKind, contextKey, message string) (*models.Alert, bool, error)
}

// Config 评估参数
type Config struct {
	Lookahead    time.Duration // 提前提醒窗口
	Grace        time.Duration // 超过计划时间多久视为漏服
	CatchUp      time.Duration // 零点后继续检查前一天漏服的时长（Grace 之外），默认 1 小时
	Compartments int
	Location     *time.Location
}

// Result 单次评估统计
type Result struct {
	Evaluated      int `json:"evaluated"`
	Skipped        int `json:"skipped"`
	Taken          int `json:"taken"`
	RemindersNew   int `json:"reminders_raised"`
	MissedNew      int `json:"missed_raised"`
	AlreadyAlerted int `json:"already_alerted"`
	Errors         int `json:"errors"`
}

// Evaluator 到期服药评估器
// 只写提醒，不修改计划和服药记录；重复执行结果一致
type Evaluator struct {
	cfg          Config
	scheduleRepo repository.ScheduleRepository
	intakeRepo   repository.IntakeRepository
	alerts       AlertRaiser
	logger       *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(
	cfg Config,
	scheduleRepo repository.ScheduleRepository,
	intakeRepo repository.IntakeRepository,
	alerts AlertRaiser,
	logger *zap.Logger,
) *Evaluator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 5 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Minute
	}
	if cfg.CatchUp <= 0 {
		cfg.CatchUp = time.Hour
	}
	if cfg.Compartments <= 0 {
		cfg.Compartments = 3
	}
	return &Evaluator{
		cfg:          cfg,
		scheduleRepo: scheduleRepo,
		intakeRepo:   intakeRepo,
		alerts:       alerts,
		logger:       logger,
	}
}

// Evaluate 评估 now 所在日期的全部计划
// 零点后 Grace+CatchUp 内还会补查前一天的漏服（只产生漏服提醒）
// 单个计划失败只计数，不中断整批
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time) (*Result, error) {
	now = now.In(e.cfg.Location)
	today := models.DateOf(now)

	res := &Result{}
	if now.Sub(today) < e.cfg.Grace+e.cfg.CatchUp {
		yesterday := today.AddDate(0, 0, -1)
		if err := e.evaluateDay(ctx, yesterday, now, true, res); err != nil {
			return res, err
		}
	}
	if err := e.evaluateDay(ctx, today, now, false, res); err != nil {
		return res, err
	}

	e.logger.Debug("Evaluation finished",
		zap.Time("now", now),
		zap.Int("evaluated", res.Evaluated),
		zap.Int("reminders", res.RemindersNew),
		zap.Int("missed", res.MissedNew),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

func (e *Evaluator) evaluateDay(ctx context.Context, day, now time.Time, missedOnly bool, res *Result) error {
	schedules, err := e.scheduleRepo.ListActiveSchedules(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to list active schedules for %s: %w", models.FormatDate(day), err)
	}

	for _, s := range schedules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.evaluateSchedule(ctx, s, day, now, missedOnly, res); err != nil {
			res.Errors++
			e.logger.Error("Failed to evaluate schedule",
				zap.Int64("schedule_id", s.ID),
				zap.String("date", models.FormatDate(day)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Evaluator) evaluateSchedule(ctx context.Context, s *models.Schedule, today, now time.Time, missedOnly bool, res *Result) error {
	if err := s.Validate(e.cfg.Compartments); err != nil {
		res.Skipped++
		e.logger.Warn("Skipping malformed schedule",
			zap.Int64("schedule_id", s.ID),
			zap.Error(err),
		)
		return nil
	}
	if !s.OccursOn(today) {
		return nil
	}
	res.Evaluated++

	scheduledAt, err := s.ScheduledAt(today)
	if err != nil {
		return err
	}

	intake, err := e.intakeRepo.FindIntake(ctx, s.ID, today)
	if err != nil {
		return err
	}
	if intake != nil && intake.Taken {
		res.Taken++
		return nil
	}

	missed := now.Sub(scheduledAt) > e.cfg.Grace
	if missedOnly && !missed {
		return nil
	}

	key := models.OccurrenceKey(s.ID, today)
	switch {
	case missed:
		msg := fmt.Sprintf("Missed dose: %s %s scheduled at %s", s.MedicationName, s.Dosage, s.TimeOfDay)
		_, created, err := e.alerts.Raise(ctx, s.PatientID, models.AlertMissedDose, key, msg)
		if err != nil {
			return err
		}
		if created {
			res.MissedNew++
		} else {
			res.AlreadyAlerted++
		}

	case scheduledAt.Sub(now) <= e.cfg.Lookahead:
		msg := fmt.Sprintf("Reminder: take %s %s at %s from compartment %d", s.MedicationName, s.Dosage, s.TimeOfDay, s.Compartment)
		_, created, err := e.alerts.Raise(ctx, s.PatientID, models.AlertReminder, key, msg)
		if err != nil {
			return err
		}
		if created {
			res.RemindersNew++
		} else {
			res.AlreadyAlerted++
		}
	}
	return nil
}
