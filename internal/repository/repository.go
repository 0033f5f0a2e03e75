package repository

import (
	"context"
	"fmt"
	"time"

	"pillbox/internal/models"
)

// ScheduleRepository 服药计划 Repository
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	ListSchedules(ctx context.Context, patientID *int64) ([]*models.Schedule, error)
	// 有效期包含 date 的计划
	ListActiveSchedules(ctx context.Context, date time.Time) ([]*models.Schedule, error)
	// date 当天有服药的唯一计划；没有返回 ErrNotFound，多于一个返回 ErrConflict
	FindScheduleByMedication(ctx context.Context, patientID int64, medicationName string, date time.Time) (*models.Schedule, error)
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	// 级联删除服药记录
	DeleteSchedule(ctx context.Context, id int64) error
}

// IntakeRepository 服药记录 Repository（(schedule_id, date) 唯一）
type IntakeRepository interface {
	// 按自然键 upsert
	UpsertIntake(ctx context.Context, r *models.IntakeRecord) (*models.IntakeRecord, error)
	// 不存在时返回 (nil, nil)
	FindIntake(ctx context.Context, scheduleID int64, date time.Time) (*models.IntakeRecord, error)
	ListIntakes(ctx context.Context, scheduleID int64) ([]*models.IntakeRecord, error)
	CountIntakes(ctx context.Context, scheduleID int64) (int, error)
}

// SlotStatusRepository 药盒仓位状态 Repository（每个患者一条）
type SlotStatusRepository interface {
	GetSlotStatus(ctx context.Context, patientID int64) (*models.SlotStatus, error)
	// merge=true 时按仓位合并，否则整体替换
	UpsertSlotStatus(ctx context.Context, patientID int64, slots map[string]models.SlotState, merge bool, at time.Time) (*models.SlotStatus, error)
	ListSlotStatuses(ctx context.Context) ([]*models.SlotStatus, error)
}

// AlertRepository 提醒 Repository
type AlertRepository interface {
	// 若已存在 (patient_id, kind, context_key) 的未解决提醒则返回它（created=false）
	CreateIfAbsent(ctx context.Context, a *models.Alert) (*models.Alert, bool, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
}

// RefillLogRepository 补药日志 Repository（只追加）
type RefillLogRepository interface {
	CreateRefillLog(ctx context.Context, l *models.RefillLog) error
	ListRefillLogs(ctx context.Context) ([]*models.RefillLog, error)
}

// PillEventRepository 审计事件 Repository
type PillEventRepository interface {
	CreatePillEvent(ctx context.Context, e *models.PillEvent) error
	ListPillEvents(ctx context.Context, limit int) ([]*models.PillEvent, error)
}

// pickMedicationSchedule 同一药名当天只能对应一个计划
func pickMedicationSchedule(matched []*models.Schedule, patientID int64, medicationName string, date time.Time) (*models.Schedule, error) {
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("%w: no schedule for patient %d medication %s on %s",
			models.ErrNotFound, patientID, medicationName, models.FormatDate(date))
	case 1:
		return matched[0], nil
	default:
		return nil, fmt.Errorf("%w: %d schedules for patient %d medication %s on %s",
			models.ErrConflict, len(matched), patientID, medicationName, models.FormatDate(date))
	}
}
