package models

import (
	"fmt"
	"time"
)

// Frequency 服药频率
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCustom Frequency = "custom"
)

// Schedule 服药计划（对应 pill_schedules 表）
type Schedule struct {
	ID             int64          `json:"id"`
	PatientID      int64          `json:"patient_id"`
	MedicationName string         `json:"medication_name"`
	Dosage         string         `json:"dosage"`      // 如 "500 mg"
	Compartment    int            `json:"compartment"` // 药盒仓位 1..N
	TimeOfDay      string         `json:"time"`        // "HH:MM"
	Frequency      Frequency      `json:"frequency"`
	Weekdays       []time.Weekday `json:"weekdays,omitempty"` // 仅 custom 使用，空表示每天
	StartDate      time.Time      `json:"start_date"`
	EndDate        time.Time      `json:"end_date"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate 校验计划字段；compartments 为设备物理仓位数
func (s *Schedule) Validate(compartments int) error {
	if s.PatientID <= 0 {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidArgument)
	}
	if s.MedicationName == "" {
		return fmt.Errorf("%w: medication_name is required", ErrInvalidArgument)
	}
	if s.Compartment < 1 || s.Compartment > compartments {
		return fmt.Errorf("%w: compartment %d out of range 1..%d", ErrInvalidArgument, s.Compartment, compartments)
	}
	if _, _, err := ParseTimeOfDay(s.TimeOfDay); err != nil {
		return err
	}
	switch s.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyCustom:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidArgument, s.Frequency)
	}
	if s.StartDate.IsZero() || s.EndDate.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", ErrInvalidArgument)
	}
	if FormatDate(s.EndDate) < FormatDate(s.StartDate) {
		return fmt.Errorf("%w: end_date must not be before start_date", ErrInvalidArgument)
	}
	return nil
}

// ActiveOn 有效期 [start_date, end_date] 是否包含该日期
func (s *Schedule) ActiveOn(date time.Time) bool {
	d := FormatDate(date)
	return d >= FormatDate(s.StartDate) && d <= FormatDate(s.EndDate)
}

// OccursOn 该日期是否存在一次服药（Occurrence）
func (s *Schedule) OccursOn(date time.Time) bool {
	if !s.ActiveOn(date) {
		return false
	}
	switch s.Frequency {
	case FrequencyWeekly:
		return date.Weekday() == s.StartDate.Weekday()
	case FrequencyCustom:
		if len(s.Weekdays) == 0 {
			return true
		}
		for _, wd := range s.Weekdays {
			if wd == date.Weekday() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// ScheduledAt 计算某日的计划服药时刻（使用 date 的时区）
func (s *Schedule) ScheduledAt(date time.Time) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, date.Location()), nil
}

// OccurrenceKey (schedule, date) 去重键
func OccurrenceKey(scheduleID int64, date time.Time) string {
	return fmt.Sprintf("%d:%s", scheduleID, FormatDate(date))
}
