package models

import (
	"fmt"
	"time"
)

// IntakeRecord 服药记录（每个 (schedule, date) 至多一条）
type IntakeRecord struct {
	ID         int64     `json:"id"`
	ScheduleID int64     `json:"schedule_id"`
	Date       time.Time `json:"date"`
	Taken      bool      `json:"taken"`
	TakenTime  *string   `json:"taken_time,omitempty"` // "HH:MM:SS"，当且仅当 taken=true
}

// Validate taken_time 与 taken 必须一致
func (r *IntakeRecord) Validate() error {
	if r.ScheduleID <= 0 {
		return fmt.Errorf("%w: schedule_id is required", ErrInvalidArgument)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}
	if r.Taken && r.TakenTime == nil {
		return fmt.Errorf("%w: taken_time is required when taken", ErrInvalidArgument)
	}
	if !r.Taken && r.TakenTime != nil {
		return fmt.Errorf("%w: taken_time must be empty when not taken", ErrInvalidArgument)
	}
	return nil
}
