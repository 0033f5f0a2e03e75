package models

import (
	"fmt"
	"time"
)

// AlertKind 提醒类型
type AlertKind string

const (
	AlertMissedDose   AlertKind = "missed-dose"
	AlertRefillNeeded AlertKind = "refill-needed"
	AlertReminder     AlertKind = "reminder"
)

// Valid 是否为已知类型
func (k AlertKind) Valid() bool {
	switch k {
	case AlertMissedDose, AlertRefillNeeded, AlertReminder:
		return true
	}
	return false
}

// Alert 提醒（对应 alerts 表）
// (patient_id, kind, context_key) 在未解决状态下唯一
type Alert struct {
	ID         string    `json:"id"`
	PatientID  int64     `json:"patient_id"`
	Kind       AlertKind `json:"alert_type"`
	ContextKey string    `json:"context_key"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	Resolved   bool      `json:"is_resolved"`
}

// AlertFilter 查询条件
type AlertFilter struct {
	PatientID *int64
	Kind      *AlertKind
	Resolved  *bool
}

// Matches 内存过滤
func (f AlertFilter) Matches(a *Alert) bool {
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.Kind != nil && a.Kind != *f.Kind {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	return true
}

// RefillContextKey 补药提醒去重键（仓位或药名）
func RefillContextKey(patientID int64, slotOrMedication string) string {
	return fmt.Sprintf("%d:%s", patientID, slotOrMedication)
}
