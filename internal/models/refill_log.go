package models

import "time"

// RefillLog 补药日志（只追加）
type RefillLog struct {
	ID             int64     `json:"id"`
	MedicationName string    `json:"pill_name"`
	Count          int       `json:"count"`
	Timestamp      time.Time `json:"timestamp"`
	RefillNeeded   bool      `json:"refill_needed"`
}
