package models

import (
	"fmt"
	"sort"
	"time"
)

// SlotState 仓位状态
type SlotState string

const (
	SlotFilled SlotState = "filled"
	SlotEmpty  SlotState = "empty"
)

// SlotStatus 药盒仓位状态（每个患者一条）
type SlotStatus struct {
	ID          int64                `json:"id"`
	PatientID   int64                `json:"patient_id"`
	Slots       map[string]SlotState `json:"slot_status"` // 如 {"slot1": "filled", "slot2": "empty"}
	LastUpdated time.Time            `json:"last_updated"`
}

// ValidateSlots 校验仓位状态映射
func ValidateSlots(slots map[string]SlotState) error {
	if len(slots) == 0 {
		return fmt.Errorf("%w: slots must not be empty", ErrInvalidArgument)
	}
	for label, state := range slots {
		if label == "" {
			return fmt.Errorf("%w: empty slot label", ErrInvalidArgument)
		}
		if state != SlotFilled && state != SlotEmpty {
			return fmt.Errorf("%w: slot %s has unknown state %q", ErrInvalidArgument, label, state)
		}
	}
	return nil
}

// EmptySlots 返回排序后的空仓位
func (s *SlotStatus) EmptySlots() []string {
	var empty []string
	for label, state := range s.Slots {
		if state == SlotEmpty {
			empty = append(empty, label)
		}
	}
	sort.Strings(empty)
	return empty
}

// RefillNeeded 需要补药的患者
type RefillNeeded struct {
	PatientID   int64     `json:"patient_id"`
	PatientName string    `json:"patient"`
	EmptySlots  []string  `json:"empty_slots"`
	LastUpdated time.Time `json:"last_updated"`
}
