package dispenser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pillbox/internal/models"
)

// StatusKind 设备上报消息类型
type StatusKind string

const (
	StatusUnknown StatusKind = ""
	StatusIntake  StatusKind = "intake"
	StatusSlots   StatusKind = "slots"
)

// IntakeReport 服药上报
type IntakeReport struct {
	ScheduleID int64   `json:"schedule_id"`
	Date       string  `json:"date,omitempty"` // 为空表示当天
	Taken      bool    `json:"taken"`
	TakenTime  *string `json:"taken_time,omitempty"`
}

// SlotsReport 仓位上报
type SlotsReport struct {
	PatientID int64                       `json:"patient_id"`
	Slots     map[string]models.SlotState `json:"slots"`
	Merge     bool                        `json:"merge"`
}

// StatusMessage 解析后的 pillbox/status 消息
type StatusMessage struct {
	Kind   StatusKind
	Intake *IntakeReport
	Slots  *SlotsReport
}

type statusEnvelope struct {
	Type string `json:"type"`
	IntakeReport
	SlotsReport
}

// ParseStatus 解析设备上报
// 支持 JSON（type=intake|slots）和紧凑文本：
//
//	INTAKE,<schedule_id>,TAKEN|MISSED
//	SLOT,<patient_id>,<slot>,FILLED|EMPTY
//
// 无法识别时返回 StatusUnknown 和错误，调用方只做审计
func ParseStatus(payload []byte) (*StatusMessage, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return &StatusMessage{}, fmt.Errorf("empty payload")
	}
	if strings.HasPrefix(text, "{") {
		return parseJSONStatus([]byte(text))
	}
	return parseCompactStatus(text)
}

func parseJSONStatus(payload []byte) (*StatusMessage, error) {
	var env statusEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return &StatusMessage{}, fmt.Errorf("invalid json status: %w", err)
	}
	switch StatusKind(strings.ToLower(env.Type)) {
	case StatusIntake:
		if env.ScheduleID <= 0 {
			return &StatusMessage{}, fmt.Errorf("intake status without schedule_id")
		}
		r := env.IntakeReport
		return &StatusMessage{Kind: StatusIntake, Intake: &r}, nil
	case StatusSlots:
		if env.PatientID <= 0 || len(env.Slots) == 0 {
			return &StatusMessage{}, fmt.Errorf("slots status without patient_id or slots")
		}
		r := env.SlotsReport
		return &StatusMessage{Kind: StatusSlots, Slots: &r}, nil
	default:
		return &StatusMessage{}, fmt.Errorf("unknown status type %q", env.Type)
	}
}

func parseCompactStatus(text string) (*StatusMessage, error) {
	parts := strings.Split(text, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch strings.ToUpper(parts[0]) {
	case "INTAKE":
		if len(parts) != 3 {
			return &StatusMessage{}, fmt.Errorf("malformed intake status %q", text)
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return &StatusMessage{}, fmt.Errorf("invalid schedule id %q", parts[1])
		}
		var taken bool
		switch strings.ToUpper(parts[2]) {
		case "TAKEN":
			taken = true
		case "MISSED":
		default:
			return &StatusMessage{}, fmt.Errorf("invalid intake state %q", parts[2])
		}
		return &StatusMessage{Kind: StatusIntake, Intake: &IntakeReport{ScheduleID: id, Taken: taken}}, nil

	case "SLOT":
		if len(parts) != 4 {
			return &StatusMessage{}, fmt.Errorf("malformed slot status %q", text)
		}
		pid, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || pid <= 0 {
			return &StatusMessage{}, fmt.Errorf("invalid patient id %q", parts[1])
		}
		if parts[2] == "" {
			return &StatusMessage{}, fmt.Errorf("empty slot name")
		}
		state := models.SlotState(strings.ToLower(parts[3]))
		if state != models.SlotFilled && state != models.SlotEmpty {
			return &StatusMessage{}, fmt.Errorf("invalid slot state %q", parts[3])
		}
		return &StatusMessage{
			Kind: StatusSlots,
			Slots: &SlotsReport{
				PatientID: pid,
				Slots:     map[string]models.SlotState{parts[2]: state},
				Merge:     true,
			},
		}, nil
	}
	return &StatusMessage{}, fmt.Errorf("unrecognized status %q", text)
}
