package models

import "time"

// PillEvent 设备消息与下发命令的审计记录
type PillEvent struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}
