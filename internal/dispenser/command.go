package dispenser

import (
	"fmt"
	"strings"

	"pillbox/internal/models"
)

// ImmediateTime 立即出药时下发的时间字段
const ImmediateTime = "00:00"

// DispenseCommand 出药命令（瞬态，不落库）
type DispenseCommand struct {
	Time        string // "HH:MM"；为空表示立即出药
	Compartment int
	Dose        int
}

// NewCommand 构造命令；t 为 nil、空串或 "now" 时为立即出药
func NewCommand(t *string, compartment, dose int) *DispenseCommand {
	cmd := &DispenseCommand{Compartment: compartment, Dose: dose}
	if t != nil {
		v := strings.TrimSpace(*t)
		if v != "" && !strings.EqualFold(v, "now") {
			cmd.Time = v
		}
	}
	return cmd
}

// Immediate 是否立即出药
func (c *DispenseCommand) Immediate() bool {
	return c.Time == ""
}

// Validate 校验命令；compartments 为设备仓位数
func (c *DispenseCommand) Validate(compartments int) error {
	if c.Compartment < 1 || c.Compartment > compartments {
		return fmt.Errorf("%w: compartment %d out of range 1..%d", models.ErrInvalidArgument, c.Compartment, compartments)
	}
	if c.Dose <= 0 {
		return fmt.Errorf("%w: dose must be positive", models.ErrInvalidArgument)
	}
	if !c.Immediate() {
		if _, _, err := models.ParseTimeOfDay(c.Time); err != nil {
			return err
		}
	}
	return nil
}

// Encode 编码为设备协议：HH:MM,M<compartment>,<dose>
func (c *DispenseCommand) Encode() string {
	t := c.Time
	if c.Immediate() {
		t = ImmediateTime
	}
	return fmt.Sprintf("%s,M%d,%d", t, c.Compartment, c.Dose)
}
