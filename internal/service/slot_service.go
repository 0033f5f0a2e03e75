package service

import (
	"context"
	"errors"
	"fmt"

	"pillbox/internal/clock"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"go.uber.org/zap"
)

// SlotService 药盒仓位状态服务
type SlotService struct {
	slotRepo  repository.SlotStatusRepository
	directory PatientDirectory
	alerts    *AlertService
	clock     clock.Clock
	logger    *zap.Logger
}

// NewSlotService 创建仓位状态服务
func NewSlotService(
	slotRepo repository.SlotStatusRepository,
	directory PatientDirectory,
	alerts *AlertService,
	clk clock.Clock,
	logger *zap.Logger,
) *SlotService {
	return &SlotService{
		slotRepo:  slotRepo,
		directory: directory,
		alerts:    alerts,
		clock:     clk,
		logger:    logger,
	}
}

// UpdateSlots 更新患者仓位状态；merge=false 整体替换
// 每个 empty 仓位触发一次补药提醒（已存在未解决的则不重复），filled 不会自动解决提醒
func (s *SlotService) UpdateSlots(ctx context.Context, patientID int64, slots map[string]models.SlotState, merge bool) (*models.SlotStatus, error) {
	if err := models.ValidateSlots(slots); err != nil {
		return nil, err
	}
	patient, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	status, err := s.slotRepo.UpsertSlotStatus(ctx, patientID, slots, merge, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot status updated",
		zap.Int64("patient_id", patientID),
		zap.Int("reported", len(slots)),
		zap.Bool("merge", merge),
	)

	var raiseErr error
	for _, slot := range status.EmptySlots() {
		if _, reported := slots[slot]; !reported {
			continue
		}
		msg := fmt.Sprintf("Refill needed: %s %s is empty", patient.Name, slot)
		if _, _, err := s.alerts.Raise(ctx, patientID, models.AlertRefillNeeded, models.RefillContextKey(patientID, slot), msg); err != nil {
			s.logger.Error("Failed to raise refill alert",
				zap.Int64("patient_id", patientID),
				zap.String("slot", slot),
				zap.Error(err),
			)
			raiseErr = errors.Join(raiseErr, err)
		}
	}
	return status, raiseErr
}

// GetSlots 查询患者仓位状态
func (s *SlotService) GetSlots(ctx context.Context, patientID int64) (*models.SlotStatus, error) {
	return s.slotRepo.GetSlotStatus(ctx, patientID)
}

// QueryRefillsNeeded 有空仓位的患者列表
func (s *SlotService) QueryRefillsNeeded(ctx context.Context) ([]models.RefillNeeded, error) {
	statuses, err := s.slotRepo.ListSlotStatuses(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.RefillNeeded, 0)
	for _, st := range statuses {
		empty := st.EmptySlots()
		if len(empty) == 0 {
			continue
		}
		name := ""
		if p, err := s.directory.GetPatient(ctx, st.PatientID); err == nil {
			name = p.Name
		} else {
			s.logger.Warn("Failed to resolve patient name",
				zap.Int64("patient_id", st.PatientID),
				zap.Error(err),
			)
		}
		out = append(out, models.RefillNeeded{
			PatientID:   st.PatientID,
			PatientName: name,
			EmptySlots:  empty,
			LastUpdated: st.LastUpdated,
		})
	}
	return out, nil
}
