package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pillbox/internal/models"

	"go.uber.org/zap"
)

// PostgresSlotStatusRepository 药盒仓位状态 Repository 实现
type PostgresSlotStatusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSlotStatusRepository 创建仓位状态 Repository
func NewPostgresSlotStatusRepository(db *sql.DB, logger *zap.Logger) *PostgresSlotStatusRepository {
	return &PostgresSlotStatusRepository{db: db, logger: logger}
}

var _ SlotStatusRepository = (*PostgresSlotStatusRepository)(nil)

// GetSlotStatus 获取患者仓位状态
func (r *PostgresSlotStatusRepository) GetSlotStatus(ctx context.Context, patientID int64) (*models.SlotStatus, error) {
	query := `
		SELECT id, patient_id, slot_status, last_updated
		FROM pillbox_status
		WHERE patient_id = $1
	`

	st, err := scanSlotStatus(r.db.QueryRowContext(ctx, query, patientID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: slot status for patient %d", models.ErrNotFound, patientID)
		}
		return nil, fmt.Errorf("failed to get slot status: %w", err)
	}
	return st, nil
}

// UpsertSlotStatus 写入仓位状态
// merge=true 时使用 JSONB 拼接，只覆盖本次上报的仓位
func (r *PostgresSlotStatusRepository) UpsertSlotStatus(ctx context.Context, patientID int64, slots map[string]models.SlotState, merge bool, at time.Time) (*models.SlotStatus, error) {
	data, err := json.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal slot status: %w", err)
	}

	update := `slot_status = EXCLUDED.slot_status`
	if merge {
		update = `slot_status = pillbox_status.slot_status || EXCLUDED.slot_status`
	}

	query := `
		INSERT INTO pillbox_status (
			patient_id,
			slot_status,
			last_updated
		) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (patient_id) DO UPDATE SET
			` + update + `,
			last_updated = EXCLUDED.last_updated
		RETURNING id, patient_id, slot_status, last_updated
	`

	st, err := scanSlotStatus(r.db.QueryRowContext(ctx, query, patientID, string(data), at))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert slot status: %w", err)
	}
	return st, nil
}

// ListSlotStatuses 全部患者的仓位状态
func (r *PostgresSlotStatusRepository) ListSlotStatuses(ctx context.Context) ([]*models.SlotStatus, error) {
	query := `
		SELECT id, patient_id, slot_status, last_updated
		FROM pillbox_status
		ORDER BY patient_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot statuses: %w", err)
	}
	defer rows.Close()

	out := make([]*models.SlotStatus, 0)
	for rows.Next() {
		st, err := scanSlotStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanSlotStatus(row rowScanner) (*models.SlotStatus, error) {
	var st models.SlotStatus
	var raw []byte
	if err := row.Scan(&st.ID, &st.PatientID, &raw, &st.LastUpdated); err != nil {
		return nil, err
	}
	st.Slots = make(map[string]models.SlotState)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &st.Slots); err != nil {
			return nil, fmt.Errorf("invalid slot_status json: %w", err)
		}
	}
	return &st, nil
}
