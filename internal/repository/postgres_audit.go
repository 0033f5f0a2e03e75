package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pillbox/internal/models"

	"go.uber.org/zap"
)

// PostgresAuditRepository 补药日志与审计事件 Repository 实现
type PostgresAuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAuditRepository 创建审计 Repository
func NewPostgresAuditRepository(db *sql.DB, logger *zap.Logger) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db, logger: logger}
}

var (
	_ RefillLogRepository = (*PostgresAuditRepository)(nil)
	_ PillEventRepository = (*PostgresAuditRepository)(nil)
)

// CreateRefillLog 追加补药日志
func (r *PostgresAuditRepository) CreateRefillLog(ctx context.Context, l *models.RefillLog) error {
	query := `
		INSERT INTO refill_logs (pill_name, count, timestamp, refill_needed)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query, l.MedicationName, l.Count, l.Timestamp, l.RefillNeeded).Scan(&l.ID); err != nil {
		return fmt.Errorf("failed to create refill log: %w", err)
	}
	return nil
}

// ListRefillLogs 查询补药日志（最新在前）
func (r *PostgresAuditRepository) ListRefillLogs(ctx context.Context) ([]*models.RefillLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pill_name, count, timestamp, refill_needed
		FROM refill_logs
		ORDER BY timestamp DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list refill logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.RefillLog, 0)
	for rows.Next() {
		var l models.RefillLog
		if err := rows.Scan(&l.ID, &l.MedicationName, &l.Count, &l.Timestamp, &l.RefillNeeded); err != nil {
			return nil, fmt.Errorf("failed to scan refill log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// CreatePillEvent 写入审计事件
func (r *PostgresAuditRepository) CreatePillEvent(ctx context.Context, e *models.PillEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pill_events (id, event, timestamp)
		VALUES ($1, $2, $3)
	`, e.ID, e.Event, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create pill event: %w", err)
	}
	return nil
}

// ListPillEvents 最近的审计事件
func (r *PostgresAuditRepository) ListPillEvents(ctx context.Context, limit int) ([]*models.PillEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event, timestamp
		FROM pill_events
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pill events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.PillEvent, 0)
	for rows.Next() {
		var e models.PillEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan pill event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
