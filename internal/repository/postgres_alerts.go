package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pillbox/internal/models"

	"go.uber.org/zap"
)

// PostgresAlertRepository 提醒 Repository 实现
type PostgresAlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAlertRepository 创建提醒 Repository
func NewPostgresAlertRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db, logger: logger}
}

var _ AlertRepository = (*PostgresAlertRepository)(nil)

const alertColumns = `id, patient_id, alert_type, context_key, message, created_at, is_resolved`

// CreateIfAbsent 插入提醒；部分唯一索引 uq_alerts_open 保证并发下不重复
func (r *PostgresAlertRepository) CreateIfAbsent(ctx context.Context, a *models.Alert) (*models.Alert, bool, error) {
	insert := `
		INSERT INTO alerts (
			id,
			patient_id,
			alert_type,
			context_key,
			message,
			created_at,
			is_resolved
		) VALUES ($1, $2, $3, $4, $5, $6, false)
		ON CONFLICT (patient_id, alert_type, context_key) WHERE is_resolved = false
		DO NOTHING
		RETURNING ` + alertColumns

	// 冲突后的查询与解决并发时，已存在的提醒可能刚被解决，重试一次插入
	for attempt := 0; attempt < 2; attempt++ {
		created, err := scanAlert(r.db.QueryRowContext(ctx, insert,
			a.ID,
			a.PatientID,
			string(a.Kind),
			a.ContextKey,
			a.Message,
			a.CreatedAt,
		))
		if err == nil {
			return created, true, nil
		}
		if err != sql.ErrNoRows {
			return nil, false, fmt.Errorf("failed to create alert: %w", err)
		}

		// 冲突：返回已存在的未解决提醒
		existing, err := scanAlert(r.db.QueryRowContext(ctx, `
			SELECT `+alertColumns+`
			FROM alerts
			WHERE patient_id = $1
			  AND alert_type = $2
			  AND context_key = $3
			  AND is_resolved = false
			LIMIT 1
		`, a.PatientID, string(a.Kind), a.ContextKey))
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return nil, false, fmt.Errorf("failed to load open alert: %w", err)
		}
		r.logger.Debug("Open alert resolved concurrently, retrying insert",
			zap.Int64("patient_id", a.PatientID),
			zap.String("alert_type", string(a.Kind)),
			zap.String("context_key", a.ContextKey),
		)
	}
	return nil, false, fmt.Errorf("%w: open alert %s %s changed concurrently", models.ErrConflict, a.Kind, a.ContextKey)
}

// GetAlert 根据 id 获取提醒
func (r *PostgresAlertRepository) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: alert %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListAlerts 按条件查询提醒（最新在前）
func (r *PostgresAlertRepository) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	var where []string
	var args []interface{}
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		where = append(where, fmt.Sprintf("alert_type = $%d", len(args)))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		where = append(where, fmt.Sprintf("is_resolved = $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ResolveAlert 标记已解决；已解决的提醒再次解决不报错
func (r *PostgresAlertRepository) ResolveAlert(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET is_resolved = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: alert %s", models.ErrNotFound, id)
	}
	return nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var kind string
	if err := row.Scan(&a.ID, &a.PatientID, &kind, &a.ContextKey, &a.Message, &a.CreatedAt, &a.Resolved); err != nil {
		return nil, err
	}
	a.Kind = models.AlertKind(kind)
	return &a, nil
}
