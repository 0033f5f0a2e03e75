package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pillbox/internal/models"

	"go.uber.org/zap"
)

// PostgresIntakeRepository 服药记录 Repository 实现
type PostgresIntakeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresIntakeRepository 创建服药记录 Repository
func NewPostgresIntakeRepository(db *sql.DB, logger *zap.Logger) *PostgresIntakeRepository {
	return &PostgresIntakeRepository{db: db, logger: logger}
}

var _ IntakeRepository = (*PostgresIntakeRepository)(nil)

// UpsertIntake 按 (schedule_id, date) upsert，唯一约束保证并发下只有一条
func (r *PostgresIntakeRepository) UpsertIntake(ctx context.Context, rec *models.IntakeRecord) (*models.IntakeRecord, error) {
	query := `
		INSERT INTO pill_intakes (
			schedule_id,
			date,
			taken,
			taken_time
		) VALUES ($1, $2, $3, $4)
		ON CONFLICT (schedule_id, date) DO UPDATE SET
			taken = EXCLUDED.taken,
			taken_time = EXCLUDED.taken_time
		RETURNING id
	`

	var takenTime interface{}
	if rec.TakenTime != nil {
		takenTime = *rec.TakenTime
	}

	out := *rec
	err := r.db.QueryRowContext(ctx, query,
		rec.ScheduleID,
		models.FormatDate(rec.Date),
		rec.Taken,
		takenTime,
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert intake: %w", err)
	}
	return &out, nil
}

// FindIntake 查询 (schedule_id, date) 的记录，不存在返回 nil
func (r *PostgresIntakeRepository) FindIntake(ctx context.Context, scheduleID int64, date time.Time) (*models.IntakeRecord, error) {
	query := `
		SELECT
			id,
			schedule_id,
			date,
			taken,
			to_char(taken_time, 'HH24:MI:SS')
		FROM pill_intakes
		WHERE schedule_id = $1
		  AND date = $2::date
	`

	rec, err := scanIntake(r.db.QueryRowContext(ctx, query, scheduleID, models.FormatDate(date)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find intake: %w", err)
	}
	return rec, nil
}

// ListIntakes 查询计划的全部记录
func (r *PostgresIntakeRepository) ListIntakes(ctx context.Context, scheduleID int64) ([]*models.IntakeRecord, error) {
	query := `
		SELECT
			id,
			schedule_id,
			date,
			taken,
			to_char(taken_time, 'HH24:MI:SS')
		FROM pill_intakes
		WHERE schedule_id = $1
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intakes: %w", err)
	}
	defer rows.Close()

	records := make([]*models.IntakeRecord, 0)
	for rows.Next() {
		rec, err := scanIntake(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intake: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountIntakes 统计计划的记录数
func (r *PostgresIntakeRepository) CountIntakes(ctx context.Context, scheduleID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pill_intakes WHERE schedule_id = $1`, scheduleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count intakes: %w", err)
	}
	return n, nil
}

func scanIntake(row rowScanner) (*models.IntakeRecord, error) {
	var rec models.IntakeRecord
	var takenTime sql.NullString
	if err := row.Scan(&rec.ID, &rec.ScheduleID, &rec.Date, &rec.Taken, &takenTime); err != nil {
		return nil, err
	}
	if takenTime.Valid {
		rec.TakenTime = &takenTime.String
	}
	return &rec, nil
}
