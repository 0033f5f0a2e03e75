package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pillbox/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresScheduleRepository 服药计划 Repository 实现
type PostgresScheduleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresScheduleRepository 创建服药计划 Repository
func NewPostgresScheduleRepository(db *sql.DB, logger *zap.Logger) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ ScheduleRepository = (*PostgresScheduleRepository)(nil)

const scheduleColumns = `
			id,
			patient_id,
			pill_name,
			dosage,
			compartment,
			to_char(time, 'HH24:MI'),
			frequency,
			weekdays,
			start_date,
			end_date,
			created_at,
			updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var s models.Schedule
	var frequency string
	var weekdays []int64
	err := row.Scan(
		&s.ID,
		&s.PatientID,
		&s.MedicationName,
		&s.Dosage,
		&s.Compartment,
		&s.TimeOfDay,
		&frequency,
		pq.Array(&weekdays),
		&s.StartDate,
		&s.EndDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Frequency = models.Frequency(frequency)
	for _, wd := range weekdays {
		s.Weekdays = append(s.Weekdays, time.Weekday(wd))
	}
	return &s, nil
}

func weekdaysArray(days []time.Weekday) interface{} {
	out := make([]int64, 0, len(days))
	for _, d := range days {
		out = append(out, int64(d))
	}
	return pq.Array(out)
}

// CreateSchedule 创建服药计划
func (r *PostgresScheduleRepository) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	query := `
		INSERT INTO pill_schedules (
			patient_id,
			pill_name,
			dosage,
			compartment,
			time,
			frequency,
			weekdays,
			start_date,
			end_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		s.PatientID,
		s.MedicationName,
		s.Dosage,
		s.Compartment,
		s.TimeOfDay,
		string(s.Frequency),
		weekdaysArray(s.Weekdays),
		models.FormatDate(s.StartDate),
		models.FormatDate(s.EndDate),
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule 根据 id 获取计划
func (r *PostgresScheduleRepository) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM pill_schedules
		WHERE id = $1
	`

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: schedule %d", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return s, nil
}

// ListSchedules 查询计划列表（patientID 为空时返回全部）
func (r *PostgresScheduleRepository) ListSchedules(ctx context.Context, patientID *int64) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM pill_schedules
		WHERE ($1::bigint IS NULL OR patient_id = $1)
		ORDER BY id
	`

	var arg interface{}
	if patientID != nil {
		arg = *patientID
	}
	return r.querySchedules(ctx, query, arg)
}

// ListActiveSchedules 有效期包含 date 的计划
func (r *PostgresScheduleRepository) ListActiveSchedules(ctx context.Context, date time.Time) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM pill_schedules
		WHERE start_date <= $1::date
		  AND end_date >= $1::date
		ORDER BY id
	`
	return r.querySchedules(ctx, query, models.FormatDate(date))
}

// FindScheduleByMedication 根据患者和药名查找 date 当天的计划
func (r *PostgresScheduleRepository) FindScheduleByMedication(ctx context.Context, patientID int64, medicationName string, date time.Time) (*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM pill_schedules
		WHERE patient_id = $1
		  AND pill_name = $2
		  AND start_date <= $3::date
		  AND end_date >= $3::date
		ORDER BY id
	`
	schedules, err := r.querySchedules(ctx, query, patientID, medicationName, models.FormatDate(date))
	if err != nil {
		return nil, err
	}

	// 频率（weekly/custom）在内存中过滤
	matched := schedules[:0]
	for _, s := range schedules {
		if s.OccursOn(date) {
			matched = append(matched, s)
		}
	}
	return pickMedicationSchedule(matched, patientID, medicationName, date)
}

// UpdateSchedule 更新计划
func (r *PostgresScheduleRepository) UpdateSchedule(ctx context.Context, s *models.Schedule) error {
	query := `
		UPDATE pill_schedules SET
			pill_name = $2,
			dosage = $3,
			compartment = $4,
			time = $5,
			frequency = $6,
			weekdays = $7,
			start_date = $8,
			end_date = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		s.ID,
		s.MedicationName,
		s.Dosage,
		s.Compartment,
		s.TimeOfDay,
		string(s.Frequency),
		weekdaysArray(s.Weekdays),
		models.FormatDate(s.StartDate),
		models.FormatDate(s.EndDate),
	).Scan(&s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: schedule %d", models.ErrNotFound, s.ID)
		}
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

// DeleteSchedule 删除计划（pill_intakes 通过外键级联删除）
func (r *PostgresScheduleRepository) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pill_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: schedule %d", models.ErrNotFound, id)
	}
	return nil
}

func (r *PostgresScheduleRepository) querySchedules(ctx context.Context, query string, args ...interface{}) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]*models.Schedule, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}
	return schedules, nil
}
