package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"pillbox/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var scheduleRowColumns = []string{
	"id", "patient_id", "pill_name", "dosage", "compartment", "time",
	"frequency", "weekdays", "start_date", "end_date", "created_at", "updated_at",
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPostgresSchedule_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresScheduleRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO pill_schedules`).
		WithArgs(int64(7), "Metformin", "500 mg", 2, "09:00", "daily", sqlmock.AnyArg(), "2026-10-01", "2026-10-31").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(12, now, now))

	s := &models.Schedule{
		PatientID:      7,
		MedicationName: "Metformin",
		Dosage:         "500 mg",
		Compartment:    2,
		TimeOfDay:      "09:00",
		Frequency:      models.FrequencyDaily,
		StartDate:      day(2026, 10, 1),
		EndDate:        day(2026, 10, 31),
	}
	require.NoError(t, repo.CreateSchedule(context.Background(), s))
	assert.Equal(t, int64(12), s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchedule_GetScansWeekdays(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresScheduleRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`FROM pill_schedules`).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).
			AddRow(12, 7, "Metformin", "500 mg", 2, "09:00", "custom", "{1,3}", day(2026, 10, 1), day(2026, 10, 31), now, now))

	s, err := repo.GetSchedule(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyCustom, s.Frequency)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, s.Weekdays)
	assert.Equal(t, "09:00", s.TimeOfDay)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchedule_GetNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresScheduleRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM pill_schedules`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns))

	_, err := repo.GetSchedule(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchedule_ListActive(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresScheduleRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`start_date <= \$1::date`).
		WithArgs("2026-10-15").
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).
			AddRow(1, 7, "A", "", 1, "08:00", "daily", "{}", day(2026, 10, 1), day(2026, 10, 31), now, now).
			AddRow(2, 8, "B", "", 3, "21:30", "weekly", "{}", day(2026, 10, 1), day(2026, 12, 31), now, now))

	list, err := repo.ListActiveSchedules(context.Background(), time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Empty(t, list[0].Weekdays)
	assert.Equal(t, models.FrequencyWeekly, list[1].Frequency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchedule_FindByMedication(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresScheduleRepository(db, zap.NewNop())
	now := time.Now()
	thursday := day(2026, 10, 15)

	// 周一/周三的计划当天不服药，只剩一个
	mock.ExpectQuery(`pill_name = \$2`).
		WithArgs(int64(7), "Metformin", "2026-10-15").
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).
			AddRow(1, 7, "Metformin", "500 mg", 1, "09:00", "daily", "{}", day(2026, 10, 1), day(2026, 10, 31), now, now).
			AddRow(2, 7, "Metformin", "500 mg", 2, "21:00", "custom", "{1,3}", day(2026, 10, 1), day(2026, 10, 31), now, now))

	s, err := repo.FindScheduleByMedication(context.Background(), 7, "Metformin", thursday)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ID)

	// 同一天两个计划
	mock.ExpectQuery(`pill_name = \$2`).
		WithArgs(int64(7), "Metformin", "2026-10-15").
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).
			AddRow(1, 7, "Metformin", "500 mg", 1, "09:00", "daily", "{}", day(2026, 10, 1), day(2026, 10, 31), now, now).
			AddRow(3, 7, "Metformin", "500 mg", 2, "21:00", "daily", "{}", day(2026, 10, 1), day(2026, 10, 31), now, now))

	_, err = repo.FindScheduleByMedication(context.Background(), 7, "Metformin", thursday)
	assert.ErrorIs(t, err, models.ErrConflict)

	mock.ExpectQuery(`pill_name = \$2`).
		WithArgs(int64(7), "Aspirin", "2026-10-15").
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns))

	_, err = repo.FindScheduleByMedication(context.Background(), 7, "Aspirin", thursday)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchedule_DeleteNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresScheduleRepository(db, zap.NewNop())

	mock.ExpectExec(`DELETE FROM pill_schedules`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteSchedule(context.Background(), 5)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIntake_Upsert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresIntakeRepository(db, zap.NewNop())

	taken := "09:01:00"
	mock.ExpectQuery(`ON CONFLICT \(schedule_id, date\) DO UPDATE`).
		WithArgs(int64(12), "2026-10-15", true, "09:01:00").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(40))

	rec, err := repo.UpsertIntake(context.Background(), &models.IntakeRecord{
		ScheduleID: 12,
		Date:       day(2026, 10, 15),
		Taken:      true,
		TakenTime:  &taken,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIntake_FindAbsent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresIntakeRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM pill_intakes`).
		WithArgs(int64(12), "2026-10-15").
		WillReturnRows(sqlmock.NewRows([]string{"id", "schedule_id", "date", "taken", "taken_time"}))

	rec, err := repo.FindIntake(context.Background(), 12, day(2026, 10, 15))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIntake_ListEmptyIsNotNil(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresIntakeRepository(db, zap.NewNop())

	mock.ExpectQuery(`WHERE schedule_id = \$1`).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "schedule_id", "date", "taken", "taken_time"}))

	list, err := repo.ListIntakes(context.Background(), 12)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIntake_FindMissed(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresIntakeRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM pill_intakes`).
		WithArgs(int64(12), "2026-10-15").
		WillReturnRows(sqlmock.NewRows([]string{"id", "schedule_id", "date", "taken", "taken_time"}).
			AddRow(40, 12, day(2026, 10, 15), false, nil))

	rec, err := repo.FindIntake(context.Background(), 12, day(2026, 10, 15))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Taken)
	assert.Nil(t, rec.TakenTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSlotStatus_UpsertMerge(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresSlotStatusRepository(db, zap.NewNop())

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`pillbox_status.slot_status \|\| EXCLUDED.slot_status`).
		WithArgs(int64(7), `{"slot1":"empty"}`, at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "slot_status", "last_updated"}).
			AddRow(1, 7, []byte(`{"slot1":"empty","slot2":"filled"}`), at))

	st, err := repo.UpsertSlotStatus(context.Background(), 7, map[string]models.SlotState{"slot1": models.SlotEmpty}, true, at)
	require.NoError(t, err)
	assert.Equal(t, models.SlotEmpty, st.Slots["slot1"])
	assert.Equal(t, models.SlotFilled, st.Slots["slot2"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSlotStatus_UpsertReplace(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresSlotStatusRepository(db, zap.NewNop())

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`slot_status = EXCLUDED.slot_status,`).
		WithArgs(int64(7), `{"slot1":"filled"}`, at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "slot_status", "last_updated"}).
			AddRow(1, 7, []byte(`{"slot1":"filled"}`), at))

	st, err := repo.UpsertSlotStatus(context.Background(), 7, map[string]models.SlotState{"slot1": models.SlotFilled}, false, at)
	require.NoError(t, err)
	assert.Len(t, st.Slots, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var alertRowColumns = []string{"id", "patient_id", "alert_type", "context_key", "message", "created_at", "is_resolved"}

func TestPostgresAlert_CreateIfAbsent_Inserted(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAlertRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO alerts`).
		WithArgs("a-1", int64(7), "missed-dose", "12:2026-10-15", "missed", now).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow("a-1", 7, "missed-dose", "12:2026-10-15", "missed", now, false))

	a, created, err := repo.CreateIfAbsent(context.Background(), &models.Alert{
		ID: "a-1", PatientID: 7, Kind: models.AlertMissedDose, ContextKey: "12:2026-10-15", Message: "missed", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a-1", a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlert_CreateIfAbsent_ReturnsOpen(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAlertRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO alerts`).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))
	mock.ExpectQuery(`AND is_resolved = false`).
		WithArgs(int64(7), "missed-dose", "12:2026-10-15").
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow("a-0", 7, "missed-dose", "12:2026-10-15", "missed", now, false))

	a, created, err := repo.CreateIfAbsent(context.Background(), &models.Alert{
		ID: "a-1", PatientID: 7, Kind: models.AlertMissedDose, ContextKey: "12:2026-10-15", Message: "missed", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a-0", a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlert_CreateIfAbsent_RetriesWhenOpenAlertResolved(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAlertRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO alerts`).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))
	mock.ExpectQuery(`AND is_resolved = false`).
		WithArgs(int64(7), "missed-dose", "12:2026-10-15").
		WillReturnRows(sqlmock.NewRows(alertRowColumns))
	mock.ExpectQuery(`INSERT INTO alerts`).
		WithArgs("a-1", int64(7), "missed-dose", "12:2026-10-15", "missed", now).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow("a-1", 7, "missed-dose", "12:2026-10-15", "missed", now, false))

	a, created, err := repo.CreateIfAbsent(context.Background(), &models.Alert{
		ID: "a-1", PatientID: 7, Kind: models.AlertMissedDose, ContextKey: "12:2026-10-15", Message: "missed", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a-1", a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlert_ListEmptyIsNotNil(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAlertRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT .* FROM alerts ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	list, err := repo.ListAlerts(context.Background(), models.AlertFilter{})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlert_ListWithFilter(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAlertRepository(db, zap.NewNop())

	pid := int64(7)
	open := false
	mock.ExpectQuery(`WHERE patient_id = \$1 AND is_resolved = \$2 ORDER BY created_at DESC`).
		WithArgs(pid, false).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow("a-1", 7, "refill-needed", "7:slot1", "refill", time.Now(), false))

	list, err := repo.ListAlerts(context.Background(), models.AlertFilter{PatientID: &pid, Resolved: &open})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.AlertRefillNeeded, list[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlert_ResolveNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAlertRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE alerts SET is_resolved = true`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.ResolveAlert(context.Background(), "missing"), models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAudit_RefillLogAndEvent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAuditRepository(db, zap.NewNop())

	ts := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO refill_logs`).
		WithArgs("Metformin", 30, ts, false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO pill_events`).
		WithArgs("e-1", "Schedule sent: 15:30,M1,2", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l := &models.RefillLog{MedicationName: "Metformin", Count: 30, Timestamp: ts}
	require.NoError(t, repo.CreateRefillLog(context.Background(), l))
	assert.Equal(t, int64(3), l.ID)

	require.NoError(t, repo.CreatePillEvent(context.Background(), &models.PillEvent{ID: "e-1", Event: "Schedule sent: 15:30,M1,2", Timestamp: ts}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
