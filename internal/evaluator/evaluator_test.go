package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pillbox/internal/clock"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// storeRaiser 基于内存存储的提醒去重
type storeRaiser struct {
	store *repository.MemoryStore
	mu    sync.Mutex
	n     int
	fail  error
}

func (r *storeRaiser) Raise(ctx context.Context, patientID int64, kind models.AlertKind, contextKey, message string) (*models.Alert, bool, error) {
	if r.fail != nil {
		return nil, false, r.fail
	}
	r.mu.Lock()
	r.n++
	id := fmt.Sprintf("alert-%d", r.n)
	r.mu.Unlock()
	return r.store.CreateIfAbsent(ctx, &models.Alert{
		ID: id, PatientID: patientID, Kind: kind, ContextKey: contextKey, Message: message,
	})
}

func setup(t *testing.T) (*repository.MemoryStore, *storeRaiser, *Evaluator) {
	store := repository.NewMemoryStore()
	raiser := &storeRaiser{store: store}
	ev := NewEvaluator(Config{
		Lookahead:    5 * time.Minute,
		Grace:        5 * time.Minute,
		Compartments: 3,
		Location:     time.UTC,
	}, store, store, raiser, zap.NewNop())
	return store, raiser, ev
}

func addSchedule(t *testing.T, store *repository.MemoryStore, tod string) *models.Schedule {
	s := &models.Schedule{
		PatientID:      7,
		MedicationName: "Metformin",
		Dosage:         "500 mg",
		Compartment:    1,
		TimeOfDay:      tod,
		Frequency:      models.FrequencyDaily,
		StartDate:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateSchedule(context.Background(), s))
	return s
}

func at(hh, mm int) time.Time {
	return time.Date(2026, 10, 15, hh, mm, 0, 0, time.UTC)
}

func alertsOfKind(t *testing.T, store *repository.MemoryStore, kind models.AlertKind) []*models.Alert {
	list, err := store.ListAlerts(context.Background(), models.AlertFilter{Kind: &kind})
	require.NoError(t, err)
	return list
}

func TestEvaluate_ReminderThenMissed(t *testing.T) {
	store, _, ev := setup(t)
	s := addSchedule(t, store, "09:00")
	ctx := context.Background()

	res, err := ev.Evaluate(ctx, at(8, 56))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemindersNew)
	assert.Equal(t, 0, res.MissedNew)

	reminders := alertsOfKind(t, store, models.AlertReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, "1:2026-10-15", reminders[0].ContextKey)

	res, err = ev.Evaluate(ctx, at(9, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, res.MissedNew)

	missed := alertsOfKind(t, store, models.AlertMissedDose)
	require.Len(t, missed, 1)
	assert.Equal(t, models.OccurrenceKey(s.ID, at(0, 0)), missed[0].ContextKey)
	assert.Equal(t, int64(7), missed[0].PatientID)

	// 提醒不会被修改
	assert.Len(t, alertsOfKind(t, store, models.AlertReminder), 1)
}

func TestEvaluate_Idempotent(t *testing.T) {
	store, _, ev := setup(t)
	addSchedule(t, store, "09:00")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ev.Evaluate(ctx, at(9, 10))
		require.NoError(t, err)
	}
	assert.Len(t, alertsOfKind(t, store, models.AlertMissedDose), 1)

	res, err := ev.Evaluate(ctx, at(9, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, res.MissedNew)
	assert.Equal(t, 1, res.AlreadyAlerted)
}

func TestEvaluate_TakenSuppressesAlerts(t *testing.T) {
	store, _, ev := setup(t)
	s := addSchedule(t, store, "09:00")
	ctx := context.Background()

	tt := "09:01:00"
	_, err := store.UpsertIntake(ctx, &models.IntakeRecord{ScheduleID: s.ID, Date: at(0, 0), Taken: true, TakenTime: &tt})
	require.NoError(t, err)

	res, err := ev.Evaluate(ctx, at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Taken)
	list, _ := store.ListAlerts(ctx, models.AlertFilter{})
	assert.Empty(t, list)
}

func TestEvaluate_MissedIntakeStillAlertsOnce(t *testing.T) {
	store, _, ev := setup(t)
	s := addSchedule(t, store, "09:00")
	ctx := context.Background()

	_, err := store.UpsertIntake(ctx, &models.IntakeRecord{ScheduleID: s.ID, Date: at(0, 0), Taken: false})
	require.NoError(t, err)

	_, err = ev.Evaluate(ctx, at(9, 30))
	require.NoError(t, err)
	_, err = ev.Evaluate(ctx, at(9, 35))
	require.NoError(t, err)
	assert.Len(t, alertsOfKind(t, store, models.AlertMissedDose), 1)
}

func TestEvaluate_OutsideWindowsNoAlert(t *testing.T) {
	store, _, ev := setup(t)
	addSchedule(t, store, "09:00")
	ctx := context.Background()

	// 距离计划时间超过 lookahead
	res, err := ev.Evaluate(ctx, at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
	assert.Zero(t, res.RemindersNew)

	// 在宽限期内
	res, err = ev.Evaluate(ctx, at(9, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemindersNew)
	assert.Zero(t, res.MissedNew)
}

func TestEvaluate_SkipsMalformedAndNonOccurring(t *testing.T) {
	store, _, ev := setup(t)
	ctx := context.Background()

	bad := addSchedule(t, store, "09:00")
	bad.Compartment = 9
	require.NoError(t, store.UpdateSchedule(ctx, bad))

	weekly := addSchedule(t, store, "09:00")
	weekly.Frequency = models.FrequencyWeekly
	// 2026-10-01 为周四，10-15 也是周四；改为 10-02 起始（周五）
	weekly.StartDate = time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateSchedule(ctx, weekly))

	good := addSchedule(t, store, "09:00")

	res, err := ev.Evaluate(ctx, at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 1, res.MissedNew)

	missed := alertsOfKind(t, store, models.AlertMissedDose)
	require.Len(t, missed, 1)
	assert.Equal(t, models.OccurrenceKey(good.ID, at(0, 0)), missed[0].ContextKey)
}

func TestEvaluate_RaiseErrorDoesNotAbortBatch(t *testing.T) {
	store, raiser, ev := setup(t)
	addSchedule(t, store, "09:00")
	addSchedule(t, store, "08:00")
	raiser.fail = errors.New("boom")

	res, err := ev.Evaluate(context.Background(), at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 2, res.Evaluated)
}

func TestRunner_RunsImmediatelyAndStops(t *testing.T) {
	store, _, ev := setup(t)
	addSchedule(t, store, "09:00")

	clk := clock.NewFixedClock(at(9, 30))
	runner := NewRunner(ev, clk, time.Hour, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, runner.Start(ctx))
	assert.Error(t, runner.Start(ctx))

	assert.Len(t, alertsOfKind(t, store, models.AlertMissedDose), 1)
	runner.Stop()
	runner.Stop()
}

func TestEvaluate_LateEveningDoseMissedAfterMidnight(t *testing.T) {
	store, _, ev := setup(t)
	s := addSchedule(t, store, "23:58")
	ctx := context.Background()

	res, err := ev.Evaluate(ctx, at(23, 55))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemindersNew)

	res, err = ev.Evaluate(ctx, time.Date(2026, 10, 15, 23, 59, 59, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, res.MissedNew)

	res, err = ev.Evaluate(ctx, time.Date(2026, 10, 16, 0, 4, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.MissedNew)
	assert.Equal(t, 0, res.RemindersNew)

	missed := alertsOfKind(t, store, models.AlertMissedDose)
	require.Len(t, missed, 1)
	assert.Equal(t, models.OccurrenceKey(s.ID, at(0, 0)), missed[0].ContextKey)

	res, err = ev.Evaluate(ctx, time.Date(2026, 10, 16, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, res.MissedNew)
	assert.Len(t, alertsOfKind(t, store, models.AlertMissedDose), 1)
	assert.Len(t, alertsOfKind(t, store, models.AlertReminder), 1)
}

func TestEvaluate_PreviousDayTakenSuppressesMissed(t *testing.T) {
	store, _, ev := setup(t)
	s := addSchedule(t, store, "23:58")
	ctx := context.Background()

	taken := "23:59:00"
	_, err := store.UpsertIntake(ctx, &models.IntakeRecord{ScheduleID: s.ID, Date: at(0, 0), Taken: true, TakenTime: &taken})
	require.NoError(t, err)

	res, err := ev.Evaluate(ctx, time.Date(2026, 10, 16, 0, 4, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, res.MissedNew)
	assert.Empty(t, alertsOfKind(t, store, models.AlertMissedDose))
}
