package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pillbox/internal/models"
)

// MemoryStore 未启用数据库时使用的内存存储，实现全部 Repository 接口
// 单把锁保证 (schedule, date) 与未解决提醒的去重在并发下成立
type MemoryStore struct {
	mu sync.RWMutex

	nextID int64

	schedules map[int64]models.Schedule
	intakes   map[string]models.IntakeRecord // OccurrenceKey -> record
	slots     map[int64]models.SlotStatus    // patientID -> status
	alerts    map[string]models.Alert        // alertID -> alert
	refills   []models.RefillLog
	events    []models.PillEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules: map[int64]models.Schedule{},
		intakes:   map[string]models.IntakeRecord{},
		slots:     map[int64]models.SlotStatus{},
		alerts:    map[string]models.Alert{},
	}
}

var (
	_ ScheduleRepository   = (*MemoryStore)(nil)
	_ IntakeRepository     = (*MemoryStore)(nil)
	_ SlotStatusRepository = (*MemoryStore)(nil)
	_ AlertRepository      = (*MemoryStore)(nil)
	_ RefillLogRepository  = (*MemoryStore)(nil)
	_ PillEventRepository  = (*MemoryStore)(nil)
)

func (m *MemoryStore) newID() int64 {
	m.nextID++
	return m.nextID
}

func cloneSchedule(s models.Schedule) *models.Schedule {
	if s.Weekdays != nil {
		s.Weekdays = append([]time.Weekday(nil), s.Weekdays...)
	}
	return &s
}

func cloneSlotStatus(st models.SlotStatus) *models.SlotStatus {
	slots := make(map[string]models.SlotState, len(st.Slots))
	for k, v := range st.Slots {
		slots[k] = v
	}
	st.Slots = slots
	return &st
}

// ---- schedules ----

func (m *MemoryStore) CreateSchedule(_ context.Context, s *models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s.ID = m.newID()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.schedules[s.ID] = *cloneSchedule(*s)
	return nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, id int64) (*models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: schedule %d", models.ErrNotFound, id)
	}
	return cloneSchedule(s), nil
}

func (m *MemoryStore) ListSchedules(_ context.Context, patientID *int64) ([]*models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterSchedules(func(s *models.Schedule) bool {
		return patientID == nil || s.PatientID == *patientID
	}), nil
}

func (m *MemoryStore) ListActiveSchedules(_ context.Context, date time.Time) ([]*models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterSchedules(func(s *models.Schedule) bool {
		return s.ActiveOn(date)
	}), nil
}

func (m *MemoryStore) FindScheduleByMedication(_ context.Context, patientID int64, medicationName string, date time.Time) (*models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filterSchedules(func(s *models.Schedule) bool {
		return s.PatientID == patientID && s.MedicationName == medicationName && s.OccursOn(date)
	})
	return pickMedicationSchedule(matched, patientID, medicationName, date)
}

func (m *MemoryStore) UpdateSchedule(_ context.Context, s *models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.schedules[s.ID]
	if !ok {
		return fmt.Errorf("%w: schedule %d", models.ErrNotFound, s.ID)
	}
	s.PatientID = old.PatientID
	s.CreatedAt = old.CreatedAt
	s.UpdatedAt = time.Now()
	m.schedules[s.ID] = *cloneSchedule(*s)
	return nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("%w: schedule %d", models.ErrNotFound, id)
	}
	delete(m.schedules, id)
	for k, rec := range m.intakes {
		if rec.ScheduleID == id {
			delete(m.intakes, k)
		}
	}
	return nil
}

func (m *MemoryStore) filterSchedules(keep func(s *models.Schedule) bool) []*models.Schedule {
	out := make([]*models.Schedule, 0)
	for _, s := range m.schedules {
		c := cloneSchedule(s)
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- intakes ----

func (m *MemoryStore) UpsertIntake(_ context.Context, rec *models.IntakeRecord) (*models.IntakeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[rec.ScheduleID]; !ok {
		return nil, fmt.Errorf("%w: schedule %d", models.ErrNotFound, rec.ScheduleID)
	}

	key := models.OccurrenceKey(rec.ScheduleID, rec.Date)
	out := *rec
	if existing, ok := m.intakes[key]; ok {
		out.ID = existing.ID
	} else {
		out.ID = m.newID()
	}
	m.intakes[key] = out
	return &out, nil
}

func (m *MemoryStore) FindIntake(_ context.Context, scheduleID int64, date time.Time) (*models.IntakeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.intakes[models.OccurrenceKey(scheduleID, date)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) ListIntakes(_ context.Context, scheduleID int64) ([]*models.IntakeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.IntakeRecord, 0)
	for _, rec := range m.intakes {
		if rec.ScheduleID == scheduleID {
			r := rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) CountIntakes(_ context.Context, scheduleID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.intakes {
		if rec.ScheduleID == scheduleID {
			n++
		}
	}
	return n, nil
}

// ---- slot status ----

func (m *MemoryStore) GetSlotStatus(_ context.Context, patientID int64) (*models.SlotStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.slots[patientID]
	if !ok {
		return nil, fmt.Errorf("%w: slot status for patient %d", models.ErrNotFound, patientID)
	}
	return cloneSlotStatus(st), nil
}

func (m *MemoryStore) UpsertSlotStatus(_ context.Context, patientID int64, slots map[string]models.SlotState, merge bool, at time.Time) (*models.SlotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.slots[patientID]
	if !ok {
		st = models.SlotStatus{ID: m.newID(), PatientID: patientID}
	}
	next := make(map[string]models.SlotState, len(slots))
	if merge {
		for k, v := range st.Slots {
			next[k] = v
		}
	}
	for k, v := range slots {
		next[k] = v
	}
	st.Slots = next
	st.LastUpdated = at
	m.slots[patientID] = st
	return cloneSlotStatus(st), nil
}

func (m *MemoryStore) ListSlotStatuses(_ context.Context) ([]*models.SlotStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.SlotStatus, 0, len(m.slots))
	for _, st := range m.slots {
		out = append(out, cloneSlotStatus(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID < out[j].PatientID })
	return out, nil
}

// ---- alerts ----

func (m *MemoryStore) CreateIfAbsent(_ context.Context, a *models.Alert) (*models.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.alerts {
		if !existing.Resolved &&
			existing.PatientID == a.PatientID &&
			existing.Kind == a.Kind &&
			existing.ContextKey == a.ContextKey {
			e := existing
			return &e, false, nil
		}
	}
	if _, dup := m.alerts[a.ID]; dup {
		return nil, false, fmt.Errorf("%w: alert id %s already exists", models.ErrConflict, a.ID)
	}
	stored := *a
	stored.Resolved = false
	m.alerts[a.ID] = stored
	return &stored, true, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", models.ErrNotFound, id)
	}
	return &a, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Alert, 0)
	for _, a := range m.alerts {
		a := a
		if filter.Matches(&a) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ResolveAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("%w: alert %s", models.ErrNotFound, id)
	}
	a.Resolved = true
	m.alerts[id] = a
	return nil
}

// ---- audit ----

func (m *MemoryStore) CreateRefillLog(_ context.Context, l *models.RefillLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.ID = m.newID()
	m.refills = append(m.refills, *l)
	return nil
}

func (m *MemoryStore) ListRefillLogs(_ context.Context) ([]*models.RefillLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.RefillLog, 0, len(m.refills))
	for i := len(m.refills) - 1; i >= 0; i-- {
		l := m.refills[i]
		out = append(out, &l)
	}
	return out, nil
}

func (m *MemoryStore) CreatePillEvent(_ context.Context, e *models.PillEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, *e)
	return nil
}

func (m *MemoryStore) ListPillEvents(_ context.Context, limit int) ([]*models.PillEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]*models.PillEvent, 0)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		out = append(out, &e)
	}
	return out, nil
}
