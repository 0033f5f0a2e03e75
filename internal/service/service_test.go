package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pillbox/internal/clock"
	"pillbox/internal/metrics"
	"pillbox/internal/models"
	"pillbox/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePublisher 记录发布的消息
type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	topics   []string
	err      error
	block    bool
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, _ byte, _ bool, payload []byte) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, string(payload))
	return nil
}

func (p *fakePublisher) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

type testEnv struct {
	store     *repository.MemoryStore
	clock     *clock.FixedClock
	directory *MemoryPatientDirectory
	publisher *fakePublisher
	metrics   *metrics.Metrics

	alerts    *AlertService
	audit     *AuditService
	intakes   *IntakeService
	slots     *SlotService
	refills   *RefillService
	schedules *ScheduleService
	dispatch  *DispatchService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	clk := clock.NewFixedClock(time.Date(2026, 10, 15, 9, 3, 0, 0, time.UTC))
	dir := NewMemoryPatientDirectory()
	dir.AddPatient(models.Patient{ID: 7, Name: "Alice"})
	dir.AddPatient(models.Patient{ID: 8, Name: "Bob"})
	pub := &fakePublisher{}
	m := metrics.New()

	alerts := NewAlertService(store, nil, clk, m, logger)
	audit := NewAuditService(store, clk, logger)
	return &testEnv{
		store:     store,
		clock:     clk,
		directory: dir,
		publisher: pub,
		metrics:   m,
		alerts:    alerts,
		audit:     audit,
		intakes:   NewIntakeService(store, store, alerts, clk, m, logger),
		slots:     NewSlotService(store, dir, alerts, clk, logger),
		refills:   NewRefillService(store, alerts, clk, logger),
		schedules: NewScheduleService(store, store, 3, clk, logger),
		dispatch: NewDispatchService(pub, audit, DispatchConfig{
			Topic:          "pillbox/schedule",
			Compartments:   3,
			PublishTimeout: 50 * time.Millisecond,
		}, clk, m, logger),
	}
}

func (e *testEnv) createSchedule(t *testing.T, patientID int64, name, tod string) *models.Schedule {
	t.Helper()
	s, err := e.schedules.CreateSchedule(context.Background(), &models.Schedule{
		PatientID:      patientID,
		MedicationName: name,
		Dosage:         "500 mg",
		Compartment:    1,
		TimeOfDay:      tod,
		StartDate:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return s
}

func (e *testEnv) alertsOf(t *testing.T, kind models.AlertKind) []*models.Alert {
	t.Helper()
	list, err := e.alerts.ListAlerts(context.Background(), models.AlertFilter{Kind: &kind})
	require.NoError(t, err)
	return list
}

func today() time.Time {
	return time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
}
