package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pillbox/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatchService_WireFormat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.dispatch.Dispatch(ctx, DispatchRequest{Time: strPtr("15:30"), Compartment: 1, Dose: 2})
	require.NoError(t, err)
	assert.Equal(t, "15:30,M1,2", res.Payload)
	assert.Equal(t, "pillbox/schedule", res.Topic)
	assert.False(t, res.Immediate)

	res, err = env.dispatch.Dispatch(ctx, DispatchRequest{Compartment: 1, Dose: 2})
	require.NoError(t, err)
	assert.Equal(t, "00:00,M1,2", res.Payload)
	assert.True(t, res.Immediate)

	assert.Equal(t, []string{"15:30,M1,2", "00:00,M1,2"}, env.publisher.sent())

	events, err := env.audit.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Schedule sent: 00:00,M1,2", events[0].Event)
	assert.Equal(t, "Schedule sent: 15:30,M1,2", events[1].Event)
}

func TestDispatchService_ValidationDoesNotPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, req := range []DispatchRequest{
		{Compartment: 0, Dose: 1},
		{Compartment: 4, Dose: 1},
		{Compartment: 1, Dose: 0},
		{Time: strPtr("24:00"), Compartment: 1, Dose: 1},
		{Time: strPtr("7:5"), Compartment: 1, Dose: 1},
	} {
		_, err := env.dispatch.Dispatch(ctx, req)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	}
	assert.Empty(t, env.publisher.sent())

	events, _ := env.audit.Recent(ctx, 10)
	assert.Empty(t, events)
}

func TestDispatchService_PublishFailureIsTransportError(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("not connected")

	_, err := env.dispatch.Dispatch(context.Background(), DispatchRequest{Compartment: 1, Dose: 1})
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, models.KindTransport, models.KindOf(err))

	events, _ := env.audit.Recent(context.Background(), 10)
	assert.Empty(t, events)
}

func TestDispatchService_PublishTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.block = true

	_, err := env.dispatch.Dispatch(context.Background(), DispatchRequest{Compartment: 2, Dose: 1})
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestDispatchService_BreakerOpensAfterFailures(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker down")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.dispatch.Dispatch(ctx, DispatchRequest{Compartment: 1, Dose: 1})
		require.ErrorIs(t, err, models.ErrTransport)
	}

	// 断路器打开后即使 broker 恢复也直接失败
	env.publisher.err = nil
	_, err := env.dispatch.Dispatch(ctx, DispatchRequest{Compartment: 1, Dose: 1})
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Empty(t, env.publisher.sent())
}

type failingEventRepo struct{}

func (failingEventRepo) CreatePillEvent(context.Context, *models.PillEvent) error {
	return errors.New("db down")
}

func (failingEventRepo) ListPillEvents(context.Context, int) ([]*models.PillEvent, error) {
	return nil, errors.New("db down")
}

func TestDispatchService_AuditFailureIsLogged(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	audit := NewAuditService(failingEventRepo{}, env.clock, logger)
	dispatch := NewDispatchService(env.publisher, audit, DispatchConfig{
		Topic:          "pillbox/schedule",
		Compartments:   3,
		PublishTimeout: 50 * time.Millisecond,
	}, env.clock, env.metrics, logger)

	res, err := dispatch.Dispatch(context.Background(), DispatchRequest{Time: strPtr("08:00"), Compartment: 1, Dose: 1})
	require.NoError(t, err)
	assert.Equal(t, "08:00,M1,1", res.Payload)

	warned := logs.FilterMessage("Dispense command sent but audit event skipped").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "08:00,M1,1", warned[0].ContextMap()["payload"])
}
