package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pillbox/common/mqtt"
	"pillbox/common/redis"
	"pillbox/internal/clock"
	"pillbox/internal/dispenser"
	"pillbox/internal/metrics"
	"pillbox/internal/models"

	"go.uber.org/zap"
)

// StatusStream 设备原始上报的 Redis 流
const StatusStream = "pillbox:status:stream"

// Subscriber 消息订阅（由 common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// IntakeRecorder 服药记录入口
type IntakeRecorder interface {
	RecordIntake(ctx context.Context, scheduleID int64, date time.Time, taken bool, takenTime *string) (*models.IntakeRecord, error)
}

// SlotUpdater 仓位状态入口
type SlotUpdater interface {
	UpdateSlots(ctx context.Context, patientID int64, slots map[string]models.SlotState, merge bool) (*models.SlotStatus, error)
}

// AuditRecorder 审计入口
type AuditRecorder interface {
	Record(ctx context.Context, event string) error
}

// StatusConsumer 订阅 pillbox/status，记录审计并路由到服药记录和仓位状态
type StatusConsumer struct {
	subscriber  Subscriber
	topic       string
	qos         byte
	intakes     IntakeRecorder
	slots       SlotUpdater
	audit       AuditRecorder
	redisClient *redis.Client // 可为 nil
	clock       clock.Clock
	location    *time.Location
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu         sync.Mutex
	subscribed bool
	ctx        context.Context
}

// NewStatusConsumer 创建状态消费者
func NewStatusConsumer(
	subscriber Subscriber,
	topic string,
	qos byte,
	intakes IntakeRecorder,
	slots SlotUpdater,
	audit AuditRecorder,
	redisClient *redis.Client,
	clk clock.Clock,
	location *time.Location,
	m *metrics.Metrics,
	logger *zap.Logger,
) *StatusConsumer {
	if location == nil {
		location = time.UTC
	}
	return &StatusConsumer{
		subscriber:  subscriber,
		topic:       topic,
		qos:         qos,
		intakes:     intakes,
		slots:       slots,
		audit:       audit,
		redisClient: redisClient,
		clock:       clk,
		location:    location,
		metrics:     m,
		logger:      logger,
		ctx:         context.Background(),
	}
}

// Start 订阅并阻塞直到 ctx 结束
func (c *StatusConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if err := c.subscriber.Subscribe(c.topic, c.qos, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", c.topic, err)
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	c.logger.Info("Status consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	c.Stop()
	c.logger.Info("Status consumer stopped")
	return nil
}

// Stop 取消订阅
func (c *StatusConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.subscribed {
		return
	}
	c.subscribed = false
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Warn("Failed to unsubscribe", zap.String("topic", c.topic), zap.Error(err))
	}
}

// HandleMessage 处理一条上报；解析失败只记录审计，不返回错误
func (c *StatusConsumer) HandleMessage(topic string, payload []byte) error {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	// 1. 原样审计
	if c.audit != nil {
		if err := c.audit.Record(ctx, string(payload)); err != nil {
			c.logger.Error("Failed to audit status message", zap.Error(err))
		}
	}

	// 2. 写入原始流
	c.appendToStream(ctx, topic, payload)

	// 3. 解析并路由
	msg, err := dispenser.ParseStatus(payload)
	if err != nil {
		c.metrics.ObserveStatus("unknown")
		c.logger.Debug("Unrecognized status payload",
			zap.String("topic", topic),
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return nil
	}
	c.metrics.ObserveStatus(string(msg.Kind))

	switch msg.Kind {
	case dispenser.StatusIntake:
		c.handleIntake(ctx, msg.Intake)
	case dispenser.StatusSlots:
		c.handleSlots(ctx, msg.Slots)
	}
	return nil
}

func (c *StatusConsumer) handleIntake(ctx context.Context, r *dispenser.IntakeReport) {
	date := c.clock.Now().In(c.location)
	if r.Date != "" {
		d, err := models.ParseDate(r.Date, c.location)
		if err != nil {
			c.logger.Warn("Invalid intake date", zap.String("date", r.Date), zap.Error(err))
			return
		}
		date = d
	}

	takenTime := r.TakenTime
	if !r.Taken {
		takenTime = nil
	}
	if _, err := c.intakes.RecordIntake(ctx, r.ScheduleID, date, r.Taken, takenTime); err != nil {
		c.logger.Error("Failed to record intake from device",
			zap.Int64("schedule_id", r.ScheduleID),
			zap.String("kind", string(models.KindOf(err))),
			zap.Error(err),
		)
	}
}

func (c *StatusConsumer) handleSlots(ctx context.Context, r *dispenser.SlotsReport) {
	if _, err := c.slots.UpdateSlots(ctx, r.PatientID, r.Slots, r.Merge); err != nil {
		c.logger.Error("Failed to update slots from device",
			zap.Int64("patient_id", r.PatientID),
			zap.String("kind", string(models.KindOf(err))),
			zap.Error(err),
		)
	}
}

func (c *StatusConsumer) appendToStream(ctx context.Context, topic string, payload []byte) {
	if c.redisClient == nil {
		return
	}
	_, err := redis.PublishToStream(ctx, c.redisClient, StatusStream, map[string]interface{}{
		"topic":       topic,
		"payload":     payload,
		"received_at": c.clock.Now().Unix(),
	})
	if err != nil {
		c.logger.Warn("Failed to append status to stream", zap.String("stream", StatusStream), zap.Error(err))
	}
}
