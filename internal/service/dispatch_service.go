package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pillbox/internal/clock"
	"pillbox/internal/dispenser"
	"pillbox/internal/metrics"
	"pillbox/internal/models"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Publisher 消息发布（由 common/mqtt.Client 实现）
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// DispatchConfig 下发配置
type DispatchConfig struct {
	Topic          string
	QoS            byte
	Compartments   int
	PublishTimeout time.Duration
}

// DispatchRequest 出药请求；Time 为 nil 或 "now" 表示立即出药
type DispatchRequest struct {
	Time        *string `json:"time"`
	Compartment int     `json:"compartment"`
	Dose        int     `json:"dose"`
}

// DispatchResult 下发结果
type DispatchResult struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Immediate bool      `json:"immediate"`
	SentAt    time.Time `json:"sent_at"`
}

// DispatchService 出药命令下发服务
// 传输为至多一次，不重试；断路器打开期间直接返回 TransportError
type DispatchService struct {
	publisher Publisher
	audit     *AuditService
	breaker   *gobreaker.CircuitBreaker[struct{}]
	cfg       DispatchConfig
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDispatchService 创建下发服务
func NewDispatchService(
	publisher Publisher,
	audit *AuditService,
	cfg DispatchConfig,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DispatchService {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "mqtt-dispatch",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Dispatch circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &DispatchService{
		publisher: publisher,
		audit:     audit,
		breaker:   breaker,
		cfg:       cfg,
		clock:     clk,
		metrics:   m,
		logger:    logger,
	}
}

// Dispatch 校验、编码并发布出药命令；成功后写审计事件
func (s *DispatchService) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	cmd := dispenser.NewCommand(req.Time, req.Compartment, req.Dose)
	if err := cmd.Validate(s.cfg.Compartments); err != nil {
		s.metrics.ObserveDispatch("invalid", 0)
		return nil, err
	}
	wire := cmd.Encode()

	start := time.Now()
	_, err := s.breaker.Execute(func() (struct{}, error) {
		pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
		defer cancel()
		return struct{}{}, s.publisher.Publish(pubCtx, s.cfg.Topic, s.cfg.QoS, false, []byte(wire))
	})
	if err != nil {
		s.metrics.ObserveDispatch("failed", time.Since(start))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("Dispatch rejected by circuit breaker", zap.String("payload", wire))
		} else {
			s.logger.Error("Failed to publish dispense command",
				zap.String("topic", s.cfg.Topic),
				zap.String("payload", wire),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("%w: publish %s: %v", models.ErrTransport, wire, err)
	}
	s.metrics.ObserveDispatch("ok", time.Since(start))

	s.logger.Info("Dispense command sent",
		zap.String("topic", s.cfg.Topic),
		zap.String("payload", wire),
	)
	if s.audit != nil {
		// 命令已发出，审计失败不影响结果
		if err := s.audit.Record(ctx, "Schedule sent: "+wire); err != nil {
			s.logger.Warn("Dispense command sent but audit event skipped",
				zap.String("payload", wire),
				zap.Error(err),
			)
		}
	}

	return &DispatchResult{
		Topic:     s.cfg.Topic,
		Payload:   wire,
		Immediate: cmd.Immediate(),
		SentAt:    s.clock.Now(),
	}, nil
}
