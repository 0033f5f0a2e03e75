package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pillbox/internal/clock"
	"pillbox/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 按固定间隔驱动评估器
type Runner struct {
	evaluator *Evaluator
	clock     clock.Clock
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRunner 创建评估调度器；interval 默认 5 分钟
func NewRunner(evaluator *Evaluator, clk clock.Clock, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Runner{
		evaluator: evaluator,
		clock:     clk,
		interval:  interval,
		metrics:   m,
		logger:    logger,
	}
}

// Start 立即执行一次，然后按间隔执行；上一次未结束时跳过本次
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("evaluator runner already started")
	}

	c := cron.New(
		cron.WithLocation(r.evaluator.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger})),
		cron.WithLogger(cronLogger{r.logger}),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule evaluator: %w", err)
	}

	r.logger.Info("Evaluator runner started", zap.Duration("interval", r.interval))

	// 立即执行一次
	r.RunOnce(ctx)

	c.Start()
	r.cron = c
	return nil
}

// Stop 停止调度并等待正在执行的评估结束
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("Evaluator runner stopped")
}

// RunOnce 执行一次评估，超时为一个间隔
func (r *Runner) RunOnce(ctx context.Context) *Result {
	if ctx.Err() != nil {
		return nil
	}
	tickCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	start := time.Now()
	res, err := r.evaluator.Evaluate(tickCtx, r.clock.Now())
	if err != nil {
		r.metrics.ObserveEvaluation("failed", time.Since(start))
		r.logger.Error("Evaluation failed", zap.Error(err))
		return res
	}
	r.metrics.ObserveEvaluation("ok", time.Since(start))
	if res.RemindersNew > 0 || res.MissedNew > 0 || res.Errors > 0 {
		r.logger.Info("Evaluation raised alerts",
			zap.Int("reminders", res.RemindersNew),
			zap.Int("missed", res.MissedNew),
			zap.Int("errors", res.Errors),
		)
	}
	return res
}

// cronLogger 将 cron 日志写入 zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
