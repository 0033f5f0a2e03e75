package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pillbox"

// Metrics 服务指标
// 标签：alerts_raised(kind, created)、dispatch(result)、status_messages(kind)、evaluation_runs(result)、intakes_recorded(taken)
type Metrics struct {
	registry *prometheus.Registry

	AlertsRaised       *prometheus.CounterVec
	DispatchTotal      *prometheus.CounterVec
	DispatchDuration   prometheus.Histogram
	StatusMessages     *prometheus.CounterVec
	EvaluationRuns     *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	IntakesRecorded    *prometheus.CounterVec
}

// New 创建指标并注册到独立的 Registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alert raise calls by kind and whether a new alert was created.",
		}, []string{"kind", "created"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispense commands by result.",
		}, []string{"result"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent publishing dispense commands.",
			Buckets:   prometheus.DefBuckets,
		}),
		StatusMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_messages_total",
			Help:      "Inbound dispenser status messages by parsed kind.",
		}, []string{"kind"}),
		EvaluationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_runs_total",
			Help:      "Due-dose evaluation passes by result.",
		}, []string{"result"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of due-dose evaluation passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		IntakesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intakes_recorded_total",
			Help:      "Intake records written by taken flag.",
		}, []string{"taken"}),
	}
	reg.MustRegister(
		m.AlertsRaised,
		m.DispatchTotal,
		m.DispatchDuration,
		m.StatusMessages,
		m.EvaluationRuns,
		m.EvaluationDuration,
		m.IntakesRecorded,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry 返回底层 Registry（测试用）
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// 以下方法允许 nil 接收者，未启用指标时直接忽略

func (m *Metrics) ObserveAlert(kind string, created bool) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(kind, strconv.FormatBool(created)).Inc()
}

func (m *Metrics) ObserveDispatch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(result).Inc()
	m.DispatchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveStatus(kind string) {
	if m == nil {
		return
	}
	m.StatusMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveEvaluation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationRuns.WithLabelValues(result).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveIntake(taken bool) {
	if m == nil {
		return
	}
	m.IntakesRecorded.WithLabelValues(strconv.FormatBool(taken)).Inc()
}
