package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LinkMetrics 单片机链路指标，实现 engine.Metrics
type LinkMetrics struct {
	PacketsReceived   *prometheus.CounterVec   // labels: code
	DiscardedBytes    *prometheus.CounterVec   // labels: reason=noise|oversized_length|checksum
	CommandsSent      *prometheus.CounterVec   // labels: kind
	CorrelationEvents *prometheus.CounterVec   // labels: operation, status
	PendingGauge      prometheus.Gauge         // 当前在途命令数
	AwaitDuration     *prometheus.HistogramVec // labels: kind, result
	Outcomes          *prometheus.CounterVec   // labels: command, status
	RateLimitWaits    prometheus.Counter       // 因限流而等待的次数
	LinkUp            prometheus.Gauge         // 1=已连接
}

// NewLinkMetrics 注册并返回链路指标
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	m := &LinkMetrics{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_packets_received_total",
			Help: "Valid packets received from the device by response code.",
		}, []string{"code"}),
		DiscardedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_bytes_discarded_total",
			Help: "Bytes discarded by the packet parser.",
		}, []string{"reason"}),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_commands_sent_total",
			Help: "Commands written to the device by kind.",
		}, []string{"kind"}),
		CorrelationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_correlation_events_total",
			Help: "Correlation registry events (register, resolve, sweep, ...).",
		}, []string{"operation", "status"}),
		PendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "link_pending_commands",
			Help: "Commands awaiting a terminal response.",
		}),
		AwaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "link_await_duration_seconds",
			Help:    "Time from send to terminal response or timeout.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind", "result"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actuator_outcomes_total",
			Help: "Actuator request outcomes by command and status.",
		}, []string{"command", "status"}),
		RateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actuator_rate_limit_waits_total",
			Help: "Requests delayed by the send rate limiter.",
		}),
		LinkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "link_up",
			Help: "Whether the device link is connected.",
		}),
	}
	reg.MustRegister(m.PacketsReceived, m.DiscardedBytes, m.CommandsSent, m.CorrelationEvents,
		m.PendingGauge, m.AwaitDuration, m.Outcomes, m.RateLimitWaits, m.LinkUp)
	return m
}

func (m *LinkMetrics) PacketReceived(code string) {
	m.PacketsReceived.WithLabelValues(code).Inc()
}

func (m *LinkMetrics) BytesDiscarded(reason string, n int) {
	m.DiscardedBytes.WithLabelValues(reason).Add(float64(n))
}

func (m *LinkMetrics) CommandSent(kind string) {
	m.CommandsSent.WithLabelValues(kind).Inc()
}

func (m *LinkMetrics) CorrelationEvent(operation, status string) {
	m.CorrelationEvents.WithLabelValues(operation, status).Inc()
}

func (m *LinkMetrics) PendingCommands(n int) {
	m.PendingGauge.Set(float64(n))
}

func (m *LinkMetrics) AwaitObserved(kind, result string, d time.Duration) {
	m.AwaitDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

// Outcome 记录一次服务层请求结果
func (m *LinkMetrics) Outcome(command, status string) {
	m.Outcomes.WithLabelValues(command, status).Inc()
}

// RateLimited 记录一次限流等待
func (m *LinkMetrics) RateLimited() {
	m.RateLimitWaits.Inc()
}

// SetLinkUp 更新链路状态
func (m *LinkMetrics) SetLinkUp(up bool) {
	if up {
		m.LinkUp.Set(1)
		return
	}
	m.LinkUp.Set(0)
}
