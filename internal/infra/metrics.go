package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени занял вызов шлюза (со всеми ретраями)
	GatewayCallDuration *prometheus.HistogramVec

	// Traffic: общее кол-во вызовов шлюза
	GatewayCallsTotal *prometheus.CounterVec

	// Errors: классификация отказов
	GatewayErrorsTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState prometheus.Gauge

	// Активные таймеры опроса статуса (один на подключение)
	ActivePollers prometheus.Gauge

	// Audit: заполненность буфера журнала операций (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		GatewayCallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sorcerer_gateway_call_duration_seconds",
			Help:    "Histogram of gateway call latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation", "outcome"}),

		GatewayCallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sorcerer_gateway_calls_total",
			Help: "Total number of gateway operations.",
		}, []string{"operation"}),

		GatewayErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sorcerer_gateway_errors_total",
			Help: "Total number of gateway errors by type.",
		}, []string{"type"}), // типы: transport, upstream, validation

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sorcerer_gateway_circuit_breaker_state",
			Help: "Current state of the gateway circuit breaker (0=closed, 1=open).",
		}),

		ActivePollers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sorcerer_status_pollers_active",
			Help: "Number of currently running status poll timers.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sorcerer_audit_buffer_utilization",
			Help: "Current number of events in the operation trail buffer.",
		}),
	}
}
