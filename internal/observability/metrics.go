package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SavesTotal          *prometheus.CounterVec
	ConflictsTotal      *prometheus.CounterVec
	CallbackInvocations prometheus.Counter
	CallbackDropped     prometheus.Counter
	SaveDuration        *prometheus.HistogramVec

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	HealthStatus    prometheus.Gauge

	registry *prometheus.Registry
	handler  http.Handler
}

func NewMetrics() *Metrics {
	return &Metrics{
		SavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "occ_saves_total",
				Help: "Total number of record saves by outcome",
			},
			[]string{"outcome"},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "occ_conflicts_total",
				Help: "Total number of detected write conflicts by resolution",
			},
			[]string{"resolution"},
		),
		CallbackInvocations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "occ_conflict_callback_invocations_total",
				Help: "Total number of conflict callback invocations",
			},
		),
		CallbackDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "occ_conflict_callback_dropped_total",
				Help: "Conflict callbacks suppressed by the rate limiter",
			},
		),
		SaveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "occ_save_duration_seconds",
				Help:    "Record save duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HealthStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "app_health_status",
				Help: "Application health status (1 = healthy, 0 = unhealthy)",
			},
		),
	}
}

// RecordSave records one save attempt. outcome is "ok", "conflict" or
// "error".
func (m *Metrics) RecordSave(outcome string, duration time.Duration) {
	m.SavesTotal.WithLabelValues(outcome).Inc()
	m.SaveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordConflict records one detected conflict. resolution names the
// policy outcome: "raised", "callback", "skipped" or "aborted".
func (m *Metrics) RecordConflict(resolution string) {
	m.ConflictsTotal.WithLabelValues(resolution).Inc()
}

func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestCount.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.HealthStatus.Set(1)
	} else {
		m.HealthStatus.Set(0)
	}
}

func (m *Metrics) Handler() http.Handler {
	if m.handler != nil {
		return m.handler
	}
	return promhttp.Handler()
}

func (m *Metrics) Register() error {
	m.registry = prometheus.NewRegistry()

	collectors := []prometheus.Collector{
		m.SavesTotal,
		m.ConflictsTotal,
		m.CallbackInvocations,
		m.CallbackDropped,
		m.SaveDuration,
		m.RequestCount,
		m.RequestDuration,
		m.HealthStatus,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return nil
}
