// Package metrics exposes the Prometheus instruments of the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Attribution labels for dispense events.
const (
	AttributionSession = "session"
	AttributionNozzle  = "nozzle_only"
	AttributionNone    = "unresolved"
)

type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	dispenseEvents     *prometheus.CounterVec
	dispensedLiters    prometheus.Counter
	tankFloorRejects   prometheus.Counter
	sessionCloses      *prometheus.CounterVec
	divergencePct      *prometheus.HistogramVec
	auditJobs          *prometheus.CounterVec
	unattributedEvents prometheus.Gauge
	staleSessions      prometheus.Gauge
}

var (
	globalMetrics *Metrics
	once          sync.Once
)

// New returns the process-wide Metrics, registering them on first use.
func New() *Metrics {
	once.Do(func() {
		globalMetrics = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bencidata_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "bencidata_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
				},
				[]string{"method", "path"},
			),
			dispenseEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bencidata_dispense_events_total",
					Help: "Dispense events ingested, by attribution",
				},
				[]string{"attribution"},
			),
			dispensedLiters: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "bencidata_dispensed_liters_total",
					Help: "Liters reported by dispenser hardware",
				},
			),
			tankFloorRejects: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "bencidata_tank_floor_rejections_total",
					Help: "Dispense decrements skipped because the tank would go negative",
				},
			),
			sessionCloses: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bencidata_session_closes_total",
					Help: "Session close attempts, by result",
				},
				[]string{"result"},
			),
			divergencePct: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "bencidata_reconciliation_divergence_pct",
					Help:    "Absolute divergence between meter liters and dispensed liters, in percent",
					Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
				},
				[]string{"classification"},
			),
			auditJobs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bencidata_audit_jobs_total",
					Help: "Audit jobs processed, by result",
				},
				[]string{"result"},
			),
			unattributedEvents: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "bencidata_unattributed_dispense_events",
					Help: "Dispense events without a session in the last audit window",
				},
			),
			staleSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "bencidata_stale_open_sessions",
					Help: "Sessions open longer than the configured maximum",
				},
			),
		}
	})
	return globalMetrics
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordDispense(attribution string, liters float64, tankApplied bool, tankResolved bool) {
	m.dispenseEvents.WithLabelValues(attribution).Inc()
	m.dispensedLiters.Add(liters)
	if tankResolved && !tankApplied {
		m.tankFloorRejects.Inc()
	}
}

func (m *Metrics) RecordClose(result string) {
	m.sessionCloses.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDivergence(classification string, pct float64) {
	if pct < 0 {
		pct = -pct
	}
	m.divergencePct.WithLabelValues(classification).Observe(pct)
}

func (m *Metrics) RecordAuditJob(result string) {
	m.auditJobs.WithLabelValues(result).Inc()
}

func (m *Metrics) SetUnattributedEvents(n int64) {
	m.unattributedEvents.Set(float64(n))
}

func (m *Metrics) SetStaleSessions(n int) {
	m.staleSessions.Set(float64(n))
}
