// Package metric provides Prometheus metrics for the TrackStream platform.
// A Registry owns a private prometheus registry plus the platform-wide
// metrics; components register their own collectors against it.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not domain-specific)
type Metrics struct {
	// Ingestion metrics
	PositionsReceived  *prometheus.CounterVec
	PositionsDropped   *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	IngestLatency      *prometheus.HistogramVec
	ConnectionStatus   *prometheus.GaugeVec
	DataQualityScore   prometheus.Gauge

	// Circuit breaker metrics
	BreakerState    *prometheus.GaugeVec
	BreakerFailures *prometheus.CounterVec
	BreakerRejected *prometheus.CounterVec

	// Alerting metrics
	AlertsRaised *prometheus.CounterVec
	AlertsActive prometheus.Gauge

	// System health metrics
	HealthStatus *prometheus.GaugeVec
	ErrorsTotal  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PositionsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trackstream",
				Subsystem: "ingest",
				Name:      "positions_received_total",
				Help:      "Total position records received from upstream",
			},
			[]string{"subscription"},
		),

		PositionsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trackstream",
				Subsystem: "ingest",
				Name:      "positions_dropped_total",
				Help:      "Position records dropped by validation or safety checks",
			},
			[]string{"subscription", "reason"},
		),

		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trackstream",
				Subsystem: "validate",
				Name:      "failures_total",
				Help:      "Validation failures by issue kind",
			},
			[]string{"kind"},
		),

		IngestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "trackstream",
				Subsystem: "ingest",
				Name:      "latency_seconds",
				Help:      "End-to-end latency from position timestamp to processing",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"subscription"},
		),

		ConnectionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "trackstream",
				Subsystem: "ingest",
				Name:      "connection_status",
				Help:      "Upstream connection status (0=disconnected, 1=connecting, 2=connected, 3=degraded)",
			},
			[]string{"subscription"},
		),

		DataQualityScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "trackstream",
				Subsystem: "ingest",
				Name:      "data_quality_score",
				Help:      "Composite data quality score (0-1)",
			},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "trackstream",
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"breaker"},
		),

		BreakerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trackstream",
				Subsystem: "breaker",
				Name:      "failures_total",
				Help:      "Total operation failures observed by the breaker",
			},
			[]string{"breaker"},
		),

		BreakerRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trackstream",
				Subsystem: "breaker",
				Name:      "rejected_total",
				Help:      "Calls rejected fast while the circuit was open",
			},
			[]string{"breaker"},
		),

		AlertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trackstream",
				Subsystem: "alerting",
				Name:      "raised_total",
				Help:      "Total alerts raised by severity",
			},
			[]string{"severity"},
		),

		AlertsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "trackstream",
				Subsystem: "alerting",
				Name:      "active",
				Help:      "Currently active (unresolved) alerts",
			},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "trackstream",
				Subsystem: "health",
				Name:      "status",
				Help:      "Component health status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trackstream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total errors by component and type",
			},
			[]string{"component", "type"},
		),
	}
}

// RecordPositionReceived increments the received position counter
func (m *Metrics) RecordPositionReceived(subscription string) {
	m.PositionsReceived.WithLabelValues(subscription).Inc()
}

// RecordPositionDropped increments the dropped position counter
func (m *Metrics) RecordPositionDropped(subscription, reason string) {
	m.PositionsDropped.WithLabelValues(subscription, reason).Inc()
}

// RecordValidationFailure increments the validation failure counter
func (m *Metrics) RecordValidationFailure(kind string) {
	m.ValidationFailures.WithLabelValues(kind).Inc()
}

// RecordIngestLatency records end-to-end position latency
func (m *Metrics) RecordIngestLatency(subscription string, latency time.Duration) {
	m.IngestLatency.WithLabelValues(subscription).Observe(latency.Seconds())
}

// RecordConnectionStatus updates the upstream connection status gauge
func (m *Metrics) RecordConnectionStatus(subscription string, status int) {
	m.ConnectionStatus.WithLabelValues(subscription).Set(float64(status))
}

// RecordDataQuality updates the composite data quality gauge
func (m *Metrics) RecordDataQuality(score float64) {
	m.DataQualityScore.Set(score)
}

// RecordBreakerState updates the breaker state gauge
func (m *Metrics) RecordBreakerState(breaker string, state int) {
	m.BreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordBreakerFailure increments the breaker failure counter
func (m *Metrics) RecordBreakerFailure(breaker string) {
	m.BreakerFailures.WithLabelValues(breaker).Inc()
}

// RecordBreakerRejection increments the fast-fail rejection counter
func (m *Metrics) RecordBreakerRejection(breaker string) {
	m.BreakerRejected.WithLabelValues(breaker).Inc()
}

// RecordAlertRaised increments the raised alert counter
func (m *Metrics) RecordAlertRaised(severity string) {
	m.AlertsRaised.WithLabelValues(severity).Inc()
}

// RecordActiveAlerts updates the active alert gauge
func (m *Metrics) RecordActiveAlerts(count int) {
	m.AlertsActive.Set(float64(count))
}

// RecordHealthStatus updates a component health gauge
func (m *Metrics) RecordHealthStatus(componentName string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthStatus.WithLabelValues(componentName).Set(value)
}

// RecordError increments the error counter
func (m *Metrics) RecordError(componentName, errorType string) {
	m.ErrorsTotal.WithLabelValues(componentName, errorType).Inc()
}
