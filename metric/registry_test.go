package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trackstream/errors"
)

func TestNewRegistry_CoreMetricsRegistered(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Metrics)

	// Touch a couple of core metrics and verify they show up
	r.Metrics.RecordPositionReceived("section.SEC-001")
	r.Metrics.RecordBreakerState("upstream", 2)

	count := testutil.ToFloat64(r.Metrics.PositionsReceived.WithLabelValues("section.SEC-001"))
	assert.Equal(t, 1.0, count)

	state := testutil.ToFloat64(r.Metrics.BreakerState.WithLabelValues("upstream"))
	assert.Equal(t, 2.0, state)
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trackstream",
		Subsystem: "test",
		Name:      "ops_total",
		Help:      "test counter",
	})

	require.NoError(t, r.Register("ingest", "ops", counter))

	// Duplicate registration under the same key is invalid
	err := r.Register("ingest", "ops", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("ingest", "ops"))
	assert.False(t, r.Unregister("ingest", "ops"))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r.Handler())
}

func TestMetrics_RecordHelpers(t *testing.T) {
	m := NewMetrics()

	m.RecordPositionDropped("train.T-1", "high_risk")
	m.RecordValidationFailure("speed_range")
	m.RecordIngestLatency("train.T-1", 250*time.Millisecond)
	m.RecordConnectionStatus("train.T-1", 2)
	m.RecordDataQuality(0.92)
	m.RecordBreakerFailure("upstream")
	m.RecordBreakerRejection("upstream")
	m.RecordAlertRaised("high")
	m.RecordActiveAlerts(3)
	m.RecordHealthStatus("ingest", true)
	m.RecordError("monitor", "sync")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsDropped.WithLabelValues("train.T-1", "high_risk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationFailures.WithLabelValues("speed_range")))
	assert.Equal(t, 0.92, testutil.ToFloat64(m.DataQualityScore))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AlertsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthStatus.WithLabelValues("ingest")))
}
