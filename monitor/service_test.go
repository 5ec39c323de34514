package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trackstream/alerting"
	"github.com/c360/trackstream/breaker"
	"github.com/c360/trackstream/correlate"
	"github.com/c360/trackstream/ingest"
	"github.com/c360/trackstream/pkg/retry"
	"github.com/c360/trackstream/store"
	"github.com/c360/trackstream/telemetry"
	"github.com/c360/trackstream/validate"
)

type fixture struct {
	service  *Service
	breaker  *breaker.Breaker
	pipeline *ingest.Pipeline
	engine   *correlate.Engine
	alerts   *alerting.System
	mem      *store.Memory
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	brk := breaker.New(t.Name(), breaker.DefaultConfig())
	mem := store.NewMemory(8)
	pipeline, err := ingest.New(ingest.Config{
		PollInterval:   10 * time.Millisecond,
		FailureBackoff: 20 * time.Millisecond,
		FetchLimit:     10,
		ChannelBuffer:  8,
		Retry:          retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	}, mem, brk, validate.NewFilter())
	require.NoError(t, err)

	engine, err := correlate.NewEngine(correlate.DefaultConfig())
	require.NoError(t, err)

	alerts := alerting.NewSystem()

	svc, err := NewService(cfg, brk, pipeline, engine, alerts)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = svc.Stop(time.Second)
		_ = pipeline.Stop(time.Second)
		engine.Close()
		alerts.Close()
	})
	return &fixture{service: svc, breaker: brk, pipeline: pipeline, engine: engine, alerts: alerts, mem: mem}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.HealthCheckInterval = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.CorrelationAlertThreshold = 1.5
	assert.Error(t, bad.Validate())
}

func TestNewServiceRequiresComponents(t *testing.T) {
	_, err := NewService(DefaultConfig(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestHealthEscalation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  SystemStatus
	}{
		{
			name:  "healthy with connected pipeline",
			setup: func(f *fixture) { f.pipeline.ConnectionStatus().Set(telemetry.StatusConnected) },
			want:  StatusHealthy,
		},
		{
			name: "critical alert dominates",
			setup: func(f *fixture) {
				f.pipeline.ConnectionStatus().Set(telemetry.StatusConnected)
				f.alerts.Raise("test", alerting.TypeSecurity, alerting.SeverityCritical, "crit", "", nil)
			},
			want: StatusCritical,
		},
		{
			name:  "disconnected ingestion degrades",
			setup: func(f *fixture) { f.pipeline.ConnectionStatus().Set(telemetry.StatusDisconnected) },
			want:  StatusDegraded,
		},
		{
			name: "high alert pressure warns",
			setup: func(f *fixture) {
				f.pipeline.ConnectionStatus().Set(telemetry.StatusConnected)
				for i := 0; i < 7; i++ {
					f.alerts.Raise("test", alerting.TypeOther, alerting.SeverityHigh, "h", "", nil)
				}
			},
			want: StatusWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			tt.setup(f)
			f.service.refreshHealth()

			got := f.service.Health().Get()
			assert.Equal(t, tt.want, got.Status)
			assert.False(t, got.LastUpdated.IsZero())
		})
	}
}

func TestHealthSnapshotCounters(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.pipeline.ConnectionStatus().Set(telemetry.StatusConnected)
	f.alerts.Raise("test", alerting.TypeOther, alerting.SeverityHigh, "h1", "", nil)
	f.alerts.Raise("test", alerting.TypeOther, alerting.SeverityCritical, "c1", "", nil)

	f.service.refreshHealth()
	got := f.service.Health().Get()
	assert.Equal(t, 2, got.ActiveAlerts)
	assert.Equal(t, 1, got.CriticalAlerts)
	assert.Equal(t, 1, got.HighAlerts)
	assert.True(t, got.MemoryHealthy)
	assert.InDelta(t, 1.0, got.Reliability, 0.001)
}

func TestRecordPositionSafetySpeed(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.service.RecordPosition(telemetry.Position{
		VehicleID: "T-1",
		Speed:     250,
		Timestamp: time.Now(),
	})

	active := f.alerts.Active()
	require.Len(t, active, 1)
	assert.Equal(t, alerting.TypeSecurity, active[0].Type)
	assert.Equal(t, alerting.SeverityHigh, active[0].Severity)
	assert.Contains(t, active[0].Title, "T-1")
}

func TestRecordPositionStaleData(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.service.RecordPosition(telemetry.Position{
		VehicleID: "T-2",
		Speed:     80,
		Timestamp: time.Now().Add(-10 * time.Minute),
	})

	active := f.alerts.Active()
	require.Len(t, active, 1)
	assert.Equal(t, alerting.SeverityMedium, active[0].Severity)
}

func TestRecordPositionNormalRaisesNothing(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.service.RecordPosition(telemetry.Position{
		VehicleID: "T-3",
		Speed:     80,
		Timestamp: time.Now(),
	})
	assert.Empty(t, f.alerts.Active())

	f.service.refreshHealth()
	stats := f.service.MonitoringStatistics().Get()
	assert.Equal(t, uint64(1), stats.PositionsObserved)
	assert.Zero(t, stats.SafetyViolations)
}

func TestCorrelationSubscriberRaisesThrottledAlert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrelationAlertInterval = time.Hour
	f := newFixture(t, cfg)
	require.NoError(t, f.service.Start(context.Background()))

	base := time.Now()
	for i := 0; i < 12; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		f.engine.RecordMetric("error_rate", float64(i), ts, nil)
		f.engine.RecordMetric("request_latency", float64(i)*2, ts, nil)
	}

	require.Eventually(t, func() bool {
		for _, a := range f.alerts.Active() {
			if a.Type == alerting.TypeCorrelation {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Repeated strong correlations for the same pair are throttled to
	// one alert per interval.
	count := 0
	for _, a := range f.alerts.Active() {
		if a.Type == alerting.TypeCorrelation {
			count++
			assert.Equal(t, alerting.SeverityHigh, a.Severity)
		}
	}
	assert.Equal(t, 1, count)
}

func TestAnomalySubscriberClassifiesType(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.service.Start(context.Background()))

	base := time.Now()
	for i := 0; i < 20; i++ {
		f.engine.RecordMetric("memory_heap_bytes", 100+float64(i%2), base.Add(time.Duration(i)*time.Second), nil)
	}
	f.engine.RecordMetric("memory_heap_bytes", 1000, base.Add(21*time.Second), nil)

	require.Eventually(t, func() bool {
		for _, a := range f.alerts.Active() {
			if a.Type == alerting.TypeMemory {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.service.Start(ctx))
	require.NoError(t, f.service.Start(ctx))
	require.NoError(t, f.service.Stop(time.Second))
	require.NoError(t, f.service.Stop(time.Second))
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.pipeline.ConnectionStatus().Set(telemetry.StatusConnected)
	f.service.refreshHealth()
	f.alerts.Raise("test", alerting.TypeTrain, alerting.SeverityLow, "note", "", nil)

	dash := f.service.GetMonitoringDashboard()
	assert.Equal(t, StatusHealthy, dash.Health.Status)
	assert.Len(t, dash.ActiveAlerts, 1)
	assert.False(t, dash.GeneratedAt.IsZero())
}

func TestCleanupOldData(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	old := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 12; i++ {
		f.engine.RecordMetric("aged", float64(i), old.Add(time.Duration(i)*time.Second), nil)
	}
	f.alerts.Raise("test", alerting.TypeOther, alerting.SeverityLow, "aged", "", nil)
	// Backdate by cleaning relative to the future of the raise time.
	f.service.CleanupOldData(time.Now().Add(time.Minute))

	assert.Empty(t, f.engine.MetricNames())
	assert.Empty(t, f.alerts.Active())
}

func TestClassifyMetricAlertType(t *testing.T) {
	assert.Equal(t, alerting.TypeSecurity, classifyMetricAlertType("security_events"))
	assert.Equal(t, alerting.TypeMemory, classifyMetricAlertType("memory_heap_bytes"))
	assert.Equal(t, alerting.TypeNetworkLatency, classifyMetricAlertType("ingest_latency_ms"))
	assert.Equal(t, alerting.TypeTrain, classifyMetricAlertType("train_positions_observed"))
	assert.Equal(t, alerting.TypeOther, classifyMetricAlertType("disk_usage"))
}

func TestCorrelationSeverity(t *testing.T) {
	assert.Equal(t, alerting.SeverityHigh, correlationSeverity("error_rate", "restarts"))
	assert.Equal(t, alerting.SeverityMedium, correlationSeverity("request_latency", "throughput"))
	assert.Equal(t, alerting.SeverityLow, correlationSeverity("cpu", "disk"))
}
