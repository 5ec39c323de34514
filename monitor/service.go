// Package monitor composes the breaker, ingestion pipeline, correlation
// engine and alerting system into a single supervising service. It runs
// periodic health and metrics-sync loops, subscribes to derived
// analysis events, and escalates findings into alerts through one
// consolidated policy table.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/trackstream/alerting"
	"github.com/c360/trackstream/breaker"
	"github.com/c360/trackstream/component"
	"github.com/c360/trackstream/correlate"
	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/health"
	"github.com/c360/trackstream/ingest"
	"github.com/c360/trackstream/metric"
	"github.com/c360/trackstream/pkg/observe"
	"github.com/c360/trackstream/telemetry"
)

// SystemStatus is the overall escalation level.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "HEALTHY"
	StatusWarning  SystemStatus = "WARNING"
	StatusDegraded SystemStatus = "DEGRADED"
	StatusCritical SystemStatus = "CRITICAL"
)

// SystemHealth is the fully recomputed health snapshot published on
// each health-check cycle.
type SystemHealth struct {
	Status           SystemStatus `json:"status"`
	IngestionHealthy bool         `json:"ingestion_healthy"`
	MemoryHealthy    bool         `json:"memory_healthy"`
	ActiveAlerts     int          `json:"active_alerts"`
	CriticalAlerts   int          `json:"critical_alerts"`
	HighAlerts       int          `json:"high_alerts"`
	Reliability      float64      `json:"reliability"`
	HeapBytes        uint64       `json:"heap_bytes"`
	LastUpdated      time.Time    `json:"last_updated"`
}

// Statistics summarize monitoring activity.
type Statistics struct {
	PositionsObserved uint64                     `json:"positions_observed"`
	SafetyViolations  uint64                     `json:"safety_violations"`
	ConnectionStatus  string                     `json:"connection_status"`
	DataQualityScore  float64                    `json:"data_quality_score"`
	AlertStatistics   alerting.Statistics        `json:"alert_statistics"`
	AnomaliesDetected int                        `json:"anomalies_detected"`
	MetricSeries      int                        `json:"metric_series"`
	ComponentHealth   map[string]health.Status   `json:"component_health"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// Dashboard is the one-call overview for presentation consumers.
type Dashboard struct {
	Health       SystemHealth            `json:"health"`
	Statistics   Statistics              `json:"statistics"`
	ActiveAlerts []alerting.Alert        `json:"active_alerts"`
	Correlations []correlate.Correlation `json:"correlations"`
	Trends       []correlate.Trend       `json:"trends"`
	Anomalies    []correlate.Anomaly     `json:"anomalies"`
	Insights     []correlate.Insight     `json:"insights"`
	GeneratedAt  time.Time               `json:"generated_at"`
}

// Config tunes the monitoring loops.
type Config struct {
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	MetricsSyncInterval time.Duration `yaml:"metrics_sync_interval"`
	// CorrelationAlertThreshold is the |coefficient| above which a
	// correlation raises an alert.
	CorrelationAlertThreshold float64 `yaml:"correlation_alert_threshold"`
	// CorrelationAlertInterval throttles repeat alerts per metric pair.
	CorrelationAlertInterval time.Duration `yaml:"correlation_alert_interval"`
	// HighAlertWarningCount is the active high-severity alert count
	// above which system status escalates to WARNING.
	HighAlertWarningCount int `yaml:"high_alert_warning_count"`
	// HeapLimitBytes fails the memory health check when exceeded.
	HeapLimitBytes uint64 `yaml:"heap_limit_bytes"`
	// Retention bounds how long metric points, anomalies and alerts are
	// kept. Zero disables the cleanup loop.
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns production monitoring defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:       60 * time.Second,
		MetricsSyncInterval:       30 * time.Second,
		CorrelationAlertThreshold: 0.8,
		CorrelationAlertInterval:  5 * time.Minute,
		HighAlertWarningCount:     5,
		HeapLimitBytes:            512 << 20,
		Retention:                 24 * time.Hour,
		CleanupInterval:           time.Hour,
	}
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	if c.HealthCheckInterval <= 0 || c.MetricsSyncInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "monitor.config", "loop intervals must be positive")
	}
	if c.CorrelationAlertThreshold <= 0 || c.CorrelationAlertThreshold > 1 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "monitor.config", "correlation_alert_threshold must be in (0,1]")
	}
	if c.HighAlertWarningCount <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "monitor.config", "high_alert_warning_count must be positive")
	}
	if c.Retention > 0 && c.CleanupInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "monitor.config", "cleanup_interval must be positive when retention is set")
	}
	return nil
}

// Service supervises all other components for the process lifetime.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	clock   func() time.Time

	breaker  *breaker.Breaker
	pipeline *ingest.Pipeline
	engine   *correlate.Engine
	alerts   *alerting.System
	registry *health.Monitor

	healthValue *observe.Value[SystemHealth]
	statsValue  *observe.Value[Statistics]

	positionsObserved atomic.Uint64
	safetyViolations  atomic.Uint64

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With("component", "monitor.service")
	}
}

// WithPlatformMetrics enables prometheus instrumentation.
func WithPlatformMetrics(m *metric.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

// NewService wires the monitoring service to its subordinate
// components. All four are required.
func NewService(cfg Config, brk *breaker.Breaker, pipeline *ingest.Pipeline, engine *correlate.Engine, alerts *alerting.System, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if brk == nil || pipeline == nil || engine == nil || alerts == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "monitor.service", "breaker, pipeline, engine and alerting are required")
	}

	s := &Service{
		cfg:      cfg,
		logger:   slog.Default().With("component", "monitor.service"),
		clock:    time.Now,
		breaker:  brk,
		pipeline: pipeline,
		engine:   engine,
		alerts:   alerts,
		registry: health.NewMonitor(),
		limiters: make(map[string]*rate.Limiter),
		healthValue: observe.NewValue(SystemHealth{
			Status:           StatusHealthy,
			IngestionHealthy: true,
			MemoryHealthy:    true,
		}),
		statsValue: observe.NewValue(Statistics{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Health exposes the observable system health snapshot.
func (s *Service) Health() *observe.Value[SystemHealth] { return s.healthValue }

// MonitoringStatistics exposes the observable statistics snapshot.
func (s *Service) MonitoringStatistics() *observe.Value[Statistics] { return s.statsValue }

// Start launches all monitoring loops. Calling Start on a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, loopCtx := errgroup.WithContext(runCtx)
	s.cancel = cancel
	s.group = group
	s.running = true

	group.Go(func() error { return s.healthLoop(loopCtx) })
	group.Go(func() error { return s.metricsSyncLoop(loopCtx) })
	group.Go(func() error { return s.correlationSubscriber(loopCtx) })
	group.Go(func() error { return s.anomalySubscriber(loopCtx) })
	group.Go(func() error { return s.insightSubscriber(loopCtx) })
	if s.cfg.Retention > 0 {
		group.Go(func() error { return s.cleanupLoop(loopCtx) })
	}

	s.logger.Info("monitoring service started",
		"health_interval", s.cfg.HealthCheckInterval,
		"sync_interval", s.cfg.MetricsSyncInterval)
	return nil
}

// Stop cancels all loops and waits up to timeout. Calling Stop on a
// stopped service is a no-op.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	group := s.group
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("monitoring service stopped")
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrOperationTimeout, "monitor.service", "stop wait exceeded timeout")
	}
}

// RecordPosition feeds a position into monitoring statistics and runs
// the dedicated safety check, independent of ingestion validation.
func (s *Service) RecordPosition(p telemetry.Position) {
	s.positionsObserved.Add(1)
	now := s.clock()

	if p.Speed > telemetry.SafetySpeedKmh {
		s.safetyViolations.Add(1)
		if s.metrics != nil {
			s.metrics.RecordValidationFailure("safety_speed")
		}
		s.alerts.Raise("monitor.safety", alerting.TypeSecurity, alerting.SeverityHigh,
			fmt.Sprintf("Unsafe speed for %s", p.VehicleID),
			fmt.Sprintf("train %s reported %.1f km/h, above the %.0f km/h safety limit",
				p.VehicleID, p.Speed, telemetry.SafetySpeedKmh),
			map[string]string{"vehicle_id": p.VehicleID, "speed": fmt.Sprintf("%.1f", p.Speed)})
		return
	}

	if p.Stale(now) {
		s.safetyViolations.Add(1)
		if s.metrics != nil {
			s.metrics.RecordValidationFailure("safety_stale")
		}
		s.alerts.Raise("monitor.safety", alerting.TypeSecurity, alerting.SeverityMedium,
			fmt.Sprintf("Stale position data for %s", p.VehicleID),
			fmt.Sprintf("last position for train %s is %s old",
				p.VehicleID, p.Age(now).Round(time.Second)),
			map[string]string{"vehicle_id": p.VehicleID})
	}
}

// healthLoop recomputes system health on a fixed cadence.
func (s *Service) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	// Publish an initial snapshot so observers do not wait a full
	// interval after startup.
	s.refreshHealth()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refreshHealth()
		}
	}
}

// refreshHealth rebuilds the SystemHealth snapshot from the latest
// component states. Escalation order: critical alerts, failed health
// checks, high-severity alert pressure, healthy.
func (s *Service) refreshHealth() {
	now := s.clock()
	stats := s.alerts.Statistics()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryHealthy := s.cfg.HeapLimitBytes == 0 || mem.HeapAlloc < s.cfg.HeapLimitBytes

	connStatus := s.pipeline.ConnectionStatus().Get()
	ingestionHealthy := connStatus == telemetry.StatusConnected || connStatus == telemetry.StatusConnecting

	criticalAlerts := stats.BySeverity[alerting.SeverityCritical]
	highAlerts := stats.BySeverity[alerting.SeverityHigh]

	status := StatusHealthy
	switch {
	case criticalAlerts > 0:
		status = StatusCritical
	case !ingestionHealthy || !memoryHealthy:
		status = StatusDegraded
	case highAlerts > s.cfg.HighAlertWarningCount:
		status = StatusWarning
	}

	s.updateComponentHealth(ingestionHealthy, memoryHealthy)

	snapshot := SystemHealth{
		Status:           status,
		IngestionHealthy: ingestionHealthy,
		MemoryHealthy:    memoryHealthy,
		ActiveAlerts:     stats.Active,
		CriticalAlerts:   criticalAlerts,
		HighAlerts:       highAlerts,
		Reliability:      s.breaker.Metrics().SuccessRatio(),
		HeapBytes:        mem.HeapAlloc,
		LastUpdated:      now,
	}
	s.healthValue.Set(snapshot)
	s.statsValue.Set(s.computeStatistics(now, stats))

	if s.metrics != nil {
		s.metrics.RecordHealthStatus("ingest.pipeline", ingestionHealthy)
		s.metrics.RecordHealthStatus("monitor.memory", memoryHealthy)
	}

	if status != StatusHealthy {
		s.logger.Warn("system health degraded",
			"status", string(status),
			"critical_alerts", criticalAlerts,
			"high_alerts", highAlerts,
			"ingestion_healthy", ingestionHealthy,
			"memory_healthy", memoryHealthy)
	}
}

func (s *Service) updateComponentHealth(ingestionHealthy, memoryHealthy bool) {
	if ingestionHealthy {
		s.registry.UpdateHealthy("ingest.pipeline", "connected")
	} else {
		s.registry.UpdateUnhealthy("ingest.pipeline", "connection lost or degraded")
	}
	if memoryHealthy {
		s.registry.UpdateHealthy("monitor.memory", "heap within limit")
	} else {
		s.registry.UpdateUnhealthy("monitor.memory", "heap above configured limit")
	}
	s.registry.Update("breaker", health.FromComponentHealth("breaker", s.breakerHealth()))
}

func (s *Service) breakerHealth() component.HealthStatus {
	m := s.breaker.Metrics()
	return component.HealthStatus{
		Healthy:    m.State != breaker.StateOpen,
		LastCheck:  s.clock(),
		ErrorCount: m.FailureCount,
	}
}

func (s *Service) computeStatistics(now time.Time, alertStats alerting.Statistics) Statistics {
	quality := s.pipeline.DataQuality().Get()
	return Statistics{
		PositionsObserved: s.positionsObserved.Load(),
		SafetyViolations:  s.safetyViolations.Load(),
		ConnectionStatus:  s.pipeline.ConnectionStatus().Get().String(),
		DataQualityScore:  quality.Score,
		AlertStatistics:   alertStats,
		AnomaliesDetected: len(s.engine.Anomalies()),
		MetricSeries:      len(s.engine.MetricNames()),
		ComponentHealth:   s.registry.GetAll(),
		UpdatedAt:         now,
	}
}

// metricsSyncLoop pushes component metrics into the correlation engine
// as named series on a fixed cadence. All series in one pass share the
// same timestamp so pairwise analysis can match them.
func (s *Service) metricsSyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MetricsSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncMetrics()
		}
	}
}

func (s *Service) syncMetrics() {
	now := s.clock()
	quality := s.pipeline.DataQuality().Get()
	brkMetrics := s.breaker.Metrics()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.engine.RecordMetric("ingest_connection_status", float64(s.pipeline.ConnectionStatus().Get()), now, nil)
	s.engine.RecordMetric("ingest_data_quality", quality.Score, now, nil)
	s.engine.RecordMetric("ingest_latency_ms", float64(quality.Latency.Milliseconds()), now, nil)
	s.engine.RecordMetric("breaker_failure_count", float64(brkMetrics.FailureCount), now, nil)
	s.engine.RecordMetric("breaker_reliability", brkMetrics.SuccessRatio(), now, nil)
	s.engine.RecordMetric("memory_heap_bytes", float64(mem.HeapAlloc), now, nil)
	s.engine.RecordMetric("train_positions_observed", float64(s.positionsObserved.Load()), now, nil)
	s.engine.RecordMetric("safety_violations", float64(s.safetyViolations.Load()), now, nil)
}

// correlationSubscriber raises a throttled alert whenever a very strong
// correlation crosses the alert threshold.
func (s *Service) correlationSubscriber(ctx context.Context) error {
	events, cancel := s.engine.CorrelationEvents().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-events:
			if !ok {
				return nil
			}
			s.handleCorrelation(c)
		}
	}
}

func (s *Service) handleCorrelation(c correlate.Correlation) {
	abs := c.Coefficient
	if abs < 0 {
		abs = -abs
	}
	if abs < s.cfg.CorrelationAlertThreshold {
		return
	}

	pair := c.Metric1 + "|" + c.Metric2
	if !s.allow("correlation:" + pair) {
		return
	}

	s.alerts.Raise("monitor.correlation", alerting.TypeCorrelation,
		correlationSeverity(c.Metric1, c.Metric2),
		fmt.Sprintf("Strong correlation: %s and %s", c.Metric1, c.Metric2),
		fmt.Sprintf("coefficient %.2f (%s, %s) over %d samples",
			c.Coefficient, c.Direction, c.Strength, c.SampleSize),
		map[string]string{
			"metric1":     c.Metric1,
			"metric2":     c.Metric2,
			"coefficient": fmt.Sprintf("%.3f", c.Coefficient),
		})
}

// anomalySubscriber converts detected anomalies into typed alerts via
// the policy table.
func (s *Service) anomalySubscriber(ctx context.Context) error {
	events, cancel := s.engine.AnomalyEvents().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-events:
			if !ok {
				return nil
			}
			s.handleAnomaly(a)
		}
	}
}

func (s *Service) handleAnomaly(a correlate.Anomaly) {
	policy, ok := anomalyPolicies[a.Severity]
	if !ok {
		policy = anomalyPolicies[correlate.SeverityLow]
	}

	s.alerts.Raise("monitor.anomaly", classifyMetricAlertType(a.MetricName), policy.severity,
		fmt.Sprintf("%s anomaly on %s", a.Type, a.MetricName),
		fmt.Sprintf("value %.2f deviates %.1f standard deviations from expected %.2f; %s",
			a.Value, a.Deviation, a.ExpectedValue, policy.action),
		map[string]string{
			"metric":        a.MetricName,
			"type":          string(a.Type),
			"deviation":     fmt.Sprintf("%.2f", a.Deviation),
			"high_priority": fmt.Sprintf("%t", policy.highPriority),
		})
}

// insightSubscriber raises alerts for actionable, non-informational
// insights.
func (s *Service) insightSubscriber(ctx context.Context) error {
	events, cancel := s.engine.InsightEvents().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-events:
			if !ok {
				return nil
			}
			s.handleInsight(in)
		}
	}
}

func (s *Service) handleInsight(in correlate.Insight) {
	if !in.Actionable {
		return
	}
	policy, ok := insightPolicies[in.Severity]
	if !ok {
		return
	}

	metadata := map[string]string{"insight_type": string(in.Type)}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	s.alerts.Raise("monitor.insight", alerting.TypeInsight, policy.severity,
		in.Title, in.Description+"; "+policy.action, metadata)
}

// GetMonitoringDashboard assembles the full overview in one call.
func (s *Service) GetMonitoringDashboard() Dashboard {
	now := s.clock()
	return Dashboard{
		Health:       s.healthValue.Get(),
		Statistics:   s.statsValue.Get(),
		ActiveAlerts: s.alerts.Active(),
		Correlations: s.engine.Correlations(),
		Trends:       s.engine.Trends(),
		Anomalies:    s.engine.Anomalies(),
		Insights:     s.engine.Insights(),
		GeneratedAt:  now,
	}
}

// CleanupOldData drops aged artifacts across the engine and alerting
// system.
func (s *Service) CleanupOldData(cutoff time.Time) {
	s.engine.ClearOldData(cutoff)
	removed := s.alerts.CleanupOldData(cutoff)
	s.logger.Info("cleanup completed", "cutoff", cutoff, "alerts_removed", removed)
}

// cleanupLoop periodically evicts data older than the retention window.
func (s *Service) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.CleanupOldData(s.clock().Add(-s.cfg.Retention))
		}
	}
}

// allow rate-limits one alert key.
func (s *Service) allow(key string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.cfg.CorrelationAlertInterval), 1)
		s.limiters[key] = limiter
	}
	return limiter.Allow()
}
