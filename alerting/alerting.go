// Package alerting maintains the active alert set. Alerts are raised by
// monitoring subscribers, resolved explicitly, and removed only by
// age-based cleanup. The system performs no deduplication; rate
// limiting of repeated triggers is the caller's responsibility.
package alerting

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/metric"
	"github.com/c360/trackstream/pkg/observe"
)

// Severity orders alerts for escalation decisions.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Type classifies what subsystem an alert concerns.
type Type string

const (
	TypeSecurity       Type = "SECURITY"
	TypeMemory         Type = "MEMORY"
	TypeNetworkLatency Type = "NETWORK_LATENCY"
	TypeTrain          Type = "TRAIN"
	TypeCorrelation    Type = "CORRELATION"
	TypeInsight        Type = "INSIGHT"
	TypeOther          Type = "OTHER"
)

// Alert is one raised finding. It is mutated only to transition to
// resolved and retained until explicit cleanup by age.
type Alert struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Type        Type              `json:"type"`
	Severity    Severity          `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RaisedAt    time.Time         `json:"raised_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	Resolved    bool              `json:"resolved"`
}

// Statistics summarize the current alert set. Recomputed from the set
// on each query, never incrementally patched.
type Statistics struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	Resolved   int              `json:"resolved"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByType     map[Type]int     `json:"by_type"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// System holds the alert set and broadcasts raised alerts.
type System struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	clock   func() time.Time

	mu     sync.Mutex
	alerts map[string]*Alert

	raised *observe.Stream[Alert]
}

// Option configures optional collaborators.
type Option func(*System)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) {
		s.logger = logger.With("component", "alerting.system")
	}
}

// WithPlatformMetrics enables prometheus instrumentation.
func WithPlatformMetrics(m *metric.Metrics) Option {
	return func(s *System) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.clock = now }
}

// NewSystem creates an empty alerting system.
func NewSystem(opts ...Option) *System {
	s := &System{
		logger: slog.Default().With("component", "alerting.system"),
		clock:  time.Now,
		alerts: make(map[string]*Alert),
		raised: observe.NewStream[Alert](64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raised streams every alert as it is raised.
func (s *System) Raised() *observe.Stream[Alert] { return s.raised }

// Raise appends a new alert to the set and broadcasts it. Duplicate
// alerts from repeated triggers are allowed.
func (s *System) Raise(source string, kind Type, severity Severity, title, description string, metadata map[string]string) Alert {
	alert := Alert{
		ID:          uuid.NewString(),
		Source:      source,
		Type:        kind,
		Severity:    severity,
		Title:       title,
		Description: description,
		Metadata:    metadata,
		RaisedAt:    s.clock(),
	}

	s.mu.Lock()
	s.alerts[alert.ID] = &alert
	active := s.activeCountLocked()
	s.mu.Unlock()

	s.logger.Warn("alert raised",
		"alert_id", alert.ID,
		"source", source,
		"type", string(kind),
		"severity", string(severity),
		"title", title)

	if s.metrics != nil {
		s.metrics.RecordAlertRaised(string(severity))
		s.metrics.RecordActiveAlerts(active)
	}

	s.raised.Publish(alert)
	return alert
}

// Resolve marks the alert resolved. Resolving an unknown or already
// resolved alert returns an error.
func (s *System) Resolve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return errors.WrapInvalid(errors.ErrKeyNotFound, "alerting.system", "alert lookup failed")
	}
	if alert.Resolved {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "alerting.system", "alert already resolved")
	}

	now := s.clock()
	alert.Resolved = true
	alert.ResolvedAt = &now

	if s.metrics != nil {
		s.metrics.RecordActiveAlerts(s.activeCountLocked())
	}
	s.logger.Info("alert resolved", "alert_id", id, "title", alert.Title)
	return nil
}

// Active returns unresolved alerts, newest first.
func (s *System) Active() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Alert
	for _, alert := range s.alerts {
		if !alert.Resolved {
			out = append(out, *alert)
		}
	}
	sortByRaisedDesc(out)
	return out
}

// ActiveBySeverity returns unresolved alerts at the given severity.
func (s *System) ActiveBySeverity(severity Severity) []Alert {
	var out []Alert
	for _, alert := range s.Active() {
		if alert.Severity == severity {
			out = append(out, alert)
		}
	}
	return out
}

// Statistics recomputes counters from the full alert set.
func (s *System) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		BySeverity: make(map[Severity]int),
		ByType:     make(map[Type]int),
		UpdatedAt:  s.clock(),
	}
	for _, alert := range s.alerts {
		stats.Total++
		if alert.Resolved {
			stats.Resolved++
		} else {
			stats.Active++
			stats.BySeverity[alert.Severity]++
			stats.ByType[alert.Type]++
		}
	}
	return stats
}

// CleanupOldData removes alerts raised before cutoff regardless of
// resolution state. It returns how many were removed.
func (s *System) CleanupOldData(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, alert := range s.alerts {
		if alert.RaisedAt.Before(cutoff) {
			delete(s.alerts, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("cleaned up old alerts", "removed", removed, "cutoff", cutoff)
		if s.metrics != nil {
			s.metrics.RecordActiveAlerts(s.activeCountLocked())
		}
	}
	return removed
}

// Close shuts down the broadcast stream.
func (s *System) Close() {
	s.raised.Close()
}

func (s *System) activeCountLocked() int {
	n := 0
	for _, alert := range s.alerts {
		if !alert.Resolved {
			n++
		}
	}
	return n
}

func sortByRaisedDesc(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].RaisedAt.After(alerts[j].RaisedAt)
	})
}
