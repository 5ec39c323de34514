package monitor

import (
	"strings"

	"github.com/c360/trackstream/alerting"
	"github.com/c360/trackstream/correlate"
)

// responsePolicy is one row of the consolidated escalation table: how an
// event kind maps to alert severity, priority and the operator-facing
// recovery action. All classification lives here rather than in
// scattered string matching at call sites.
type responsePolicy struct {
	severity     alerting.Severity
	highPriority bool
	action       string
}

// anomalyPolicies maps a detected anomaly's severity to its alert
// response.
var anomalyPolicies = map[correlate.AnomalySeverity]responsePolicy{
	correlate.SeverityLow: {
		severity: alerting.SeverityLow,
		action:   "monitor the metric for recurrence",
	},
	correlate.SeverityMedium: {
		severity: alerting.SeverityMedium,
		action:   "review the metric source for recent changes",
	},
	correlate.SeverityHigh: {
		severity:     alerting.SeverityHigh,
		highPriority: true,
		action:       "inspect the affected component and correlate with active alerts",
	},
	correlate.SeverityCritical: {
		severity:     alerting.SeverityCritical,
		highPriority: true,
		action:       "page the on-call operator and verify train safety status",
	},
}

// insightPolicies maps an insight's severity to its alert response.
// Informational insights never raise alerts.
var insightPolicies = map[correlate.AnomalySeverity]responsePolicy{
	correlate.SeverityMedium: {
		severity: alerting.SeverityMedium,
		action:   "review the insight recommendations",
	},
	correlate.SeverityHigh: {
		severity:     alerting.SeverityHigh,
		highPriority: true,
		action:       "act on the insight recommendations promptly",
	},
	correlate.SeverityCritical: {
		severity:     alerting.SeverityCritical,
		highPriority: true,
		action:       "treat as an incident and follow the insight recommendations",
	},
}

// classifyMetricAlertType buckets a metric name into an alert type by
// its keywords.
func classifyMetricAlertType(metricName string) alerting.Type {
	name := strings.ToLower(metricName)
	switch {
	case strings.Contains(name, "security") || strings.Contains(name, "auth"):
		return alerting.TypeSecurity
	case strings.Contains(name, "memory") || strings.Contains(name, "heap"):
		return alerting.TypeMemory
	case strings.Contains(name, "latency") || strings.Contains(name, "network") || strings.Contains(name, "connection"):
		return alerting.TypeNetworkLatency
	case strings.Contains(name, "train") || strings.Contains(name, "position") || strings.Contains(name, "speed"):
		return alerting.TypeTrain
	default:
		return alerting.TypeOther
	}
}

// correlationSeverity grades a strong correlation by what the involved
// metric names reference: error metrics are the most urgent, latency
// metrics moderately so.
func correlationSeverity(metric1, metric2 string) alerting.Severity {
	names := strings.ToLower(metric1 + " " + metric2)
	switch {
	case strings.Contains(names, "error") || strings.Contains(names, "failure"):
		return alerting.SeverityHigh
	case strings.Contains(names, "latency"):
		return alerting.SeverityMedium
	default:
		return alerting.SeverityLow
	}
}
