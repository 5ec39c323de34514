// Package correlate derives statistical relationships from recorded
// metric series: pairwise Pearson correlations, least-squares trends,
// z-score anomalies, and synthesized system insights.
package correlate

import "time"

// DataPoint is one observation of a named metric.
type DataPoint struct {
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Direction classifies the sign of a correlation coefficient.
type Direction string

const (
	DirectionPositive Direction = "POSITIVE"
	DirectionNegative Direction = "NEGATIVE"
)

// Strength classifies a correlation by coefficient magnitude.
type Strength string

const (
	StrengthVeryStrong Strength = "VERY_STRONG" // |r| >= 0.8
	StrengthStrong     Strength = "STRONG"      // |r| >= 0.6
	StrengthModerate   Strength = "MODERATE"    // |r| >= 0.4
	StrengthWeak       Strength = "WEAK"
)

// Correlation is the Pearson relationship between two metrics over
// their overlapping timestamps.
type Correlation struct {
	Metric1     string    `json:"metric1"`
	Metric2     string    `json:"metric2"`
	Coefficient float64   `json:"coefficient"`
	Direction   Direction `json:"direction"`
	Strength    Strength  `json:"strength"`
	SampleSize  int       `json:"sample_size"`
	ComputedAt  time.Time `json:"computed_at"`
}

// TrendDirection classifies a fitted slope.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "INCREASING"
	TrendDecreasing TrendDirection = "DECREASING"
	TrendStable     TrendDirection = "STABLE"
)

// Trend is a least-squares linear fit over a metric's window.
type Trend struct {
	MetricName    string         `json:"metric_name"`
	Slope         float64        `json:"slope"`
	Direction     TrendDirection `json:"direction"`
	ChangePercent float64        `json:"change_percent"`
	SampleSize    int            `json:"sample_size"`
	ComputedAt    time.Time      `json:"computed_at"`
}

// AnomalyType says which side of the window mean the outlier sits on.
type AnomalyType string

const (
	AnomalySpike AnomalyType = "SPIKE"
	AnomalyDrop  AnomalyType = "DROP"
)

// AnomalySeverity scales with deviation magnitude in standard-deviation
// units.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "LOW"
	SeverityMedium   AnomalySeverity = "MEDIUM"
	SeverityHigh     AnomalySeverity = "HIGH"
	SeverityCritical AnomalySeverity = "CRITICAL"
)

// Anomaly flags a point that deviates from its window's running
// statistics by more than the configured number of standard deviations.
type Anomaly struct {
	MetricName    string          `json:"metric_name"`
	Type          AnomalyType     `json:"type"`
	Value         float64         `json:"value"`
	ExpectedValue float64         `json:"expected_value"`
	Deviation     float64         `json:"deviation"` // standard-deviation units
	Severity      AnomalySeverity `json:"severity"`
	Timestamp     time.Time       `json:"timestamp"`
}

// InsightType names which derived artifact produced an insight.
type InsightType string

const (
	InsightCorrelation InsightType = "CORRELATION"
	InsightTrend       InsightType = "TREND"
	InsightAnomaly     InsightType = "ANOMALY"
)

// Insight is a synthesized, human-readable finding with recommended
// follow-up actions.
type Insight struct {
	Type            InsightType       `json:"type"`
	Severity        AnomalySeverity   `json:"severity"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Recommendations []string          `json:"recommendations"`
	Actionable      bool              `json:"actionable"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func classifyStrength(coefficient float64) Strength {
	abs := coefficient
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 0.8:
		return StrengthVeryStrong
	case abs >= 0.6:
		return StrengthStrong
	case abs >= 0.4:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

func classifyDirection(coefficient float64) Direction {
	if coefficient > 0 {
		return DirectionPositive
	}
	return DirectionNegative
}

func classifyDeviation(deviation float64) AnomalySeverity {
	switch {
	case deviation >= 6:
		return SeverityCritical
	case deviation >= 4:
		return SeverityHigh
	case deviation >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
