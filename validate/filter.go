// Package validate implements the security and validation filter applied to
// every incoming position record. Checks are independent and additive: a
// record accumulates every applicable issue and anomaly rather than failing
// on the first problem.
package validate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/trackstream/telemetry"
)

// Severity classifies anomalies found during validation
type Severity string

// Anomaly severities
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue is a hard field-level validation failure. Any issue rejects the
// record.
type Issue struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Anomaly is a plausibility or safety finding. Anomalies do not by
// themselves reject a record, but high-risk anomalies cause the caller to
// drop it.
type Anomaly struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	HighRisk bool     `json:"high_risk"`
}

// Result is the outcome of validating one position record.
type Result struct {
	Valid     bool      `json:"valid"`
	Issues    []Issue   `json:"issues,omitempty"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// HighRisk reports whether any anomaly is high risk.
func (r Result) HighRisk() bool {
	for _, a := range r.Anomalies {
		if a.HighRisk {
			return true
		}
	}
	return false
}

// ShouldDrop reports whether the caller must drop the record: either it
// failed hard validation or it carries a high-risk anomaly.
func (r Result) ShouldDrop() bool {
	return !r.Valid || r.HighRisk()
}

// Thresholds for cross-field plausibility checks
const (
	maxVehicleIDLength  = 64
	highSpeedKmh        = 150.0 // "high speed" for accuracy cross-checks
	poorAccuracyMeters  = 100.0
	sharpAccuracyMeters = 5.0
	lowSignalStrength   = 20.0
)

// Filter validates incoming position records. It is stateless and safe for
// concurrent use.
type Filter struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the filter.
type Option func(*Filter)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger.With("component", "validate")
		}
	}
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		f.now = now
	}
}

// NewFilter creates a validation filter.
func NewFilter(opts ...Option) *Filter {
	f := &Filter{
		logger: slog.Default().With("component", "validate"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Validate runs every check against the record and returns the accumulated
// result. Checks never short-circuit.
func (f *Filter) Validate(p telemetry.Position) Result {
	var result Result

	f.checkFields(p, &result)
	f.checkPlausibility(p, &result)
	f.checkSafety(p, &result)

	result.Valid = len(result.Issues) == 0

	if !result.Valid {
		f.logger.Debug("Position rejected by validation",
			"vehicle_id", p.VehicleID, "issues", len(result.Issues))
	}
	return result
}

// checkFields applies field-level bounds checks.
func (f *Filter) checkFields(p telemetry.Position, result *Result) {
	if p.VehicleID == "" {
		result.addIssue("id_missing", "vehicle_id", "vehicle id is required")
	} else if len(p.VehicleID) > maxVehicleIDLength {
		result.addIssue("id_length", "vehicle_id",
			fmt.Sprintf("vehicle id exceeds %d characters", maxVehicleIDLength))
	} else if !wellFormedID(p.VehicleID) {
		result.addIssue("id_format", "vehicle_id", "vehicle id contains invalid characters")
	}

	if p.Latitude < telemetry.MinLatitude || p.Latitude > telemetry.MaxLatitude {
		result.addIssue("latitude_range", "latitude",
			fmt.Sprintf("latitude %.4f outside [%.0f, %.0f]", p.Latitude, telemetry.MinLatitude, telemetry.MaxLatitude))
	}
	if p.Longitude < telemetry.MinLongitude || p.Longitude > telemetry.MaxLongitude {
		result.addIssue("longitude_range", "longitude",
			fmt.Sprintf("longitude %.4f outside [%.0f, %.0f]", p.Longitude, telemetry.MinLongitude, telemetry.MaxLongitude))
	}
	if p.Speed < telemetry.MinSpeedKmh || p.Speed > telemetry.MaxSpeedKmh {
		result.addIssue("speed_range", "speed",
			fmt.Sprintf("speed %.1f outside [%.0f, %.0f] km/h", p.Speed, telemetry.MinSpeedKmh, telemetry.MaxSpeedKmh))
	}
	if p.Heading < telemetry.MinHeading || p.Heading > telemetry.MaxHeading {
		result.addIssue("heading_range", "heading",
			fmt.Sprintf("heading %.1f outside [%.0f, %.0f] degrees", p.Heading, telemetry.MinHeading, telemetry.MaxHeading))
	}

	if p.Accuracy != nil {
		if *p.Accuracy <= 0 {
			result.addIssue("accuracy_positive", "accuracy", "accuracy must be positive")
		} else if *p.Accuracy > telemetry.MaxAccuracyMeters {
			result.addIssue("accuracy_ceiling", "accuracy",
				fmt.Sprintf("accuracy %.0fm exceeds plausibility ceiling", *p.Accuracy))
		}
	}

	if p.SignalStrength != nil && (*p.SignalStrength < 0 || *p.SignalStrength > 100) {
		result.addIssue("signal_range", "signal_strength",
			fmt.Sprintf("signal strength %.1f outside [0, 100]", *p.SignalStrength))
	}

	if !p.Source.Valid() {
		result.addIssue("source_enum", "source",
			fmt.Sprintf("unknown data source %q", string(p.Source)))
	}

	if !p.ValidationStatus.Valid() {
		result.addIssue("validation_status_enum", "validation_status",
			fmt.Sprintf("unknown validation status %q", string(p.ValidationStatus)))
	}

	if p.Timestamp.IsZero() {
		result.addIssue("timestamp_missing", "timestamp", "timestamp is required")
	} else if p.Timestamp.After(f.now().Add(time.Minute)) {
		result.addIssue("timestamp_future", "timestamp", "timestamp is in the future")
	}
}

// checkPlausibility applies cross-field "realistic movement" checks.
func (f *Filter) checkPlausibility(p telemetry.Position, result *Result) {
	if p.Speed > highSpeedKmh && p.Accuracy != nil && *p.Accuracy > poorAccuracyMeters {
		result.addAnomaly(Anomaly{
			Kind:     "speed_accuracy_mismatch",
			Message:  fmt.Sprintf("speed %.1f km/h reported with poor accuracy %.0fm", p.Speed, *p.Accuracy),
			Severity: SeverityWarning,
		})
	}

	if p.SignalStrength != nil && *p.SignalStrength < lowSignalStrength &&
		p.Accuracy != nil && *p.Accuracy < sharpAccuracyMeters {
		result.addAnomaly(Anomaly{
			Kind:     "signal_accuracy_suspicious",
			Message:  fmt.Sprintf("signal strength %.1f too low for %.1fm accuracy", *p.SignalStrength, *p.Accuracy),
			Severity: SeverityWarning,
		})
	}

	if p.Source == telemetry.SourceGPS && p.SignalStrength == nil {
		result.addAnomaly(Anomaly{
			Kind:     "gps_missing_signal",
			Message:  "GPS source without signal strength metadata",
			Severity: SeverityInfo,
		})
	}
}

// checkSafety applies hard safety thresholds.
func (f *Filter) checkSafety(p telemetry.Position, result *Result) {
	if p.ExceedsSafetySpeed() {
		result.addAnomaly(Anomaly{
			Kind:     "impossible_speed",
			Message:  fmt.Sprintf("speed %.1f km/h exceeds rail safety limit %.0f", p.Speed, telemetry.SafetySpeedKmh),
			Severity: SeverityCritical,
			HighRisk: true,
		})
	}

	if !p.Timestamp.IsZero() && p.Stale(f.now()) {
		result.addAnomaly(Anomaly{
			Kind:     "stale_position",
			Message:  fmt.Sprintf("position is %s old", p.Age(f.now()).Round(time.Second)),
			Severity: SeverityWarning,
		})
	}
}

func (r *Result) addIssue(kind, field, message string) {
	r.Issues = append(r.Issues, Issue{Kind: kind, Field: field, Message: message})
}

func (r *Result) addAnomaly(a Anomaly) {
	r.Anomalies = append(r.Anomalies, a)
}

// wellFormedID accepts letters, digits, dashes, underscores and dots.
func wellFormedID(id string) bool {
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
