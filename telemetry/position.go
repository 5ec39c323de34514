// Package telemetry defines the position data model shared by the ingestion
// pipeline, validation filter and monitoring service.
package telemetry

import (
	"time"
)

// Physical and safety bounds for position records. Rail vehicles cannot
// legitimately exceed 350 km/h; anything above 200 km/h is treated as a
// safety anomaly on this network.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
	MinSpeedKmh  = 0.0
	MaxSpeedKmh  = 350.0
	MinHeading   = 0.0
	MaxHeading   = 360.0

	// SafetySpeedKmh is the hard safety threshold for rail traffic
	SafetySpeedKmh = 200.0

	// MaxPositionAge is the staleness threshold for incoming records
	MaxPositionAge = 5 * time.Minute

	// MaxAccuracyMeters is the plausibility ceiling for reported GPS accuracy
	MaxAccuracyMeters = 10000.0
)

// DataSource identifies where a position record originated
type DataSource string

// Known data sources
const (
	SourceGPS     DataSource = "gps"
	SourceBalise  DataSource = "balise"
	SourceManual  DataSource = "manual"
	SourceUnknown DataSource = ""
)

// Valid reports whether the data source is one of the enumerated values.
func (s DataSource) Valid() bool {
	switch s {
	case SourceGPS, SourceBalise, SourceManual, SourceUnknown:
		return true
	default:
		return false
	}
}

// ValidationStatus is the upstream's own verdict on a record, carried as
// optional metadata alongside the position.
type ValidationStatus string

// Known validation statuses. The empty value means the upstream did not
// report one.
const (
	ValidationPending    ValidationStatus = "pending"
	ValidationVerified   ValidationStatus = "verified"
	ValidationQuarantine ValidationStatus = "quarantine"
	ValidationUnreported ValidationStatus = ""
)

// Valid reports whether the validation status is one of the enumerated
// values.
func (v ValidationStatus) Valid() bool {
	switch v {
	case ValidationPending, ValidationVerified, ValidationQuarantine, ValidationUnreported:
		return true
	default:
		return false
	}
}

// Position is a single telemetry record for a vehicle. Records are created
// by the upstream source and never mutated by pipeline stages.
type Position struct {
	VehicleID string     `json:"vehicle_id"`
	SectionID string     `json:"section_id"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Speed     float64    `json:"speed"`   // km/h
	Heading   float64    `json:"heading"` // degrees
	Timestamp time.Time  `json:"timestamp"`
	Source    DataSource `json:"source,omitempty"`

	// Optional metadata; nil or empty when the source did not report it
	Accuracy         *float64         `json:"accuracy,omitempty"`        // meters
	SignalStrength   *float64         `json:"signal_strength,omitempty"` // 0-100
	ValidationStatus ValidationStatus `json:"validation_status,omitempty"`
}

// Age returns how old the record is relative to now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}

// Stale reports whether the record exceeds the staleness threshold.
func (p Position) Stale(now time.Time) bool {
	return p.Age(now) > MaxPositionAge
}

// ExceedsSafetySpeed reports whether the record breaches the rail safety
// speed limit.
func (p Position) ExceedsSafetySpeed() bool {
	return p.Speed > SafetySpeedKmh
}

// ConnectionStatus describes the ingestion pipeline's view of the upstream
// connection.
type ConnectionStatus int

// Connection states, ordered by increasing health
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusDegraded
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// DataQuality is the composite reliability indicator derived from latency,
// accuracy and the breaker's rolling success ratio.
type DataQuality struct {
	Score       float64       `json:"score"`       // 0-1 composite
	Latency     time.Duration `json:"latency"`     // last observed end-to-end latency
	Accuracy    float64       `json:"accuracy"`    // last reported accuracy, meters
	Reliability float64       `json:"reliability"` // breaker success ratio 0-1
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Latency thresholds used for quality scoring and distinct log levels
const (
	LatencyWarning  = time.Second
	LatencyCritical = 5 * time.Second
)

// ComputeQuality derives a composite quality score. Latency and accuracy
// each contribute a 0-1 factor, weighted with the source reliability ratio.
func ComputeQuality(latency time.Duration, accuracyMeters, reliability float64) DataQuality {
	latencyScore := 1.0
	switch {
	case latency > LatencyCritical:
		latencyScore = 0.0
	case latency > LatencyWarning:
		// Linear falloff between the warning and critical thresholds
		span := float64(LatencyCritical - LatencyWarning)
		latencyScore = 1.0 - float64(latency-LatencyWarning)/span
	}

	accuracyScore := 1.0
	if accuracyMeters > 0 {
		// 10m or better is full score, degrading to zero at 100m
		switch {
		case accuracyMeters >= 100:
			accuracyScore = 0.0
		case accuracyMeters > 10:
			accuracyScore = 1.0 - (accuracyMeters-10)/90
		}
	}

	if reliability < 0 {
		reliability = 0
	} else if reliability > 1 {
		reliability = 1
	}

	score := 0.4*latencyScore + 0.3*accuracyScore + 0.3*reliability

	return DataQuality{
		Score:       score,
		Latency:     latency,
		Accuracy:    accuracyMeters,
		Reliability: reliability,
		UpdatedAt:   time.Now(),
	}
}
