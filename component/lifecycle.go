// Package component defines the lifecycle contract shared by TrackStream
// services: the ingestion pipeline, correlation engine, alerting system and
// monitoring service all implement Lifecycle and are driven by the
// composition root in cmd/trackstream.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates the component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates the component was initialized but not started
	StateInitialized
	// StateStarted indicates the component is running
	StateStarted
	// StateStopped indicates the component was stopped
	StateStopped
	// StateFailed indicates the component failed during a lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lifecycle defines components that support full lifecycle management:
//   - Initialize() error                  setup/validation only, no context
//   - Start(ctx context.Context) error   spawn loops bound to ctx
//   - Stop(timeout time.Duration) error  graceful shutdown with deadline
//
// Start and Stop must both be idempotent: calling either while already in
// the target state is a no-op.
type Lifecycle interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthStatus reports component health, consumed by the health package for
// system-wide aggregation.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// HealthReporter is implemented by components that expose health status.
type HealthReporter interface {
	Health() HealthStatus
}
