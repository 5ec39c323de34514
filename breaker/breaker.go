// Package breaker implements the circuit breaker guarding calls to the
// upstream position store. It tracks failures and successes, transitions
// among CLOSED, HALF_OPEN and OPEN, and rejects calls fast while open so a
// failing upstream cannot cascade into the polling loops.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/metric"
	"github.com/c360/trackstream/pkg/observe"
)

// State represents the circuit breaker state
type State int

// Breaker states
const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker thresholds, read at construction.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures before opening
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`  // cooldown before a half-open probe
	SuccessThreshold int           `yaml:"success_threshold"` // consecutive successes to close
	RequestTimeout   time.Duration `yaml:"request_timeout"`   // per-call deadline
}

// DefaultConfig returns the standard breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		RequestTimeout:   10 * time.Second,
	}
}

// Validate reports structurally invalid settings. Invalid config is fatal
// at construction.
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "breaker.config", "failure threshold must be positive")
	}
	if c.SuccessThreshold <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "breaker.config", "success threshold must be positive")
	}
	if c.RecoveryTimeout <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "breaker.config", "recovery timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "breaker.config", "request timeout must be positive")
	}
	return nil
}

// Metrics is a read-only snapshot of breaker health, recomputed after every
// state transition and safe for concurrent readers.
type Metrics struct {
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"` // consecutive failures in current round
	SuccessCount    int       `json:"success_count"` // consecutive successes while half open
	LastFailureTime time.Time `json:"last_failure_time"`
	LastSuccessTime time.Time `json:"last_success_time"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejections int64     `json:"total_rejections"`
}

// SuccessRatio returns the rolling ratio of successful calls, 1.0 when no
// calls have completed yet.
func (m Metrics) SuccessRatio() float64 {
	completed := m.TotalSuccesses + m.TotalFailures
	if completed == 0 {
		return 1.0
	}
	return float64(m.TotalSuccesses) / float64(completed)
}

// Operation is a fallible call guarded by the breaker.
type Operation func(ctx context.Context) error

// Breaker wraps fallible operations with circuit breaking. All state
// transitions and counter mutations happen under a single lock; this is the
// only hard mutual-exclusion boundary in the system.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	lastSuccess  time.Time

	totalCalls      int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64

	metrics  *observe.Value[Metrics]
	platform *metric.Metrics

	now func() time.Time // injectable clock for tests
}

// Option configures optional breaker dependencies.
type Option func(*Breaker)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger.With("component", "breaker", "breaker", b.name)
		}
	}
}

// WithPlatformMetrics publishes state and counters to the platform registry.
func WithPlatformMetrics(m *metric.Metrics) Option {
	return func(b *Breaker) {
		b.platform = m
	}
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a circuit breaker. The config must already be validated;
// zero-valued fields fall back to defaults.
func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "breaker", "breaker", name),
		state:  StateClosed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics = observe.NewValue(b.snapshotLocked())
	b.publishLocked()
	return b
}

// Name returns the breaker's instance name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a read-only snapshot of breaker health.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Subscribe returns a channel receiving metric snapshots after every state
// transition, starting with the current snapshot.
func (b *Breaker) Subscribe() (<-chan Metrics, func()) {
	return b.metrics.Subscribe()
}

// CanExecute reports whether a call would currently be admitted. It does not
// trigger the open-to-half-open probe transition.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	return b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout
}

// Execute runs op if the circuit admits it. While OPEN, calls are rejected
// with ErrCircuitOpen until the recovery timeout has elapsed, at which point
// the breaker probes in HALF_OPEN. The breaker never retries internally;
// retry and backoff belong to the caller.
func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		b.recordFailure(err)
		return err
	}
	b.recordSuccess()
	return nil
}

// ExecuteWithTimeout runs op under the configured request timeout. A call
// exceeding the deadline counts as a failure and does not block the caller
// beyond the timeout even if op never returns.
func (b *Breaker) ExecuteWithTimeout(ctx context.Context, op Operation) error {
	if err := b.admit(); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.recordFailure(err)
			return err
		}
		b.recordSuccess()
		return nil
	case <-opCtx.Done():
		err := errors.WrapTransient(errors.ErrOperationTimeout, "breaker."+b.name, "request timed out")
		b.recordFailure(err)
		return err
	}
}

// Do runs a typed operation through the breaker's timeout path, returning
// the operation result.
func Do[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = op(ctx)
		return innerErr
	})
	return result, err
}

// admit decides whether a call may proceed, transitioning OPEN to HALF_OPEN
// when the recovery timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			b.totalRejections++
			if b.platform != nil {
				b.platform.RecordBreakerRejection(b.name)
			}
			return errors.WrapTransient(errors.ErrCircuitOpen, "breaker."+b.name, "call rejected")
		}
		b.transitionLocked(StateHalfOpen, "recovery timeout elapsed, probing upstream")
	}
	return nil
}

func (b *Breaker) recordFailure(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.failureCount++
	b.successCount = 0
	b.lastFailure = b.now()

	if b.platform != nil {
		b.platform.RecordBreakerFailure(b.name)
	}

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.logger.Warn("Failure threshold reached, opening circuit",
				"failures", b.failureCount, "error", cause)
			b.transitionLocked(StateOpen, "failure threshold reached")
			return
		}
	case StateHalfOpen:
		// Any failure while probing reopens the circuit immediately
		b.logger.Warn("Probe failed, reopening circuit", "error", cause)
		b.transitionLocked(StateOpen, "probe failure")
		return
	}
	b.publishLocked()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.lastSuccess = b.now()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.logger.Info("Probe successes reached threshold, closing circuit",
				"successes", b.successCount)
			b.failureCount = 0
			b.successCount = 0
			b.transitionLocked(StateClosed, "success threshold reached")
			return
		}
	}
	b.publishLocked()
}

// transitionLocked moves to a new state and republishes metrics. Caller
// holds b.mu.
func (b *Breaker) transitionLocked(next State, reason string) {
	if b.state != next {
		b.logger.Info("Circuit state transition",
			"from", b.state.String(), "to", next.String(), "reason", reason)
	}
	b.state = next
	if next != StateHalfOpen {
		b.successCount = 0
	}
	if next == StateClosed {
		b.failureCount = 0
	}
	b.publishLocked()
}

// publishLocked republishes the metrics snapshot. Caller holds b.mu.
func (b *Breaker) publishLocked() {
	snap := b.snapshotLocked()
	b.metrics.Set(snap)
	if b.platform != nil {
		b.platform.RecordBreakerState(b.name, stateGaugeValue(b.state))
	}
}

func (b *Breaker) snapshotLocked() Metrics {
	return Metrics{
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailure,
		LastSuccessTime: b.lastSuccess,
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
		TotalRejections: b.totalRejections,
	}
}

// stateGaugeValue maps states onto the gauge encoding documented in the
// metric package (0=closed, 1=half_open, 2=open).
func stateGaugeValue(s State) int {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// ForceOpen forces the circuit open for operational override or testing.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.transitionLocked(StateOpen, "forced")
}

// ForceClosed forces the circuit closed.
func (b *Breaker) ForceClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed, "forced")
}

// ForceHalfOpen forces the circuit into the probing state.
func (b *Breaker) ForceHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateHalfOpen, "forced")
}

// Reset restores the breaker to its initial closed state and clears all
// counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.successCount = 0
	b.lastFailure = time.Time{}
	b.lastSuccess = time.Time{}
	b.totalCalls = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.totalRejections = 0
	b.transitionLocked(StateClosed, "reset")
}
