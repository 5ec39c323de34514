// Package ingest implements the position ingestion pipeline: per-subscription
// polling loops that fetch from the upstream store through the circuit
// breaker, filter records through validation, and publish surviving
// positions to subscribers. Subscriptions degrade on failure but never
// terminate while the pipeline is running.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/trackstream/breaker"
	"github.com/c360/trackstream/component"
	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/metric"
	"github.com/c360/trackstream/pkg/observe"
	"github.com/c360/trackstream/pkg/retry"
	"github.com/c360/trackstream/store"
	"github.com/c360/trackstream/telemetry"
	"github.com/c360/trackstream/validate"
)

// Config tunes the polling behavior of the pipeline.
type Config struct {
	// PollInterval is the sleep between successful polls.
	PollInterval time.Duration `yaml:"poll_interval"`
	// FailureBackoff is the longer sleep after a breaker rejection or
	// fetch failure.
	FailureBackoff time.Duration `yaml:"failure_backoff"`
	// FetchLimit bounds how many records one poll requests.
	FetchLimit int `yaml:"fetch_limit"`
	// ChannelBuffer is the per-subscription channel capacity. A full
	// channel drops the oldest pending emission rather than blocking
	// the poll loop.
	ChannelBuffer int `yaml:"channel_buffer"`
	// Retry bounds restarts of a subscription loop that failed
	// unrecoverably.
	Retry retry.Config `yaml:"retry"`
}

// DefaultConfig returns production polling defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		FailureBackoff: 10 * time.Second,
		FetchLimit:     50,
		ChannelBuffer:  16,
		Retry:          retry.Polling(),
	}
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "ingest.config", "poll_interval must be positive")
	}
	if c.FailureBackoff < c.PollInterval {
		return errors.WrapFatal(errors.ErrInvalidConfig, "ingest.config", "failure_backoff must be at least poll_interval")
	}
	if c.FetchLimit <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "ingest.config", "fetch_limit must be positive")
	}
	if c.ChannelBuffer <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "ingest.config", "channel_buffer must be positive")
	}
	return nil
}

// Pipeline polls the upstream position store and fans validated
// positions out to subscribers. All fetches go through the circuit
// breaker; connection status and data quality are observable.
type Pipeline struct {
	cfg     Config
	source  store.PositionStore
	breaker *breaker.Breaker
	filter  *validate.Filter
	metrics *metric.Metrics
	logger  *slog.Logger
	clock   func() time.Time

	connStatus *observe.Value[telemetry.ConnectionStatus]
	quality    *observe.Value[telemetry.DataQuality]
	positions  *observe.Stream[telemetry.Position]
	ordering   *telemetry.OrderingBuffer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	runCtx  context.Context
	// wg tracks the current generation of subscription loops. A fresh
	// group per start keeps Add (under mu) from racing a Stop that is
	// already waiting on the previous generation.
	wg *sync.WaitGroup
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger.With("component", "ingest.pipeline")
	}
}

// WithPlatformMetrics enables prometheus instrumentation.
func WithPlatformMetrics(m *metric.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.clock = now }
}

// New creates a pipeline. The breaker, source and filter are required.
func New(cfg Config, source store.PositionStore, brk *breaker.Breaker, filter *validate.Filter, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || brk == nil || filter == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "ingest.pipeline", "source, breaker and filter are required")
	}

	p := &Pipeline{
		cfg:        cfg,
		source:     source,
		breaker:    brk,
		filter:     filter,
		logger:     slog.Default().With("component", "ingest.pipeline"),
		clock:      time.Now,
		connStatus: observe.NewValue(telemetry.StatusDisconnected),
		quality:    observe.NewValue(telemetry.DataQuality{Score: 1.0, Reliability: 1.0}),
		positions:  observe.NewStream[telemetry.Position](64),
		ordering:   telemetry.NewOrderingBuffer(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ConnectionStatus exposes the observable connection state.
func (p *Pipeline) ConnectionStatus() *observe.Value[telemetry.ConnectionStatus] {
	return p.connStatus
}

// DataQuality exposes the observable composite quality score.
func (p *Pipeline) DataQuality() *observe.Value[telemetry.DataQuality] {
	return p.quality
}

// Positions exposes the broadcast stream of every validated position the
// pipeline accepts, for presentation consumers.
func (p *Pipeline) Positions() *observe.Stream[telemetry.Position] {
	return p.positions
}

// Start begins accepting subscriptions. Calling Start on a running
// pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.wg = &sync.WaitGroup{}
	p.running = true
	p.connStatus.Set(telemetry.StatusConnecting)
	p.logger.Info("pipeline started",
		"poll_interval", p.cfg.PollInterval,
		"failure_backoff", p.cfg.FailureBackoff)
	return nil
}

// Stop cancels all subscription loops and waits up to timeout for them
// to drain. Calling Stop on a stopped pipeline is a no-op.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	wg := p.wg
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("pipeline stop timed out waiting for subscriptions", "timeout", timeout)
		return errors.WrapTransient(errors.ErrOperationTimeout, "ingest.pipeline", "stop wait exceeded timeout")
	}

	p.connStatus.Set(telemetry.StatusDisconnected)
	p.logger.Info("pipeline stopped")
	return nil
}

// beginSubscription implicitly starts the pipeline for subscribe calls
// and registers the new loop with the current generation's wait group
// inside the same critical section, so Stop never waits concurrently
// with the registration.
func (p *Pipeline) beginSubscription() (context.Context, *sync.WaitGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		p.runCtx, p.cancel = context.WithCancel(context.Background())
		p.wg = &sync.WaitGroup{}
		p.running = true
		p.connStatus.Set(telemetry.StatusConnecting)
		p.logger.Info("pipeline implicitly started by subscription")
	}
	p.wg.Add(1)
	return p.runCtx, p.wg
}

// SubscribeToSection streams batches of recent positions for a section.
// The channel closes when the pipeline stops.
func (p *Pipeline) SubscribeToSection(sectionID string) <-chan []telemetry.Position {
	ctx, wg := p.beginSubscription()
	out := make(chan []telemetry.Position, p.cfg.ChannelBuffer)
	name := "section:" + sectionID

	go p.runSubscription(ctx, wg, name, out, func(ctx context.Context) ([]telemetry.Position, error) {
		return p.source.LatestBySection(ctx, sectionID, p.cfg.FetchLimit)
	})
	return out
}

// SubscribeToVehicle streams individual position updates for one vehicle.
// The channel closes when the pipeline stops.
func (p *Pipeline) SubscribeToVehicle(vehicleID string) <-chan telemetry.Position {
	ctx, wg := p.beginSubscription()
	batches := make(chan []telemetry.Position, p.cfg.ChannelBuffer)
	out := make(chan telemetry.Position, p.cfg.ChannelBuffer)
	name := "vehicle:" + vehicleID

	go p.runSubscription(ctx, wg, name, batches, func(ctx context.Context) ([]telemetry.Position, error) {
		return p.source.LatestByVehicle(ctx, vehicleID, 1)
	})

	// Flatten batches to single positions, skipping empty degraded emits.
	go func() {
		defer close(out)
		for batch := range batches {
			for _, pos := range batch {
				select {
				case out <- pos:
				default:
					p.recordDrop(name, "subscriber_slow")
				}
			}
		}
	}()
	return out
}

// UpdatePosition validates and stores a position pushed from a local
// source, then publishes it to the broadcast stream.
func (p *Pipeline) UpdatePosition(ctx context.Context, pos telemetry.Position) error {
	result := p.filter.Validate(pos)
	if result.ShouldDrop() {
		p.recordValidationFailure(result)
		p.logger.Warn("position update rejected",
			"vehicle_id", pos.VehicleID,
			"issues", len(result.Issues),
			"high_risk", result.HighRisk())
		return errors.WrapInvalid(errors.ErrValidationRejected, "ingest.pipeline", "position update rejected")
	}

	if err := p.source.Insert(ctx, pos); err != nil {
		return errors.Wrap(err, "ingest.pipeline", "store insert failed")
	}

	p.observeArrival(pos)
	p.positions.Publish(pos)
	if p.metrics != nil {
		p.metrics.RecordPositionReceived("update")
	}
	return nil
}

// fetchFn is one subscription's upstream call.
type fetchFn func(ctx context.Context) ([]telemetry.Position, error)

// runSubscription owns one subscription channel for its whole life. The
// poll loop is wrapped in bounded retry, and an outer catch-all keeps
// the subscription alive with empty emissions on unrecoverable failure.
func (p *Pipeline) runSubscription(ctx context.Context, wg *sync.WaitGroup, name string, out chan []telemetry.Position, fetch fetchFn) {
	defer wg.Done()
	defer close(out)

	for ctx.Err() == nil {
		err := retry.Do(ctx, p.cfg.Retry, func() error {
			return p.pollLoop(ctx, name, out, fetch)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			// Catch-all degradation: the subscription must outlive any
			// failure mode, so emit empty and keep going.
			p.logger.Error("subscription loop failed after retries, degrading",
				"subscription", name,
				"error", err)
			p.connStatus.Set(telemetry.StatusDegraded)
			p.emit(name, out, []telemetry.Position{})
			if !p.sleep(ctx, p.cfg.FailureBackoff) {
				return
			}
		}
	}
}

// pollLoop runs the fetch/validate/emit cycle until the context is
// cancelled. It returns nil on cancellation and an error only when an
// iteration panics, which hands control to the bounded retry wrapper.
func (p *Pipeline) pollLoop(ctx context.Context, name string, out chan []telemetry.Position, fetch fetchFn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapTransient(
				fmt.Errorf("panic in poll loop: %v", r),
				"ingest.pipeline", "poll iteration failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		records, ferr := p.fetchThroughBreaker(ctx, fetch)
		if ferr != nil {
			p.handleFetchFailure(name, out, ferr)
			if !p.sleep(ctx, p.cfg.FailureBackoff) {
				return nil
			}
			continue
		}

		kept := p.processRecords(name, records)
		p.connStatus.Set(telemetry.StatusConnected)
		if p.metrics != nil {
			p.metrics.RecordConnectionStatus(name, int(telemetry.StatusConnected))
		}
		p.emit(name, out, kept)

		if !p.sleep(ctx, p.cfg.PollInterval) {
			return nil
		}
	}
}

func (p *Pipeline) fetchThroughBreaker(ctx context.Context, fetch fetchFn) ([]telemetry.Position, error) {
	var records []telemetry.Position
	err := p.breaker.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		var ferr error
		records, ferr = fetch(ctx)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (p *Pipeline) handleFetchFailure(name string, out chan []telemetry.Position, err error) {
	status := telemetry.StatusDisconnected
	if errors.Is(err, errors.ErrCircuitOpen) {
		// The breaker is shedding load; upstream may recover shortly.
		status = telemetry.StatusDegraded
		p.logger.Warn("fetch rejected by circuit breaker", "subscription", name)
	} else {
		p.logger.Error("upstream fetch failed", "subscription", name, "error", err)
	}
	p.connStatus.Set(status)
	if p.metrics != nil {
		p.metrics.RecordConnectionStatus(name, int(status))
		p.metrics.RecordError("ingest.pipeline", errors.Classify(err).String())
	}
	p.emit(name, out, []telemetry.Position{})
}

// processRecords validates each fetched record, drops rejects, updates
// quality and ordering state, and publishes survivors to the broadcast
// stream.
func (p *Pipeline) processRecords(name string, records []telemetry.Position) []telemetry.Position {
	now := p.clock()
	kept := make([]telemetry.Position, 0, len(records))

	for _, pos := range records {
		if p.metrics != nil {
			p.metrics.RecordPositionReceived(name)
		}

		result := p.filter.Validate(pos)
		if result.ShouldDrop() {
			p.recordValidationFailure(result)
			if p.metrics != nil {
				p.metrics.RecordPositionDropped(name, dropReason(result))
			}
			p.logger.Warn("position dropped by validation",
				"subscription", name,
				"vehicle_id", pos.VehicleID,
				"issues", len(result.Issues),
				"high_risk", result.HighRisk())
			continue
		}

		p.updateQuality(name, pos, now)
		p.observeArrival(pos)
		p.positions.Publish(pos)
		kept = append(kept, pos)
	}
	return kept
}

// updateQuality recomputes the composite quality score for one record.
func (p *Pipeline) updateQuality(name string, pos telemetry.Position, now time.Time) {
	latency := pos.Age(now)
	if latency < 0 {
		latency = 0
	}

	switch {
	case latency > telemetry.LatencyCritical:
		p.logger.Error("critical ingest latency",
			"subscription", name,
			"vehicle_id", pos.VehicleID,
			"latency", latency)
	case latency > telemetry.LatencyWarning:
		p.logger.Warn("elevated ingest latency",
			"subscription", name,
			"vehicle_id", pos.VehicleID,
			"latency", latency)
	}

	accuracy := 0.0
	if pos.Accuracy != nil {
		accuracy = *pos.Accuracy
	}
	q := telemetry.ComputeQuality(latency, accuracy, p.breaker.Metrics().SuccessRatio())
	q.UpdatedAt = now
	p.quality.Set(q)

	if p.metrics != nil {
		p.metrics.RecordIngestLatency(name, latency)
		p.metrics.RecordDataQuality(q.Score)
	}
}

func (p *Pipeline) observeArrival(pos telemetry.Position) {
	switch p.ordering.Observe(pos) {
	case telemetry.ArrivalDuplicate:
		p.logger.Debug("duplicate position timestamp", "vehicle_id", pos.VehicleID)
	case telemetry.ArrivalOutOfOrder:
		p.logger.Debug("out of order position", "vehicle_id", pos.VehicleID)
	}
}

func (p *Pipeline) recordValidationFailure(result validate.Result) {
	if p.metrics == nil {
		return
	}
	for _, issue := range result.Issues {
		p.metrics.RecordValidationFailure(issue.Kind)
	}
	for _, anomaly := range result.Anomalies {
		if anomaly.HighRisk {
			p.metrics.RecordValidationFailure(anomaly.Kind)
		}
	}
}

// emit delivers without ever blocking the poll loop. When the
// subscriber's buffer is full the oldest pending batch is discarded to
// make room for the newest.
func (p *Pipeline) emit(name string, out chan []telemetry.Position, batch []telemetry.Position) {
	select {
	case out <- batch:
		return
	default:
	}
	select {
	case <-out:
		p.recordDrop(name, "subscriber_slow")
	default:
	}
	select {
	case out <- batch:
	default:
		p.recordDrop(name, "subscriber_slow")
	}
}

func (p *Pipeline) recordDrop(name, reason string) {
	if p.metrics != nil {
		p.metrics.RecordPositionDropped(name, reason)
	}
}

// sleep waits for d or until the context is done. It reports whether the
// loop should continue.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func dropReason(result validate.Result) string {
	if result.HighRisk() {
		return "high_risk"
	}
	if len(result.Issues) > 0 {
		return result.Issues[0].Kind
	}
	return "invalid"
}

// Health reports the pipeline's liveness for the health monitor.
func (p *Pipeline) Health() component.HealthStatus {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	status := p.connStatus.Get()
	return component.HealthStatus{
		Healthy:   running && status != telemetry.StatusDisconnected,
		LastCheck: p.clock(),
	}
}
