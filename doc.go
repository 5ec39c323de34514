// Package trackstream provides resilient ingestion and monitoring of
// live train telemetry.
//
// # Architecture
//
// Positions flow from an upstream store through a circuit-protected
// polling pipeline, get validated against physical and safety bounds,
// and fan out to observers:
//
//	┌─────────────────────────────────────┐
//	│        Monitoring Service           │  Health checks, alert
//	│  (escalation, correlation alerts)   │  policies, dashboard
//	└─────────────────────────────────────┘
//	           ↑ observes
//	┌─────────────────────────────────────┐
//	│       Ingestion Pipeline            │  Polling subscriptions,
//	│  (breaker, validation, ordering)    │  quality scoring
//	└─────────────────────────────────────┘
//	           ↑ fetches via
//	┌─────────────────────────────────────┐
//	│        Position Store               │  NATS JetStream KV or
//	│   (latest-N per section/vehicle)    │  in-memory history
//	└─────────────────────────────────────┘
//
// Every external fetch crosses the circuit breaker. When the upstream
// misbehaves the breaker opens, subscriptions degrade to empty batches
// and the connection status reflects it, but no stream ever dies.
//
// # Packages
//
// Core domain:
//   - telemetry: Position model, data quality, per-vehicle ordering
//   - breaker: three-state circuit breaker with reliability scoring
//   - validate: coordinate, plausibility and injection filtering
//   - store: upstream position store contract and implementations
//   - ingest: polling pipeline with graceful degradation
//   - correlate: metric correlation, trends, anomalies, insights
//   - alerting: alert lifecycle and statistics
//   - monitor: system health, alert policies, dashboard
//
// Infrastructure:
//   - component: lifecycle contract and health reporting
//   - config: YAML configuration with construction-time validation
//   - errors: classified error handling (transient/invalid/fatal)
//   - health: component health aggregation
//   - metric: Prometheus metrics registry
//   - gateway/ws: websocket fan-out of positions, alerts and health
//
// Utilities:
//   - pkg/buffer: bounded circular buffer
//   - pkg/observe: broadcast values and streams
//   - pkg/retry: exponential backoff with jitter
//
// # Binary
//
// Build and run TrackStream:
//
//	go build -o bin/trackstream ./cmd/trackstream
//	./bin/trackstream --config configs/trackstream.yaml
//
// The HTTP surface exposes /metrics (Prometheus), /healthz, /dashboard
// and /ws (websocket feed).
package trackstream
