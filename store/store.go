// Package store defines the upstream position store contract consumed by
// the ingestion pipeline, with a NATS JetStream KV implementation for
// production and an in-memory implementation for tests and standalone runs.
package store

import (
	"context"

	"github.com/c360/trackstream/telemetry"
)

// PositionStore is the async fetch/insert contract for the upstream source
// of position records. Fetch results are ordered newest first. The core
// does not depend on any particular transport behind this interface.
type PositionStore interface {
	// LatestBySection returns up to limit most recent positions for
	// vehicles currently reporting in the section, newest first.
	LatestBySection(ctx context.Context, sectionID string, limit int) ([]telemetry.Position, error)

	// LatestByVehicle returns up to limit most recent positions for the
	// vehicle, newest first.
	LatestByVehicle(ctx context.Context, vehicleID string, limit int) ([]telemetry.Position, error)

	// Insert stores a single position record.
	Insert(ctx context.Context, p telemetry.Position) error
}
