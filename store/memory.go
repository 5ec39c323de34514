package store

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/pkg/buffer"
	"github.com/c360/trackstream/telemetry"
)

// DefaultHistoryDepth bounds how many positions Memory keeps per vehicle.
const DefaultHistoryDepth = 32

// Memory is an in-process PositionStore. Each vehicle keeps a bounded
// history ring; the oldest record is evicted when the ring is full.
// Memory also supports fault injection for exercising failure paths.
type Memory struct {
	mu      sync.RWMutex
	depth   int
	byVeh   map[string]*buffer.Ring[telemetry.Position]
	failErr error
}

var _ PositionStore = (*Memory)(nil)

// NewMemory creates a Memory store with the given per-vehicle history
// depth. A depth <= 0 uses DefaultHistoryDepth.
func NewMemory(depth int) *Memory {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &Memory{
		depth: depth,
		byVeh: make(map[string]*buffer.Ring[telemetry.Position]),
	}
}

// FailWith makes every subsequent call return err until cleared with
// FailWith(nil).
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Insert stores a position in the vehicle's history ring.
func (m *Memory) Insert(ctx context.Context, p telemetry.Position) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "store.memory", "insert cancelled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	ring, ok := m.byVeh[p.VehicleID]
	if !ok {
		ring = buffer.NewRing[telemetry.Position](m.depth)
		m.byVeh[p.VehicleID] = ring
	}
	ring.Push(p)
	return nil
}

// LatestByVehicle returns the vehicle's most recent positions, newest
// first. An unknown vehicle yields an empty slice, not an error.
func (m *Memory) LatestByVehicle(ctx context.Context, vehicleID string, limit int) ([]telemetry.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "store.memory", "fetch cancelled")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	ring, ok := m.byVeh[vehicleID]
	if !ok {
		return []telemetry.Position{}, nil
	}
	return takeNewest(ring.Snapshot(), limit), nil
}

// LatestBySection returns the newest position of each vehicle reporting
// in the section, newest first across vehicles.
func (m *Memory) LatestBySection(ctx context.Context, sectionID string, limit int) ([]telemetry.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "store.memory", "fetch cancelled")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []telemetry.Position
	for _, ring := range m.byVeh {
		snap := ring.Snapshot()
		for i := len(snap) - 1; i >= 0; i-- {
			if snap[i].SectionID == sectionID {
				out = append(out, snap[i])
				break
			}
		}
	}
	return takeNewest(out, limit), nil
}

// VehicleCount reports how many vehicles have at least one stored
// position.
func (m *Memory) VehicleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byVeh)
}

func takeNewest(positions []telemetry.Position, limit int) []telemetry.Position {
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].Timestamp.After(positions[j].Timestamp)
	})
	if limit > 0 && len(positions) > limit {
		positions = positions[:limit]
	}
	if positions == nil {
		positions = []telemetry.Position{}
	}
	return positions
}
