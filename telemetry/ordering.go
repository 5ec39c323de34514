package telemetry

import (
	"sync"
	"time"

	"github.com/c360/trackstream/pkg/buffer"
)

// Arrival classifies how a position record arrived relative to the records
// already seen for the same vehicle.
type Arrival int

// Arrival classifications
const (
	ArrivalInOrder Arrival = iota
	ArrivalOutOfOrder
	ArrivalDuplicate
)

// String returns the string representation of Arrival
func (a Arrival) String() string {
	switch a {
	case ArrivalInOrder:
		return "in_order"
	case ArrivalOutOfOrder:
		return "out_of_order"
	case ArrivalDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// DefaultOrderingDepth is the bounded number of recent entries retained per
// vehicle for duplicate and out-of-order detection.
const DefaultOrderingDepth = 10

// OrderingBuffer retains a small bounded window of recent timestamps per
// vehicle so the pipeline can tolerate out-of-order and duplicate arrivals
// across concurrent subscriptions.
type OrderingBuffer struct {
	mu    sync.Mutex
	depth int
	seen  map[string]*buffer.Ring[time.Time]
}

// NewOrderingBuffer creates an ordering buffer with the given per-vehicle
// depth (DefaultOrderingDepth when <= 0).
func NewOrderingBuffer(depth int) *OrderingBuffer {
	if depth <= 0 {
		depth = DefaultOrderingDepth
	}
	return &OrderingBuffer{
		depth: depth,
		seen:  make(map[string]*buffer.Ring[time.Time]),
	}
}

// Observe records the position's arrival and classifies it. Duplicates are
// records whose timestamp was already seen for the vehicle; out-of-order
// records are older than the newest seen timestamp.
func (b *OrderingBuffer) Observe(p Position) Arrival {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring, ok := b.seen[p.VehicleID]
	if !ok {
		ring = buffer.NewRing[time.Time](b.depth)
		b.seen[p.VehicleID] = ring
	}

	newest := time.Time{}
	for _, ts := range ring.Snapshot() {
		if ts.Equal(p.Timestamp) {
			return ArrivalDuplicate
		}
		if ts.After(newest) {
			newest = ts
		}
	}

	ring.Push(p.Timestamp)
	if !newest.IsZero() && p.Timestamp.Before(newest) {
		return ArrivalOutOfOrder
	}
	return ArrivalInOrder
}

// Vehicles returns the number of vehicles currently tracked.
func (b *OrderingBuffer) Vehicles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

// Forget drops the tracked window for a vehicle.
func (b *OrderingBuffer) Forget(vehicleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seen, vehicleID)
}
