package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Stale(t *testing.T) {
	now := time.Now()

	fresh := Position{Timestamp: now.Add(-time.Minute)}
	assert.False(t, fresh.Stale(now))

	stale := Position{Timestamp: now.Add(-6 * time.Minute)}
	assert.True(t, stale.Stale(now))
}

func TestPosition_ExceedsSafetySpeed(t *testing.T) {
	assert.False(t, Position{Speed: 200}.ExceedsSafetySpeed())
	assert.True(t, Position{Speed: 201}.ExceedsSafetySpeed())
}

func TestDataSource_Valid(t *testing.T) {
	assert.True(t, SourceGPS.Valid())
	assert.True(t, SourceBalise.Valid())
	assert.True(t, SourceUnknown.Valid())
	assert.False(t, DataSource("radar").Valid())
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestComputeQuality_AllGood(t *testing.T) {
	q := ComputeQuality(100*time.Millisecond, 5, 1.0)
	assert.InDelta(t, 1.0, q.Score, 0.001)
	assert.Equal(t, 1.0, q.Reliability)
}

func TestComputeQuality_LatencyDegrades(t *testing.T) {
	good := ComputeQuality(500*time.Millisecond, 5, 1.0)
	warn := ComputeQuality(3*time.Second, 5, 1.0)
	critical := ComputeQuality(6*time.Second, 5, 1.0)

	assert.Greater(t, good.Score, warn.Score)
	assert.Greater(t, warn.Score, critical.Score)
	// Above the critical threshold the latency factor contributes nothing
	assert.InDelta(t, 0.6, critical.Score, 0.001)
}

func TestComputeQuality_AccuracyDegrades(t *testing.T) {
	precise := ComputeQuality(100*time.Millisecond, 5, 1.0)
	coarse := ComputeQuality(100*time.Millisecond, 150, 1.0)

	assert.Greater(t, precise.Score, coarse.Score)
}

func TestComputeQuality_ReliabilityClamped(t *testing.T) {
	q := ComputeQuality(100*time.Millisecond, 5, 1.5)
	assert.Equal(t, 1.0, q.Reliability)

	q = ComputeQuality(100*time.Millisecond, 5, -0.5)
	assert.Equal(t, 0.0, q.Reliability)
}

func TestOrderingBuffer_InOrder(t *testing.T) {
	b := NewOrderingBuffer(10)
	base := time.Now()

	for i := 0; i < 5; i++ {
		p := Position{VehicleID: "T-1", Timestamp: base.Add(time.Duration(i) * time.Second)}
		assert.Equal(t, ArrivalInOrder, b.Observe(p))
	}
	assert.Equal(t, 1, b.Vehicles())
}

func TestOrderingBuffer_Duplicate(t *testing.T) {
	b := NewOrderingBuffer(10)
	ts := time.Now()

	p := Position{VehicleID: "T-1", Timestamp: ts}
	assert.Equal(t, ArrivalInOrder, b.Observe(p))
	assert.Equal(t, ArrivalDuplicate, b.Observe(p))
}

func TestOrderingBuffer_OutOfOrder(t *testing.T) {
	b := NewOrderingBuffer(10)
	base := time.Now()

	b.Observe(Position{VehicleID: "T-1", Timestamp: base})
	late := Position{VehicleID: "T-1", Timestamp: base.Add(-10 * time.Second)}
	assert.Equal(t, ArrivalOutOfOrder, b.Observe(late))
}

func TestOrderingBuffer_BoundedWindow(t *testing.T) {
	b := NewOrderingBuffer(3)
	base := time.Now()

	for i := 0; i < 10; i++ {
		b.Observe(Position{VehicleID: "T-1", Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	// The first timestamp has rolled out of the window, so replaying it is
	// no longer detected as a duplicate (it is out of order instead).
	replay := Position{VehicleID: "T-1", Timestamp: base}
	assert.Equal(t, ArrivalOutOfOrder, b.Observe(replay))
}

func TestOrderingBuffer_PerVehicleIsolation(t *testing.T) {
	b := NewOrderingBuffer(10)
	ts := time.Now()

	b.Observe(Position{VehicleID: "T-1", Timestamp: ts})
	// Same timestamp on a different vehicle is not a duplicate
	assert.Equal(t, ArrivalInOrder, b.Observe(Position{VehicleID: "T-2", Timestamp: ts}))

	b.Forget("T-1")
	assert.Equal(t, 1, b.Vehicles())
}
