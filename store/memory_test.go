package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/telemetry"
)

func testPosition(vehicleID, sectionID string, ts time.Time) telemetry.Position {
	return telemetry.Position{
		VehicleID: vehicleID,
		SectionID: sectionID,
		Latitude:  48.85,
		Longitude: 2.35,
		Speed:     80,
		Heading:   90,
		Timestamp: ts,
		Source:    telemetry.SourceGPS,
	}
}

func TestMemoryInsertAndFetchByVehicle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	base := time.Now().Add(-time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Insert(ctx, testPosition("T-100", "SEC-A", base.Add(time.Duration(i)*time.Second))))
	}

	got, err := m.LatestByVehicle(ctx, "T-100", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	assert.True(t, got[0].Timestamp.After(got[1].Timestamp))
	assert.True(t, got[1].Timestamp.After(got[2].Timestamp))
	assert.Equal(t, base.Add(4*time.Second), got[0].Timestamp)
}

func TestMemoryUnknownVehicleReturnsEmpty(t *testing.T) {
	m := NewMemory(8)
	got, err := m.LatestByVehicle(context.Background(), "T-404", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestMemoryLatestBySection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	base := time.Now().Add(-time.Minute)

	require.NoError(t, m.Insert(ctx, testPosition("T-1", "SEC-A", base)))
	require.NoError(t, m.Insert(ctx, testPosition("T-1", "SEC-B", base.Add(time.Second))))
	require.NoError(t, m.Insert(ctx, testPosition("T-2", "SEC-A", base.Add(2*time.Second))))
	require.NoError(t, m.Insert(ctx, testPosition("T-3", "SEC-A", base.Add(3*time.Second))))

	got, err := m.LatestBySection(ctx, "SEC-A", 10)
	require.NoError(t, err)
	// T-1's latest is in SEC-B, so only its older SEC-A record matches;
	// each vehicle contributes its newest SEC-A position.
	require.Len(t, got, 3)
	assert.Equal(t, "T-3", got[0].VehicleID)
	assert.Equal(t, "T-2", got[1].VehicleID)
	assert.Equal(t, "T-1", got[2].VehicleID)

	limited, err := m.LatestBySection(ctx, "SEC-A", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "T-3", limited[0].VehicleID)
}

func TestMemoryBoundedHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4)
	base := time.Now().Add(-time.Minute)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Insert(ctx, testPosition("T-1", "SEC-A", base.Add(time.Duration(i)*time.Second))))
	}

	got, err := m.LatestByVehicle(ctx, "T-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, base.Add(9*time.Second), got[0].Timestamp)
	assert.Equal(t, base.Add(6*time.Second), got[3].Timestamp)
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	m.FailWith(errors.ErrUpstreamUnavailable)

	_, err := m.LatestByVehicle(ctx, "T-1", 1)
	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)
	_, err = m.LatestBySection(ctx, "SEC-A", 1)
	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)
	err = m.Insert(ctx, testPosition("T-1", "SEC-A", time.Now()))
	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)

	m.FailWith(nil)
	require.NoError(t, m.Insert(ctx, testPosition("T-1", "SEC-A", time.Now())))
	assert.Equal(t, 1, m.VehicleCount())
}

func TestMemoryCancelledContext(t *testing.T) {
	m := NewMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.LatestByVehicle(ctx, "T-1", 1)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
