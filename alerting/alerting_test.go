package alerting

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trackstream/errors"
)

func TestRaiseAssignsIDAndBroadcasts(t *testing.T) {
	s := NewSystem()
	defer s.Close()

	events, cancel := s.Raised().Subscribe()
	defer cancel()

	alert := s.Raise("monitor", TypeTrain, SeverityHigh, "overspeed", "train T-1 above limit", map[string]string{"vehicle_id": "T-1"})
	assert.NotEmpty(t, alert.ID)
	assert.False(t, alert.Resolved)
	assert.False(t, alert.RaisedAt.IsZero())

	select {
	case got := <-events:
		assert.Equal(t, alert.ID, got.ID)
		assert.Equal(t, "overspeed", got.Title)
	case <-time.After(time.Second):
		t.Fatal("raised alert not broadcast")
	}
}

func TestNoDeduplication(t *testing.T) {
	s := NewSystem()
	defer s.Close()

	a := s.Raise("monitor", TypeMemory, SeverityLow, "same title", "desc", nil)
	b := s.Raise("monitor", TypeMemory, SeverityLow, "same title", "desc", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, s.Active(), 2)
}

func TestResolve(t *testing.T) {
	s := NewSystem()
	defer s.Close()

	alert := s.Raise("monitor", TypeSecurity, SeverityCritical, "intrusion", "desc", nil)
	require.NoError(t, s.Resolve(alert.ID))
	assert.Empty(t, s.Active())

	err := s.Resolve(alert.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = s.Resolve("no-such-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestActiveNewestFirst(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	s := NewSystem(WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}))
	defer s.Close()

	s.Raise("m", TypeOther, SeverityLow, "first", "", nil)
	s.Raise("m", TypeOther, SeverityLow, "second", "", nil)
	s.Raise("m", TypeOther, SeverityLow, "third", "", nil)

	active := s.Active()
	require.Len(t, active, 3)
	assert.Equal(t, "third", active[0].Title)
	assert.Equal(t, "first", active[2].Title)
}

func TestStatistics(t *testing.T) {
	s := NewSystem()
	defer s.Close()

	s.Raise("m", TypeTrain, SeverityHigh, "a", "", nil)
	s.Raise("m", TypeTrain, SeverityHigh, "b", "", nil)
	low := s.Raise("m", TypeMemory, SeverityLow, "c", "", nil)
	require.NoError(t, s.Resolve(low.ID))

	stats := s.Statistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 2, stats.BySeverity[SeverityHigh])
	assert.Zero(t, stats.BySeverity[SeverityLow])
	assert.Equal(t, 2, stats.ByType[TypeTrain])
}

func TestActiveBySeverity(t *testing.T) {
	s := NewSystem()
	defer s.Close()

	s.Raise("m", TypeOther, SeverityCritical, "crit", "", nil)
	s.Raise("m", TypeOther, SeverityLow, "low", "", nil)

	crits := s.ActiveBySeverity(SeverityCritical)
	require.Len(t, crits, 1)
	assert.Equal(t, "crit", crits[0].Title)
}

func TestCleanupOldData(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	current := base
	s := NewSystem(WithClock(func() time.Time { return current }))
	defer s.Close()

	old := s.Raise("m", TypeOther, SeverityLow, "old", "", nil)
	require.NoError(t, s.Resolve(old.ID))
	s.Raise("m", TypeOther, SeverityLow, "old-active", "", nil)

	current = time.Now()
	s.Raise("m", TypeOther, SeverityLow, "fresh", "", nil)

	// Cleanup removes by age regardless of resolution state.
	removed := s.CleanupOldData(time.Now().Add(-time.Minute))
	assert.Equal(t, 2, removed)

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].Title)
}
