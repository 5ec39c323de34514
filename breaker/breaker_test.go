package breaker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trackstream/errors"
)

var errUpstream = stderrors.New("upstream exploded")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, clock *fakeClock) *Breaker {
	t.Helper()
	return New("upstream", Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		RequestTimeout:   time.Second,
	}, WithClock(clock.Now))
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error {
			return errUpstream
		})
	}
}

func TestBreaker_OpensExactlyAtThreshold(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())

	failN(t, b, 4)
	assert.Equal(t, StateClosed, b.State(), "must not open before threshold")

	failN(t, b, 1)
	assert.Equal(t, StateOpen, b.State(), "must open exactly at threshold")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())

	failN(t, b, 4)
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	failN(t, b, 4)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failN(t, b, 5)
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCircuitOpen))
	assert.False(t, invoked)
	assert.False(t, b.CanExecute())
}

func TestBreaker_RecoveryTimeoutAllowsProbe(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failN(t, b, 5)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	assert.False(t, b.CanExecute())

	clock.Advance(time.Second)
	assert.True(t, b.CanExecute())

	invoked := false
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failN(t, b, 5)
	clock.Advance(31 * time.Second)

	err := b.Execute(context.Background(), func(context.Context) error {
		return errUpstream
	})

	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failN(t, b, 5)
	clock.Advance(31 * time.Second)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
		assert.Equal(t, StateHalfOpen, b.State())
	}

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	m := b.Metrics()
	assert.Equal(t, 0, m.FailureCount)
	assert.Equal(t, 0, m.SuccessCount)
}

func TestBreaker_ExecuteWithTimeout(t *testing.T) {
	b := New("upstream", Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		RequestTimeout:   50 * time.Millisecond,
	})

	start := time.Now()
	err := b.ExecuteWithTimeout(context.Background(), func(ctx context.Context) error {
		<-ctx.Done() // simulate a hung upstream call
		return ctx.Err()
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOperationTimeout))
	assert.Less(t, elapsed, time.Second, "timeout must not block the caller")

	m := b.Metrics()
	assert.Equal(t, int64(1), m.TotalFailures)
}

func TestBreaker_TimeoutsOpenCircuit(t *testing.T) {
	b := New("upstream", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		RequestTimeout:   10 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		_ = b.ExecuteWithTimeout(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}

	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_Do(t *testing.T) {
	b := New("upstream", DefaultConfig())

	got, err := Do(context.Background(), b, func(context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = Do(context.Background(), b, func(context.Context) (int, error) {
		return 0, errUpstream
	})
	assert.Error(t, err)
}

func TestBreaker_MetricsSnapshot(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())

	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	_ = b.Execute(context.Background(), func(context.Context) error { return errUpstream })

	m := b.Metrics()
	assert.Equal(t, int64(2), m.TotalCalls)
	assert.Equal(t, int64(1), m.TotalSuccesses)
	assert.Equal(t, int64(1), m.TotalFailures)
	assert.InDelta(t, 0.5, m.SuccessRatio(), 0.001)
}

func TestBreaker_RejectionsTracked(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failN(t, b, 5)

	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })

	assert.Equal(t, int64(2), b.Metrics().TotalRejections)
}

func TestBreaker_SubscribeSeesTransitions(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(t, clock)

	ch, cancel := b.Subscribe()
	defer cancel()
	<-ch // initial snapshot

	failN(t, b, 5)

	require.Eventually(t, func() bool {
		select {
		case m := <-ch:
			return m.State == StateOpen
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestBreaker_ForcedTransitionsAndReset(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	b.ForceHalfOpen()
	assert.Equal(t, StateHalfOpen, b.State())

	b.ForceClosed()
	assert.Equal(t, StateClosed, b.State())

	failN(t, b, 2)
	b.Reset()
	m := b.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Zero(t, m.TotalCalls)
	assert.Zero(t, m.TotalFailures)
}

func TestBreaker_ConcurrentCallers(t *testing.T) {
	b := New("upstream", Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		RequestTimeout:   time.Second,
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Execute(context.Background(), func(context.Context) error {
					if (n+j)%2 == 0 {
						return errUpstream
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	m := b.Metrics()
	// Every call was either rejected fast or completed
	assert.Equal(t, int64(1000), m.TotalCalls)
	assert.Equal(t, m.TotalCalls, m.TotalSuccesses+m.TotalFailures+m.TotalRejections)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.FailureThreshold = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
