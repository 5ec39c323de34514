package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_GetSet(t *testing.T) {
	v := NewValue("disconnected")
	assert.Equal(t, "disconnected", v.Get())

	v.Set("connected")
	assert.Equal(t, "connected", v.Get())
}

func TestValue_SubscribeReceivesCurrentValue(t *testing.T) {
	v := NewValue(42)

	ch, cancel := v.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		assert.Equal(t, 42, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive initial value")
	}
}

func TestValue_SubscribeReceivesUpdates(t *testing.T) {
	v := NewValue(0)
	ch, cancel := v.Subscribe()
	defer cancel()

	<-ch // initial
	v.Set(7)

	select {
	case got := <-ch:
		assert.Equal(t, 7, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive update")
	}
}

func TestValue_SlowSubscriberSeesLatest(t *testing.T) {
	v := NewValue(0)
	ch, cancel := v.Subscribe()
	defer cancel()

	// Subscriber never drains between writes; updates conflate to the newest.
	for i := 1; i <= 100; i++ {
		v.Set(i)
	}

	var last int
	for {
		select {
		case got := <-ch:
			last = got
			continue
		default:
		}
		break
	}
	assert.Equal(t, 100, last)
}

func TestValue_Update(t *testing.T) {
	v := NewValue(10)
	v.Update(func(n int) int { return n + 5 })
	assert.Equal(t, 15, v.Get())
}

func TestValue_CancelStopsDelivery(t *testing.T) {
	v := NewValue(0)
	ch, cancel := v.Subscribe()
	<-ch
	cancel()

	v.Set(1) // must not panic on closed subscription
	_, open := <-ch
	assert.False(t, open)
}

func TestValue_WriterNeverBlocks(t *testing.T) {
	v := NewValue(0)
	_, cancel := v.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			v.Set(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on slow subscriber")
	}
}

func TestStream_PublishSubscribe(t *testing.T) {
	s := NewStream[string](4)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish("alert-raised")

	select {
	case got := <-ch:
		assert.Equal(t, "alert-raised", got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestStream_NoReplayForLateSubscribers(t *testing.T) {
	s := NewStream[int](4)
	s.Publish(1)

	ch, cancel := s.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		t.Fatalf("late subscriber received replayed event %d", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStream_FullSubscriberDropsEvents(t *testing.T) {
	s := NewStream[int](2)
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		s.Publish(i)
	}

	// Only the first two fit; the rest were dropped without blocking.
	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered event %d", extra)
	default:
	}
}

func TestStream_MultipleSubscribers(t *testing.T) {
	s := NewStream[int](4)

	ch1, cancel1 := s.Subscribe()
	defer cancel1()
	ch2, cancel2 := s.Subscribe()
	defer cancel2()

	require.Equal(t, 2, s.SubscriberCount())

	s.Publish(9)
	assert.Equal(t, 9, <-ch1)
	assert.Equal(t, 9, <-ch2)
}

func TestStream_ConcurrentPublish(t *testing.T) {
	s := NewStream[int](2048)
	ch, cancel := s.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Publish(j)
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 800, count)
}

func TestClose_Idempotent(t *testing.T) {
	v := NewValue(0)
	v.Close()
	v.Close()

	s := NewStream[int](1)
	s.Close()
	s.Close()
}
