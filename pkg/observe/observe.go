// Package observe provides single-writer, multi-reader publish mechanisms.
//
// Value holds the latest state and replays it to new subscribers; Stream
// broadcasts discrete events. Readers never block the writer: a slow
// subscriber has its oldest pending update dropped in favor of the newest.
package observe

import "sync"

// Value is a broadcast state holder. One component writes; any number of
// readers Get the latest value or Subscribe for updates. New subscribers
// always receive the current value first.
type Value[T any] struct {
	mu      sync.RWMutex
	current T
	set     bool
	subs    map[int]chan T
	nextID  int
	closed  bool
}

// NewValue creates a state holder with the given initial value.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		set:     true,
		subs:    make(map[int]chan T),
	}
}

// Get returns the latest published value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set publishes a new value to all subscribers without blocking.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.current = val
	v.set = true
	for _, ch := range v.subs {
		conflate(ch, val)
	}
}

// Update atomically applies fn to the current value and publishes the result.
func (v *Value[T]) Update(fn func(T) T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.current = fn(v.current)
	for _, ch := range v.subs {
		conflate(ch, v.current)
	}
}

// Subscribe registers a reader. The returned channel immediately carries the
// current value, then every subsequent update (conflated under load). The
// cancel function must be called to release the subscription.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.set {
		ch <- v.current
	}

	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	cancel := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if sub, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close releases all subscriber channels. Further Sets are no-ops.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}

// conflate delivers val on a capacity-1 channel, replacing any pending value.
func conflate[T any](ch chan T, val T) {
	for {
		select {
		case ch <- val:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// Stream broadcasts discrete events to any number of subscribers. Unlike
// Value there is no replay; subscribers only see events published after they
// subscribe. Events for a full subscriber are dropped, never blocked on.
type Stream[T any] struct {
	mu      sync.RWMutex
	subs    map[int]chan T
	nextID  int
	bufSize int
	closed  bool
}

// NewStream creates an event stream whose subscriber channels buffer up to
// bufSize pending events.
func NewStream[T any](bufSize int) *Stream[T] {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Stream[T]{
		subs:    make(map[int]chan T),
		bufSize: bufSize,
	}
}

// Publish delivers an event to all subscribers, dropping it for any
// subscriber whose buffer is full.
func (s *Stream[T]) Publish(event T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a reader for future events. The cancel function must
// be called to release the subscription.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, s.bufSize)
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscriptions.
func (s *Stream[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close releases all subscriber channels. Further Publishes are no-ops.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
