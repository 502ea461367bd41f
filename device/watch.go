package device

import (
	"context"
	"sync"
)

// Watch holds a single observable value. One writer calls Set; any number of
// readers call Get or Subscribe. Set never blocks on slow subscribers: each
// subscriber has its own ordered queue drained by a goroutine. A queue holds
// at most MaxQueued values; a stalled subscriber loses the oldest ones but
// always receives the latest.
type Watch[T comparable] struct {
	mu     sync.Mutex
	value  T
	subs   map[*subscriber[T]]struct{}
	closed bool
	done   chan struct{}
}

// MaxQueued bounds each subscriber's backlog.
const MaxQueued = 32

type subscriber[T comparable] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
}

// NewWatch creates a Watch holding initial.
func NewWatch[T comparable](initial T) *Watch[T] {
	return &Watch[T]{
		value: initial,
		subs:  make(map[*subscriber[T]]struct{}),
		done:  make(chan struct{}),
	}
}

// Get returns the current value.
func (w *Watch[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Set publishes v. Setting the current value again is a no-op.
// It reports whether the value changed.
func (w *Watch[T]) Set(v T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.value == v {
		return false
	}
	w.value = v
	for sub := range w.subs {
		sub.push(v)
	}
	return true
}

// Subscribe returns a channel that yields the current value immediately and
// then every later change in order. The channel is closed when ctx is done
// or the watch is closed.
func (w *Watch[T]) Subscribe(ctx context.Context) <-chan T {
	out := make(chan T)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(out)
		return out
	}
	sub := &subscriber[T]{
		queue:  []T{w.value},
		notify: make(chan struct{}, 1),
	}
	w.subs[sub] = struct{}{}
	w.mu.Unlock()

	go w.pump(ctx, sub, out)
	return out
}

// Subscribers returns the number of active subscriptions.
func (w *Watch[T]) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Close ends every subscription. Later Sets are ignored.
func (w *Watch[T]) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.done)
}

func (w *Watch[T]) pump(ctx context.Context, sub *subscriber[T], out chan<- T) {
	defer close(out)
	defer w.remove(sub)

	for {
		v, ok := sub.pop()
		if !ok {
			select {
			case <-sub.notify:
				continue
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
		select {
		case out <- v:
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

func (w *Watch[T]) remove(sub *subscriber[T]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, sub)
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	if n := len(s.queue); n >= MaxQueued {
		kept := make([]T, MaxQueued-1, MaxQueued)
		copy(kept, s.queue[n-(MaxQueued-1):])
		s.queue = kept
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		var zero T
		return zero, false
	}
	v := s.queue[0]
	var zero T
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true
}
