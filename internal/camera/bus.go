package camera

import (
	"sync"
	"sync/atomic"
)

// Bus is a lossy broadcaster. Every subscriber has its own bounded queue;
// when a queue is full the oldest item is discarded so a slow subscriber
// always holds the most recent values. Publish never blocks.
type Bus[T any] struct {
	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty Bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscription is one consumer of a Bus.
type Subscription[T any] struct {
	ch  chan T
	bus *Bus[T]
}

// Subscribe registers a consumer with a queue of size buffer (minimum 1).
// On a closed bus the returned subscription's channel is already closed.
func (b *Bus[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription[T]{ch: make(chan T, buffer), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// C returns the receive channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unregisters the subscription. Calling it twice is a no-op.
func (s *Subscription[T]) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish delivers v to every subscriber.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		for {
			select {
			case s.ch <- v:
			default:
				// Full: drop the oldest and try again.
				select {
				case <-s.ch:
					b.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many items were discarded for slow subscribers.
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	clear(b.subs)
}
