// internal/bridge/fanout.go
package bridge

import (
	"sync"
	"sync/atomic"
)

// Chunk is one batch of device output delivered to a subscriber. Dropped
// counts the chunks this subscriber missed immediately before this one
// because its buffer was full.
type Chunk struct {
	Data    []byte
	Dropped uint64
}

// FanOut broadcasts device output to any number of subscribers. Publish
// never blocks: a subscriber that cannot keep up loses chunks and learns
// how many through Chunk.Dropped. A FanOut is created once at startup and
// outlives individual device connections.
type FanOut struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// Subscription is one receiver attached to a FanOut.
type Subscription struct {
	fanout  *FanOut
	ch      chan Chunk
	dropped atomic.Uint64
	done    sync.Once
}

// NewFanOut creates a fan-out whose subscribers each buffer up to the given
// number of chunks.
func NewFanOut(buffer int) *FanOut {
	return &FanOut{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe attaches a new receiver. After Close the returned subscription
// is already terminated.
func (f *FanOut) Subscribe() *Subscription {
	sub := &Subscription{
		fanout: f,
		ch:     make(chan Chunk, f.buffer),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(sub.ch)
		return sub
	}

	f.subs[sub] = struct{}{}
	return sub
}

// Publish delivers data to every subscriber. Publishing with zero
// subscribers is a no-op, not an error. Callers must not modify data after
// handing it over.
func (f *FanOut) Publish(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	for sub := range f.subs {
		dropped := sub.dropped.Swap(0)
		select {
		case sub.ch <- Chunk{Data: data, Dropped: dropped}:
		default:
			// Subscriber buffer full; the chunk is lost for this
			// subscriber only and accounted for in the next delivery.
			sub.dropped.Store(dropped + 1)
		}
	}
}

// Close shuts the fan-out down and terminates every subscription. Used only
// at process shutdown.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	for sub := range f.subs {
		delete(f.subs, sub)
		sub.done.Do(func() { close(sub.ch) })
	}
}

// C returns the receive channel. It is closed when the subscription is
// cancelled or the fan-out shuts down.
func (s *Subscription) C() <-chan Chunk {
	return s.ch
}

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.fanout.mu.Lock()
	defer s.fanout.mu.Unlock()

	delete(s.fanout.subs, s)
	s.done.Do(func() { close(s.ch) })
}
