// internal/bridge/queue.go
package bridge

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Sender.Send once the outbound pump has
// stopped accepting writes.
var ErrQueueClosed = errors.New("bridge: outbound queue closed")

// outboundQueue carries client bytes to the single outbound pump. Producers
// block when the queue is full; once the consumer stops, the queue is
// marked closed and further sends fail fast instead of queueing forever.
type outboundQueue struct {
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newOutboundQueue(capacity int) *outboundQueue {
	return &outboundQueue{
		ch:     make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

func (q *outboundQueue) close() {
	q.once.Do(func() { close(q.closed) })
}

// Sender is a producer handle for the outbound queue. Handles are resolved
// per message through Manager.Sender so a write never lands in a queue
// belonging to an already-closed connection.
type Sender struct {
	queue *outboundQueue
}

// Send enqueues data for the outbound pump. It blocks under backpressure
// and returns ErrQueueClosed once the pump has stopped.
func (s *Sender) Send(data []byte) error {
	select {
	case <-s.queue.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case s.queue.ch <- data:
		return nil
	case <-s.queue.closed:
		return ErrQueueClosed
	}
}
