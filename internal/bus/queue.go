package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Event is the unit passed through the in-memory bus.
type Event struct {
	Header  schema.EventHeader
	Payload []byte
}

// Queue is a bounded event queue. Many producers enqueue without blocking;
// exactly one consumer drains it in arrival order, which serializes all
// downstream state transitions. Closing the queue starts a drain: producers
// are refused from that point, but the consumer still sees every event
// enqueued before the close, so an in-flight acknowledgment or fill is
// never lost to a shutdown.
type Queue struct {
	ch     chan Event
	closed atomic.Bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking. A full queue returns
// ErrQueueFull and the event is the caller's to drop or retry.
func (q *Queue) TryPublish(e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close refuses further publishes and lets Run finish draining. Closing
// more than once is a no-op.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// Closed reports whether the queue has stopped accepting events.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Run consumes events in arrival order. It returns nil once the queue is
// closed and fully drained, or the context error if the caller aborted
// with events possibly still buffered.
func (q *Queue) Run(ctx context.Context, handler func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-q.ch:
			if !ok {
				return nil
			}
			handler(e)
		}
	}
}
