// Package hitqueue implements the Pending-Hit Queue: a bounded,
// single-consumer-at-a-time FIFO delivering BreakpointHit events to
// wait-for-hit callers.
package hitqueue

import (
	"context"
	"errors"

	"github.com/jkolo/clrdbg-core/internal/model"
)

// ErrTimeout is returned by DequeueWithTimeout when the deadline passed
// before a hit arrived.
var ErrTimeout = errors.New("hitqueue: timed out waiting for a hit")

// ErrCancelled is returned when the caller's context was cancelled
// before a hit arrived; distinct from ErrTimeout.
var ErrCancelled = errors.New("hitqueue: wait cancelled")

// Queue is a FIFO of pending BreakpointHit values. Hits are never
// coalesced: each Enqueue call buffers exactly one value, and consumers
// Dequeue in arrival order. When the buffer is full, Enqueue discards
// the oldest buffered hit to make room.
type Queue struct {
	items chan model.BreakpointHit
}

// New creates a Queue with the given buffer capacity. Capacity only
// bounds how many hits may accumulate while no consumer is waiting;
// in practice this stays small since most hits are either consumed
// promptly or silently dropped by a failing condition.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{items: make(chan model.BreakpointHit, capacity)}
}

// Enqueue appends hit to the queue. It never blocks the event pump: a
// full queue (pathological — nobody has called wait-for-hit in a very
// long time) drops the oldest entry to make room rather than stalling
// the target runtime.
func (q *Queue) Enqueue(hit model.BreakpointHit) {
	select {
	case q.items <- hit:
	default:
		select {
		case <-q.items:
		default:
		}
		select {
		case q.items <- hit:
		default:
		}
	}
}

// DequeueWithTimeout blocks until a hit is available, ctx is done, or
// deadline (via ctx) elapses — ctx carries both cancellation and
// deadline, so callers distinguish the two by inspecting ctx.Err().
func (q *Queue) DequeueWithTimeout(ctx context.Context) (model.BreakpointHit, error) {
	select {
	case hit := <-q.items:
		return hit, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.BreakpointHit{}, ErrTimeout
		}
		return model.BreakpointHit{}, ErrCancelled
	}
}

// Len reports how many hits are currently buffered (best-effort; for
// diagnostics only).
func (q *Queue) Len() int {
	return len(q.items)
}

// Drain discards every currently-buffered hit without blocking, used
// during session teardown.
func (q *Queue) Drain() {
	for {
		select {
		case <-q.items:
		default:
			return
		}
	}
}
