package hitqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jkolo/clrdbg-core/internal/model"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New(4)
	q.Enqueue(model.BreakpointHit{BreakpointID: "a"})
	q.Enqueue(model.BreakpointHit{BreakpointID: "b"})

	hit, err := q.DequeueWithTimeout(context.Background())
	if err != nil || hit.BreakpointID != "a" {
		t.Fatalf("expected a first, got %+v, err=%v", hit, err)
	}
	hit, err = q.DequeueWithTimeout(context.Background())
	if err != nil || hit.BreakpointID != "b" {
		t.Fatalf("expected b second, got %+v, err=%v", hit, err)
	}
}

func TestDequeueTimeout(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.DequeueWithTimeout(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestDequeueCancelled(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.DequeueWithTimeout(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	q := New(1)
	q.Enqueue(model.BreakpointHit{BreakpointID: "first"})
	q.Enqueue(model.BreakpointHit{BreakpointID: "second"})

	hit, err := q.DequeueWithTimeout(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit.BreakpointID != "second" {
		t.Fatalf("expected the newest hit to survive, got %q", hit.BreakpointID)
	}
}

func TestDrain(t *testing.T) {
	q := New(4)
	q.Enqueue(model.BreakpointHit{BreakpointID: "a"})
	q.Enqueue(model.BreakpointHit{BreakpointID: "b"})

	q.Drain()

	if n := q.Len(); n != 0 {
		t.Fatalf("expected an empty queue after Drain, got %d buffered", n)
	}

	// Drain on an already-empty queue must not block.
	done := make(chan struct{})
	go func() {
		q.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain blocked on an empty queue")
	}
}
