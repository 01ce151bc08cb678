package turnqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func noop(context.Context) {}

func TestQueue_FIFOOrder(t *testing.T) {
	q := New(8)
	ctx := context.Background()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Enqueue(ctx, func(context.Context) { got = append(got, i) }); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		u, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		u(ctx)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("dequeue order = %v, want ascending", got)
		}
	}
}

func TestQueue_BoundedBlocksWhenFull(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	if err := q.Enqueue(ctx, noop); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, noop); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}

	var entered, completed atomic.Bool
	done := make(chan struct{})
	go func() {
		entered.Store(true)
		if err := q.Enqueue(ctx, noop); err != nil {
			t.Errorf("blocked enqueue failed: %v", err)
		}
		completed.Store(true)
		close(done)
	}()

	// Give the goroutine a chance to block on the full queue.
	time.Sleep(20 * time.Millisecond)
	if completed.Load() {
		t.Fatal("third enqueue completed on a full queue before a dequeue")
	}

	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue did not resume after dequeue freed space")
	}
	if q.Len() > q.Capacity() {
		t.Fatalf("len %d exceeds capacity %d", q.Len(), q.Capacity())
	}
}

func TestQueue_EnqueueObservesCancellation(t *testing.T) {
	q := New(1)
	if err := q.Enqueue(context.Background(), noop); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Enqueue(ctx, noop) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue did not abort on cancellation")
	}
}

func TestQueue_DequeueObservesCancellation(t *testing.T) {
	q := New(1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not abort on cancellation")
	}
}

func TestQueue_CloseDrainsThenErrClosed(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	if err := q.Enqueue(ctx, noop); err != nil {
		t.Fatal(err)
	}
	q.Close()

	if err := q.Enqueue(ctx, noop); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after close = %v, want ErrClosed", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue of buffered unit after close: %v", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("dequeue of drained queue = %v, want ErrClosed", err)
	}
}

func TestQueue_CloseWakesBlockedDequeue(t *testing.T) {
	q := New(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue did not observe close")
	}
}
