package stream

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

func evenOdd(_ context.Context, n int) (string, error) {
	if n%2 == 0 {
		return "even", nil
	}
	return "odd", nil
}

func TestGroupBy_PartitionsByKey(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	go func() {
		defer close(in)
		for _, n := range []int{1, 2, 3, 4, 5, 6} {
			in <- n
		}
	}()

	var mu sync.Mutex
	got := map[string][]int{}
	var order []string
	var wg sync.WaitGroup
	for g := range GroupBy(ctx, in, evenOdd) {
		order = append(order, g.Key)
		wg.Add(1)
		go func(g Group[string, int]) {
			defer wg.Done()
			for item := range g.Items {
				mu.Lock()
				got[g.Key] = append(got[g.Key], item)
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	// First appearance order: 1 is odd, 2 is even.
	if len(order) != 2 || order[0] != "odd" || order[1] != "even" {
		t.Fatalf("group order = %v, want [odd even]", order)
	}
	if len(got["odd"]) != 3 || len(got["even"]) != 3 {
		t.Fatalf("groups incomplete: %v", got)
	}
	for i, v := range got["odd"] {
		if v != 2*i+1 {
			t.Fatalf("odd group = %v, want [1 3 5]", got["odd"])
		}
	}
	for i, v := range got["even"] {
		if v != 2*i+2 {
			t.Fatalf("even group = %v, want [2 4 6]", got["even"])
		}
	}
}

func TestGroupBy_OneGroupPerKey(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	go func() {
		defer close(in)
		for i := 0; i < 20; i++ {
			in <- i % 3
		}
	}()

	seen := map[string]int{}
	for g := range GroupBy(ctx, in, func(_ context.Context, n int) (string, error) {
		return strconv.Itoa(n), nil
	}) {
		seen[g.Key]++
		go func(items <-chan int) {
			for range items {
			}
		}(g.Items)
	}

	if len(seen) != 3 {
		t.Fatalf("distinct groups = %d, want 3", len(seen))
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("key %q emitted %d groups, want 1", k, n)
		}
	}
}

func TestGroupBy_SlowConsumerDoesNotStallOthers(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)

	grouped := GroupBy(ctx, in, evenOdd)

	// First item creates the "odd" group; nobody consumes its items.
	in <- 1
	var oddGroup Group[string, int]
	select {
	case oddGroup = <-grouped:
	case <-time.After(time.Second):
		t.Fatal("no group emitted for first item")
	}
	_ = oddGroup

	// Items for the unconsumed group plus items for a second group must all
	// be accepted without the distributor stalling.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			in <- 3 // odd, unconsumed
		}
		in <- 2 // even, new group
		close(in)
	}()

	var evenGroup Group[string, int]
	select {
	case evenGroup = <-grouped:
	case <-time.After(time.Second):
		t.Fatal("distributor stalled behind an unconsumed group")
	}
	if evenGroup.Key != "even" {
		t.Fatalf("second group key = %q, want even", evenGroup.Key)
	}
	if v := <-evenGroup.Items; v != 2 {
		t.Fatalf("even group item = %d, want 2", v)
	}
	<-done
}

func TestGroupBy_CancellationStopsPromptly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int)

	grouped := GroupBy(ctx, in, evenOdd)
	in <- 1
	g := <-grouped

	cancel()

	// Outer and inner channels close promptly after cancellation.
	select {
	case _, ok := <-grouped:
		if ok {
			t.Fatal("outer channel yielded an item after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("outer channel did not close after cancellation")
	}
	select {
	case _, ok := <-g.Items:
		if ok {
			t.Fatal("group channel yielded an item after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("group channel did not close after cancellation")
	}
	if ctx.Err() == nil {
		t.Fatal("consumer should observe cancellation via ctx")
	}
}

func TestGroupBy_SelectorErrorEndsEnumeration(t *testing.T) {
	ctx := context.Background()
	in := make(chan int, 1)
	in <- 42

	grouped := GroupBy(ctx, in, func(context.Context, int) (string, error) {
		return "", context.Canceled
	})

	select {
	case _, ok := <-grouped:
		if ok {
			t.Fatal("group emitted despite selector failure")
		}
	case <-time.After(time.Second):
		t.Fatal("enumeration did not end on selector failure")
	}
}
