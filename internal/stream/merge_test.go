package stream

import (
	"context"
	"sort"
	"testing"
	"time"
)

func sourceOf(items ...int) <-chan int {
	ch := make(chan int, len(items))
	for _, v := range items {
		ch <- v
	}
	close(ch)
	return ch
}

func TestMerge_Completeness(t *testing.T) {
	ctx := context.Background()
	a := sourceOf(1, 2, 3)
	b := sourceOf(10, 20)

	var got []int
	for v := range Merge(ctx, a, b) {
		got = append(got, v)
	}

	sort.Ints(got)
	want := []int{1, 2, 3, 10, 20}
	if len(got) != len(want) {
		t.Fatalf("merged %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged multiset = %v, want %v", got, want)
		}
	}
}

func TestMerge_PreservesPerInputOrder(t *testing.T) {
	ctx := context.Background()
	a := sourceOf(1, 2, 3, 4)
	b := sourceOf(100, 200)

	var fromA, fromB []int
	for v := range Merge(ctx, a, b) {
		if v < 100 {
			fromA = append(fromA, v)
		} else {
			fromB = append(fromB, v)
		}
	}

	for i := 1; i < len(fromA); i++ {
		if fromA[i] < fromA[i-1] {
			t.Fatalf("input A order not preserved: %v", fromA)
		}
	}
	for i := 1; i < len(fromB); i++ {
		if fromB[i] < fromB[i-1] {
			t.Fatalf("input B order not preserved: %v", fromB)
		}
	}
}

func TestMerge_CancellationStopsWithoutDraining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// An input that never closes and always has items ready.
	busy := make(chan int)
	go func() {
		for i := 0; ; i++ {
			select {
			case busy <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	out := Merge(ctx, busy)
	<-out
	<-out
	cancel()

	// The output must close within a bounded number of further items.
	extra := 0
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				if ctx.Err() == nil {
					t.Fatal("consumer should observe cancellation")
				}
				return
			}
			extra++
			if extra > 2 {
				t.Fatalf("merge kept draining after cancellation (%d extra items)", extra)
			}
		case <-deadline:
			t.Fatal("merge did not halt after cancellation")
		}
	}
}

func TestMergeAll_JoinsLateInputs(t *testing.T) {
	ctx := context.Background()
	ins := make(chan (<-chan int))

	out := MergeAll(ctx, ins)

	ins <- sourceOf(1)
	if v := <-out; v != 1 {
		t.Fatalf("first item = %d, want 1", v)
	}

	// A second input discovered after the first was exhausted still joins.
	ins <- sourceOf(2)
	if v := <-out; v != 2 {
		t.Fatalf("second item = %d, want 2", v)
	}

	close(ins)
	if _, ok := <-out; ok {
		t.Fatal("output should close after all inputs exhaust")
	}
}
