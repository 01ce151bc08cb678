// Package stream provides the channel combinators the dispatch loop is built
// on: GroupBy fans one inbound stream out into per-conversation sub-streams,
// Merge fans many outbound streams back into one.
package stream

import (
	"context"
	"sync"
)

// Group pairs a key with the sub-stream of items observed for it.
type Group[K comparable, T any] struct {
	Key   K
	Items <-chan T
}

// GroupBy splits in into per-key sub-streams, discovered lazily. The returned
// channel yields exactly one Group per distinct key, in order of first
// appearance. Each group's Items channel yields, in arrival order, every later
// input item mapping to that key.
//
// Sub-streams are independently consumable: a slow (or absent) consumer of one
// group never stalls the others or the outer channel, at the cost of buffering
// that group's backlog in memory.
//
// When ctx is cancelled enumeration stops promptly and all channels close
// without draining; consumers detect the difference from normal exhaustion by
// checking ctx.Err().
func GroupBy[K comparable, T any](ctx context.Context, in <-chan T, keyFor func(context.Context, T) (K, error)) <-chan Group[K, T] {
	out := make(chan Group[K, T])

	go func() {
		defer close(out)
		groups := make(map[K]*backlog[T])
		defer func() {
			for _, b := range groups {
				b.close()
			}
		}()

		for {
			var item T
			var ok bool
			select {
			case <-ctx.Done():
				return
			case item, ok = <-in:
				if !ok {
					return
				}
			}

			key, err := keyFor(ctx, item)
			if err != nil {
				// Selector failures (including its own cancellation
				// observation) end enumeration.
				return
			}

			b, seen := groups[key]
			if !seen {
				b = newBacklog[T](ctx)
				groups[key] = b
				select {
				case out <- Group[K, T]{Key: key, Items: b.out}:
				case <-ctx.Done():
					return
				}
			}
			b.push(item)
		}
	}()

	return out
}

// backlog is an unbounded FIFO bridge between the distributor and one group's
// consumer, so per-group consumption never blocks the distributor.
type backlog[T any] struct {
	out chan T

	mu     sync.Mutex
	buf    []T
	closed bool
	wake   chan struct{}
}

func newBacklog[T any](ctx context.Context) *backlog[T] {
	b := &backlog[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
	}
	go b.drain(ctx)
	return b
}

func (b *backlog[T]) push(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.buf = append(b.buf, item)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *backlog[T]) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *backlog[T]) drain(ctx context.Context) {
	defer close(b.out)
	for {
		b.mu.Lock()
		if len(b.buf) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-b.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		item := b.buf[0]
		b.buf = b.buf[1:]
		b.mu.Unlock()

		select {
		case b.out <- item:
		case <-ctx.Done():
			return
		}
	}
}
