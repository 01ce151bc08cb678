package stream

import (
	"context"
	"sync"
)

// Merge flattens the inputs into one stream. Every item from every input is
// delivered; order across inputs is unspecified but each input's own order is
// preserved. The returned channel closes once all inputs are exhausted.
//
// When ctx is cancelled merging halts promptly without draining remaining
// input; consumers distinguish cancellation from completion via ctx.Err().
func Merge[T any](ctx context.Context, ins ...<-chan T) <-chan T {
	out := make(chan T)
	var wg sync.WaitGroup

	wg.Add(len(ins))
	for _, in := range ins {
		go func(in <-chan T) {
			defer wg.Done()
			forward(ctx, in, out)
		}(in)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// MergeAll is Merge over a lazy sequence of inputs: new inputs arriving on ins
// join the merge as they are discovered. The output closes once ins is closed
// and every joined input is exhausted.
func MergeAll[T any](ctx context.Context, ins <-chan (<-chan T)) <-chan T {
	out := make(chan T)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case in, ok := <-ins:
				if !ok {
					return
				}
				wg.Add(1)
				go func(in <-chan T) {
					defer wg.Done()
					forward(ctx, in, out)
				}(in)
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func forward[T any](ctx context.Context, in <-chan T, out chan<- T) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}
