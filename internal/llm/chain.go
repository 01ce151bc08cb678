package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain wraps an ordered list of model clients: one primary plus zero or more
// fallbacks. It consumes the active client's stream and, when that stream
// terminates with a content-filtered or unrecognized finish reason, switches
// to the next client, emits a short in-band notice naming the new model and
// the reason, and resumes streaming from it.
//
// Text already streamed from a failed client is kept: the notice and the
// fallback's output are appended after it. Any other failure class propagates
// unchanged, with no fallover.
//
// When every client has been exhausted the stream ends with the last
// recoverable finish reason and no error; Collect turns that into an
// empty-but-valid Result, so callers never see a provider-side failure of
// this class as an exception.
type Chain struct {
	clients []Provider
	logger  *slog.Logger

	// OnSwitch, when set, observes each switch-over (for metrics).
	OnSwitch func(from, to string)
}

// NewChain builds a chain from primary plus fallbacks in order.
func NewChain(logger *slog.Logger, primary Provider, fallbacks ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	clients := append([]Provider{primary}, fallbacks...)
	return &Chain{clients: clients, logger: logger}
}

// Name implements Provider.
func (c *Chain) Name() string {
	if len(c.clients) == 0 {
		return "chain"
	}
	return "chain:" + c.clients[0].Name()
}

// Stream implements Provider with fallback switch-over.
func (c *Chain) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if len(c.clients) == 0 {
		return nil, fmt.Errorf("llm chain: no clients configured")
	}

	// Errors opening the primary stream are not a finish-reason failure
	// class and propagate to the caller.
	first, err := c.clients[0].Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		in := first
		for i := 0; ; i++ {
			finish, ok := c.relay(ctx, in, out)
			if !ok {
				// Error chunk already forwarded, or cancelled.
				return
			}
			if !finish.Recoverable() {
				emit(ctx, out, Chunk{Finish: &finish})
				return
			}

			if i+1 >= len(c.clients) {
				// Chain exhausted: terminate with the recoverable finish
				// and no error. Collect renders this as an empty result.
				c.logger.Warn("model fallback chain exhausted",
					"finish", finish.Kind, "raw", finish.Raw)
				emit(ctx, out, Chunk{Finish: &finish})
				return
			}

			next := c.clients[i+1]
			reason := switchReason(finish)
			c.logger.Info("switching model client",
				"from", c.clients[i].Name(), "to", next.Name(), "reason", reason)
			if c.OnSwitch != nil {
				c.OnSwitch(c.clients[i].Name(), next.Name())
			}
			if !emit(ctx, out, Chunk{Text: fmt.Sprintf("\n\n[switched to %s: %s]\n\n", next.Name(), reason)}) {
				return
			}

			stream, err := next.Stream(ctx, req)
			if err != nil {
				emit(ctx, out, Chunk{Err: err})
				return
			}
			in = stream
		}
	}()
	return out, nil
}

// relay forwards non-terminal chunks from in to out. It returns the finish
// reason and true when the stream terminated normally, or false when the
// stream errored (error forwarded) or the context was cancelled. A stream
// that closes without a terminal chunk counts as an unrecognized finish.
func (c *Chain) relay(ctx context.Context, in <-chan Chunk, out chan<- Chunk) (FinishReason, bool) {
	for {
		select {
		case <-ctx.Done():
			return FinishReason{}, false
		case chunk, ok := <-in:
			if !ok {
				return FinishReason{Kind: FinishUnknown, Raw: "stream ended without finish"}, true
			}
			switch {
			case chunk.Err != nil:
				emit(ctx, out, chunk)
				return FinishReason{}, false
			case chunk.Finish != nil:
				return *chunk.Finish, true
			default:
				if !emit(ctx, out, chunk) {
					return FinishReason{}, false
				}
			}
		}
	}
}

func emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func switchReason(finish FinishReason) string {
	if finish.Kind == FinishContentFilter {
		return "content filtered"
	}
	if finish.Raw != "" {
		return fmt.Sprintf("unrecognized finish reason %q", finish.Raw)
	}
	return "unrecognized finish reason"
}
