// Package llm defines the model-client contract used by the agent executor
// and the fallback chain that composes several clients into one.
package llm

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// FinishReason aliases the shared tagged finish value so chain logic and
// provider adapters read naturally.
type FinishReason = models.FinishReason

const (
	FinishStop          = models.FinishStop
	FinishToolCalls     = models.FinishToolCalls
	FinishContentFilter = models.FinishContentFilter
	FinishUnknown       = models.FinishUnknown
)

// Provider is a streaming model client. Implementations must be safe for
// concurrent use; each Stream call is an independent stream.
type Provider interface {
	// Stream sends a completion request and returns a channel of chunks.
	// The channel is closed after a terminal chunk (Finish set) or an error
	// chunk (Err set).
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Name identifies the client, used in switch-over notices and logs.
	Name() string
}

// Request contains the parameters for one model call.
type Request struct {
	Model     string
	System    string
	Messages  []*models.Message
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec describes one tool exposed to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Chunk is one streamed element of a model response. Exactly one field group
// is populated: Text, ToolCall, Finish (terminal), or Err (terminal).
type Chunk struct {
	Text     string
	ToolCall *models.ToolCall
	Finish   *models.FinishReason
	Err      error
}

// Result is the aggregate of one model stream.
type Result struct {
	Text      string
	ToolCalls []models.ToolCall
	Finish    models.FinishReason
}

// Empty reports whether the result carries no content.
func (r *Result) Empty() bool {
	return r.Text == "" && len(r.ToolCalls) == 0
}

// Collect drains a chunk stream into a Result, invoking onText (if non-nil)
// for each text fragment as it arrives. A terminal chunk whose finish reason
// is still recoverable means the chain above was exhausted; per the chain
// contract Collect then returns a structurally valid but empty Result.
func Collect(ctx context.Context, ch <-chan Chunk, onText func(string)) (*Result, error) {
	res := &Result{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return res, nil
			}
			switch {
			case chunk.Err != nil:
				return nil, chunk.Err
			case chunk.Finish != nil:
				res.Finish = *chunk.Finish
				if res.Finish.Recoverable() {
					return &Result{Finish: res.Finish}, nil
				}
			case chunk.ToolCall != nil:
				res.ToolCalls = append(res.ToolCalls, *chunk.ToolCall)
			case chunk.Text != "":
				res.Text += chunk.Text
				if onText != nil {
					onText(chunk.Text)
				}
			}
		}
	}
}
