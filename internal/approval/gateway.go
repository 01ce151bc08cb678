package approval

import (
	"context"
	"sync"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Decision is the human (or automatic) outcome for a batch of proposed tool
// calls.
type Decision string

const (
	// DecisionApproved allows the batch to execute this once.
	DecisionApproved Decision = "approved"
	// DecisionApprovedRemember allows the batch and whitelists the tool
	// names for the rest of the process lifetime.
	DecisionApprovedRemember Decision = "approved_remember"
	// DecisionRejected declines the batch; the functions are never invoked.
	DecisionRejected Decision = "rejected"
	// DecisionAutoApproved marks calls that matched the whitelist. Only used
	// in notifications, never returned by a handler.
	DecisionAutoApproved Decision = "auto_approved"
)

// RejectedResultContent is the synthetic tool-result text returned to the
// model in place of a declined invocation. The model sees a normal result,
// not an error, and the turn continues.
const RejectedResultContent = "Tool call was rejected by the user."

// Request is one batch of proposed tool calls awaiting a decision.
type Request struct {
	Key   models.ConversationKey `json:"key"`
	Calls []models.ToolCall      `json:"calls"`
}

// Handler is the approval collaborator contract.
type Handler interface {
	// RequestApproval blocks, possibly for a very long time, until a human
	// decides. Implementations must honor ctx cancellation.
	RequestApproval(ctx context.Context, req *Request) (Decision, error)

	// NotifyAutoApproved informs the collaborator that whitelisted calls ran
	// without a decision. Fire-and-forget; must not block the caller.
	NotifyAutoApproved(req *Request)
}

// Invoker executes a single approved tool call and returns its result.
type Invoker func(ctx context.Context, call models.ToolCall) models.ToolResult

// Gateway partitions a turn's tool calls against the whitelist and executes
// them, holding back the non-whitelisted batch until the handler decides.
// It holds no lock while waiting on a decision.
type Gateway struct {
	handler Handler

	mu         sync.RWMutex
	whitelist  []string
	remembered map[string]struct{}
	onResolved func(key models.ConversationKey, decision Decision)
}

// NewGateway creates a gateway with the configured whitelist patterns. A nil
// handler rejects every non-whitelisted call.
func NewGateway(whitelist []string, handler Handler) *Gateway {
	return &Gateway{
		handler:    handler,
		whitelist:  append([]string(nil), whitelist...),
		remembered: make(map[string]struct{}),
	}
}

// SetResolvedHandler registers a callback invoked each time a held batch's
// decision lands, including rejections from a nil handler. The callback runs
// off the whitelisted execution path and should return quickly.
func (g *Gateway) SetResolvedHandler(fn func(key models.ConversationKey, decision Decision)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onResolved = fn
}

func (g *Gateway) resolved(key models.ConversationKey, decision Decision) {
	g.mu.RLock()
	fn := g.onResolved
	g.mu.RUnlock()
	if fn != nil {
		fn(key, decision)
	}
}

// Whitelisted reports whether a tool name passes without approval, counting
// both configured patterns and names remembered from earlier decisions.
func (g *Gateway) Whitelisted(toolName string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.remembered[toolName]; ok {
		return true
	}
	return Matches(g.whitelist, toolName)
}

// Run executes one turn's proposed tool calls. Results come back in the same
// order as calls. Whitelisted and held-back calls proceed independently: a
// slow approval never delays a whitelisted invocation, and vice versa.
//
// A handler error (including ctx cancellation while waiting) is returned
// as-is; partial results are discarded by the caller in that case.
func (g *Gateway) Run(ctx context.Context, key models.ConversationKey, calls []models.ToolCall, invoke Invoker) ([]models.ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]models.ToolResult, len(calls))
	var allowed, held []int
	for i, call := range calls {
		if g.Whitelisted(call.Name) {
			allowed = append(allowed, i)
		} else {
			held = append(held, i)
		}
	}

	var wg sync.WaitGroup
	if len(allowed) > 0 {
		autoCalls := make([]models.ToolCall, 0, len(allowed))
		for _, i := range allowed {
			autoCalls = append(autoCalls, calls[i])
		}
		if g.handler != nil {
			go g.handler.NotifyAutoApproved(&Request{Key: key, Calls: autoCalls})
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, i := range allowed {
				results[i] = invoke(ctx, calls[i])
			}
		}()
	}

	var heldErr error
	if len(held) > 0 {
		heldCalls := make([]models.ToolCall, 0, len(held))
		for _, i := range held {
			heldCalls = append(heldCalls, calls[i])
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			decision := DecisionRejected
			if g.handler != nil {
				var err error
				decision, err = g.handler.RequestApproval(ctx, &Request{Key: key, Calls: heldCalls})
				if err != nil {
					heldErr = err
					return
				}
			}

			g.resolved(key, decision)

			switch decision {
			case DecisionApprovedRemember:
				g.remember(heldCalls)
				fallthrough
			case DecisionApproved:
				for _, i := range held {
					results[i] = invoke(ctx, calls[i])
				}
			default:
				for _, i := range held {
					results[i] = models.ToolResult{
						ToolCallID: calls[i].ID,
						Content:    RejectedResultContent,
					}
				}
			}
		}()
	}

	wg.Wait()
	if heldErr != nil {
		return nil, heldErr
	}
	return results, nil
}

func (g *Gateway) remember(calls []models.ToolCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range calls {
		g.remembered[c.Name] = struct{}{}
	}
}
