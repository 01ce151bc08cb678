// Package agent executes single conversation turns: model call, gated tool
// execution, and history bookkeeping.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/switchboard/internal/approval"
	"github.com/haasonsaas/switchboard/internal/history"
	"github.com/haasonsaas/switchboard/internal/llm"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// maxToolRounds bounds model/tool round-trips within one turn.
const maxToolRounds = 16

// defaultMaxHistory caps how many messages a conversation retains in memory.
const defaultMaxHistory = 200

// Tool is an executable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (models.ToolResult, error)
}

// Agent executes turns for one conversation. Agents are disposable: the
// resolver hands one out per conversation and it is discarded with the scope.
type Agent struct {
	provider     llm.Provider
	gateway      *approval.Gateway
	tools        map[string]Tool
	systemPrompt string
	maxTokens    int
	maxHistory   int
	logger       *slog.Logger
}

// Options configures a new Agent.
type Options struct {
	Provider     llm.Provider
	Gateway      *approval.Gateway
	Tools        []Tool
	SystemPrompt string
	MaxTokens    int

	// MaxHistory caps the in-memory history length; older messages are
	// dropped after each turn, keeping the system prompt. Zero means the
	// default cap.
	MaxHistory int

	Logger *slog.Logger
}

// New creates an Agent. Provider is required.
func New(opts Options) (*Agent, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tools := make(map[string]Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		tools[t.Name()] = t
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Agent{
		provider:     opts.Provider,
		gateway:      opts.Gateway,
		tools:        tools,
		systemPrompt: opts.SystemPrompt,
		maxTokens:    opts.MaxTokens,
		maxHistory:   maxHistory,
		logger:       logger,
	}, nil
}

// RunTurn executes one full turn for prompt against h: the user message is
// appended, the model is called (through the fallback chain), proposed tool
// calls are executed behind the approval gateway, and the loop continues
// until the model stops asking for tools. Text fragments stream through
// onText as they arrive. The returned message is the final assistant reply.
func (a *Agent) RunTurn(ctx context.Context, key models.ConversationKey, h *history.History, prompt *models.Prompt, onText func(string)) (*models.Message, error) {
	h.UpsertSystem(a.systemPrompt)
	h.Append(&models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   prompt.Text,
		CreatedAt: time.Now(),
	})

	var final *models.Message
	for round := 0; round < maxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := &llm.Request{
			System:    a.systemPrompt,
			Messages:  h.Snapshot(),
			Tools:     a.toolSpecs(),
			MaxTokens: a.maxTokens,
		}
		chunks, err := a.provider.Stream(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		res, err := llm.Collect(ctx, chunks, onText)
		if err != nil {
			return nil, fmt.Errorf("model stream failed: %w", err)
		}

		assistant := &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   res.Text,
			ToolCalls: res.ToolCalls,
			CreatedAt: time.Now(),
		}
		h.Append(assistant)
		final = assistant

		if len(res.ToolCalls) == 0 {
			break
		}

		results, err := a.runTools(ctx, key, res.ToolCalls)
		if err != nil {
			return nil, err
		}
		h.Append(&models.Message{
			ID:          uuid.NewString(),
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   time.Now(),
		})
	}
	h.Trim(a.maxHistory)
	return final, nil
}

func (a *Agent) runTools(ctx context.Context, key models.ConversationKey, calls []models.ToolCall) ([]models.ToolResult, error) {
	invoke := func(ctx context.Context, call models.ToolCall) models.ToolResult {
		tool, ok := a.tools[call.Name]
		if !ok {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("unknown tool %q", call.Name),
				IsError:    true,
			}
		}
		result, err := tool.Execute(ctx, call.Input)
		if err != nil {
			a.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
			return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		}
		result.ToolCallID = call.ID
		return result
	}

	if a.gateway == nil {
		results := make([]models.ToolResult, len(calls))
		for i, call := range calls {
			results[i] = invoke(ctx, call)
		}
		return results, nil
	}
	return a.gateway.Run(ctx, key, calls, invoke)
}

func (a *Agent) toolSpecs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(a.tools))
	for _, t := range a.tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return specs
}

// Resolver lazily creates the agent that executes turns for a conversation
// key. Implementations may return a shared agent or a fresh one per key.
type Resolver interface {
	Resolve(ctx context.Context, key models.ConversationKey) (*Agent, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, key models.ConversationKey) (*Agent, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, key models.ConversationKey) (*Agent, error) {
	return f(ctx, key)
}
