package models

// FinishKind classifies how a model stream terminated.
type FinishKind string

const (
	FinishStop          FinishKind = "stop"
	FinishToolCalls     FinishKind = "tool_calls"
	FinishContentFilter FinishKind = "content_filter"
	FinishUnknown       FinishKind = "unknown"
)

// FinishReason is the terminal status of one model stream. Unrecognized
// provider values are carried as FinishUnknown with Raw preserved, so the
// fallback chain branches on a value instead of catching a failure.
type FinishReason struct {
	Kind FinishKind `json:"kind"`
	Raw  string     `json:"raw,omitempty"`
}

// ParseFinishReason maps a provider's raw finish-reason string onto the tagged
// value. Provider adapters normalize their vendor enums through this.
func ParseFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "end_turn", "stop_sequence", "length", "max_tokens":
		return FinishReason{Kind: FinishStop}
	case "tool_calls", "tool_use", "function_call":
		return FinishReason{Kind: FinishToolCalls}
	case "content_filter", "refusal":
		return FinishReason{Kind: FinishContentFilter}
	default:
		return FinishReason{Kind: FinishUnknown, Raw: raw}
	}
}

// Recoverable reports whether this finish reason should trigger a fallback to
// the next configured model. Only content filtering and unrecognized reasons
// qualify; everything else is a normal termination.
func (r FinishReason) Recoverable() bool {
	return r.Kind == FinishContentFilter || r.Kind == FinishUnknown
}
