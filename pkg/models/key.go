package models

import "fmt"

// ConversationKey identifies one logical multi-turn conversation. Keys are
// value types: comparable, hashable, never mutated after construction.
type ConversationKey struct {
	AgentID  string `json:"agent_id"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id"`
}

// String renders the key in its canonical "agent:chat:thread" form, used as
// the durable store key and in logs.
func (k ConversationKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.AgentID, k.ChatID, k.ThreadID)
}

// Prompt is one inbound message. Read-only once dispatched.
type Prompt struct {
	Key       ConversationKey `json:"key"`
	MessageID int64           `json:"message_id"`
	Sender    string          `json:"sender"`
	Text      string          `json:"text"`
}

// IsControl reports whether the prompt is a control command rather than
// conversational input.
func (p *Prompt) IsControl() bool {
	return p.Text == "/cancel"
}
