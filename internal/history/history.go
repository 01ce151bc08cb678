// Package history holds a conversation's turn context: the in-memory ordered
// message buffer and the durable thread-state store contract behind it.
package history

import (
	"sync"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// History is the ordered message buffer for one conversation. Messages are
// only ever appended; the single exception is the system message, which is
// upserted at position 0. One conversation owns its History and never runs
// two turns against it concurrently, but snapshot reads may overlap a write,
// so all access is guarded.
type History struct {
	mu   sync.RWMutex
	msgs []*models.Message
}

// New creates an empty history.
func New() *History {
	return &History{}
}

// FromMessages creates a history seeded with msgs, cloning each entry.
func FromMessages(msgs []*models.Message) *History {
	h := New()
	for _, m := range msgs {
		h.Append(m)
	}
	return h
}

// Append adds a message at the end of the buffer. The message is cloned so
// later caller mutation cannot corrupt the buffer.
func (h *History) Append(msg *models.Message) {
	if msg == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg.Clone())
}

// UpsertSystem places content as the single system-role message at position
// 0: inserting if none exists, replacing the content in place if one does.
// Empty content is a no-op.
func (h *History) UpsertSystem(content string) {
	if content == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.msgs) > 0 && h.msgs[0].Role == models.RoleSystem {
		h.msgs[0].Content = content
		return
	}
	sys := &models.Message{Role: models.RoleSystem, Content: content}
	h.msgs = append([]*models.Message{sys}, h.msgs...)
}

// Snapshot returns an immutable deep copy of the buffer. Callers never see a
// live reference.
func (h *History) Snapshot() []*models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*models.Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of buffered messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Trim drops the oldest non-system messages so at most max remain. It bounds
// memory for long-lived conversations.
func (h *History) Trim(max int) {
	if max <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.msgs) <= max {
		return
	}
	if len(h.msgs) > 0 && h.msgs[0].Role == models.RoleSystem {
		keep := h.msgs[len(h.msgs)-(max-1):]
		h.msgs = append([]*models.Message{h.msgs[0]}, keep...)
		return
	}
	h.msgs = h.msgs[len(h.msgs)-max:]
}
