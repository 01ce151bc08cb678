package models

import "time"

// NotificationType enumerates outbound state-transition events pushed to
// presentation-layer collaborators.
type NotificationType string

const (
	NotifyTopicChanged     NotificationType = "topic_changed"
	NotifyStreamStarted    NotificationType = "stream_started"
	NotifyStreamEnded      NotificationType = "stream_ended"
	NotifyNewMessage       NotificationType = "new_message"
	NotifyApprovalResolved NotificationType = "approval_resolved"
)

// StreamNotification describes one state transition in a conversation. These
// are fire-and-forget: the core never blocks on their delivery.
type StreamNotification struct {
	Type      NotificationType `json:"type"`
	Key       ConversationKey  `json:"key"`
	Message   *Message         `json:"message,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Update is one outbound event delivered back to the originating message
// source: either streamed response text or a terminal marker for the turn.
type Update struct {
	Key   ConversationKey `json:"key"`
	Text  string          `json:"text,omitempty"`
	Done  bool            `json:"done,omitempty"`
	Error error           `json:"-"`
}
