// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// DefaultTitle is the placeholder title of a conversation that has not been
// named yet.
const DefaultTitle = "New Conversation"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is an ordered transcript plus metadata.
// Message order is chronological and is the transcript itself.
type Conversation struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	ConfigID  string    `json:"config_id,omitempty"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// NewConversation creates an unsaved conversation with the default title.
// The backend assigns the ID on creation.
func NewConversation() *Conversation {
	return &Conversation{
		Title:    DefaultTitle,
		Messages: make([]Message, 0),
	}
}

// GetTitle returns the conversation title or a default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return DefaultTitle
}

// HasDefaultTitle reports whether the conversation still carries the
// placeholder title.
func (c *Conversation) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultTitle
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// LastMessage returns the most recent message and false if empty.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastAssistantMessage returns the most recent assistant message.
func (c *Conversation) LastAssistantMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// Preview returns a short preview of the conversation.
func (c *Conversation) Preview() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Preview(100)
		}
	}
	if len(c.Messages) == 0 {
		return "Empty conversation"
	}
	return c.Messages[0].Preview(100)
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = CloneMessages(c.Messages)
	return &clone
}

// CloneMessages copies a message slice. Messages are value types, so the
// copy shares nothing with the original.
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
