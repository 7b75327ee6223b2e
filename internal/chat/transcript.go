// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"sync"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

// Transcript is the ordered message list of the active conversation.
//
// Messages are addressed by slot index. A turn owns the slot of its
// assistant placeholder and rewrites that slot's content; readers take
// snapshots. All methods are safe for concurrent use.
type Transcript struct {
	mu       sync.RWMutex
	messages []model.Message
}

// NewTranscript creates a transcript holding a copy of messages.
func NewTranscript(messages []model.Message) *Transcript {
	return &Transcript{messages: model.CloneMessages(messages)}
}

// Append adds a message and returns its slot.
func (t *Transcript) Append(m model.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
	return len(t.messages) - 1
}

// SetContent replaces the content of the message in slot.
func (t *Transcript) SetContent(slot int, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= len(t.messages) {
		return fmt.Errorf("transcript slot %d out of range (len %d)", slot, len(t.messages))
	}
	t.messages[slot].Content = content
	return nil
}

// At returns the message in slot.
func (t *Transcript) At(slot int) (model.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if slot < 0 || slot >= len(t.messages) {
		return model.Message{}, false
	}
	return t.messages[slot], true
}

// Last returns the final message.
func (t *Transcript) Last() (model.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return model.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Snapshot returns a copy of all messages.
func (t *Transcript) Snapshot() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return model.CloneMessages(t.messages)
}

// Truncate drops every message from slot n onward.
func (t *Transcript) Truncate(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(t.messages) {
		t.messages = t.messages[:n:n]
	}
}

// Reset replaces the whole transcript.
func (t *Transcript) Reset(messages []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = model.CloneMessages(messages)
}
