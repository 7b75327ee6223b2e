// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/storage"
)

// titleAfterMessages is the message count of a first user/assistant
// exchange.
const titleAfterMessages = 2

// PersistResult reports what a turn write did.
type PersistResult struct {
	// Skipped is true when no conversation id exists yet.
	Skipped bool

	// Queued is true when the write failed and was parked in the outbox.
	Queued bool

	// Title is the conversation title after the write.
	Title string

	// TitleGenerated is true when a new title was applied.
	TitleGenerated bool
}

// PersistTurn writes the full message list of a finalized turn to the
// conversation id. When firstExchange is set and the list holds exactly one
// user/assistant pair, it then asks the backend for a title. Callers set
// firstExchange only for a completed send into an empty conversation, so
// regenerates and failed turns never rename a chat. Title failures are
// logged and ignored.
//
// The local list entry for id always ends up holding messages, whether or
// not the write succeeded. A failed write returns an error and, when an
// outbox is configured, is queued for replay.
func (m *Manager) PersistTurn(ctx context.Context, id string, messages []model.Message, firstExchange bool) (PersistResult, error) {
	if id == "" {
		return PersistResult{Skipped: true}, nil
	}
	messages = model.CloneMessages(messages)
	log := m.logger.With(zap.String("conversation_id", id))

	title := model.DefaultTitle
	m.mu.Lock()
	if i := m.indexLocked(id); i >= 0 {
		title = m.list[i].GetTitle()
		m.list[i].Messages = messages
		m.list[i].UpdatedAt = model.Now()
	}
	m.mu.Unlock()

	res := PersistResult{Title: title}
	if err := m.write(ctx, id, title, messages); err != nil {
		res.Queued = m.queue(id, title, messages, err)
		return res, err
	}

	if !firstExchange || len(messages) != titleAfterMessages {
		return res, nil
	}

	generated, err := m.store.GenerateTitle(ctx, id)
	if err != nil {
		log.Warn("Title generation failed", zap.Error(err))
		return res, nil
	}
	if generated == "" {
		return res, nil
	}

	m.mu.Lock()
	if i := m.indexLocked(id); i >= 0 {
		m.list[i].Title = generated
	}
	m.mu.Unlock()
	res.Title = generated
	res.TitleGenerated = true
	log.Debug("Applied generated title", zap.String("title", generated))
	return res, nil
}

// ReplayPending replays queued writes. Failures are logged; the entries stay
// queued.
func (m *Manager) ReplayPending(ctx context.Context) storage.ReplayResult {
	if m.outbox == nil || m.outbox.Len() == 0 {
		return storage.ReplayResult{}
	}
	res, err := m.outbox.Replay(ctx, func(ctx context.Context, e *storage.Entry) error {
		title := e.Title
		if conv, ok := m.Get(e.ConversationID); ok {
			title = conv.GetTitle()
		}
		_, err := m.store.UpdateConversation(ctx, e.ConversationID, backend.UpdateConversationRequest{
			Title:    title,
			Messages: e.Messages,
		})
		if errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("%w: %v", storage.ErrDiscard, err)
		}
		return err
	})
	if err != nil {
		m.logger.Warn("Pending writes not replayed", zap.Int("remaining", res.Remaining), zap.Error(err))
	}
	return res
}

// Pending returns the number of queued writes.
func (m *Manager) Pending() int {
	if m.outbox == nil {
		return 0
	}
	return m.outbox.Len()
}

// write replays any queued writes, then sends one full-replace write. A
// success supersedes queued writes for the same conversation.
func (m *Manager) write(ctx context.Context, id, title string, messages []model.Message) error {
	m.ReplayPending(ctx)

	if messages == nil {
		messages = []model.Message{}
	}
	_, err := m.store.UpdateConversation(ctx, id, backend.UpdateConversationRequest{
		Title:    title,
		Messages: messages,
	})
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	if m.outbox != nil {
		if _, err := m.outbox.RemoveConversation(id); err != nil {
			m.logger.Warn("Could not drop superseded writes", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return nil
}

// queue parks a failed write and reports whether it was stored.
func (m *Manager) queue(id, title string, messages []model.Message, cause error) bool {
	if m.outbox == nil || errors.Is(cause, backend.ErrNotFound) {
		return false
	}
	if _, err := m.outbox.Add(id, title, messages, cause); err != nil {
		m.logger.Warn("Could not queue failed write", zap.String("conversation_id", id), zap.Error(err))
		return false
	}
	m.logger.Info("Queued failed write", zap.String("conversation_id", id), zap.Int("messages", len(messages)))
	return true
}
