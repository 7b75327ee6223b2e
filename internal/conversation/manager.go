// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/storage"
)

// ErrUnknownConversation is returned for an id missing from the local list.
var ErrUnknownConversation = errors.New("unknown conversation")

// Store is the backend surface for conversations.
type Store interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, req backend.UpdateConversationRequest) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	GenerateTitle(ctx context.Context, id string) (string, error)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the conversation list and tracks the active conversation.
// It is safe for concurrent use; network calls run without the lock held.
type Manager struct {
	store  Store
	outbox *storage.Outbox
	logger *zap.Logger

	mu       sync.Mutex
	list     []*model.Conversation
	activeID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithOutbox parks failed writes in box for later replay.
func WithOutbox(box *storage.Outbox) Option {
	return func(m *Manager) { m.outbox = box }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replays pending writes, fetches the list, creates a conversation when
// none exist and selects the first one.
func (m *Manager) Load(ctx context.Context) (*model.Conversation, error) {
	m.ReplayPending(ctx)

	convs, err := m.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	m.setList(convs)

	if len(convs) == 0 {
		return m.Create(ctx)
	}
	return m.open(ctx, convs[0].ID)
}

// Refresh re-fetches the list without changing the active conversation.
// If the active conversation disappeared, the first one becomes active.
func (m *Manager) Refresh(ctx context.Context) error {
	convs, err := m.store.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	m.setList(convs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexLocked(m.activeID) < 0 {
		m.activeID = ""
		if len(m.list) > 0 {
			m.activeID = m.list[0].ID
		}
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// List returns a copy of the conversation list.
func (m *Manager) List() []model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Conversation, len(m.list))
	for i, c := range m.list {
		out[i] = *c.Clone()
	}
	return out
}

// Len returns the number of conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.list)
}

// ActiveID returns the active conversation id, or "" before Load.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Active returns a copy of the active conversation.
func (m *Manager) Active() (*model.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(m.activeID); i >= 0 {
		return m.list[i].Clone(), true
	}
	return nil, false
}

// Get returns a copy of a conversation from the local list.
func (m *Manager) Get(id string) (*model.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.list[i].Clone(), true
	}
	return nil, false
}

// Find resolves a full id, an id prefix or a 1-based list position.
func (m *Manager) Find(ref string) (*model.Conversation, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexLocked(ref); i >= 0 {
		return m.list[i].Clone(), true
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(m.list) {
		return m.list[n-1].Clone(), true
	}
	var match *model.Conversation
	for _, c := range m.list {
		if strings.HasPrefix(c.ID, ref) {
			if match != nil {
				return nil, false
			}
			match = c
		}
	}
	if match == nil {
		return nil, false
	}
	return match.Clone(), true
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// Create makes a new empty conversation, puts it first and activates it.
func (m *Manager) Create(ctx context.Context) (*model.Conversation, error) {
	conv, err := m.store.CreateConversation(ctx, model.DefaultTitle)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}

	m.mu.Lock()
	m.list = append([]*model.Conversation{conv.Clone()}, m.list...)
	m.activeID = conv.ID
	m.mu.Unlock()

	m.logger.Info("Created conversation", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Select writes the active conversation's messages (when it has any), then
// fetches and activates id. When the fetch fails the local copy is used.
func (m *Manager) Select(ctx context.Context, id string) (*model.Conversation, error) {
	if _, ok := m.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	if cur, ok := m.Active(); ok && cur.ID != id && len(cur.Messages) > 0 {
		if err := m.write(ctx, cur.ID, cur.GetTitle(), cur.Messages); err != nil {
			m.logger.Warn("Could not save conversation before switching",
				zap.String("conversation_id", cur.ID), zap.Error(err))
			m.queue(cur.ID, cur.GetTitle(), cur.Messages, err)
		}
	}
	return m.open(ctx, id)
}

// open fetches id from the backend and makes it active.
func (m *Manager) open(ctx context.Context, id string) (*model.Conversation, error) {
	fetched, err := m.store.GetConversation(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if err != nil {
		m.logger.Warn("Could not fetch conversation, using local copy",
			zap.String("conversation_id", id), zap.Error(err))
		if i < 0 {
			return nil, fmt.Errorf("open conversation %s: %w", id, err)
		}
		m.activeID = id
		return m.list[i].Clone(), nil
	}

	if fetched.Messages == nil {
		fetched.Messages = []model.Message{}
	}
	if i >= 0 {
		m.list[i] = fetched.Clone()
	} else {
		m.list = append([]*model.Conversation{fetched.Clone()}, m.list...)
	}
	m.activeID = id
	return fetched, nil
}

// Delete removes a conversation. When it was active the next remaining one
// becomes active; when none remain a new one is created.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteConversation(ctx, id); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if m.outbox != nil {
		if _, err := m.outbox.RemoveConversation(id); err != nil {
			m.logger.Warn("Could not drop pending writes", zap.String("conversation_id", id), zap.Error(err))
		}
	}

	m.mu.Lock()
	wasActive := m.activeID == id
	if i := m.indexLocked(id); i >= 0 {
		m.list = append(m.list[:i:i], m.list[i+1:]...)
	}
	var next string
	if len(m.list) > 0 {
		next = m.list[0].ID
	}
	if wasActive {
		m.activeID = ""
	}
	m.mu.Unlock()

	m.logger.Info("Deleted conversation", zap.String("conversation_id", id))

	if next == "" {
		_, err := m.Create(ctx)
		return err
	}
	if wasActive {
		_, err := m.open(ctx, next)
		return err
	}
	return nil
}

// Clear empties the active conversation and resets its title.
func (m *Manager) Clear(ctx context.Context) error {
	id := m.ActiveID()
	if id == "" {
		return ErrUnknownConversation
	}
	if err := m.write(ctx, id, model.DefaultTitle, []model.Message{}); err != nil {
		return err
	}
	m.mu.Lock()
	if i := m.indexLocked(id); i >= 0 {
		m.list[i].Title = model.DefaultTitle
		m.list[i].Messages = []model.Message{}
	}
	m.mu.Unlock()
	return nil
}

// Rename sets a conversation's title.
func (m *Manager) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	conv, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if err := m.write(ctx, id, title, conv.Messages); err != nil {
		return err
	}
	m.mu.Lock()
	if i := m.indexLocked(id); i >= 0 {
		m.list[i].Title = title
	}
	m.mu.Unlock()
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) setList(convs []model.Conversation) {
	list := make([]*model.Conversation, len(convs))
	for i := range convs {
		list[i] = convs[i].Clone()
		if list[i].Messages == nil {
			list[i].Messages = []model.Message{}
		}
	}
	m.mu.Lock()
	m.list = list
	m.mu.Unlock()
}

func (m *Manager) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range m.list {
		if c.ID == id {
			return i
		}
	}
	return -1
}
