// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/util"
)

// DefaultMaxEntries bounds the outbox. The oldest entries go first.
const DefaultMaxEntries = 100

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEntryNotFound is returned when an outbox entry doesn't exist.
	ErrEntryNotFound = errors.New("outbox entry not found")

	// ErrDiscard tells Replay to drop an entry that can never succeed,
	// such as a write to a conversation deleted on the backend.
	ErrDiscard = errors.New("discard outbox entry")
)

// =============================================================================
// ENTRY
// =============================================================================

// Entry is a pending full-replace write of one conversation.
type Entry struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	Messages       []model.Message `json:"messages"`

	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReplayResult summarizes a replay pass.
type ReplayResult struct {
	Replayed  int
	Discarded int
	Remaining int
}

// ReplayFunc performs the write for one entry.
type ReplayFunc func(ctx context.Context, e *Entry) error

// =============================================================================
// OUTBOX
// =============================================================================

// Outbox is a directory of pending writes. It is safe for concurrent use.
type Outbox struct {
	mu sync.Mutex

	dir        string
	maxEntries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithRate paces replay to perSecond writes. Zero or less disables pacing.
func WithRate(perSecond float64) Option {
	return func(o *Outbox) {
		if perSecond > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			o.limiter = nil
		}
	}
}

// WithMaxEntries sets the entry limit (0 = unlimited).
func WithMaxEntries(n int) Option {
	return func(o *Outbox) { o.maxEntries = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Outbox) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOutbox opens (creating if needed) the outbox directory.
func NewOutbox(dir string, opts ...Option) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	o := &Outbox{
		dir:        dir,
		maxEntries: DefaultMaxEntries,
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Dir returns the outbox directory.
func (o *Outbox) Dir() string {
	return o.dir
}

// Add records a failed write. Any older entry for the same conversation is
// replaced.
func (o *Outbox) Add(conversationID, title string, messages []model.Message, cause error) (*Entry, error) {
	if conversationID == "" {
		return nil, errors.New("outbox: conversation id required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()
	entry := &Entry{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Title:          title,
		Messages:       model.CloneMessages(messages),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}

	existing, err := o.listLocked()
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.ConversationID == conversationID {
			entry.Attempts = e.Attempts
			if err := o.removeLocked(e.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
				return nil, err
			}
		}
	}

	if err := o.writeLocked(entry); err != nil {
		return nil, err
	}
	if o.maxEntries > 0 {
		o.enforceLimitLocked()
	}
	return entry, nil
}

// Get loads an entry by ID.
func (o *Outbox) Get(id string) (*Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadLocked(id)
}

// List returns all entries, oldest first.
func (o *Outbox) List() ([]*Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listLocked()
}

// Len returns the number of pending entries. Unreadable directories count
// as empty.
func (o *Outbox) Len() int {
	entries, err := o.List()
	if err != nil {
		return 0
	}
	return len(entries)
}

// Remove deletes an entry by ID.
func (o *Outbox) Remove(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removeLocked(id)
}

// RemoveConversation drops every entry for a conversation and returns how
// many were removed. Called after a newer write for it succeeds.
func (o *Outbox) RemoveConversation(conversationID string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.listLocked()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.ConversationID != conversationID {
			continue
		}
		if err := o.removeLocked(e.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

// Replay runs fn for each entry, oldest first, waiting on the rate limiter
// between writes. A successful entry is removed. An entry whose error wraps
// ErrDiscard is removed too. Any other error is recorded on the entry and
// stops the pass, since the backend is most likely still unreachable.
func (o *Outbox) Replay(ctx context.Context, fn ReplayFunc) (ReplayResult, error) {
	entries, err := o.List()
	if err != nil {
		return ReplayResult{}, err
	}

	var res ReplayResult
	for i, e := range entries {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				res.Remaining = len(entries) - i
				return res, err
			}
		}

		log := o.logger.With(zap.String("conversation_id", e.ConversationID), zap.String("entry_id", e.ID))
		err := fn(ctx, e)
		switch {
		case err == nil:
			if rmErr := o.Remove(e.ID); rmErr != nil && !errors.Is(rmErr, ErrEntryNotFound) {
				return res, rmErr
			}
			res.Replayed++
			log.Info("Replayed pending write", zap.Int("messages", len(e.Messages)))
		case errors.Is(err, ErrDiscard):
			if rmErr := o.Remove(e.ID); rmErr != nil && !errors.Is(rmErr, ErrEntryNotFound) {
				return res, rmErr
			}
			res.Discarded++
			log.Warn("Discarded pending write", zap.Error(err))
		default:
			o.recordFailure(e.ID, err)
			res.Remaining = len(entries) - res.Replayed - res.Discarded
			log.Warn("Replay failed", zap.Int("attempts", e.Attempts+1), zap.Error(err))
			return res, err
		}
	}
	return res, nil
}

func (o *Outbox) recordFailure(id string, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, err := o.loadLocked(id)
	if err != nil {
		return
	}
	e.Attempts++
	e.LastError = cause.Error()
	e.UpdatedAt = time.Now().UTC()
	if err := o.writeLocked(e); err != nil {
		o.logger.Warn("Could not update outbox entry", zap.String("entry_id", id), zap.Error(err))
	}
}

// =============================================================================
// FILE HELPERS
// =============================================================================

func (o *Outbox) filePath(id string) string {
	return filepath.Join(o.dir, id+".json")
}

func (o *Outbox) writeLocked(e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(o.filePath(e.ID), data, 0600)
}

func (o *Outbox) loadLocked(id string) (*Entry, error) {
	data, err := os.ReadFile(o.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode outbox entry %s: %w", id, err)
	}
	return &e, nil
}

func (o *Outbox) removeLocked(id string) error {
	if err := os.Remove(o.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrEntryNotFound
		}
		return err
	}
	return nil
}

func (o *Outbox) listLocked() ([]*Entry, error) {
	files, err := os.ReadDir(o.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Entry{}, nil
		}
		return nil, err
	}

	entries := make([]*Entry, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		e, err := o.loadLocked(strings.TrimSuffix(f.Name(), ".json"))
		if err != nil {
			o.logger.Debug("Skipping unreadable outbox entry", zap.String("file", f.Name()), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// enforceLimitLocked removes the oldest entries over the limit.
func (o *Outbox) enforceLimitLocked() {
	entries, err := o.listLocked()
	if err != nil || len(entries) <= o.maxEntries {
		return
	}
	excess := len(entries) - o.maxEntries
	for _, e := range entries[:excess] {
		_ = o.removeLocked(e.ID)
		o.logger.Warn("Outbox full, dropped oldest write", zap.String("conversation_id", e.ConversationID))
	}
}
