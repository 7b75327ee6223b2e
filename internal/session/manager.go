// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/conversation"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/storage"
	"github.com/jeranaias/lifedash-tui/internal/telemetry"
)

// DefaultPersistTimeout bounds the write-back after a turn. It applies even
// when the turn itself was cancelled.
const DefaultPersistTimeout = 30 * time.Second

var (
	// ErrBusy is returned when a turn is already in flight.
	ErrBusy = errors.New("a reply is still in progress")

	// ErrNothingToRegenerate is returned when there is no finished exchange.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")

	// ErrNotUserMessage is returned when a regenerate or edit target is not
	// a user message.
	ErrNotUserMessage = errors.New("not a user message")

	// ErrImageNotRetained is returned when regenerating an image turn. The
	// image itself is never stored.
	ErrImageNotRetained = errors.New("image turns cannot be regenerated; attach the image again")

	// ErrVisionUnsupported is returned when an image is attached while the
	// active model profile cannot read images.
	ErrVisionUnsupported = errors.New("the active model does not support images")
)

// Backend is everything a session needs from the dashboard backend.
type Backend interface {
	chat.Backend
	conversation.Store
	extract.Client
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	ActivateProfile(ctx context.Context, id string) error
}

// Turn is a finished turn and its write-back outcome.
type Turn struct {
	*chat.Result

	// ConversationID is the conversation the turn started in.
	ConversationID string

	Persist conversation.PersistResult

	// PersistErr is set when the write-back failed. The write is queued
	// in the outbox when one is configured.
	PersistErr error
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager is one chat session.
type Manager struct {
	backend   Backend
	convs     *conversation.Manager
	orch      *chat.Orchestrator
	extractor *extract.Extractor
	stats     *telemetry.Stats
	logger    *zap.Logger

	transcript     *chat.Transcript
	persistTimeout time.Duration

	mu       sync.Mutex
	params   model.ChatParameters
	profiles []model.Profile
	cancel   context.CancelFunc
	done     chan struct{}
}

type options struct {
	logger         *zap.Logger
	outbox         *storage.Outbox
	stats          *telemetry.Stats
	hooks          chat.Hooks
	params         model.ChatParameters
	idleTimeout    time.Duration
	persistTimeout time.Duration
	extract        bool
	bus            events.Publisher
	onPending      func(*extract.Pending)
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOutbox queues failed write-backs in box.
func WithOutbox(box *storage.Outbox) Option {
	return func(o *options) { o.outbox = box }
}

// WithStats records turns in stats.
func WithStats(stats *telemetry.Stats) Option {
	return func(o *options) { o.stats = stats }
}

// WithHooks forwards turn progress to the caller.
func WithHooks(h chat.Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithParams seeds the live parameter panel.
func WithParams(p model.ChatParameters) Option {
	return func(o *options) { o.params = p }
}

// WithIdleTimeout fails a stream that stays silent for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithPersistTimeout bounds the write-back after each turn.
func WithPersistTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.persistTimeout = d
		}
	}
}

// WithExtraction enables the post-turn record extraction. fn is called
// when a record is waiting for confirmation; bus receives data-updated
// events after a confirmed save. Both may be nil.
func WithExtraction(bus events.Publisher, fn func(*extract.Pending)) Option {
	return func(o *options) {
		o.extract = true
		o.bus = bus
		o.onPending = fn
	}
}

// New creates a session over b. Call Start before the first turn.
func New(b Backend, opts ...Option) *Manager {
	o := options{
		logger:         zap.NewNop(),
		params:         model.DefaultParameters(),
		persistTimeout: DefaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		backend:        b,
		stats:          o.stats,
		logger:         o.logger,
		transcript:     chat.NewTranscript(nil),
		persistTimeout: o.persistTimeout,
		params:         o.params.Clamp(),
	}

	convOpts := []conversation.Option{conversation.WithLogger(o.logger.Named("conversation"))}
	if o.outbox != nil {
		convOpts = append(convOpts, conversation.WithOutbox(o.outbox))
	}
	m.convs = conversation.NewManager(b, convOpts...)

	chatOpts := []chat.Option{
		chat.WithLogger(o.logger.Named("chat")),
		chat.WithHooks(o.hooks),
		chat.WithIdleTimeout(o.idleTimeout),
	}
	if o.stats != nil {
		chatOpts = append(chatOpts, chat.WithRecorder(o.stats))
	}
	m.orch = chat.New(b, chatOpts...)

	if o.extract {
		m.extractor = extract.New(b, o.bus,
			extract.WithLogger(o.logger.Named("extract")),
			extract.OnPending(o.onPending))
	}
	return m
}

// Start loads the conversation list and the model profiles in parallel and
// opens the first conversation. A profile failure is logged only.
func (m *Manager) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var active *model.Conversation
	g.Go(func() error {
		conv, err := m.convs.Load(gctx)
		if err != nil {
			return fmt.Errorf("load conversations: %w", err)
		}
		active = conv
		return nil
	})
	g.Go(func() error {
		if err := m.RefreshProfiles(gctx); err != nil {
			m.logger.Warn("Could not load model profiles", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	m.transcript.Reset(active.Messages)
	return nil
}

// Close cancels any turn in flight and waits for background parses.
func (m *Manager) Close() {
	m.cancelAndWait()
	if m.extractor != nil {
		m.extractor.Wait()
	}
}

// Transcript returns the active conversation's messages.
func (m *Manager) Transcript() *chat.Transcript {
	return m.transcript
}

// Conversations returns the conversation list.
func (m *Manager) Conversations() *conversation.Manager {
	return m.convs
}

// Stats returns the turn statistics, or nil.
func (m *Manager) Stats() *telemetry.Stats {
	return m.stats
}

// State returns the orchestrator state.
func (m *Manager) State() chat.State {
	return m.orch.State()
}

// Busy reports whether a turn is in flight.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// =============================================================================
// PARAMETERS
// =============================================================================

// Params returns the live parameter values.
func (m *Manager) Params() model.ChatParameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// SetParams replaces the live parameters. Values are clamped to the panel
// ranges and apply from the next turn on.
func (m *Manager) SetParams(p model.ChatParameters) model.ChatParameters {
	p = p.Clamp()
	m.mu.Lock()
	m.params = p
	m.mu.Unlock()
	return p
}

// =============================================================================
// PROFILES
// =============================================================================

// RefreshProfiles reloads the model profiles.
func (m *Manager) RefreshProfiles(ctx context.Context) error {
	profiles, err := m.backend.ListProfiles(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.profiles = profiles
	m.mu.Unlock()
	return nil
}

// Profiles returns the last loaded model profiles.
func (m *Manager) Profiles() []model.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Profile(nil), m.profiles...)
}

// ActiveProfile returns the default profile, if one is known.
func (m *Manager) ActiveProfile() (model.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.ActiveProfile(m.profiles)
}

// UseProfile makes id the active profile.
func (m *Manager) UseProfile(ctx context.Context, id string) error {
	if err := m.backend.ActivateProfile(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.profiles {
		m.profiles[i].IsDefault = m.profiles[i].ID == id
	}
	return nil
}

// =============================================================================
// TURNS
// =============================================================================

// Send runs one turn in the active conversation. img may be nil.
//
// The returned error is the turn's error; a write-back failure is reported
// in Turn.PersistErr. On a failed or interrupted turn both the Turn and the
// error are returned.
func (m *Manager) Send(ctx context.Context, text string, img *chat.Image) (*Turn, error) {
	if img != nil {
		if p, ok := m.ActiveProfile(); ok && !p.SupportsVision {
			return nil, ErrVisionUnsupported
		}
	}

	turnCtx, end, err := m.beginTurn(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	convID := m.convs.ActiveID()
	first := m.transcript.Len() == 0
	res, err := m.orch.Run(turnCtx, m.transcript, chat.Request{
		Text:   text,
		Image:  img,
		Params: m.Params(),
	})
	return m.finish(ctx, convID, res, err, first)
}

// Regenerate drops the last assistant reply and answers the user message
// before it again. The new reply replaces the old one in the stored
// conversation.
func (m *Manager) Regenerate(ctx context.Context) (*Turn, error) {
	turnCtx, end, err := m.beginTurn(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	msgs := m.transcript.Snapshot()
	if len(msgs) < 2 {
		return nil, ErrNothingToRegenerate
	}
	prev := msgs[len(msgs)-2]
	if prev.Role != model.RoleUser {
		return nil, ErrNotUserMessage
	}
	if prev.HasImage {
		return nil, ErrImageNotRetained
	}

	convID := m.convs.ActiveID()
	m.transcript.Truncate(len(msgs) - 1)
	res, err := m.orch.Rerun(turnCtx, m.transcript, m.Params())
	return m.finish(ctx, convID, res, err, false)
}

// EditText returns the content of the user message at slot for the input
// field. History is not changed.
func (m *Manager) EditText(slot int) (string, error) {
	msg, ok := m.transcript.At(slot)
	if !ok || msg.Role != model.RoleUser {
		return "", ErrNotUserMessage
	}
	return msg.Content, nil
}

// LastUserSlot returns the slot of the most recent user message, or -1.
func (m *Manager) LastUserSlot() int {
	msgs := m.transcript.Snapshot()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return i
		}
	}
	return -1
}

// Cancel stops the turn in flight. It reports whether there was one.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// beginTurn claims the session for one turn. end must be called when the
// turn, including its write-back, is over.
func (m *Manager) beginTurn(ctx context.Context) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return nil, nil, ErrBusy
	}

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	end := func() {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.done = nil
		m.mu.Unlock()
		close(done)
	}
	return turnCtx, end, nil
}

// cancelAndWait stops the turn in flight and waits until its write-back is
// done.
func (m *Manager) cancelAndWait() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// finish writes the turn back to the conversation it started in and
// triggers extraction for a complete reply. first marks a send into an
// empty conversation; only a complete first turn asks for a title.
func (m *Manager) finish(ctx context.Context, convID string, res *chat.Result, turnErr error, first bool) (*Turn, error) {
	if res == nil {
		return nil, turnErr
	}

	turn := &Turn{Result: res, ConversationID: convID}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.persistTimeout)
	defer cancel()

	turn.Persist, turn.PersistErr = m.convs.PersistTurn(pctx, turn.ConversationID, res.Messages,
		first && res.Outcome == chat.OutcomeComplete)
	if m.stats != nil && !turn.Persist.Skipped {
		m.stats.ObservePersist(turn.PersistErr)
	}

	if m.extractor != nil && res.Outcome == chat.OutcomeComplete {
		m.extractor.Trigger(ctx, turn.ConversationID, res.Reply)
	}
	return turn, turnErr
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// NewConversation stops any turn and starts an empty conversation.
func (m *Manager) NewConversation(ctx context.Context) (*model.Conversation, error) {
	m.cancelAndWait()
	conv, err := m.convs.Create(ctx)
	if err != nil {
		return nil, err
	}
	m.transcript.Reset(nil)
	return conv, nil
}

// SelectConversation stops any turn and opens id.
func (m *Manager) SelectConversation(ctx context.Context, id string) (*model.Conversation, error) {
	m.cancelAndWait()
	conv, err := m.convs.Select(ctx, id)
	if err != nil {
		return nil, err
	}
	m.transcript.Reset(conv.Messages)
	return conv, nil
}

// DeleteConversation deletes id. Deleting the active conversation stops
// any turn and opens the next one.
func (m *Manager) DeleteConversation(ctx context.Context, id string) error {
	wasActive := id == m.convs.ActiveID()
	if wasActive {
		m.cancelAndWait()
	}
	if err := m.convs.Delete(ctx, id); err != nil {
		return err
	}
	if wasActive {
		if conv, ok := m.convs.Active(); ok {
			m.transcript.Reset(conv.Messages)
		}
	}
	return nil
}

// ClearConversation empties the active conversation.
func (m *Manager) ClearConversation(ctx context.Context) error {
	m.cancelAndWait()
	if err := m.convs.Clear(ctx); err != nil {
		return err
	}
	m.transcript.Reset(nil)
	return nil
}

// RenameConversation sets the title of id.
func (m *Manager) RenameConversation(ctx context.Context, id, title string) error {
	return m.convs.Rename(ctx, id, title)
}

// =============================================================================
// EXTRACTION
// =============================================================================

// ExtractionEnabled reports whether replies are scanned for records.
func (m *Manager) ExtractionEnabled() bool {
	return m.extractor != nil
}

// PendingRecord returns the record awaiting confirmation.
func (m *Manager) PendingRecord() (*extract.Pending, bool) {
	if m.extractor == nil {
		return nil, false
	}
	return m.extractor.Pending()
}

// ConfirmRecord saves the pending record.
func (m *Manager) ConfirmRecord(ctx context.Context) (*backend.SubmitResult, error) {
	if m.extractor == nil {
		return nil, extract.ErrNoPending
	}
	p, ok := m.extractor.Pending()
	if !ok {
		return nil, extract.ErrNoPending
	}
	res, err := m.extractor.Confirm(ctx)
	if m.stats != nil && !errors.Is(err, extract.ErrNoPending) {
		m.stats.ObserveRecord(p.Record.DataType, err)
	}
	return res, err
}

// DiscardRecord drops the pending record without saving it.
func (m *Manager) DiscardRecord() bool {
	if m.extractor == nil {
		return false
	}
	return m.extractor.Cancel()
}

// WaitExtraction blocks until background parses have returned.
func (m *Manager) WaitExtraction() {
	if m.extractor != nil {
		m.extractor.Wait()
	}
}
