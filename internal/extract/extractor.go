// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

// DefaultTimeout bounds one background parse call.
const DefaultTimeout = 30 * time.Second

// ErrNoPending is returned by Confirm when nothing awaits confirmation.
var ErrNoPending = errors.New("no extracted record awaiting confirmation")

// SubmitError is a record rejected by the backend.
type SubmitError struct {
	Message string
}

// Error implements the error interface.
func (e *SubmitError) Error() string {
	if e.Message == "" {
		return "record was not saved"
	}
	return e.Message
}

// Client is the backend surface used for extraction.
type Client interface {
	Parse(ctx context.Context, text string) (*backend.ParseResult, error)
	Submit(ctx context.Context, rec model.Record) (*backend.SubmitResult, error)
}

// Pending is an extracted record awaiting confirmation.
type Pending struct {
	ID             string
	ConversationID string
	Record         model.Record
	CreatedAt      time.Time
}

// Fields returns the displayable fields of the record.
func (p *Pending) Fields() []Field {
	return Fields(p.Record)
}

// =============================================================================
// EXTRACTOR
// =============================================================================

// Extractor runs background parses and holds at most one pending record.
type Extractor struct {
	client  Client
	bus     events.Publisher
	logger  *zap.Logger
	timeout time.Duration

	onPending func(*Pending)

	mu      sync.Mutex
	pending *Pending
	seq     uint64 // id of the newest parse; older results are dropped
	wg      sync.WaitGroup
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTimeout bounds each background parse.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// OnPending registers a callback run when a new record awaits confirmation.
// It runs on the background goroutine.
func OnPending(fn func(*Pending)) Option {
	return func(e *Extractor) { e.onPending = fn }
}

// New creates an extractor. bus receives a DataUpdated event after every
// confirmed record; it may be nil.
func New(client Client, bus events.Publisher, opts ...Option) *Extractor {
	e := &Extractor{
		client:  client,
		bus:     bus,
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trigger parses text in the background and returns immediately. The parse
// is detached from ctx's cancellation so it outlives the turn that started
// it; it is bounded by the extractor timeout instead.
func (e *Extractor) Trigger(ctx context.Context, conversationID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	seq := e.begin()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.extract(ctx, seq, conversationID, text); err != nil {
			e.logger.Debug("Extraction skipped",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}()
}

// Extract parses text and stores a non-empty result as the pending record,
// replacing any older one. It returns nil when nothing was extracted or when
// a later parse started before this one returned.
func (e *Extractor) Extract(ctx context.Context, conversationID, text string) (*Pending, error) {
	return e.extract(ctx, e.begin(), conversationID, text)
}

// begin claims the next parse id.
func (e *Extractor) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

func (e *Extractor) extract(ctx context.Context, seq uint64, conversationID, text string) (*Pending, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.client.Parse(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	if res == nil || !res.Parsed || res.Record == nil || res.Record.IsEmpty() {
		return nil, nil
	}

	p := &Pending{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Record:         *res.Record,
		CreatedAt:      time.Now(),
	}

	e.mu.Lock()
	if seq != e.seq {
		e.mu.Unlock()
		e.logger.Debug("Dropping superseded extraction",
			zap.String("conversation_id", conversationID), zap.Uint64("seq", seq))
		return nil, nil
	}
	if e.pending != nil {
		e.logger.Debug("Replacing unconfirmed record", zap.String("pending_id", e.pending.ID))
	}
	e.pending = p
	e.mu.Unlock()

	e.logger.Info("Record awaiting confirmation",
		zap.String("conversation_id", conversationID),
		zap.String("data_type", string(p.Record.DataType)),
		zap.Int("fields", len(p.Record.Data)))

	if e.onPending != nil {
		e.onPending(p)
	}
	return p, nil
}

// Pending returns the record awaiting confirmation.
func (e *Extractor) Pending() (*Pending, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending, e.pending != nil
}

// Confirm submits the pending record. The pending record is discarded
// whatever the outcome. On success a DataUpdated event is published.
func (e *Extractor) Confirm(ctx context.Context) (*backend.SubmitResult, error) {
	e.mu.Lock()
	p := e.pending
	e.pending = nil
	e.mu.Unlock()

	if p == nil {
		return nil, ErrNoPending
	}

	log := e.logger.With(
		zap.String("conversation_id", p.ConversationID),
		zap.String("data_type", string(p.Record.DataType)))

	res, err := e.client.Submit(ctx, p.Record)
	if err != nil {
		log.Warn("Record submit failed", zap.Error(err))
		return nil, fmt.Errorf("submit record: %w", err)
	}
	if !res.Success {
		log.Warn("Record rejected", zap.String("message", res.Message))
		return res, &SubmitError{Message: res.Message}
	}

	log.Info("Record saved")
	if e.bus != nil {
		e.bus.Publish(events.TopicDataUpdated, events.DataUpdated{
			DataType: p.Record.DataType,
			Message:  res.Message,
		})
	}
	return res, nil
}

// Cancel discards the pending record without any backend call. It reports
// whether a record was pending.
func (e *Extractor) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	had := e.pending != nil
	e.pending = nil
	return had
}

// Wait blocks until every triggered parse has returned.
func (e *Extractor) Wait() {
	e.wg.Wait()
}
