// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/stream"
)

var (
	// ErrEmptyInput is returned for a turn with no text and no image.
	ErrEmptyInput = errors.New("empty message")

	// ErrTurnInFlight is returned when a turn is started while another one
	// still owns the transcript.
	ErrTurnInFlight = errors.New("a reply is already in progress")

	// ErrNoUserMessage is returned by Rerun when the transcript does not end
	// with a user message.
	ErrNoUserMessage = errors.New("transcript does not end with a user message")

	// ErrStreamIdle ends a text turn whose stream produced nothing for the
	// configured idle timeout.
	ErrStreamIdle = errors.New("reply stream went silent")
)

// Backend is the part of the backend client a turn needs.
type Backend interface {
	StreamChat(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error)
	Vision(ctx context.Context, req backend.VisionRequest) (string, error)
}

// Recorder receives every finalized turn.
type Recorder interface {
	ObserveTurn(res *Result)
}

// Request is the input of one turn.
type Request struct {
	Text   string
	Image  *Image
	Params model.ChatParameters
}

// Hooks are optional callbacks. They run on the turn's goroutine and must
// not block for long.
type Hooks struct {
	// OnState runs on every phase change.
	OnState func(State)

	// OnProgress runs after every streamed fragment with the assistant
	// slot and the full accumulated text.
	OnProgress func(slot int, full string)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs turns one at a time against a backend.
type Orchestrator struct {
	backend  Backend
	logger   *zap.Logger
	recorder Recorder
	hooks    Hooks
	readSize int
	idle     time.Duration

	mu    sync.Mutex
	state State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the turn recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithHooks sets the turn callbacks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithReadSize sets the transport read size for text turns.
func WithReadSize(n int) Option {
	return func(o *Orchestrator) { o.readSize = n }
}

// WithIdleTimeout fails a text turn when no fragment arrives for d.
// Zero disables the watchdog.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.idle = d }
}

// New creates an orchestrator.
func New(b Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: b,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a turn is in flight.
func (o *Orchestrator) Busy() bool {
	return o.State().Phase.InFlight()
}

// Run executes one turn against t.
//
// The user message and an empty assistant placeholder are appended before
// any network call. On failure the placeholder keeps the text received so
// far, the returned Result is still populated and the error is non-nil.
// Run may be called again once the previous turn is finalized.
func (o *Orchestrator) Run(ctx context.Context, t *Transcript, req Request) (*Result, error) {
	text := req.Text
	blank := strings.TrimSpace(text) == ""
	if blank && req.Image == nil {
		return nil, ErrEmptyInput
	}
	if req.Image != nil {
		if err := req.Image.Validate(); err != nil {
			return nil, err
		}
		if blank {
			text = DefaultVisionPrompt
		}
	}

	first := PhaseAwaitingFirstByte
	if req.Image != nil {
		first = PhaseAwaitingResponse
	}
	if err := o.begin(first); err != nil {
		return nil, err
	}

	history := t.Snapshot()
	user := model.NewUserMessage(text)
	if req.Image != nil {
		user = model.NewImageMessage(text)
	}
	res := &Result{
		Vision:        req.Image != nil,
		UserSlot:      t.Append(user),
		AssistantSlot: t.Append(model.NewAssistantPlaceholder()),
	}
	return o.execute(ctx, t, res, text, history, req)
}

// Rerun answers the user message that already ends t again. Only a new
// assistant placeholder is appended; the user message keeps its slot.
func (o *Orchestrator) Rerun(ctx context.Context, t *Transcript, params model.ChatParameters) (*Result, error) {
	last, ok := t.Last()
	if !ok || last.Role != model.RoleUser {
		return nil, ErrNoUserMessage
	}
	if err := o.begin(PhaseAwaitingFirstByte); err != nil {
		return nil, err
	}

	history := t.Snapshot()
	res := &Result{
		UserSlot:      len(history) - 1,
		AssistantSlot: t.Append(model.NewAssistantPlaceholder()),
	}
	return o.execute(ctx, t, res, last.Content, history[:len(history)-1], Request{Params: params})
}

// begin claims the orchestrator for one turn. The phase is set without
// notifying hooks; the run path announces it.
func (o *Orchestrator) begin(phase Phase) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase.InFlight() {
		return ErrTurnInFlight
	}
	o.state = State{Phase: phase}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, t *Transcript, res *Result, text string, history []model.Message, req Request) (*Result, error) {
	chatReq := backend.NewChatRequest(text, history, req.Params.Clamp())
	start := time.Now()

	var err error
	if req.Image != nil {
		err = o.runVision(ctx, t, res, backend.VisionRequest{
			ChatRequest: chatReq,
			ImageBase64: req.Image.Base64(),
		})
	} else {
		err = o.runStream(ctx, t, res, chatReq)
	}

	res.Duration = time.Since(start)
	return o.finalize(ctx, t, res, err)
}

func (o *Orchestrator) runStream(ctx context.Context, t *Transcript, res *Result, req backend.ChatRequest) (err error) {
	o.setPhase(PhaseAwaitingFirstByte)

	touch := func() {}
	if o.idle > 0 {
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		watchdog := time.AfterFunc(o.idle, func() { cancel(ErrStreamIdle) })
		defer watchdog.Stop()
		touch = func() { watchdog.Reset(o.idle) }

		defer func() {
			if err != nil && errors.Is(context.Cause(ctx), ErrStreamIdle) {
				err = &stream.Error{Partial: res.Stream.Text, Err: ErrStreamIdle}
			}
		}()
	}

	body, err := o.backend.StreamChat(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	onProgress := func(full string) {
		touch()
		if err := t.SetContent(res.AssistantSlot, full); err != nil {
			o.logger.Warn("Dropping fragment", zap.Error(err))
			return
		}
		o.mu.Lock()
		o.state.Partial = full
		o.mu.Unlock()
		if o.hooks.OnProgress != nil {
			o.hooks.OnProgress(res.AssistantSlot, full)
		}
	}

	sres, err := stream.Consume(ctx, body, onProgress,
		stream.WithLogger(o.logger),
		stream.WithReadSize(o.readSize),
		stream.WithFirstByte(func() {
			touch()
			o.setPhase(PhaseStreaming)
		}),
	)
	res.Stream = sres
	if err == nil && !sres.SawDone {
		o.logger.Debug("Stream closed without terminal marker",
			zap.Int("fragments", sres.Fragments))
	}
	return err
}

func (o *Orchestrator) runVision(ctx context.Context, t *Transcript, res *Result, req backend.VisionRequest) error {
	o.setPhase(PhaseAwaitingResponse)

	reply, err := o.backend.Vision(ctx, req)
	if err != nil {
		return err
	}
	return t.SetContent(res.AssistantSlot, reply)
}

func (o *Orchestrator) finalize(ctx context.Context, t *Transcript, res *Result, err error) (*Result, error) {
	res.Messages = t.Snapshot()
	res.Reply = res.Assistant().Content
	res.Err = err

	switch {
	case err == nil:
		res.Outcome = OutcomeComplete
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Outcome = OutcomeInterrupted
	default:
		res.Outcome = OutcomeFailed
	}

	fields := []zap.Field{
		zap.String("outcome", res.Outcome.String()),
		zap.Bool("vision", res.Vision),
		zap.Int("reply_chars", len(res.Reply)),
		zap.Duration("duration", res.Duration),
	}
	if err != nil {
		o.logger.Warn("Turn ended early", append(fields, zap.Error(err))...)
	} else {
		o.logger.Debug("Turn complete", fields...)
	}

	if o.recorder != nil {
		o.recorder.ObserveTurn(res)
	}

	o.mu.Lock()
	o.state = State{Phase: PhaseFinalized, Partial: res.Reply, Result: res}
	st := o.state
	o.mu.Unlock()
	if o.hooks.OnState != nil {
		o.hooks.OnState(st)
	}
	return res, err
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.state.Phase = p
	st := o.state
	o.mu.Unlock()
	if o.hooks.OnState != nil {
		o.hooks.OnState(st)
	}
}
