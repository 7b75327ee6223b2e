// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/stream"
)

// Phase is the position of a turn in its state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingFirstByte
	PhaseStreaming
	PhaseAwaitingResponse
	PhaseFinalized
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingFirstByte:
		return "awaiting-first-byte"
	case PhaseStreaming:
		return "streaming"
	case PhaseAwaitingResponse:
		return "awaiting-response"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// InFlight reports whether a turn in this phase still owns the transcript.
func (p Phase) InFlight() bool {
	switch p {
	case PhaseAwaitingFirstByte, PhaseStreaming, PhaseAwaitingResponse:
		return true
	}
	return false
}

// Outcome is how a finalized turn ended.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeFailed
	OutcomeInterrupted
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeFailed:
		return "failed"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// State is a snapshot of the orchestrator. Partial is the accumulated text
// while streaming; Result is set once the turn is finalized.
type State struct {
	Phase   Phase
	Partial string
	Result  *Result
}

// Result describes a finalized turn.
type Result struct {
	Outcome Outcome

	// Vision is true for image turns.
	Vision bool

	// UserSlot and AssistantSlot index the turn's two messages.
	UserSlot      int
	AssistantSlot int

	// Messages is the complete list after the turn: prior history, the new
	// user message and the assistant message.
	Messages []model.Message

	// Reply is the assistant text as finalized.
	Reply string

	// Stream holds decoder statistics for text turns.
	Stream stream.Result

	Duration time.Duration
	Err      error
}

// Assistant returns the turn's assistant message.
func (r *Result) Assistant() model.Message {
	if r == nil || r.AssistantSlot < 0 || r.AssistantSlot >= len(r.Messages) {
		return model.Message{}
	}
	return r.Messages[r.AssistantSlot]
}
