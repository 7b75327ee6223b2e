// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	turns "github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

// Bridge carries session callbacks into the running program. It exists
// before the program does: create it, pass Hooks and OnPending to the
// session options, then hand it to Run.
type Bridge struct {
	buffer *StreamingBuffer

	mu      sync.Mutex
	program *tea.Program
}

// NewBridge creates a bridge whose redraws are capped at fps.
func NewBridge(fps int) *Bridge {
	return &Bridge{buffer: NewStreamingBufferWithConfig(defaultBatchSize, fps)}
}

// Hooks returns the turn hooks. They only touch the buffer and never block.
func (b *Bridge) Hooks() turns.Hooks {
	return turns.Hooks{
		OnState:    func(st turns.State) { b.buffer.SetPhase(st.Phase) },
		OnProgress: b.buffer.Write,
	}
}

// OnPending announces a record waiting for confirmation.
func (b *Bridge) OnPending(p *extract.Pending) {
	go b.send(pendingRecordMsg{pending: p})
}

// OnDataUpdated is an events.Handler for TopicDataUpdated.
func (b *Bridge) OnDataUpdated(ev events.Event) {
	if up, ok := ev.Payload.(events.DataUpdated); ok {
		go b.send(dataUpdatedMsg{update: up})
	}
}

// ParamsChanged announces reloaded chat parameters.
func (b *Bridge) ParamsChanged(p model.ChatParameters) {
	b.send(paramsChangedMsg{params: p})
}

func (b *Bridge) attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()
}

// send delivers msg to the program, dropping it when none is running.
func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.program
	b.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}
