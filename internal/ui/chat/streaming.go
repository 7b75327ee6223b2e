// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	turns "github.com/jeranaias/lifedash-tui/internal/chat"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// Frame is the reply text to draw.
type Frame struct {
	Slot int
	Text string
}

// StreamingBuffer holds the latest streamed reply between redraws.
// Fragments are written from the turn goroutine; the Bubble Tea loop takes
// a frame when either:
//  1. batchSize fragments arrived since the last frame, or
//  2. enough time passed since the last frame (1/maxFPS).
//
// Every fragment still lands in the transcript; only redraws are batched.
type StreamingBuffer struct {
	mu        sync.Mutex
	slot      int
	text      string
	fragments int
	dirty     bool
	phase     turns.Phase
	lastFlush time.Time

	batchSize  int
	maxFPS     int
	minFlushMs time.Duration
}

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
)

// NewStreamingBuffer creates a buffer with 15 fragments per batch at 30 fps.
func NewStreamingBuffer() *StreamingBuffer {
	return NewStreamingBufferWithConfig(defaultBatchSize, defaultMaxFPS)
}

// NewStreamingBufferWithConfig creates a buffer with custom settings.
// Out-of-range values fall back to the defaults; fps is capped at 60.
func NewStreamingBufferWithConfig(batchSize, maxFPS int) *StreamingBuffer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = defaultMaxFPS
	}
	return &StreamingBuffer{
		slot:       -1,
		batchSize:  batchSize,
		maxFPS:     maxFPS,
		minFlushMs: time.Second / time.Duration(maxFPS),
		lastFlush:  time.Now(),
	}
}

// Write records the full accumulated text of slot.
// Thread-safe.
func (sb *StreamingBuffer) Write(slot int, full string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.slot = slot
	sb.text = full
	sb.fragments++
	sb.dirty = true
}

// SetPhase records the turn phase for the status bar.
func (sb *StreamingBuffer) SetPhase(p turns.Phase) {
	sb.mu.Lock()
	sb.phase = p
	sb.mu.Unlock()
}

// Phase returns the last recorded turn phase.
func (sb *StreamingBuffer) Phase() turns.Phase {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.phase
}

// Flush returns a frame when one is due.
func (sb *StreamingBuffer) Flush() (Frame, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.shouldFlushLocked() {
		return Frame{}, false
	}
	return sb.takeLocked(), true
}

// ForceFlush returns any unseen text regardless of thresholds. Use it when
// the turn finishes.
func (sb *StreamingBuffer) ForceFlush() (Frame, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.dirty {
		return Frame{}, false
	}
	return sb.takeLocked(), true
}

// ShouldFlush reports whether a frame is due.
func (sb *StreamingBuffer) ShouldFlush() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.shouldFlushLocked()
}

// caller must hold mu.
func (sb *StreamingBuffer) shouldFlushLocked() bool {
	if !sb.dirty {
		return false
	}
	if sb.fragments >= sb.batchSize {
		return true
	}
	return time.Since(sb.lastFlush) >= sb.minFlushMs
}

// caller must hold mu.
func (sb *StreamingBuffer) takeLocked() Frame {
	f := Frame{Slot: sb.slot, Text: sb.text}
	sb.fragments = 0
	sb.dirty = false
	sb.lastFlush = time.Now()
	return f
}

// Reset forgets the current reply. Call it before a new turn starts.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.slot = -1
	sb.text = ""
	sb.fragments = 0
	sb.dirty = false
	sb.phase = turns.PhaseIdle
	sb.lastFlush = time.Now()
}

// Pending returns the number of fragments since the last frame.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.fragments
}

// GetConfig returns the current buffer configuration.
func (sb *StreamingBuffer) GetConfig() (batchSize, maxFPS int, minFlushMs time.Duration) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.batchSize, sb.maxFPS, sb.minFlushMs
}

// SetMaxFPS updates the maximum frame rate. Values outside 1..60 are
// ignored.
func (sb *StreamingBuffer) SetMaxFPS(fps int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if fps > 0 && fps <= 60 {
		sb.maxFPS = fps
		sb.minFlushMs = time.Second / time.Duration(fps)
	}
}

// =============================================================================
// STREAMING TICK COMMAND
// =============================================================================

// streamTickCmd polls the buffer once per frame interval.
func (sb *StreamingBuffer) streamTickCmd() tea.Cmd {
	_, _, interval := sb.GetConfig()
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return streamTickMsg{Time: t}
	})
}
