// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	turns "github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/session"
)

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.refreshViewport(true)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case streamTickMsg:
		if !m.busy {
			return m, nil
		}
		if _, ok := m.buffer.Flush(); ok {
			m.refreshViewport(m.viewport.AtBottom())
		}
		return m, m.buffer.streamTickCmd()

	case turnDoneMsg:
		return m.handleTurnDone(msg)

	case opDoneMsg:
		if msg.err != nil {
			m.setError(msg.err)
		} else if msg.status != "" {
			m.setStatus(statusInfo, "%s", msg.status)
		}
		if msg.reload {
			m.mdCacheReset()
			m.refreshSidebar()
			m.refreshViewport(true)
		}
		return m, nil

	case pendingRecordMsg:
		// Ignore a record that was already confirmed or replaced.
		if p, ok := m.sess.PendingRecord(); ok && p.ID == msg.pending.ID {
			m.pending = p
			m.showDetails = false
		}
		return m, nil

	case recordSavedMsg:
		m.saving = false
		m.pending = nil
		var subErr *extract.SubmitError
		switch {
		case errors.As(msg.err, &subErr):
			m.setStatus(statusError, "Not saved: %s", subErr.Message)
		case msg.err != nil:
			m.setError(msg.err)
		default:
			m.setStatus(statusInfo, "%s", msg.message)
		}
		return m, nil

	case dataUpdatedMsg:
		m.logger.Info("Dashboard data updated", zap.String("data_type", string(msg.update.DataType)))
		return m, nil

	case paramsChangedMsg:
		m.params = msg.params
		m.setStatus(statusInfo, "Chat parameters reloaded")
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m.quit()
	}

	if m.pending != nil && !m.saving {
		return m.handleRecordKey(msg)
	}
	if m.deleteID != "" {
		return m.handleDeleteKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Cancel):
		if m.busy {
			if m.sess.Cancel() {
				m.setStatus(statusWarn, "Stopping...")
			}
			return m, nil
		}
		if m.focus == focusSidebar {
			m.setFocus(focusInput)
			return m, nil
		}
		if msg.String() == "ctrl+c" {
			if m.input.Value() != "" {
				m.input.Reset()
				return m, nil
			}
			return m.quit()
		}
		return m, nil

	case key.Matches(msg, m.keys.Focus):
		if m.focus == focusInput && m.theme.SidebarWidth() > 0 {
			m.setFocus(focusSidebar)
		} else {
			m.setFocus(focusInput)
		}
		return m, nil

	case key.Matches(msg, m.keys.New):
		return m, newConversationCmd(m.ctx, m.sess)

	case key.Matches(msg, m.keys.Regenerate):
		return m.regenerate()

	case key.Matches(msg, m.keys.Edit):
		m.editLast()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}

	if key.Matches(msg, m.keys.Submit) {
		return m.submit()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Open):
		conv, ok := m.selectedConversation()
		if !ok {
			return m, nil
		}
		m.setFocus(focusInput)
		if conv.ID == m.sess.Conversations().ActiveID() {
			return m, nil
		}
		return m, selectConversationCmd(m.ctx, m.sess, conv.ID)

	case key.Matches(msg, m.keys.Create):
		m.setFocus(focusInput)
		return m, newConversationCmd(m.ctx, m.sess)

	case key.Matches(msg, m.keys.Delete):
		if conv, ok := m.selectedConversation(); ok {
			m.deleteID = conv.ID
			m.deleteTitle = conv.GetTitle()
			m.setStatus(statusWarn, "Delete %q? [y/N]", m.deleteTitle)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.sidebar, cmd = m.sidebar.Update(msg)
	return m, cmd
}

func (m Model) handleDeleteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id, title := m.deleteID, m.deleteTitle
	m.deleteID, m.deleteTitle = "", ""
	if key.Matches(msg, m.keys.Yes) {
		m.setStatus(statusInfo, "Deleting...")
		return m, deleteConversationCmd(m.ctx, m.sess, id, title)
	}
	m.setStatus(statusInfo, "Kept %q", title)
	return m, nil
}

func (m Model) handleRecordKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Yes):
		m.saving = true
		m.setStatus(statusInfo, "Saving to dashboard...")
		return m, confirmRecordCmd(m.ctx, m.sess)
	case key.Matches(msg, m.keys.No):
		m.sess.DiscardRecord()
		m.pending = nil
		m.setStatus(statusInfo, "Record discarded")
	case key.Matches(msg, m.keys.Details):
		m.showDetails = !m.showDetails
	}
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.sess.Cancel()
	m.quitting = true
	return m, tea.Quit
}

// =============================================================================
// TURNS
// =============================================================================

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if text == "" && m.image == nil {
		return m, nil
	}
	if m.busy {
		m.setStatus(statusWarn, "Wait for the reply to finish (Esc stops it)")
		return m, nil
	}

	m.input.Reset()
	return m.startTurn(sendCmd(m.ctx, m.sess, text, m.image))
}

func (m Model) regenerate() (tea.Model, tea.Cmd) {
	if m.busy {
		m.setStatus(statusWarn, "Wait for the reply to finish (Esc stops it)")
		return m, nil
	}
	return m.startTurn(regenerateCmd(m.ctx, m.sess))
}

func (m Model) startTurn(run tea.Cmd) (tea.Model, tea.Cmd) {
	m.busy = true
	m.status = ""
	m.buffer.Reset()
	m.buffer.SetPhase(turns.PhaseAwaitingFirstByte)
	m.refreshViewport(true)
	return m, tea.Batch(run, m.spinner.Tick, m.buffer.streamTickCmd())
}

func (m Model) handleTurnDone(msg turnDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	m.buffer.ForceFlush()
	m.buffer.SetPhase(turns.PhaseIdle)

	turn, err := msg.turn, msg.err
	if !errors.Is(err, session.ErrVisionUnsupported) && !errors.Is(err, session.ErrBusy) {
		m.image = nil
	}

	switch {
	case turn == nil && err != nil:
		m.setError(err)
	case turn == nil:
	case turn.Outcome == turns.OutcomeInterrupted:
		m.setStatus(statusWarn, "Stopped. The partial reply was kept.")
	case turn.Outcome == turns.OutcomeFailed:
		m.setStatus(statusError, "Reply failed: %v", turn.Err)
	case turn.PersistErr != nil && turn.Persist.Queued:
		m.setStatus(statusWarn, "Not saved yet, will retry: %v", turn.PersistErr)
	case turn.PersistErr != nil:
		m.setStatus(statusWarn, "Not saved: %v", turn.PersistErr)
	case turn.Persist.TitleGenerated:
		m.setStatus(statusInfo, "Titled %q", turn.Persist.Title)
	}

	m.refreshSidebar()
	m.refreshViewport(true)
	return m, nil
}

// editLast puts the last user message into the input. History is kept.
func (m *Model) editLast() {
	if m.busy {
		return
	}
	text, err := m.sess.EditText(m.sess.LastUserSlot())
	if err != nil {
		m.setStatus(statusWarn, "Nothing to edit")
		return
	}
	m.input.SetValue(text)
	m.input.CursorEnd()
	m.setFocus(focusInput)
}

func (m *Model) mdCacheReset() {
	clear(m.mdCache)
}
