// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	turns "github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/export"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/session"
)

// =============================================================================
// MESSAGES
// =============================================================================

// streamTickMsg polls the streaming buffer.
type streamTickMsg struct {
	Time time.Time
}

// turnDoneMsg reports a finished Send or Regenerate.
type turnDoneMsg struct {
	turn *session.Turn
	err  error
}

// opDoneMsg reports a finished conversation or profile operation.
// status is shown on success; reload redraws the transcript and list.
type opDoneMsg struct {
	status string
	err    error
	reload bool
}

type pendingRecordMsg struct {
	pending *extract.Pending
}

type recordSavedMsg struct {
	message string
	err     error
}

type dataUpdatedMsg struct {
	update events.DataUpdated
}

type paramsChangedMsg struct {
	params model.ChatParameters
}

// =============================================================================
// COMMAND CREATORS
// =============================================================================
//
// Session calls that wait on the network, or on a turn being cancelled,
// run as commands so the Update loop never blocks.

func sendCmd(ctx context.Context, sess *session.Manager, text string, img *turns.Image) tea.Cmd {
	return func() tea.Msg {
		turn, err := sess.Send(ctx, text, img)
		return turnDoneMsg{turn: turn, err: err}
	}
}

func regenerateCmd(ctx context.Context, sess *session.Manager) tea.Cmd {
	return func() tea.Msg {
		turn, err := sess.Regenerate(ctx)
		return turnDoneMsg{turn: turn, err: err}
	}
}

func newConversationCmd(ctx context.Context, sess *session.Manager) tea.Cmd {
	return func() tea.Msg {
		_, err := sess.NewConversation(ctx)
		return opDoneMsg{status: "New conversation", err: err, reload: true}
	}
}

func selectConversationCmd(ctx context.Context, sess *session.Manager, id string) tea.Cmd {
	return func() tea.Msg {
		conv, err := sess.SelectConversation(ctx, id)
		if err != nil {
			return opDoneMsg{err: err, reload: true}
		}
		return opDoneMsg{status: "Opened " + conv.GetTitle(), reload: true}
	}
}

func deleteConversationCmd(ctx context.Context, sess *session.Manager, id, title string) tea.Cmd {
	return func() tea.Msg {
		err := sess.DeleteConversation(ctx, id)
		return opDoneMsg{status: "Deleted " + title, err: err, reload: true}
	}
}

func clearConversationCmd(ctx context.Context, sess *session.Manager) tea.Cmd {
	return func() tea.Msg {
		err := sess.ClearConversation(ctx)
		return opDoneMsg{status: "Conversation cleared", err: err, reload: true}
	}
}

func renameConversationCmd(ctx context.Context, sess *session.Manager, id, title string) tea.Cmd {
	return func() tea.Msg {
		err := sess.RenameConversation(ctx, id, title)
		return opDoneMsg{status: "Renamed to " + title, err: err, reload: true}
	}
}

func useProfileCmd(ctx context.Context, sess *session.Manager, p model.Profile) tea.Cmd {
	return func() tea.Msg {
		err := sess.UseProfile(ctx, p.ID)
		return opDoneMsg{status: fmt.Sprintf("Using %s (%s)", p.Name, p.Model), err: err}
	}
}

func confirmRecordCmd(ctx context.Context, sess *session.Manager) tea.Cmd {
	return func() tea.Msg {
		res, err := sess.ConfirmRecord(ctx)
		msg := "Saved to dashboard"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		return recordSavedMsg{message: msg, err: err}
	}
}

func exportCmd(conv *model.Conversation, format string) tea.Cmd {
	return func() tea.Msg {
		opts := export.DefaultOptions()
		exporter, err := export.ForFormat(format, opts)
		if err != nil {
			return opDoneMsg{err: err}
		}
		path, err := export.ExportToFile(conv, exporter, opts)
		return opDoneMsg{status: "Exported to " + path, err: err}
	}
}
