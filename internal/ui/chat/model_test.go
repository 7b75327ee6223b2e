// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/backend/backendtest"
	turns "github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/session"
)

func newTestModel(t *testing.T, srv *backendtest.Server, opts ...session.Option) (Model, *session.Manager) {
	t.Helper()
	bridge := NewBridge(30)
	opts = append([]session.Option{
		session.WithLogger(zaptest.NewLogger(t)),
		session.WithHooks(bridge.Hooks()),
	}, opts...)
	sess := session.New(srv.Client(), opts...)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Close)

	m := New(context.Background(), sess, bridge, Options{Theme: "dark"})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	return m, sess
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// runFirst executes cmd and, for a batch, only its first command, which is
// the session call; spinner and stream ticks are left out.
func runFirst(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		require.NotEmpty(t, batch)
		return batch[0]()
	}
	return msg
}

func typeText(m Model, text string) Model {
	m.input.SetValue(text)
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSubmit_StreamsReplyIntoTranscript(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("Logged", " $45", " at Starbucks.")
	m, sess := newTestModel(t, srv)

	m = typeText(m, "I spent $45 at Starbucks")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.True(t, m.busy)
	assert.Empty(t, m.input.Value())

	m = update(t, m, runFirst(t, cmd))
	assert.False(t, m.busy)

	msgs := sess.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Logged $45 at Starbucks.", msgs[1].Content)
	assert.Contains(t, m.viewport.View(), "Logged $45 at Starbucks.")
}

func TestSubmit_EmptyInputDoesNothing(t *testing.T) {
	srv := backendtest.New(t)
	m, _ := newTestModel(t, srv)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, next.(Model).busy)
}

func TestSubmit_BusyIsRefused(t *testing.T) {
	srv := backendtest.New(t)
	m, _ := newTestModel(t, srv)
	m.busy = true

	m = typeText(m, "second message")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Equal(t, "second message", m.input.Value())
	assert.Contains(t, m.status, "Wait for the reply")
}

func TestTurnDone_Interrupted(t *testing.T) {
	srv := backendtest.New(t)
	m, _ := newTestModel(t, srv)
	m.busy = true

	turn := &session.Turn{Result: &turns.Result{Outcome: turns.OutcomeInterrupted, Reply: "Part"}}
	m = update(t, m, turnDoneMsg{turn: turn})
	assert.False(t, m.busy)
	assert.Equal(t, statusWarn, m.statusKind)
	assert.Contains(t, m.status, "partial reply was kept")
}

func TestTurnDone_VisionRefusalKeepsImage(t *testing.T) {
	srv := backendtest.New(t)
	m, _ := newTestModel(t, srv)
	m.busy = true
	m.image = &turns.Image{Name: "receipt.png"}

	m = update(t, m, turnDoneMsg{err: session.ErrVisionUnsupported})
	assert.NotNil(t, m.image)
	assert.Equal(t, statusError, m.statusKind)
}

func TestSlashSet_ChangesParameters(t *testing.T) {
	srv := backendtest.New(t)
	m, sess := newTestModel(t, srv)

	m = typeText(m, "/set temperature 0.3")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.InDelta(t, 0.3, sess.Params().Temperature, 1e-9)
	assert.Contains(t, m.status, "temp 0.30")

	m = typeText(m, "/set colour blue")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, statusError, m.statusKind)
}

func TestSlashUnknown(t *testing.T) {
	srv := backendtest.New(t)
	m, _ := newTestModel(t, srv)

	m = typeText(m, "/frobnicate")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, m.status, "Unknown command /frobnicate")
}

func TestSlashNew_CreatesConversation(t *testing.T) {
	srv := backendtest.New(t)
	m, sess := newTestModel(t, srv)
	before := sess.Conversations().ActiveID()

	m = typeText(m, "/new")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = update(t, next.(Model), runFirst(t, cmd))

	assert.NotEqual(t, before, sess.Conversations().ActiveID())
	assert.Equal(t, "New conversation", m.status)
	assert.Len(t, m.sidebar.Items(), 2)
}

func TestSidebarDelete_AsksFirst(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("Flight to JFK", model.NewMessage(model.RoleUser, "Flew DL123"))
	srv.SeedConversation("Groceries", model.NewMessage(model.RoleUser, "Spent $80"))
	m, sess := newTestModel(t, srv)
	require.Equal(t, 2, sess.Conversations().Len())

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusSidebar, m.focus)

	m = update(t, m, keyRunes("d"))
	require.NotEmpty(t, m.deleteID)
	assert.Contains(t, m.status, "Delete")

	// Anything but y keeps the conversation.
	m = update(t, m, keyRunes("x"))
	assert.Empty(t, m.deleteID)
	assert.Len(t, srv.Conversations(), 2)

	m = update(t, m, keyRunes("d"))
	next, cmd := m.Update(keyRunes("y"))
	m = update(t, next.(Model), runFirst(t, cmd))

	assert.Len(t, srv.Conversations(), 1)
	assert.Equal(t, 1, sess.Conversations().Len())
	assert.Contains(t, m.status, "Deleted")
}

func TestRecordConfirmation_Save(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("Logged it.")
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: &model.Record{
		DataType: model.DataTypeExpense,
		Data:     map[string]any{"amount": 45, "merchant": "Starbucks"},
	}})
	srv.SetSubmitResult(backend.SubmitResult{Success: true, Message: "Expense saved"})
	m, sess := newTestModel(t, srv, session.WithExtraction(nil, nil))

	_, err := sess.Send(context.Background(), "I spent $45 at Starbucks", nil)
	require.NoError(t, err)
	sess.WaitExtraction()
	p, ok := sess.PendingRecord()
	require.True(t, ok)

	m = update(t, m, pendingRecordMsg{pending: p})
	require.NotNil(t, m.pending)
	view := m.View()
	assert.Contains(t, view, "Save to dashboard?")
	assert.Contains(t, view, "Starbucks")

	// d toggles the JSON details without closing the modal.
	m = update(t, m, keyRunes("d"))
	assert.True(t, m.showDetails)

	next, cmd := m.Update(keyRunes("y"))
	m = next.(Model)
	assert.True(t, m.saving)
	m = update(t, m, runFirst(t, cmd))

	assert.Nil(t, m.pending)
	assert.Equal(t, "Expense saved", m.status)
	assert.Len(t, srv.Submitted(), 1)
}

func TestRecordConfirmation_Discard(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("Noted.")
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: &model.Record{
		DataType: model.DataTypeIncome,
		Data:     map[string]any{"amount": 1200, "source": "Salary"},
	}})
	m, sess := newTestModel(t, srv, session.WithExtraction(nil, nil))

	_, err := sess.Send(context.Background(), "Got paid $1200", nil)
	require.NoError(t, err)
	sess.WaitExtraction()
	p, ok := sess.PendingRecord()
	require.True(t, ok)

	m = update(t, m, pendingRecordMsg{pending: p})
	m = update(t, m, keyRunes("n"))

	assert.Nil(t, m.pending)
	_, still := sess.PendingRecord()
	assert.False(t, still)
	assert.Empty(t, srv.Submitted())
}

func TestPendingRecordMsg_IgnoresStaleRecord(t *testing.T) {
	srv := backendtest.New(t)
	m, _ := newTestModel(t, srv, session.WithExtraction(nil, nil))

	m = update(t, m, pendingRecordMsg{pending: nil})
	assert.Nil(t, m.pending)
}

func TestEditLast_FillsInput(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("Sure.")
	m, sess := newTestModel(t, srv)

	_, err := sess.Send(context.Background(), "Flew DL123 ATL to JFK", nil)
	require.NoError(t, err)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	assert.Equal(t, "Flew DL123 ATL to JFK", m.input.Value())
	assert.Len(t, sess.Transcript().Snapshot(), 2)
}

func TestView_NarrowHidesSidebar(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("Investment notes")
	m, _ := newTestModel(t, srv)

	assert.Contains(t, m.View(), "Conversations")

	m = update(t, m, tea.WindowSizeMsg{Width: 50, Height: 20})
	assert.NotContains(t, m.View(), "Conversations")
}

func TestLookupProfile(t *testing.T) {
	profiles := []model.Profile{
		{ID: "p1", Name: "GPT-4o", Model: "gpt-4o"},
		{ID: "p2", Name: "Local", Model: "llama3"},
	}
	tests := []struct {
		ref    string
		wantID string
	}{
		{"1", "p1"},
		{"2", "p2"},
		{"p2", "p2"},
		{"local", "p2"},
	}
	for _, tc := range tests {
		p, err := lookupProfile(profiles, tc.ref)
		if err != nil {
			t.Errorf("lookupProfile(%q) error: %v", tc.ref, err)
			continue
		}
		if p.ID != tc.wantID {
			t.Errorf("lookupProfile(%q) = %q, want %q", tc.ref, p.ID, tc.wantID)
		}
	}

	_, err := lookupProfile(profiles, "3")
	assert.ErrorIs(t, err, errNoProfile)
}

func TestLastReply(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
		{Role: model.RoleUser, Content: "again"},
		{Role: model.RoleAssistant, Content: ""},
	}
	got, ok := lastReply(msgs)
	assert.True(t, ok)
	assert.Equal(t, "hello", got)

	_, ok = lastReply(msgs[:1])
	assert.False(t, ok)
}
