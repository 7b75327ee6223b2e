// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/backend/backendtest"
	"github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/storage"
	"github.com/jeranaias/lifedash-tui/internal/telemetry"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func startSession(t *testing.T, srv *backendtest.Server, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	m := New(srv.Client(), opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	return m
}

func TestSend_StarbucksEndToEnd(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("I", "'ve", " logged", " $45", " at Starbucks.")
	srv.SetTitle("Starbucks expense")
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: &model.Record{
		DataType: model.DataTypeExpense,
		Data:     map[string]any{"category": "Food", "amount": 45, "merchant": "Starbucks"},
	}})

	bus := events.NewBus(nil)
	var updates []events.DataUpdated
	bus.Subscribe(events.TopicDataUpdated, func(ev events.Event) {
		updates = append(updates, ev.Payload.(events.DataUpdated))
	})
	pending := make(chan *extract.Pending, 1)
	stats := telemetry.New()

	m := startSession(t, srv,
		WithStats(stats),
		WithExtraction(bus, func(p *extract.Pending) { pending <- p }))

	turn, err := m.Send(context.Background(), "I spent $45 at Starbucks", nil)
	require.NoError(t, err)
	require.NoError(t, turn.PersistErr)
	assert.Equal(t, "I've logged $45 at Starbucks.", turn.Reply)
	assert.True(t, turn.Persist.TitleGenerated)

	// Stored conversation holds both messages and the generated title.
	conv, ok := srv.Conversation(turn.ConversationID)
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "I spent $45 at Starbucks", conv.Messages[0].Content)
	assert.Equal(t, "I've logged $45 at Starbucks.", conv.Messages[1].Content)

	local, ok := m.Conversations().Active()
	require.True(t, ok)
	assert.Equal(t, "Starbucks expense", local.Title)
	assert.Len(t, local.Messages, 2)

	select {
	case p := <-pending:
		assert.Equal(t, turn.ConversationID, p.ConversationID)
	case <-time.After(3 * time.Second):
		t.Fatal("no record extracted")
	}

	_, err = m.ConfirmRecord(context.Background())
	require.NoError(t, err)
	require.Len(t, srv.Submitted(), 1)
	assert.Equal(t, "Starbucks", srv.Submitted()[0].Data["merchant"])
	require.Len(t, updates, 1)
	assert.Equal(t, model.DataTypeExpense, updates[0].DataType)

	sum := stats.Summary()
	assert.Equal(t, 1, sum.Turns)
	assert.Equal(t, 1, sum.RecordsSaved)
}

func TestStart_LoadsConversationsAndProfiles(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("Groceries", model.NewUserMessage("milk"), model.Message{Role: model.RoleAssistant, Content: "noted"})
	srv.SeedProfile(model.Profile{Name: "gpt", Model: "gpt-4o", IsDefault: true, SupportsVision: true})

	m := startSession(t, srv)

	assert.Equal(t, 2, m.Transcript().Len())
	p, ok := m.ActiveProfile()
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", p.Model)
}

func TestStart_ProfileFailureIsNotFatal(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(http.MethodGet, "/ai/configs", http.StatusInternalServerError, "boom")

	m := startSession(t, srv)
	assert.Empty(t, m.Profiles())
	assert.Equal(t, 1, m.Conversations().Len(), "empty list gets a fresh conversation")
}

func TestSend_UsesLiveParams(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("ok")
	m := startSession(t, srv)

	got := m.SetParams(model.ChatParameters{Temperature: 5, TopP: 0.3, MaxTokens: 1000, SystemPrompt: "terse"})
	assert.Equal(t, 2.0, got.Temperature)
	assert.Equal(t, 1024, got.MaxTokens)

	_, err := m.Send(context.Background(), "hello", nil)
	require.NoError(t, err)

	reqs := srv.Requests(http.MethodPost, "/ai/chat/stream")
	require.Len(t, reqs, 1)
	var sent backend.ChatRequest
	require.NoError(t, reqs[0].Decode(&sent))
	require.NotNil(t, sent.Temperature)
	assert.Equal(t, 2.0, *sent.Temperature)
	assert.Equal(t, 0.3, *sent.TopP)
	assert.Equal(t, 1024, *sent.MaxTokens)
	assert.Equal(t, "terse", *sent.SystemPrompt)
}

func TestSend_BusyGate(t *testing.T) {
	srv := backendtest.New(t)
	started := make(chan struct{})
	var once sync.Once
	srv.SetStreamFunc(func(w http.ResponseWriter, r *http.Request, _ backend.ChatRequest) {
		once.Do(func() { close(started) })
		<-r.Context().Done()
	})
	m := startSession(t, srv)

	done := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), "first", nil)
		done <- err
	}()
	<-started

	assert.True(t, m.Busy())
	_, err := m.Send(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = m.Regenerate(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	assert.True(t, m.Cancel())
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, m.Busy())
	assert.False(t, m.Cancel())
}

func TestSend_CancelKeepsPartialAndPersists(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamFunc(func(w http.ResponseWriter, r *http.Request, _ backend.ChatRequest) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"Half an ans\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	var m *Manager
	m = startSession(t, srv, WithHooks(chat.Hooks{
		OnProgress: func(int, string) { m.Cancel() },
	}))

	turn, err := m.Send(context.Background(), "question", nil)
	require.Error(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, chat.OutcomeInterrupted, turn.Outcome)
	require.NoError(t, turn.PersistErr)

	conv, ok := srv.Conversation(turn.ConversationID)
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Half an ans", conv.Messages[1].Content)

	// An interrupted first turn does not name the chat.
	assert.False(t, turn.Persist.TitleGenerated)
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/conversations/*/generate-title"))
	assert.Equal(t, model.DefaultTitle, conv.Title)
}

func TestSend_FailedFirstTurnKeepsDefaultTitle(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetTitle("Should not apply")
	m := startSession(t, srv)

	srv.FailNext(http.MethodPost, "/ai/chat/stream", http.StatusInternalServerError, "llm down")
	turn, err := m.Send(context.Background(), "hello", nil)
	require.Error(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, chat.OutcomeFailed, turn.Outcome)
	require.NoError(t, turn.PersistErr)
	assert.False(t, turn.Persist.TitleGenerated)
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/conversations/*/generate-title"))

	stored, ok := srv.Conversation(turn.ConversationID)
	require.True(t, ok)
	assert.Len(t, stored.Messages, 2)
	assert.Equal(t, model.DefaultTitle, stored.Title)
}

func TestSend_SecondTurnDoesNotRetitle(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("ok")
	srv.SetTitle("Generated")
	m := startSession(t, srv)

	_, err := m.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.NoError(t, m.RenameConversation(context.Background(), m.Conversations().ActiveID(), "Mine"))

	turn, err := m.Send(context.Background(), "again", nil)
	require.NoError(t, err)
	assert.False(t, turn.Persist.TitleGenerated)
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/ai/conversations/*/generate-title"))
	stored, _ := srv.Conversation(turn.ConversationID)
	assert.Equal(t, "Mine", stored.Title)
}

func TestSend_HistoryFinalBeforeExtractionEnds(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("Logged", " $12 lunch")
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: &model.Record{
		DataType: model.DataTypeExpense, Data: map[string]any{"amount": 12},
	}})
	release := srv.HoldParse()
	m := startSession(t, srv, WithExtraction(nil, nil))

	turn, err := m.Send(context.Background(), "lunch was $12", nil)
	require.NoError(t, err)

	// Parse is still held: the turn is already finalized and written.
	_, ok := m.PendingRecord()
	assert.False(t, ok)
	assert.False(t, m.Busy())

	local, ok := m.Conversations().Active()
	require.True(t, ok)
	require.Len(t, local.Messages, 2)
	assert.Equal(t, "lunch was $12", local.Messages[0].Content)
	assert.Equal(t, "Logged $12 lunch", local.Messages[1].Content)

	stored, ok := srv.Conversation(turn.ConversationID)
	require.True(t, ok)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "Logged $12 lunch", stored.Messages[1].Content)

	release()
	m.WaitExtraction()
	_, ok = m.PendingRecord()
	assert.True(t, ok)

	// Extraction never touches the stored conversation.
	stored, _ = srv.Conversation(turn.ConversationID)
	assert.Len(t, stored.Messages, 2)
}

func TestSelectConversation_CancelsTurnAndWritesToOrigin(t *testing.T) {
	srv := backendtest.New(t)
	other := srv.SeedConversation("Other", model.NewUserMessage("old"), model.Message{Role: model.RoleAssistant, Content: "reply"})
	first := srv.SeedConversation("First")

	srv.SetStreamFunc(func(w http.ResponseWriter, r *http.Request, _ backend.ChatRequest) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	// The partial must be in the transcript before the switch cancels.
	streaming := make(chan struct{})
	var once sync.Once
	m := startSession(t, srv, WithHooks(chat.Hooks{
		OnProgress: func(int, string) { once.Do(func() { close(streaming) }) },
	}))
	require.Equal(t, other.ID, m.Conversations().ActiveID())
	_, err := m.SelectConversation(context.Background(), first.ID)
	require.NoError(t, err)

	done := make(chan *Turn, 1)
	go func() {
		turn, _ := m.Send(context.Background(), "hello", nil)
		done <- turn
	}()
	<-streaming

	conv, err := m.SelectConversation(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, conv.ID)
	assert.Equal(t, 2, m.Transcript().Len())

	turn := <-done
	require.NotNil(t, turn)
	assert.Equal(t, first.ID, turn.ConversationID)
	stored, ok := srv.Conversation(first.ID)
	require.True(t, ok)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "partial", stored.Messages[1].Content)
}

func TestRegenerate_ReplacesLastReply(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("Chat",
		model.NewUserMessage("U1"), model.Message{Role: model.RoleAssistant, Content: "A1"},
		model.NewUserMessage("U2"), model.Message{Role: model.RoleAssistant, Content: "A2"})
	srv.SetStreamReply("A2", " again")
	m := startSession(t, srv)

	turn, err := m.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2 again", turn.Reply)

	reqs := srv.Requests(http.MethodPost, "/ai/chat/stream")
	require.Len(t, reqs, 1)
	var sent backend.ChatRequest
	require.NoError(t, reqs[0].Decode(&sent))
	assert.Equal(t, "U2", sent.Message)
	require.Len(t, sent.History, 2)
	assert.Equal(t, "A1", sent.History[1].Content)

	msgs := m.Transcript().Snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, "A1", msgs[1].Content)
	assert.Equal(t, "U2", msgs[2].Content)
	assert.Equal(t, "A2 again", msgs[3].Content)

	stored, _ := srv.Conversation(turn.ConversationID)
	require.Len(t, stored.Messages, 4)
	assert.Equal(t, "A2 again", stored.Messages[3].Content)
	assert.Equal(t, "Chat", stored.Title, "title kept after the first exchange")
}

func TestRegenerate_FirstExchangeKeepsTitle(t *testing.T) {
	srv := backendtest.New(t)
	seeded := srv.SeedConversation("My renamed chat",
		model.NewUserMessage("U1"), model.Message{Role: model.RoleAssistant, Content: "A1"})
	srv.SetStreamReply("A1", " again")
	srv.SetTitle("Backend title")
	m := startSession(t, srv)

	turn, err := m.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A1 again", turn.Reply)
	assert.False(t, turn.Persist.TitleGenerated)
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/conversations/*/generate-title"))

	stored, _ := srv.Conversation(seeded.ID)
	assert.Equal(t, "My renamed chat", stored.Title)
	local, ok := m.Conversations().Get(seeded.ID)
	require.True(t, ok)
	assert.Equal(t, "My renamed chat", local.Title)
}

func TestRegenerate_Guards(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		srv := backendtest.New(t)
		m := startSession(t, srv)
		_, err := m.Regenerate(context.Background())
		assert.ErrorIs(t, err, ErrNothingToRegenerate)
	})

	t.Run("not preceded by user", func(t *testing.T) {
		srv := backendtest.New(t)
		srv.SeedConversation("Odd",
			model.Message{Role: model.RoleAssistant, Content: "a"},
			model.Message{Role: model.RoleAssistant, Content: "b"})
		m := startSession(t, srv)

		_, err := m.Regenerate(context.Background())
		assert.ErrorIs(t, err, ErrNotUserMessage)
		assert.Equal(t, 2, m.Transcript().Len(), "no side effects")
		assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/chat/stream"))
	})

	t.Run("image turn", func(t *testing.T) {
		srv := backendtest.New(t)
		srv.SeedConversation("Pic",
			model.NewImageMessage("What is in this image?"),
			model.Message{Role: model.RoleAssistant, Content: "a cat"})
		m := startSession(t, srv)

		_, err := m.Regenerate(context.Background())
		assert.ErrorIs(t, err, ErrImageNotRetained)
		assert.Equal(t, 2, m.Transcript().Len())
	})
}

func TestEditText(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("Chat",
		model.NewUserMessage("Spent $12 on lunch"), model.Message{Role: model.RoleAssistant, Content: "Logged."})
	m := startSession(t, srv)

	slot := m.LastUserSlot()
	require.Equal(t, 0, slot)
	text, err := m.EditText(slot)
	require.NoError(t, err)
	assert.Equal(t, "Spent $12 on lunch", text)
	assert.Equal(t, 2, m.Transcript().Len(), "edit does not change history")

	_, err = m.EditText(1)
	assert.ErrorIs(t, err, ErrNotUserMessage)
	_, err = m.EditText(7)
	assert.ErrorIs(t, err, ErrNotUserMessage)
}

func TestSend_VisionRequiresCapableProfile(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedProfile(model.Profile{Name: "text", Model: "llama", IsDefault: true})
	m := startSession(t, srv)

	_, err := m.Send(context.Background(), "", &chat.Image{Name: "r.png", Data: pngHeader})
	assert.ErrorIs(t, err, ErrVisionUnsupported)
	assert.Equal(t, 0, m.Transcript().Len())
}

func TestSend_Vision(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedProfile(model.Profile{Name: "vision", Model: "gpt-4o", IsDefault: true, SupportsVision: true})
	srv.SetVisionReply("A receipt.")
	m := startSession(t, srv)

	turn, err := m.Send(context.Background(), "", &chat.Image{Name: "r.png", Data: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, "A receipt.", turn.Reply)

	msgs := m.Transcript().Snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].HasImage)
	assert.Equal(t, chat.DefaultVisionPrompt, msgs[0].Content)
}

func TestSend_PersistFailureQueued(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("fine")
	box, err := storage.NewOutbox(t.TempDir(), storage.WithRate(0))
	require.NoError(t, err)
	stats := telemetry.New()
	m := startSession(t, srv, WithOutbox(box), WithStats(stats))

	srv.FailNext(http.MethodPut, "/ai/conversations/*", http.StatusServiceUnavailable, "down")
	turn, err := m.Send(context.Background(), "hello", nil)
	require.NoError(t, err, "write-back failure is not a turn failure")
	require.Error(t, turn.PersistErr)
	assert.True(t, turn.Persist.Queued)
	assert.Equal(t, 1, box.Len())
	assert.Equal(t, 1, stats.Summary().PersistFailures)
}

func TestConversationOps(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("ok")
	m := startSession(t, srv)

	_, err := m.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	firstID := m.Conversations().ActiveID()

	conv, err := m.NewConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, conv.Title)
	assert.Equal(t, 0, m.Transcript().Len())

	require.NoError(t, m.DeleteConversation(context.Background(), conv.ID))
	assert.Equal(t, firstID, m.Conversations().ActiveID())
	assert.Equal(t, 2, m.Transcript().Len())

	require.NoError(t, m.RenameConversation(context.Background(), firstID, "Greeting"))
	got, _ := m.Conversations().Get(firstID)
	assert.Equal(t, "Greeting", got.Title)

	require.NoError(t, m.ClearConversation(context.Background()))
	assert.Equal(t, 0, m.Transcript().Len())
	stored, _ := srv.Conversation(firstID)
	assert.Empty(t, stored.Messages)
}

func TestUseProfile(t *testing.T) {
	srv := backendtest.New(t)
	a := srv.SeedProfile(model.Profile{Name: "a", IsDefault: true})
	b := srv.SeedProfile(model.Profile{Name: "b", SupportsVision: true})
	m := startSession(t, srv)

	require.NoError(t, m.UseProfile(context.Background(), b.ID))
	p, ok := m.ActiveProfile()
	require.True(t, ok)
	assert.Equal(t, b.ID, p.ID)
	assert.NotEqual(t, a.ID, p.ID)

	assert.Error(t, m.UseProfile(context.Background(), "cfg-404"))
}

func TestDiscardRecord(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("Logged $9 lunch")
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: &model.Record{
		DataType: model.DataTypeExpense, Data: map[string]any{"amount": 9},
	}})
	m := startSession(t, srv, WithExtraction(nil, nil))

	_, err := m.Send(context.Background(), "lunch was $9", nil)
	require.NoError(t, err)
	m.WaitExtraction()

	_, ok := m.PendingRecord()
	require.True(t, ok)
	assert.True(t, m.DiscardRecord())
	_, ok = m.PendingRecord()
	assert.False(t, ok)
	assert.Empty(t, srv.Submitted())
}

func TestExtractionDisabled(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetStreamReply("Logged")
	m := startSession(t, srv)

	_, err := m.Send(context.Background(), "x", nil)
	require.NoError(t, err)
	m.WaitExtraction()

	assert.False(t, m.ExtractionEnabled())
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/parse"))
	_, err = m.ConfirmRecord(context.Background())
	assert.ErrorIs(t, err, extract.ErrNoPending)
}
