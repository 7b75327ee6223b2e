// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/backend/backendtest"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/storage"
)

func exchange(user, assistant string) []model.Message {
	return []model.Message{
		model.NewUserMessage(user),
		model.NewMessage(model.RoleAssistant, assistant),
	}
}

func newOutbox(t *testing.T) *storage.Outbox {
	t.Helper()
	box, err := storage.NewOutbox(filepath.Join(t.TempDir(), "outbox"), storage.WithRate(0))
	require.NoError(t, err)
	return box
}

// =============================================================================
// LOAD / CREATE / SELECT
// =============================================================================

func TestLoad_CreatesWhenEmpty(t *testing.T) {
	srv := backendtest.New(t)
	m := NewManager(srv.Client())

	conv, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, conv.Title)
	assert.Equal(t, conv.ID, m.ActiveID())
	assert.Equal(t, 1, m.Len())
	assert.Len(t, srv.Conversations(), 1)
}

func TestLoad_SelectsFirst(t *testing.T) {
	srv := backendtest.New(t)
	first := srv.SeedConversation("Coffee", exchange("hi", "hello")...)
	srv.SeedConversation("Flights")
	m := NewManager(srv.Client())

	conv, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, conv.ID)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/ai/conversations/*"))
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/conversations"))
}

func TestCreate_PrependsAndActivates(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("Old")
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	conv, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conv.ID, m.ActiveID())
	assert.Equal(t, conv.ID, m.List()[0].ID)

	reqs := srv.Requests(http.MethodPost, "/ai/conversations")
	require.Len(t, reqs, 1)
	var body map[string]any
	require.NoError(t, reqs[0].Decode(&body))
	assert.Equal(t, model.DefaultTitle, body["title"])
	assert.Equal(t, []any{}, body["messages"])
}

func TestSelect_SavesCurrentFirst(t *testing.T) {
	srv := backendtest.New(t)
	a := srv.SeedConversation("A", exchange("hi", "hello")...)
	b := srv.SeedConversation("B")
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	conv, err := m.Select(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, conv.ID)
	assert.Equal(t, b.ID, m.ActiveID())

	puts := srv.Requests(http.MethodPut, "/ai/conversations/*")
	require.Len(t, puts, 1)
	assert.Equal(t, "/ai/conversations/"+a.ID, puts[0].Path)
	var body backend.UpdateConversationRequest
	require.NoError(t, puts[0].Decode(&body))
	assert.Equal(t, "A", body.Title)
	assert.Len(t, body.Messages, 2)
}

func TestSelect_SkipsSaveForEmptyCurrent(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("A")
	b := srv.SeedConversation("B")
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	_, err = m.Select(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, srv.Count(http.MethodPut, "/ai/conversations/*"))
}

func TestSelect_FallsBackToLocalCopy(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("A")
	b := srv.SeedConversation("B", exchange("q", "a")...)
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	srv.FailNext(http.MethodGet, "/ai/conversations/*", http.StatusInternalServerError, "db down")
	conv, err := m.Select(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, conv.ID)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, b.ID, m.ActiveID())
}

func TestSelect_Unknown(t *testing.T) {
	srv := backendtest.New(t)
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	_, err = m.Select(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestFind(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedConversation("A")
	srv.SeedConversation("B")
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"conv-2", "conv-2", true},
		{"1", "conv-1", true},
		{"2", "conv-2", true},
		{"3", "", false},
		{"conv-", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		conv, ok := m.Find(tt.ref)
		if ok != tt.ok {
			t.Errorf("Find(%q) ok = %v, want %v", tt.ref, ok, tt.ok)
			continue
		}
		if ok && conv.ID != tt.want {
			t.Errorf("Find(%q) = %q, want %q", tt.ref, conv.ID, tt.want)
		}
	}
}

// =============================================================================
// DELETE / CLEAR / RENAME
// =============================================================================

func TestDelete_LastConversationAutoCreates(t *testing.T) {
	srv := backendtest.New(t)
	m := NewManager(srv.Client())
	only, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), only.ID))

	assert.Equal(t, 1, m.Len())
	assert.NotEqual(t, only.ID, m.ActiveID())
	assert.NotEmpty(t, m.ActiveID())
	convs := srv.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, m.ActiveID(), convs[0].ID)
}

func TestDelete_ActiveSwitchesToNext(t *testing.T) {
	srv := backendtest.New(t)
	a := srv.SeedConversation("A")
	b := srv.SeedConversation("B")
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, a.ID, m.ActiveID())

	require.NoError(t, m.Delete(context.Background(), a.ID))
	assert.Equal(t, b.ID, m.ActiveID())
	assert.Equal(t, 1, m.Len())
}

func TestDelete_InactiveKeepsActive(t *testing.T) {
	srv := backendtest.New(t)
	a := srv.SeedConversation("A")
	b := srv.SeedConversation("B")
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), b.ID))
	assert.Equal(t, a.ID, m.ActiveID())
	_, ok := m.Get(b.ID)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	srv := backendtest.New(t)
	a := srv.SeedConversation("Coffee", exchange("hi", "hello")...)
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Clear(context.Background()))

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, model.DefaultTitle, active.Title)
	assert.Empty(t, active.Messages)

	remote, _ := srv.Conversation(a.ID)
	assert.Equal(t, model.DefaultTitle, remote.Title)
	assert.Empty(t, remote.Messages)
}

func TestRename(t *testing.T) {
	srv := backendtest.New(t)
	a := srv.SeedConversation("Old", exchange("hi", "hello")...)
	m := NewManager(srv.Client())
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Rename(context.Background(), a.ID, "  Coffee runs "))
	conv, _ := m.Get(a.ID)
	assert.Equal(t, "Coffee runs", conv.Title)

	remote, _ := srv.Conversation(a.ID)
	assert.Equal(t, "Coffee runs", remote.Title)
	assert.Len(t, remote.Messages, 2)

	assert.Error(t, m.Rename(context.Background(), a.ID, " "))
}
