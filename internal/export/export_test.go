// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

func sampleConversation() *model.Conversation {
	at := model.Timestamp{Time: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}
	img := model.Message{Role: model.RoleUser, Content: "What is in this image?", Timestamp: at, HasImage: true}
	return &model.Conversation{
		ID:    "conv-7",
		Title: "Starbucks: coffee #2",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "I spent $45 at Starbucks", Timestamp: at},
			{Role: model.RoleAssistant, Content: "I've logged $45 at Starbucks.", Timestamp: at},
			img,
			{Role: model.RoleAssistant, Content: "", Timestamp: at},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(sampleConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Starbucks: coffee #2\"\n"), "title quoted in frontmatter")
	assert.Contains(t, md, "# Starbucks: coffee \\#2\n")
	assert.Contains(t, md, "### You <sub>09:30:00</sub>")
	assert.Contains(t, md, "### Assistant <sub>09:30:00</sub>\n\nI've logged $45 at Starbucks.")
	assert.Contains(t, md, "### You (with image)")
	assert.Contains(t, md, "*(no reply)*")
	assert.Contains(t, md, "messages: 4\n")
}

func TestMarkdownExporter_NoMetadata(t *testing.T) {
	e := NewMarkdownExporter(&Options{})
	out, err := e.Export(sampleConversation())
	require.NoError(t, err)

	md := string(out)
	assert.False(t, strings.HasPrefix(md, "---"))
	assert.NotContains(t, md, "<sub>")
}

func TestMarkdownExporter_Errors(t *testing.T) {
	e := NewMarkdownExporter(nil)
	_, err := e.Export(nil)
	assert.ErrorIs(t, err, ErrNoConversation)

	_, err = e.Export(model.NewConversation())
	assert.Error(t, err)
}

func TestJSONExporter(t *testing.T) {
	out, err := NewJSONExporter(nil).Export(sampleConversation())
	require.NoError(t, err)

	var back model.Conversation
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "conv-7", back.ID)
	require.Len(t, back.Messages, 4)
	assert.True(t, back.Messages[2].HasImage)
	assert.Contains(t, string(out), `"hasImage": true`)
}

func TestYAMLExporter(t *testing.T) {
	out, err := NewYAMLExporter(&Options{IncludeMetadata: true}).Export(sampleConversation())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "Starbucks: coffee #2", doc["title"])
	assert.Contains(t, doc, "created")

	msgs, ok := doc["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	third := msgs[2].(map[string]any)
	assert.Equal(t, true, third["has_image"])
	assert.NotContains(t, third, "timestamp", "timestamps off")
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		name string
		ext  string
	}{
		{"md", ".md"},
		{"Markdown", ".md"},
		{"", ".md"},
		{"json", ".json"},
		{"yml", ".yaml"},
		{"YAML", ".yaml"},
	}
	for _, tt := range tests {
		e, err := ForFormat(tt.name, nil)
		require.NoError(t, err, tt.name)
		if got := e.FileExtension(); got != tt.ext {
			t.Errorf("ForFormat(%q).FileExtension() = %q, want %q", tt.name, got, tt.ext)
		}
	}

	_, err := ForFormat("html", nil)
	assert.Error(t, err)
}

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	opts := &Options{OutputDir: dir, IncludeMetadata: true}

	path, err := ExportToFile(sampleConversation(), NewJSONExporter(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "conversation_Starbucks-_coffee_#2_"), base)
	assert.True(t, strings.HasSuffix(base, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "conv-7")

	_, err = ExportToFile(nil, NewJSONExporter(opts), opts)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Trip to NYC", "Trip_to_NYC"},
		{`a/b\c:d*e?f"g<h>i|j`, "a-b-c-d-e-f-g-h-i-j"},
		{"   ", "conversation"},
		{"tab\there", "tab_here"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
		{"日本語のタイトル", "日本語のタイトル"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
