// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

func TestTranscript_SlotUpdates(t *testing.T) {
	tr := NewTranscript([]model.Message{model.NewUserMessage("a")})
	slot := tr.Append(model.NewAssistantPlaceholder())
	assert.Equal(t, 1, slot)

	require.NoError(t, tr.SetContent(slot, "partial"))
	snap := tr.Snapshot()
	require.NoError(t, tr.SetContent(slot, "partial reply"))

	// Snapshots are independent of later writes.
	assert.Equal(t, "partial", snap[1].Content)
	m, ok := tr.At(slot)
	require.True(t, ok)
	assert.Equal(t, "partial reply", m.Content)

	assert.Error(t, tr.SetContent(5, "x"))
	_, ok = tr.At(-1)
	assert.False(t, ok)
}

func TestTranscript_TruncateAndReset(t *testing.T) {
	tr := NewTranscript(nil)
	for _, s := range []string{"u1", "a1", "u2", "a2"} {
		tr.Append(model.NewUserMessage(s))
	}
	tr.Truncate(3)
	assert.Equal(t, 3, tr.Len())
	tr.Append(model.NewAssistantPlaceholder())
	assert.Equal(t, 4, tr.Len())

	tr.Truncate(10)
	assert.Equal(t, 4, tr.Len())

	tr.Reset(nil)
	assert.Equal(t, 0, tr.Len())
	_, ok := tr.Last()
	assert.False(t, ok)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "receipt.png")
	require.NoError(t, os.WriteFile(good, pngHeader, 0o600))
	img, err := LoadImage(good)
	require.NoError(t, err)
	assert.Equal(t, "receipt.png", img.Name)
	assert.NotEmpty(t, img.Base64())

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello world"), 0o600))
	_, err = LoadImage(text)
	assert.ErrorIs(t, err, ErrNotAnImage)

	big := filepath.Join(dir, "big.png")
	require.NoError(t, os.WriteFile(big, make([]byte, MaxImageSize+1), 0o600))
	_, err = LoadImage(big)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = LoadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}
