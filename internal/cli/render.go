// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Markdown rendering and record display.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

// =============================================================================
// MARKDOWN
// =============================================================================

// markdown renders assistant replies. A nil *markdown prints text as is.
type markdown struct {
	renderer *glamour.TermRenderer
}

// newMarkdown returns a renderer for the given theme, or nil when rendering
// is disabled or stdout is not a terminal.
func newMarkdown(enabled bool, theme string) *markdown {
	if !enabled || !IsStdoutTTY() {
		return nil
	}
	style := "light"
	if DarkBackground(theme) {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(GetTerminalWidth()-4),
	)
	if err != nil {
		return nil
	}
	return &markdown{renderer: r}
}

// Render returns the rendered text, or content unchanged on failure.
func (m *markdown) Render(content string) string {
	if m == nil || m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return out
}

// =============================================================================
// RECORDS
// =============================================================================

// printRecord shows an extracted record the way the confirmation card does.
func printRecord(w io.Writer, rec model.Record, details bool) {
	var b strings.Builder
	b.WriteString(WarningStyle.Bold(true).Render(extract.Title(rec)))
	for _, f := range extract.Fields(rec) {
		fmt.Fprintf(&b, "\n%s %s", RenderLabel(f.Label+":"), ValueStyle.Render(f.Value))
	}
	if details {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(extract.Highlight(rec), "\n"))
	}
	fmt.Fprintln(w, recordBoxStyle.Render(b.String()))
}
