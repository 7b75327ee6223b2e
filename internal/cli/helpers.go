// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Formatting helpers shared by the chat and list commands.

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/lifedash-tui/internal/export"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/util"
)

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// printConversationList prints a numbered list. The active conversation is
// marked with an asterisk.
func printConversationList(w io.Writer, convs []model.Conversation, activeID string) {
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations."))
		return
	}
	now := time.Now()
	titleWidth := GetTerminalWidth() - 36
	if titleWidth < 20 {
		titleWidth = 20
	}
	for i, c := range convs {
		marker := " "
		title := util.PadWidth(util.TruncateWidth(c.GetTitle(), titleWidth), titleWidth)
		if c.ID == activeID {
			marker = HighlightStyle.Render("*")
			title = HighlightStyle.Render(title)
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			marker,
			DimStyle.Render(fmt.Sprintf("%3d", i+1)),
			title,
			DimStyle.Render(fmt.Sprintf("%4d msgs", c.MessageCount())),
			DimStyle.Render(util.FormatAge(c.UpdatedAt.Time, now)))
	}
}

// printProfiles prints the model profiles. API keys are masked unless
// showKeys is set, and even then only the last four characters appear.
func printProfiles(w io.Writer, profiles []model.Profile, showKeys bool) {
	if len(profiles) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No model profiles. Add one in the dashboard settings."))
		return
	}
	for i, p := range profiles {
		marker := " "
		name := p.Name
		if p.IsDefault {
			marker = HighlightStyle.Render("*")
			name = HighlightStyle.Render(name)
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			marker,
			DimStyle.Render(fmt.Sprintf("%2d", i+1)),
			name,
			ValueStyle.Render(p.Model),
			DimStyle.Render("["+p.CapabilitiesString()+"]"))
		if showKeys {
			fmt.Fprintf(w, "      %s %s\n", DimStyle.Render("key:"), p.MaskedKey())
			if p.BaseURL != "" {
				fmt.Fprintf(w, "      %s %s\n", DimStyle.Render("url:"), p.BaseURL)
			}
		}
	}
}

// exportConversation writes conv in format to dir (default: current
// directory) and returns the file path.
func exportConversation(conv *model.Conversation, format, dir string, open bool) (string, error) {
	opts := export.DefaultOptions()
	if dir != "" {
		opts.OutputDir = dir
	}
	opts.OpenAfterExport = open

	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return "", &UsageError{Field: "format", Value: format, Reason: err.Error(), Example: "--format yaml"}
	}
	return export.ExportToFile(conv, exporter, opts)
}
