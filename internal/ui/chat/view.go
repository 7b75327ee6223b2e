// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	turns "github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/util"
)

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	main := m.viewport.View()
	if m.pending != nil {
		main = lipgloss.Place(m.viewport.Width, m.viewport.Height,
			lipgloss.Center, lipgloss.Center, m.renderRecord())
	}

	column := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		main,
		m.renderInput(),
	)

	if side := m.theme.SidebarWidth(); side > 0 {
		sidebar := m.theme.Sidebar.
			Width(side - 1).
			Height(m.height - statusBarHeight).
			Render(m.sidebar.View())
		column = lipgloss.JoinHorizontal(lipgloss.Top, sidebar, column)
	}
	return lipgloss.JoinVertical(lipgloss.Left, column, m.renderStatus())
}

// =============================================================================
// HEADER / INPUT / STATUS
// =============================================================================

func (m Model) renderHeader() string {
	parts := []string{m.theme.HeaderTitle.Render("Lifedash")}
	if conv, ok := m.sess.Conversations().Active(); ok {
		parts = append(parts, m.theme.HeaderInfo.Render(util.TruncateWidth(conv.GetTitle(), 40)))
	}
	if p, ok := m.sess.ActiveProfile(); ok {
		parts = append(parts, m.theme.HeaderInfo.Render(p.Model))
	}
	if m.image != nil {
		parts = append(parts, m.theme.StatusWarn.Render("[image: "+m.image.Name+"]"))
	}
	return m.theme.Header.Width(m.viewport.Width).MaxHeight(headerHeight).
		Render(strings.Join(parts, m.theme.Muted.Render(" | ")))
}

func (m Model) renderInput() string {
	return m.theme.InputContainer.Width(m.viewport.Width - 2).Render(m.input.View())
}

func (m Model) renderStatus() string {
	var left string
	switch {
	case m.busy:
		left = m.spinner.View() + " " + m.theme.StatusMode.Render(phaseLabel(m.buffer.Phase()))
		if m.status != "" {
			left += "  " + m.renderStatusText()
		}
	case m.status != "":
		left = m.renderStatusText()
	default:
		left = m.help.ShortHelpView(m.keys.ShortHelp())
	}

	right := m.params.String()
	if n := m.sess.Conversations().Pending(); n > 0 {
		right = m.theme.StatusWarn.Render(fmt.Sprintf("%d unsaved", n)) + "  " + right
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		return m.theme.StatusBar.Width(m.width).MaxHeight(statusBarHeight).Render(left)
	}
	return m.theme.StatusBar.Width(m.width).MaxHeight(statusBarHeight).
		Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderStatusText() string {
	switch m.statusKind {
	case statusError:
		return m.theme.StatusError.Render(m.status)
	case statusWarn:
		return m.theme.StatusWarn.Render(m.status)
	}
	return m.status
}

func phaseLabel(p turns.Phase) string {
	switch p {
	case turns.PhaseAwaitingFirstByte:
		return "thinking"
	case turns.PhaseStreaming:
		return "streaming"
	case turns.PhaseAwaitingResponse:
		return "reading image"
	}
	return "working"
}

// =============================================================================
// MESSAGES
// =============================================================================

// refreshViewport redraws the transcript. follow scrolls to the bottom.
func (m *Model) refreshViewport(follow bool) {
	m.viewport.SetContent(m.renderMessages())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessages() string {
	msgs := m.sess.Transcript().Snapshot()
	if len(msgs) == 0 {
		return m.renderWelcome()
	}

	width := max(m.viewport.Width-2, 20)
	body := m.theme.MessageBody.Width(width)

	var b strings.Builder
	for i, msg := range msgs {
		streaming := m.busy && i == len(msgs)-1 && msg.Role == model.RoleAssistant

		label := m.theme.AssistantLabel.Render(msg.Role.DisplayName())
		if msg.Role == model.RoleUser {
			label = m.theme.UserLabel.Render(msg.Role.DisplayName())
		}
		if !msg.Timestamp.IsZero() {
			label += " " + m.theme.Timestamp.Render(msg.Timestamp.Local().Format("15:04"))
		}
		if msg.HasImage {
			label += " " + m.theme.Timestamp.Render("[image]")
		}
		b.WriteString(label)
		b.WriteString("\n")

		switch {
		case streaming && msg.Content == "":
			b.WriteString(body.Render(m.spinner.View() + " " + phaseLabel(m.buffer.Phase())))
		case streaming:
			b.WriteString(body.Render(msg.Content + m.theme.Cursor.Render("_")))
		case msg.Role == model.RoleAssistant:
			b.WriteString(m.renderReply(msg.Content, body))
		default:
			b.WriteString(body.Render(msg.Content))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// renderReply renders a finished reply as markdown when enabled.
func (m *Model) renderReply(content string, plain lipgloss.Style) string {
	if m.md == nil || strings.TrimSpace(content) == "" {
		return plain.Render(content)
	}
	if out, ok := m.mdCache[content]; ok {
		return out
	}
	out, err := m.md.Render(content)
	if err != nil {
		return plain.Render(content)
	}
	out = strings.TrimRight(out, "\n")
	m.mdCache[content] = out
	return out
}

func (m *Model) renderWelcome() string {
	lines := []string{
		m.theme.HeaderTitle.Render("Lifedash assistant"),
		"",
		"Tell me about an expense, income, flight or investment and I can",
		"save it to your dashboard. Ask about your data any time.",
		"",
		m.theme.Muted.Render("Type /help for commands."),
	}
	if m.opts.Version != "" {
		lines = append(lines, m.theme.Muted.Render("v"+m.opts.Version))
	}
	return lipgloss.Place(m.viewport.Width, m.viewport.Height, lipgloss.Center, lipgloss.Center,
		strings.Join(lines, "\n"))
}

// =============================================================================
// RECORD CONFIRMATION
// =============================================================================

func (m Model) renderRecord() string {
	rec := m.pending.Record

	var b strings.Builder
	b.WriteString(m.theme.ModalTitle.Render("Save to dashboard? " + extract.Title(rec)))
	b.WriteString("\n")
	for _, f := range extract.Fields(rec) {
		b.WriteString(m.theme.ModalKey.Render(f.Label))
		b.WriteString(m.theme.ModalValue.Render(f.Value))
		b.WriteString("\n")
	}
	if m.showDetails {
		b.WriteString("\n")
		b.WriteString(extract.Highlight(rec))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.theme.Muted.Render("y save   n discard   d details"))

	return m.theme.Modal.MaxWidth(m.viewport.Width).Render(b.String())
}
