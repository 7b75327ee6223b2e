// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the chat screen.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderInfo  lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	Timestamp      lipgloss.Style
	Cursor         lipgloss.Style

	Sidebar         lipgloss.Style
	SidebarTitle    lipgloss.Style
	SidebarItem     lipgloss.Style
	SidebarSelected lipgloss.Style
	SidebarActive   lipgloss.Style

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style

	StatusBar   lipgloss.Style
	StatusMode  lipgloss.Style
	StatusError lipgloss.Style
	StatusWarn  lipgloss.Style

	Modal      lipgloss.Style
	ModalTitle lipgloss.Style
	ModalKey   lipgloss.Style
	ModalValue lipgloss.Style

	Muted lipgloss.Style
}

// NewTheme creates a theme. name is "dark", "light" or "auto"; auto asks
// the terminal.
func NewTheme(name string) *Theme {
	isDark := true
	switch strings.ToLower(name) {
	case "light":
		isDark = false
	case "dark":
	default:
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		IsDark:       isDark,
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.HeaderInfo = lipgloss.NewStyle().Foreground(TextSecondary)

	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.MessageBody = lipgloss.NewStyle().Foreground(TextPrimary).PaddingLeft(2)
	t.Timestamp = lipgloss.NewStyle().Foreground(TextMuted)
	t.Cursor = lipgloss.NewStyle().Foreground(Purple).Bold(true)

	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(Overlay).
		PaddingRight(1)
	t.SidebarTitle = lipgloss.NewStyle().Bold(true).Foreground(TextSecondary).MarginBottom(1)
	t.SidebarItem = lipgloss.NewStyle().Foreground(TextPrimary)
	t.SidebarSelected = lipgloss.NewStyle().Foreground(Purple).Bold(true)
	t.SidebarActive = lipgloss.NewStyle().Foreground(Cyan)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.InputPrompt = lipgloss.NewStyle().Foreground(Cyan).Bold(true)

	t.StatusBar = lipgloss.NewStyle().Foreground(TextSecondary).Background(SurfaceDim).Padding(0, 1)
	t.StatusMode = lipgloss.NewStyle().Foreground(Purple).Bold(true)
	t.StatusError = lipgloss.NewStyle().Foreground(Rose)
	t.StatusWarn = lipgloss.NewStyle().Foreground(Amber)

	t.Modal = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Emerald).
		Padding(1, 2)
	t.ModalTitle = lipgloss.NewStyle().Bold(true).Foreground(Emerald).MarginBottom(1)
	t.ModalKey = lipgloss.NewStyle().Foreground(TextSecondary).Width(14)
	t.ModalValue = lipgloss.NewStyle().Foreground(TextPrimary)

	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// SidebarWidth is the conversation list width for the current layout, 0
// when the list is hidden.
func (t *Theme) SidebarWidth() int {
	switch t.GetLayoutMode() {
	case LayoutWide:
		return 30
	case LayoutMedium:
		return 24
	}
	return 0
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // >= 100 columns
)
