// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	turns "github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/session"
	"github.com/jeranaias/lifedash-tui/internal/ui/styles"
	"github.com/jeranaias/lifedash-tui/internal/util"
)

// Layout heights of the fixed rows.
const (
	headerHeight    = 1
	inputRows       = 3
	inputAreaHeight = inputRows + 2 // rows plus border
	statusBarHeight = 1
)

// Options configure the chat screen.
type Options struct {
	// Theme is auto, dark or light.
	Theme string
	// Markdown renders finished assistant replies.
	Markdown bool
	Version  string
	Logger   *zap.Logger
}

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusWarn
	statusError
)

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	ctx    context.Context
	sess   *session.Manager
	buffer *StreamingBuffer
	theme  *styles.Theme
	keys   KeyMap
	opts   Options
	logger *zap.Logger

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	sidebar  list.Model
	help     help.Model

	width  int
	height int
	ready  bool
	focus  focus

	busy     bool
	image    *turns.Image
	params   model.ChatParameters
	quitting bool

	status     string
	statusKind statusKind

	// deleteID is the conversation waiting for a y to be deleted.
	deleteID    string
	deleteTitle string

	pending     *extract.Pending
	showDetails bool
	saving      bool

	md      *glamour.TermRenderer
	mdWidth int
	mdCache map[string]string
}

// New creates the chat screen for a started session.
func New(ctx context.Context, sess *session.Manager, bridge *Bridge, opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ta := textarea.New()
	ta.Placeholder = "Tell me what you spent, earned or booked..."
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 8000
	ta.SetHeight(inputRows)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	// ASCII spinner at the stream frame rate
	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)
	sidebar := list.New(nil, delegate, 24, 20)
	sidebar.Title = "Conversations"
	sidebar.SetShowHelp(false)
	sidebar.SetShowStatusBar(false)
	sidebar.SetFilteringEnabled(false)
	sidebar.DisableQuitKeybindings()

	theme := styles.NewTheme(opts.Theme)
	sidebar.Styles.Title = theme.SidebarTitle

	m := Model{
		ctx:      ctx,
		sess:     sess,
		buffer:   bridge.buffer,
		theme:    theme,
		keys:     DefaultKeyMap(),
		opts:     opts,
		logger:   opts.Logger,
		input:    ta,
		viewport: vp,
		spinner:  sp,
		sidebar:  sidebar,
		help:     help.New(),
		params:   sess.Params(),
		mdCache:  make(map[string]string),
	}
	if p, ok := sess.PendingRecord(); ok {
		m.pending = p
	}
	m.refreshSidebar()
	return m
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) layout() {
	m.theme.SetSize(m.width, m.height)
	side := m.theme.SidebarWidth()
	if side == 0 && m.focus == focusSidebar {
		m.setFocus(focusInput)
	}

	mainWidth := m.width - side
	if side > 0 {
		mainWidth-- // sidebar border
	}
	if mainWidth < 20 {
		mainWidth = 20
	}

	vpHeight := m.height - headerHeight - inputAreaHeight - statusBarHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = mainWidth
	m.viewport.Height = vpHeight

	// border (2) + padding (2)
	m.input.SetWidth(max(mainWidth-4, 10))

	if side > 0 {
		m.sidebar.SetSize(side-1, m.height-statusBarHeight)
	}
	m.help.Width = m.width

	if m.opts.Markdown && mainWidth != m.mdWidth {
		m.mdWidth = mainWidth
		m.md = newRenderer(m.theme.IsDark, mainWidth-4)
		clear(m.mdCache)
	}
}

// newRenderer returns nil when glamour cannot be set up; replies are then
// shown as plain text.
func newRenderer(dark bool, width int) *glamour.TermRenderer {
	style := "dark"
	if !dark {
		style = "light"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(max(width, 20)),
	)
	if err != nil {
		return nil
	}
	return r
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	if f == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) setStatus(kind statusKind, format string, args ...any) {
	m.statusKind = kind
	m.status = fmt.Sprintf(format, args...)
}

func (m *Model) setError(err error) {
	m.setStatus(statusError, "%v", err)
	m.logger.Debug("Chat screen error", zap.Error(err))
}

// =============================================================================
// CONVERSATION LIST
// =============================================================================

// conversationItem is one row of the conversation list.
type conversationItem struct {
	conv   model.Conversation
	active bool
	now    time.Time
}

func (i conversationItem) Title() string {
	title := i.conv.GetTitle()
	if i.active {
		title = "* " + title
	}
	return title
}

func (i conversationItem) Description() string {
	return fmt.Sprintf("%d msgs | %s", i.conv.MessageCount(), util.FormatAge(i.conv.UpdatedAt.Time, i.now))
}

func (i conversationItem) FilterValue() string { return i.conv.GetTitle() }

// refreshSidebar rebuilds the list from the session, keeping the cursor on
// the active conversation.
func (m *Model) refreshSidebar() {
	convs := m.sess.Conversations()
	activeID := convs.ActiveID()
	now := time.Now()

	all := convs.List()
	items := make([]list.Item, 0, len(all))
	selected := 0
	for i, c := range all {
		if c.ID == activeID {
			selected = i
		}
		items = append(items, conversationItem{conv: c, active: c.ID == activeID, now: now})
	}
	m.sidebar.SetItems(items)
	m.sidebar.Select(selected)
}

// selectedConversation returns the conversation under the list cursor.
func (m *Model) selectedConversation() (model.Conversation, bool) {
	item, ok := m.sidebar.SelectedItem().(conversationItem)
	if !ok {
		return model.Conversation{}, false
	}
	return item.conv, true
}
