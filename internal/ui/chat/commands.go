// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	turns "github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

// commandHelp lists the slash commands in /help order.
var commandHelp = []string{
	"/new", "/regen", "/edit", "/image <path>", "/clear", "/rename <title>",
	"/delete", "/switch <n>", "/profile [n]", "/set <key> <value>", "/params",
	"/copy", "/export [md|json|yaml]", "/quit",
}

// runCommand runs a slash command typed in the input.
func (m Model) runCommand(line string) (tea.Model, tea.Cmd) {
	name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)

	// Clearing, deleting and switching stop the reply; these wait for it.
	switch name {
	case "regen", "retry", "edit":
		if m.busy {
			m.setStatus(statusWarn, "Wait for the reply to finish (Esc stops it)")
			return m, nil
		}
	}

	switch name {
	case "help", "h", "?":
		m.setStatus(statusInfo, "%s", strings.Join(commandHelp, "  "))

	case "new":
		return m, newConversationCmd(m.ctx, m.sess)

	case "regen", "retry":
		return m.regenerate()

	case "edit":
		m.editLast()

	case "image", "img":
		return m.attachImage(args)

	case "clear", "c":
		return m, clearConversationCmd(m.ctx, m.sess)

	case "rename":
		if args == "" {
			m.setStatus(statusWarn, "Usage: /rename <title>")
			return m, nil
		}
		return m, renameConversationCmd(m.ctx, m.sess, m.sess.Conversations().ActiveID(), args)

	case "delete", "rm":
		if conv, ok := m.sess.Conversations().Active(); ok {
			m.deleteID = conv.ID
			m.deleteTitle = conv.GetTitle()
			m.setStatus(statusWarn, "Delete %q? [y/N]", m.deleteTitle)
		}

	case "switch", "open":
		conv, ok := m.sess.Conversations().Find(args)
		if args == "" || !ok {
			m.setStatus(statusWarn, "No conversation %q", args)
			return m, nil
		}
		return m, selectConversationCmd(m.ctx, m.sess, conv.ID)

	case "profile", "model":
		return m.profileCommand(args)

	case "set":
		key, value, _ := strings.Cut(args, " ")
		p, err := m.sess.Params().With(key, value)
		if err != nil {
			m.setError(err)
			return m, nil
		}
		m.params = m.sess.SetParams(p)
		m.setStatus(statusInfo, "%s", m.params.String())

	case "params":
		m.params = m.sess.Params()
		m.setStatus(statusInfo, "%s", m.params.String())

	case "copy":
		reply, ok := lastReply(m.sess.Transcript().Snapshot())
		if !ok {
			m.setStatus(statusWarn, "No reply to copy")
			return m, nil
		}
		if err := clipboard.WriteAll(reply); err != nil {
			m.setError(fmt.Errorf("copy: %w", err))
			return m, nil
		}
		m.setStatus(statusInfo, "Copied %d characters", len([]rune(reply)))

	case "export":
		conv, ok := m.sess.Conversations().Active()
		if !ok {
			return m, nil
		}
		conv = conv.Clone()
		conv.Messages = m.sess.Transcript().Snapshot()
		format := args
		if format == "" {
			format = "md"
		}
		return m, exportCmd(conv, format)

	case "quit", "q", "exit":
		return m.quit()

	default:
		m.setStatus(statusWarn, "Unknown command /%s (try /help)", name)
	}
	return m, nil
}

// attachImage loads path for the next message; "off" removes it.
func (m Model) attachImage(path string) (tea.Model, tea.Cmd) {
	switch path {
	case "":
		m.setStatus(statusWarn, "Usage: /image <path>  (/image off to remove)")
		return m, nil
	case "off", "none":
		m.image = nil
		m.setStatus(statusInfo, "Image removed")
		return m, nil
	}
	if p, ok := m.sess.ActiveProfile(); ok && !p.SupportsVision {
		m.setStatus(statusWarn, "%s cannot read images; switch with /profile", p.Name)
		return m, nil
	}
	img, err := turns.LoadImage(path)
	if err != nil {
		m.setError(err)
		return m, nil
	}
	m.image = img
	m.setStatus(statusInfo, "Attached %s; it goes with your next message", img.Name)
	return m, nil
}

func (m Model) profileCommand(ref string) (tea.Model, tea.Cmd) {
	profiles := m.sess.Profiles()
	if ref == "" {
		if len(profiles) == 0 {
			m.setStatus(statusWarn, "No model profiles")
			return m, nil
		}
		names := make([]string, 0, len(profiles))
		for i, p := range profiles {
			name := fmt.Sprintf("%d %s", i+1, p.Name)
			if p.IsDefault {
				name += "*"
			}
			names = append(names, name)
		}
		m.setStatus(statusInfo, "Profiles: %s", strings.Join(names, ", "))
		return m, nil
	}
	p, err := lookupProfile(profiles, ref)
	if err != nil {
		m.setError(err)
		return m, nil
	}
	return m, useProfileCmd(m.ctx, m.sess, p)
}

var errNoProfile = errors.New("no such profile")

// lookupProfile resolves ref as a 1-based position, an id or a name.
func lookupProfile(profiles []model.Profile, ref string) (model.Profile, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(profiles) {
		return profiles[n-1], nil
	}
	for _, p := range profiles {
		if p.ID == ref || strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}
	return model.Profile{}, fmt.Errorf("%w %q", errNoProfile, ref)
}

// lastReply returns the newest non-empty assistant message.
func lastReply(msgs []model.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant && msgs[i].Content != "" {
			return msgs[i].Content, true
		}
	}
	return "", false
}
