// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/lifedash-tui/internal/session"
)

// Run shows the chat screen until the user quits or ctx ends. sess must be
// started and created with bridge.Hooks (and bridge.OnPending when
// extraction is on).
func Run(ctx context.Context, sess *session.Manager, bridge *Bridge, opts Options) error {
	m := New(ctx, sess, bridge, opts)
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	bridge.attach(p)
	defer bridge.attach(nil)

	_, err := p.Run()
	sess.Cancel()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
