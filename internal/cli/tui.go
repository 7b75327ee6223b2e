// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tui.go - Full-screen chat.
//
// Command: tui
// Short:   Open the full-screen chat (the default on a terminal)
//
// Flags:
//   -C, --conversation REF   Open a conversation (id, id prefix or position)
//       --new                Start in a new conversation

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/session"
	uichat "github.com/jeranaias/lifedash-tui/internal/ui/chat"
)

type tuiOptions struct {
	conversation string
	newConv      bool
}

func newTUICommand(g *globalOptions) *cobra.Command {
	opts := &tuiOptions{}
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUIWith(cmd.Context(), g, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.conversation, "conversation", "C", "", "Conversation id, id prefix or list position")
	cmd.Flags().BoolVar(&opts.newConv, "new", false, "Start in a new conversation")
	return cmd
}

func runTUI(ctx context.Context, g *globalOptions) error {
	return runTUIWith(ctx, g, &tuiOptions{})
}

func runTUIWith(ctx context.Context, g *globalOptions, opts *tuiOptions) error {
	if err := RequiresTTY("tui"); err != nil {
		return err
	}

	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	bridge := uichat.NewBridge(a.cfg.UI.StreamFPS)
	sessOpts := []session.Option{session.WithHooks(bridge.Hooks())}
	if a.cfg.UI.ConfirmExtractions {
		bus := events.NewBus(a.logger.Named("events").Logger)
		bus.Subscribe(events.TopicDataUpdated, bridge.OnDataUpdated)
		sessOpts = append(sessOpts, session.WithExtraction(bus, bridge.OnPending))
	}
	sess, err := a.newSession(sessOpts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	if err := openConversation(ctx, sess, opts.newConv, opts.conversation); err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	a.watchParams(watchCtx, sess, bridge.ParamsChanged)

	return uichat.Run(ctx, sess, bridge, uichat.Options{
		Theme:    a.cfg.UI.Theme,
		Markdown: a.cfg.UI.RenderMarkdown,
		Version:  Version,
		Logger:   a.logger.Named("ui").Logger,
	})
}
