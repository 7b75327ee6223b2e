// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - Stored conversation management.
//
// Command: conversations
// Aliases: conv, c
//
// Subcommands:
//   list                      List conversations, newest first
//   show <ref>                Print a conversation
//   rename <ref> <title>      Set a title
//   delete <ref> [--yes]      Delete a conversation
//   export <ref> [--format]   Write a transcript file (md, json, yaml)
//
// <ref> is a full id, an id prefix or a 1-based list position.

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lifedash-tui/internal/conversation"
	"github.com/jeranaias/lifedash-tui/internal/export"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

func newConversationsCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "List, show, rename, delete and export conversations",
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConversations(cmd.Context(), g, func(_ *app, convs *conversation.Manager) error {
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), conversationSummaries(convs.List()))
				}
				printConversationList(cmd.OutOrStdout(), convs.List(), "")
				return nil
			})
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")

	var raw bool
	show := &cobra.Command{
		Use:   "show <ref>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConversations(cmd.Context(), g, func(a *app, convs *conversation.Manager) error {
				conv, err := findConversation(convs, args[0])
				if err != nil {
					return err
				}
				if full, err := a.client.GetConversation(cmd.Context(), conv.ID); err == nil {
					conv = full
				}
				return showConversation(cmd.OutOrStdout(), conv, raw, a.cfg.UI.Theme)
			})
		},
	}
	show.Flags().BoolVar(&raw, "raw", false, "Print markdown without rendering")

	rename := &cobra.Command{
		Use:   "rename <ref> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConversations(cmd.Context(), g, func(_ *app, convs *conversation.Manager) error {
				conv, err := findConversation(convs, args[0])
				if err != nil {
					return err
				}
				title := strings.Join(args[1:], " ")
				if err := convs.Rename(cmd.Context(), conv.ID, title); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Renamed"), title)
				return nil
			})
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:     "delete <ref>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConversations(cmd.Context(), g, func(_ *app, convs *conversation.Manager) error {
				conv, err := findConversation(convs, args[0])
				if err != nil {
					return err
				}
				if !yes {
					if !IsTTY() {
						return &UsageError{Field: "confirmation", Reason: "stdin is not a terminal", Example: "lifedash conversations delete 2 --yes"}
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Delete %q (%d messages)? [y/N] ", conv.GetTitle(), conv.MessageCount())
					answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if !isYes(answer) {
						fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("Kept."))
						return nil
					}
				}
				if err := convs.Delete(cmd.Context(), conv.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Deleted"), conv.GetTitle())
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	var (
		format string
		outDir string
		open   bool
	)
	exp := &cobra.Command{
		Use:   "export <ref>",
		Short: "Write a conversation transcript to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConversations(cmd.Context(), g, func(a *app, convs *conversation.Manager) error {
				conv, err := findConversation(convs, args[0])
				if err != nil {
					return err
				}
				if full, err := a.client.GetConversation(cmd.Context(), conv.ID); err == nil {
					conv = full
				}
				path, err := exportConversation(conv, format, outDir, open)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	exp.Flags().StringVarP(&format, "format", "f", "md", "Output format: "+strings.Join(export.Formats, ", "))
	exp.Flags().StringVarP(&outDir, "output-dir", "o", "", "Directory for the file (default: current directory)")
	exp.Flags().BoolVar(&open, "open", false, "Open the file after writing it")

	cmd.AddCommand(list, show, rename, del, exp)
	return cmd
}

// withConversations loads the conversation list and runs fn. Queued writes
// from earlier sessions are replayed first.
func withConversations(ctx context.Context, g *globalOptions, fn func(*app, *conversation.Manager) error) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []conversation.Option{conversation.WithLogger(a.logger.Named("conversation").Logger)}
	if box, err := a.newOutbox(); err == nil {
		opts = append(opts, conversation.WithOutbox(box))
	}
	convs := conversation.NewManager(a.client, opts...)
	convs.ReplayPending(ctx)
	if err := convs.Refresh(ctx); err != nil {
		return err
	}
	return fn(a, convs)
}

func findConversation(convs *conversation.Manager, ref string) (*model.Conversation, error) {
	conv, ok := convs.Find(ref)
	if !ok {
		return nil, errNotFound("conversation", ref)
	}
	return conv, nil
}

// showConversation prints conv as markdown, rendered on a terminal.
func showConversation(w io.Writer, conv *model.Conversation, raw bool, theme string) error {
	content, err := export.NewMarkdownExporter(&export.Options{IncludeTimestamps: true}).Export(conv)
	if err != nil {
		return err
	}
	if raw {
		_, err = w.Write(content)
		return err
	}
	_, err = fmt.Fprint(w, newMarkdown(true, theme).Render(string(content)))
	return err
}

type conversationSummary struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  int             `json:"messages"`
	UpdatedAt model.Timestamp `json:"updated_at"`
}

func conversationSummaries(convs []model.Conversation) []conversationSummary {
	out := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationSummary{
			ID:        c.ID,
			Title:     c.GetTitle(),
			Messages:  c.MessageCount(),
			UpdatedAt: c.UpdatedAt,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
