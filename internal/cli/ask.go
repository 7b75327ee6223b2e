// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question.
//
// Command: ask
// Short:   Ask the assistant a single question
//
// Examples:
//   lifedash ask "I spent $45 at Starbucks on coffee"
//   lifedash ask --image receipt.jpg "What did I buy?"
//   echo "Summarize my week" | lifedash ask
//   lifedash ask --save "Flew DL123 ATL to JFK for $320"
//
// The question goes to the most recent conversation unless --new or
// --conversation is given. A detected record is saved with --save, offered
// for confirmation on a terminal, and otherwise discarded.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/session"
)

type askOptions struct {
	image        string
	conversation string
	newConv      bool
	save         bool
	noMarkdown   bool
}

func newAskCommand(g *globalOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the assistant a single question",
		Long: `Send one message and print the reply.

Without arguments the question is read from stdin. An empty question with
--image asks "What is in this image?".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" && !IsTTY() {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read question: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}
			return runAsk(cmd.Context(), g, opts, text, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "Attach an image (5 MiB max)")
	cmd.Flags().StringVarP(&opts.conversation, "conversation", "C", "", "Conversation id, id prefix or list position")
	cmd.Flags().BoolVar(&opts.newConv, "new", false, "Ask in a new conversation")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Save a detected record without asking")
	cmd.Flags().BoolVar(&opts.noMarkdown, "no-markdown", false, "Print raw text")
	return cmd
}

func runAsk(ctx context.Context, g *globalOptions, opts *askOptions, text string, in io.Reader, out, errOut io.Writer) error {
	var img *chat.Image
	if opts.image != "" {
		var err error
		if img, err = chat.LoadImage(opts.image); err != nil {
			return err
		}
	}
	if text == "" && img == nil {
		return &UsageError{Field: "question", Reason: "nothing to ask", Example: `lifedash ask "How much did I spend on coffee?"`}
	}

	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	md := newMarkdown(a.cfg.UI.RenderMarkdown && !opts.noMarkdown, a.cfg.UI.Theme)
	printed := 0
	hooks := chat.Hooks{OnProgress: func(_ int, full string) {
		if md == nil && len(full) > printed {
			fmt.Fprint(out, full[printed:])
			printed = len(full)
		}
	}}

	sessOpts := []session.Option{session.WithHooks(hooks)}
	if a.cfg.UI.ConfirmExtractions {
		sessOpts = append(sessOpts, session.WithExtraction(events.NewBus(a.logger.Logger), nil))
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

	turn, err := sess.Send(ctx, text, img)
	if turn == nil {
		return err
	}

	switch {
	case md != nil:
		fmt.Fprint(out, md.Render(turn.Reply))
	case len(turn.Reply) > printed:
		fmt.Fprintln(out, turn.Reply[printed:])
	default:
		fmt.Fprintln(out)
	}
	if turn.PersistErr != nil {
		fmt.Fprintf(errOut, "%s %v\n", WarningStyle.Render("[Not saved]"), turn.PersistErr)
	}
	if turn.Outcome == chat.OutcomeInterrupted {
		return context.Canceled
	}
	if err != nil {
		return err
	}

	if !sess.ExtractionEnabled() {
		return nil
	}
	sess.WaitExtraction()
	return handleExtracted(ctx, sess, opts.save, in, out, errOut)
}

// openConversation applies --new or --conversation to a started session.
func openConversation(ctx context.Context, sess *session.Manager, newConv bool, ref string) error {
	switch {
	case newConv:
		_, err := sess.NewConversation(ctx)
		return err
	case ref != "":
		conv, ok := sess.Conversations().Find(ref)
		if !ok {
			return errNotFound("conversation", ref)
		}
		_, err := sess.SelectConversation(ctx, conv.ID)
		return err
	}
	return nil
}

// handleExtracted saves, offers or discards the pending record.
func handleExtracted(ctx context.Context, sess *session.Manager, save bool, in io.Reader, out, errOut io.Writer) error {
	p, ok := sess.PendingRecord()
	if !ok {
		return nil
	}
	printRecord(out, p.Record, false)

	if !save {
		if !IsTTY() {
			sess.DiscardRecord()
			fmt.Fprintln(errOut, DimStyle.Render("Not saved. Use --save to store detected records."))
			return nil
		}
		fmt.Fprint(out, "Save to dashboard? [y/N] ")
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if !isYes(answer) {
			sess.DiscardRecord()
			fmt.Fprintln(out, DimStyle.Render("Discarded."))
			return nil
		}
	}

	res, err := sess.ConfirmRecord(ctx)
	var subErr *extract.SubmitError
	if errors.As(err, &subErr) {
		return fmt.Errorf("record not saved: %w", err)
	}
	if err != nil {
		return err
	}
	msg := "Saved."
	if res != nil && res.Message != "" {
		msg = res.Message
	}
	fmt.Fprintln(out, SuccessStyle.Render("[OK] ")+msg)
	return nil
}
