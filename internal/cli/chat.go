// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive line-mode chat.
//
// Command: chat
// Short:   Chat with the assistant in the terminal
//
// Examples:
//   lifedash chat                     Continue the most recent conversation
//   lifedash chat --new               Start a fresh conversation
//   lifedash chat -C 2                Open the second conversation in the list
//
// Interactive commands are listed by /help. Ctrl+C stops the reply being
// streamed; the partial text is kept. Ctrl+D exits.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/config"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/session"
	"github.com/jeranaias/lifedash-tui/internal/util"
)

// extractGrace is how long the REPL waits after a reply for the background
// parse before showing the next prompt.
const extractGrace = 3 * time.Second

type chatOptions struct {
	conversation string
	newConv      bool
	noMarkdown   bool
}

func newChatCommand(g *globalOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Start a line-mode chat session.

Replies stream as they arrive. When the assistant mentions an expense,
income, flight or investment, you are asked whether to save it to the
dashboard. Type /help during the chat for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), g, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.conversation, "conversation", "C", "", "Open a conversation by id, id prefix or list position")
	cmd.Flags().BoolVar(&opts.newConv, "new", false, "Start a new conversation")
	cmd.Flags().BoolVar(&opts.noMarkdown, "no-markdown", false, "Stream raw text instead of rendered markdown")
	return cmd
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides line editing and a persistent input history.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

// Read prompts for a line. A non-empty prefill is placed in the edit
// buffer.
func (r *lineReader) Read(prompt, prefill string) (string, error) {
	var (
		input string
		err   error
	)
	if prefill != "" {
		input, err = r.line.PromptWithSuggestion(prompt, prefill, -1)
	} else {
		input, err = r.line.Prompt(prompt)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history (0600) and restores the terminal.
func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// chatREPL is one interactive chat.
type chatREPL struct {
	app  *app
	sess *session.Manager
	in   *lineReader
	out  io.Writer
	md   *markdown

	// live streams raw deltas; otherwise the reply is rendered at the end.
	live bool

	image   *chat.Image
	prefill string

	// printed is how much of the current reply is already on screen.
	printed  int
	progress bool

	logger *zap.Logger
}

func runChat(ctx context.Context, g *globalOptions, opts *chatOptions) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	r := &chatREPL{
		app:    a,
		out:    os.Stdout,
		md:     newMarkdown(a.cfg.UI.RenderMarkdown && !opts.noMarkdown, a.cfg.UI.Theme),
		logger: a.logger.Named("repl").Logger,
	}
	r.live = r.md == nil

	sessOpts := []session.Option{session.WithHooks(chat.Hooks{OnProgress: r.onProgress})}
	if a.cfg.UI.ConfirmExtractions {
		bus := events.NewBus(r.logger)
		bus.Subscribe(events.TopicDataUpdated, func(ev events.Event) {
			if up, ok := ev.Payload.(events.DataUpdated); ok {
				r.logger.Info("Dashboard data updated", zap.String("data_type", string(up.DataType)))
			}
		})
		sessOpts = append(sessOpts, session.WithExtraction(bus, nil))
	}
	r.sess, err = a.newSession(sessOpts...)
	if err != nil {
		return err
	}
	defer r.sess.Close()

	if err := r.sess.Start(ctx); err != nil {
		return err
	}
	if err := openConversation(ctx, r.sess, opts.newConv, opts.conversation); err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	a.watchParams(watchCtx, r.sess, nil)

	r.in = newLineReader()
	defer r.in.Close()

	r.printWelcome()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if r.sess.Cancel() {
				fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	return r.loop(ctx)
}

func (r *chatREPL) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			r.printExitSummary()
			return nil
		}
		r.reviewPending(ctx)

		prefill := r.prefill
		r.prefill = ""
		input, err := r.in.Read(r.prompt(), prefill)
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin all end the chat.
			fmt.Fprintln(r.out)
			r.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.runSlash(ctx, input)
			if err != nil {
				DisplayError(os.Stderr, err)
			}
			if quit {
				r.printExitSummary()
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			r.printExitSummary()
			return nil
		}

		img := r.image
		r.runTurn(ctx, func(ctx context.Context) (*session.Turn, error) {
			turn, err := r.sess.Send(ctx, input, img)
			if !errors.Is(err, session.ErrVisionUnsupported) {
				r.image = nil
			}
			return turn, err
		})
	}
}

func (r *chatREPL) prompt() string {
	p := "you"
	if r.image != nil {
		p = "you [image]"
	}
	return promptStyle.Render(p + "> ")
}

// =============================================================================
// TURNS
// =============================================================================

// runTurn runs one send or regenerate and prints its outcome.
func (r *chatREPL) runTurn(ctx context.Context, fn func(context.Context) (*session.Turn, error)) {
	r.printed = 0
	r.progress = false
	fmt.Fprintln(r.out)

	turn, err := fn(ctx)
	r.clearProgress()

	if turn == nil {
		if err != nil {
			DisplayError(os.Stderr, err)
		}
		return
	}

	r.printReply(turn.Reply)
	switch turn.Outcome {
	case chat.OutcomeInterrupted:
		fmt.Fprintln(r.out, DimStyle.Render("(reply stopped; the partial text was kept)"))
	case chat.OutcomeFailed:
		DisplayError(os.Stderr, err)
	}

	if turn.PersistErr != nil {
		if turn.Persist.Queued {
			fmt.Fprintln(os.Stderr, WarningStyle.Render("[Not saved]")+" the conversation will be saved when the backend is reachable again")
		} else {
			fmt.Fprintf(os.Stderr, "%s %v\n", WarningStyle.Render("[Not saved]"), turn.PersistErr)
		}
	}
	if turn.Persist.TitleGenerated {
		fmt.Fprintln(r.out, DimStyle.Render("Conversation titled: "+turn.Persist.Title))
	}
	fmt.Fprintln(r.out)

	if turn.Outcome == chat.OutcomeComplete && r.sess.ExtractionEnabled() {
		r.awaitExtraction(extractGrace)
	}
}

// onProgress receives the full accumulated reply after every fragment.
func (r *chatREPL) onProgress(_ int, full string) {
	if r.live {
		if len(full) > r.printed {
			fmt.Fprint(r.out, full[r.printed:])
			r.printed = len(full)
		}
		return
	}
	r.progress = true
	fmt.Fprintf(os.Stderr, "\r%s", DimStyle.Render(fmt.Sprintf("receiving... %d characters", len([]rune(full)))))
}

func (r *chatREPL) clearProgress() {
	if r.progress {
		fmt.Fprint(os.Stderr, "\r\033[K")
		r.progress = false
	}
}

// printReply finishes the reply on screen. Streamed text is completed;
// otherwise the whole reply is rendered.
func (r *chatREPL) printReply(reply string) {
	if r.live {
		if len(reply) > r.printed {
			fmt.Fprint(r.out, reply[r.printed:])
		}
		if reply == "" {
			fmt.Fprint(r.out, DimStyle.Render("(empty reply)"))
		}
		fmt.Fprintln(r.out)
		return
	}
	if reply == "" {
		fmt.Fprintln(r.out, DimStyle.Render("(empty reply)"))
		return
	}
	fmt.Fprint(r.out, r.md.Render(reply))
}

// awaitExtraction gives the background parse a moment so a detected record
// is offered right after the reply.
func (r *chatREPL) awaitExtraction(d time.Duration) {
	done := make(chan struct{})
	go func() {
		r.sess.WaitExtraction()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}

// =============================================================================
// EXTRACTION CONFIRMATION
// =============================================================================

// reviewPending asks whether to save the record waiting for confirmation.
func (r *chatREPL) reviewPending(ctx context.Context) {
	p, ok := r.sess.PendingRecord()
	if !ok {
		return
	}

	details := false
	for {
		printRecord(r.out, p.Record, details)
		answer, err := r.in.Read("Save to dashboard? [y/N/d=details] ", "")
		if err != nil {
			r.sess.DiscardRecord()
			fmt.Fprintln(r.out)
			return
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "d", "details":
			details = !details
			continue
		case "y", "yes":
			r.confirmRecord(ctx)
		default:
			r.sess.DiscardRecord()
			fmt.Fprintln(r.out, DimStyle.Render("Discarded."))
		}
		fmt.Fprintln(r.out)
		return
	}
}

func (r *chatREPL) confirmRecord(ctx context.Context) {
	res, err := r.sess.ConfirmRecord(ctx)
	var subErr *extract.SubmitError
	switch {
	case errors.As(err, &subErr):
		fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[Not saved]"), subErr.Error())
	case err != nil:
		DisplayError(os.Stderr, err)
	default:
		msg := "Saved."
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("[OK] ")+msg)
	}
}

// =============================================================================
// BANNERS
// =============================================================================

func (r *chatREPL) printWelcome() {
	fmt.Fprintln(r.out, welcomeStyle.Render("lifedash chat")+DimStyle.Render(" "+Version))
	fmt.Fprintln(r.out, RenderSeparatorAdaptive())
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Backend:"), ValueStyle.Render(r.app.cfg.Backend.URL))
	if conv, ok := r.sess.Conversations().Active(); ok {
		fmt.Fprintf(r.out, "%s %s %s\n", RenderLabel("Conversation:"),
			ValueStyle.Render(util.TruncateWidth(conv.GetTitle(), 50)),
			DimStyle.Render(fmt.Sprintf("(%d messages)", conv.MessageCount())))
	}
	if p, ok := r.sess.ActiveProfile(); ok {
		fmt.Fprintf(r.out, "%s %s %s\n", RenderLabel("Model:"),
			ValueStyle.Render(p.Name), DimStyle.Render(p.Model))
	}
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Parameters:"), DimStyle.Render(r.sess.Params().String()))
	fmt.Fprintln(r.out, RenderSeparatorAdaptive())
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, Ctrl+C to stop a reply, Ctrl+D to exit."))
	fmt.Fprintln(r.out)
}

func (r *chatREPL) printExitSummary() {
	stats := r.sess.Stats()
	if stats == nil {
		return
	}
	s := stats.Summary()
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("Session: %d turns, %d records saved, %s",
		s.Turns, s.RecordsSaved, s.Uptime.Round(time.Second))))
	if n := r.sess.Conversations().Pending(); n > 0 {
		fmt.Fprintln(r.out, WarningStyle.Render(fmt.Sprintf("%d conversation writes are queued and will be retried on the next start.", n)))
	}
}
