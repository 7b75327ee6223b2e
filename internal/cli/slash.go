// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// slash.go - Slash commands of the line-mode chat.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/export"
	"github.com/jeranaias/lifedash-tui/internal/extract"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/session"
	"github.com/jeranaias/lifedash-tui/internal/util"
)

// slashCommand is one REPL command. run returns true to end the chat.
type slashCommand struct {
	name    string
	aliases []string
	args    string
	help    string
	run     func(r *chatREPL, ctx context.Context, args string) (bool, error)
}

// slashCommands is filled in init; /help refers back to it.
var slashCommands []slashCommand

func init() {
	slashCommands = []slashCommand{
		{name: "help", aliases: []string{"h", "?"}, help: "Show this list", run: (*chatREPL).cmdHelp},
		{name: "image", aliases: []string{"img"}, args: "[path]", help: "Attach an image to the next message, or detach it", run: (*chatREPL).cmdImage},
		{name: "regen", aliases: []string{"retry"}, help: "Answer the last message again", run: (*chatREPL).cmdRegen},
		{name: "edit", args: "[n]", help: "Copy a message of yours into the input line", run: (*chatREPL).cmdEdit},
		{name: "copy", help: "Copy the last reply to the clipboard", run: (*chatREPL).cmdCopy},
		{name: "history", help: "Show the conversation so far", run: (*chatREPL).cmdHistory},
		{name: "new", help: "Start a new conversation", run: (*chatREPL).cmdNew},
		{name: "list", aliases: []string{"ls"}, help: "List conversations", run: (*chatREPL).cmdList},
		{name: "switch", aliases: []string{"open"}, args: "<n|id>", help: "Open another conversation", run: (*chatREPL).cmdSwitch},
		{name: "rename", args: "<title>", help: "Rename this conversation", run: (*chatREPL).cmdRename},
		{name: "delete", aliases: []string{"rm"}, args: "[n|id]", help: "Delete a conversation (default: this one)", run: (*chatREPL).cmdDelete},
		{name: "clear", aliases: []string{"c"}, help: "Empty this conversation", run: (*chatREPL).cmdClear},
		{name: "params", help: "Show the chat parameters", run: (*chatREPL).cmdParams},
		{name: "set", args: "<key> <value>", help: "Set temperature, top_p, max_tokens or system_prompt", run: (*chatREPL).cmdSet},
		{name: "profile", aliases: []string{"model"}, args: "[n|id|name]", help: "List model profiles or switch the active one", run: (*chatREPL).cmdProfile},
		{name: "record", help: "Review the detected record again", run: (*chatREPL).cmdRecord},
		{name: "stats", aliases: []string{"s"}, help: "Show session statistics", run: (*chatREPL).cmdStats},
		{name: "export", args: "[md|json|yaml]", help: "Write this conversation to a file", run: (*chatREPL).cmdExport},
		{name: "quit", aliases: []string{"q", "exit"}, help: "Leave the chat", run: (*chatREPL).cmdQuit},
	}
}

// lookupSlash finds a command by name or alias.
func lookupSlash(name string) (slashCommand, bool) {
	name = strings.ToLower(name)
	for _, c := range slashCommands {
		if c.name == name {
			return c, true
		}
		for _, a := range c.aliases {
			if a == name {
				return c, true
			}
		}
	}
	return slashCommand{}, false
}

// slashNames returns every command name and alias.
func slashNames() []string {
	var names []string
	for _, c := range slashCommands {
		names = append(names, c.name)
		names = append(names, c.aliases...)
	}
	return names
}

// splitSlash splits "/cmd rest of line" into "cmd" and "rest of line".
func splitSlash(input string) (string, string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ := strings.Cut(input, " ")
	return name, strings.TrimSpace(args)
}

func (r *chatREPL) runSlash(ctx context.Context, input string) (bool, error) {
	name, args := splitSlash(input)
	cmd, ok := lookupSlash(name)
	if !ok {
		msg := fmt.Sprintf("unknown command /%s", name)
		if s := suggestCommand(name, slashNames()); s != "" {
			msg += fmt.Sprintf(" (did you mean /%s?)", s)
		}
		return false, errors.New(msg)
	}
	return cmd.run(r, ctx, args)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (r *chatREPL) cmdHelp(context.Context, string) (bool, error) {
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	for _, c := range slashCommands {
		usage := "/" + c.name
		if c.args != "" {
			usage += " " + c.args
		}
		fmt.Fprintf(r.out, "  %s %s\n", commandStyle.Render(util.PadWidth(usage, 24)), DimStyle.Render(c.help))
	}
	fmt.Fprintln(r.out)
	return false, nil
}

func (r *chatREPL) cmdImage(_ context.Context, args string) (bool, error) {
	if args == "" {
		if r.image == nil {
			return false, errUsage("image", "", "a file path is required")
		}
		r.image = nil
		fmt.Fprintln(r.out, DimStyle.Render("Image detached."))
		return false, nil
	}

	img, err := chat.LoadImage(args)
	if err != nil {
		return false, err
	}
	r.image = img
	fmt.Fprintf(r.out, "%s %s (%s). It will be sent with your next message.\n",
		SuccessStyle.Render("Attached"), img.Name, formatBytes(int64(len(img.Data))))
	if p, ok := r.sess.ActiveProfile(); ok && !p.SupportsVision {
		fmt.Fprintln(r.out, WarningStyle.Render("The active model ("+p.Name+") cannot read images; switch with /profile."))
	}
	return false, nil
}

func (r *chatREPL) cmdRegen(ctx context.Context, _ string) (bool, error) {
	// Pre-check so guard errors print without an empty reply block.
	msgs := r.sess.Transcript().Snapshot()
	if len(msgs) < 2 {
		return false, session.ErrNothingToRegenerate
	}
	r.runTurn(ctx, r.sess.Regenerate)
	return false, nil
}

func (r *chatREPL) cmdEdit(_ context.Context, args string) (bool, error) {
	slot := r.sess.LastUserSlot()
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			return false, errUsage("message number", args, "expected a number from /history")
		}
		slot = n - 1
	}
	if slot < 0 {
		return false, session.ErrNotUserMessage
	}
	text, err := r.sess.EditText(slot)
	if err != nil {
		return false, err
	}
	r.prefill = text
	return false, nil
}

func (r *chatREPL) cmdCopy(context.Context, string) (bool, error) {
	var reply string
	msgs := r.sess.Transcript().Snapshot()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant && msgs[i].Content != "" {
			reply = msgs[i].Content
			break
		}
	}
	if reply == "" {
		return false, errors.New("no reply to copy")
	}
	if clipboard.Unsupported {
		return false, errors.New("clipboard is not available on this system")
	}
	if err := clipboard.WriteAll(reply); err != nil {
		return false, fmt.Errorf("copy to clipboard: %w", err)
	}
	fmt.Fprintln(r.out, SuccessStyle.Render("Copied")+DimStyle.Render(fmt.Sprintf(" %d characters", len([]rune(reply)))))
	return false, nil
}

func (r *chatREPL) cmdHistory(context.Context, string) (bool, error) {
	msgs := r.sess.Transcript().Snapshot()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return false, nil
	}
	width := GetTerminalWidth() - 20
	for i, m := range msgs {
		content := util.FirstLine(m.Content)
		if m.HasImage {
			content = "[image] " + content
		}
		if m.Role == model.RoleAssistant && m.Content == "" {
			content = "(no reply)"
		}
		fmt.Fprintf(r.out, "%s %s %s\n",
			DimStyle.Render(fmt.Sprintf("%3d", i+1)),
			roleStyle(m.Role).Render(util.PadWidth(m.Role.DisplayName()+":", 10)),
			util.TruncateWidth(content, width))
	}
	return false, nil
}

func (r *chatREPL) cmdNew(ctx context.Context, _ string) (bool, error) {
	conv, err := r.sess.NewConversation(ctx)
	if err != nil {
		return false, err
	}
	r.image = nil
	fmt.Fprintln(r.out, SuccessStyle.Render("Started")+" "+conv.GetTitle())
	return false, nil
}

func (r *chatREPL) cmdList(context.Context, string) (bool, error) {
	convs := r.sess.Conversations()
	printConversationList(r.out, convs.List(), convs.ActiveID())
	return false, nil
}

func (r *chatREPL) cmdSwitch(ctx context.Context, args string) (bool, error) {
	if args == "" {
		return false, errUsage("conversation", "", "a list position or id is required")
	}
	target, ok := r.sess.Conversations().Find(args)
	if !ok {
		return false, errNotFound("conversation", args)
	}
	conv, err := r.sess.SelectConversation(ctx, target.ID)
	if err != nil {
		return false, err
	}
	r.image = nil
	fmt.Fprintf(r.out, "%s %s %s\n", SuccessStyle.Render("Opened"), conv.GetTitle(),
		DimStyle.Render(fmt.Sprintf("(%d messages)", conv.MessageCount())))
	if last, ok := conv.LastAssistantMessage(); ok && last.Content != "" {
		fmt.Fprintln(r.out, DimStyle.Render("Last reply: "+util.TruncateWidth(util.FirstLine(last.Content), GetTerminalWidth()-14)))
	}
	return false, nil
}

func (r *chatREPL) cmdRename(ctx context.Context, args string) (bool, error) {
	if args == "" {
		return false, errUsage("title", "", "a new title is required")
	}
	id := r.sess.Conversations().ActiveID()
	if err := r.sess.RenameConversation(ctx, id, args); err != nil {
		return false, err
	}
	fmt.Fprintln(r.out, SuccessStyle.Render("Renamed")+" to "+args)
	return false, nil
}

func (r *chatREPL) cmdDelete(ctx context.Context, args string) (bool, error) {
	convs := r.sess.Conversations()
	target, ok := convs.Active()
	if args != "" {
		target, ok = convs.Find(args)
	}
	if !ok {
		return false, errNotFound("conversation", args)
	}

	answer, err := r.in.Read(fmt.Sprintf("Delete %q? [y/N] ", target.GetTitle()), "")
	if err != nil || !isYes(answer) {
		fmt.Fprintln(r.out, DimStyle.Render("Kept."))
		return false, nil
	}
	if err := r.sess.DeleteConversation(ctx, target.ID); err != nil {
		return false, err
	}
	fmt.Fprintln(r.out, SuccessStyle.Render("Deleted")+" "+target.GetTitle())
	if active, ok := convs.Active(); ok {
		fmt.Fprintln(r.out, DimStyle.Render("Current conversation: "+active.GetTitle()))
	}
	return false, nil
}

func (r *chatREPL) cmdClear(ctx context.Context, _ string) (bool, error) {
	if err := r.sess.ClearConversation(ctx); err != nil {
		return false, err
	}
	r.image = nil
	fmt.Fprintln(r.out, SuccessStyle.Render("Cleared."))
	return false, nil
}

func (r *chatREPL) cmdParams(context.Context, string) (bool, error) {
	printParams(r.out, r.sess.Params())
	return false, nil
}

func (r *chatREPL) cmdSet(_ context.Context, args string) (bool, error) {
	key, value, _ := strings.Cut(args, " ")
	p, err := applyParam(r.sess.Params(), key, strings.TrimSpace(value))
	if err != nil {
		return false, err
	}
	p = r.sess.SetParams(p)
	fmt.Fprintln(r.out, DimStyle.Render(p.String()))
	return false, nil
}

func (r *chatREPL) cmdProfile(ctx context.Context, args string) (bool, error) {
	if err := r.sess.RefreshProfiles(ctx); err != nil {
		return false, err
	}
	profiles := r.sess.Profiles()
	if args == "" {
		printProfiles(r.out, profiles, false)
		return false, nil
	}
	p, ok := findProfile(profiles, args)
	if !ok {
		return false, errNotFound("profile", args)
	}
	if err := r.sess.UseProfile(ctx, p.ID); err != nil {
		return false, err
	}
	fmt.Fprintf(r.out, "%s %s %s\n", SuccessStyle.Render("Using"), p.Name, DimStyle.Render(p.Model))
	return false, nil
}

func (r *chatREPL) cmdRecord(ctx context.Context, _ string) (bool, error) {
	if !r.sess.ExtractionEnabled() {
		return false, errors.New("record detection is off (ui.confirm_extractions = false)")
	}
	if _, ok := r.sess.PendingRecord(); !ok {
		return false, extract.ErrNoPending
	}
	r.reviewPending(ctx)
	return false, nil
}

func (r *chatREPL) cmdStats(context.Context, string) (bool, error) {
	fmt.Fprintln(r.out, TitleStyle.Render("Session statistics"))
	if stats := r.sess.Stats(); stats != nil {
		fmt.Fprint(r.out, stats.Summary().String())
	}
	if n := r.sess.Conversations().Pending(); n > 0 {
		fmt.Fprintf(r.out, "Queued writes:      %d\n", n)
	}
	return false, nil
}

func (r *chatREPL) cmdExport(_ context.Context, args string) (bool, error) {
	conv, ok := r.sess.Conversations().Active()
	if !ok {
		return false, export.ErrNoConversation
	}
	conv.Messages = r.sess.Transcript().Snapshot()

	path, err := exportConversation(conv, args, "", false)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(r.out, SuccessStyle.Render("Exported")+" "+path)
	return false, nil
}

func (r *chatREPL) cmdQuit(context.Context, string) (bool, error) {
	return true, nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// applyParam sets one chat parameter from text. Values are not clamped.
func applyParam(p model.ChatParameters, key, value string) (model.ChatParameters, error) {
	if strings.TrimSpace(key) == "" {
		return p, &UsageError{Field: "parameter", Reason: "a key is required", Example: "/set temperature 0.3"}
	}
	next, err := p.With(key, value)
	if errors.Is(err, model.ErrUnknownParameter) {
		return p, &UsageError{Field: "parameter", Value: key, Reason: "unknown key", Example: "/set max_tokens 4096"}
	}
	if err != nil {
		return p, &UsageError{Field: "parameter", Value: value, Reason: err.Error()}
	}
	return next, nil
}

func printParams(w io.Writer, p model.ChatParameters) {
	fmt.Fprintf(w, "%s %s %s\n", RenderLabel("temperature"), ValueStyle.Render(fmt.Sprintf("%.2f", p.Temperature)),
		DimStyle.Render(fmt.Sprintf("(%.0f to %.0f)", model.MinTemperature, model.MaxTemperature)))
	fmt.Fprintf(w, "%s %s %s\n", RenderLabel("top_p"), ValueStyle.Render(fmt.Sprintf("%.2f", p.TopP)),
		DimStyle.Render(fmt.Sprintf("(%.0f to %.0f)", model.MinTopP, model.MaxTopP)))
	fmt.Fprintf(w, "%s %s %s\n", RenderLabel("max_tokens"), ValueStyle.Render(strconv.Itoa(p.MaxTokens)),
		DimStyle.Render(fmt.Sprintf("(%d to %d, step %d)", model.MinMaxTokens, model.MaxMaxTokens, model.MaxTokensStep)))
	sys := p.SystemPrompt
	if sys == "" {
		sys = DimStyle.Render("(none)")
	}
	fmt.Fprintf(w, "%s %s\n", RenderLabel("system_prompt"), sys)
}

// findProfile resolves a profile by id, 1-based position or name.
func findProfile(profiles []model.Profile, ref string) (model.Profile, bool) {
	for _, p := range profiles {
		if p.ID == ref {
			return p, true
		}
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(profiles) {
		return profiles[n-1], true
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, ref) {
			return p, true
		}
	}
	return model.Profile{}, false
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func roleStyle(role model.Role) lipgloss.Style {
	if role == model.RoleUser {
		return promptStyle
	}
	return InfoStyle
}
