// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// root.go - Command tree and the shared app environment.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/config"
	"github.com/jeranaias/lifedash-tui/internal/logging"
	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/session"
	"github.com/jeranaias/lifedash-tui/internal/storage"
	"github.com/jeranaias/lifedash-tui/internal/telemetry"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "0.3.0-dev"

// globalOptions are the persistent flags.
type globalOptions struct {
	configPath string
	backendURL string
	debug      bool
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(os.Stderr, err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// NewRootCommand builds the lifedash command tree.
func NewRootCommand() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "lifedash",
		Short: "Terminal client for the life dashboard AI assistant",
		Long: `lifedash talks to the life dashboard backend from a terminal.

Chat with the assistant, attach receipts and screenshots, and confirm
expenses, income, flights and investments it finds in its replies.

Examples:
  lifedash                                Full-screen chat
  lifedash chat                           Line-mode chat
  lifedash ask "I spent $45 at Starbucks" One-shot question
  lifedash conversations list             Stored conversations
  lifedash profiles use 3                 Switch the model profile`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !IsTTY() || !IsStdoutTTY() {
				return cmd.Help()
			}
			return runTUI(cmd.Context(), g)
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (TOML, YAML or JSON)")
	root.PersistentFlags().StringVar(&g.backendURL, "backend", "", "Backend URL (overrides backend.url)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Write debug logs to stderr")

	root.AddCommand(newChatCommand(g))
	root.AddCommand(newAskCommand(g))
	root.AddCommand(newTUICommand(g))
	root.AddCommand(newConversationsCommand(g))
	root.AddCommand(newProfilesCommand(g))
	root.AddCommand(newConfigCommand(g))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lifedash %s\n", Version)
		},
	}
}

// =============================================================================
// APP ENVIRONMENT
// =============================================================================

// app is what every command needs: configuration, logger, backend client.
type app struct {
	cfg     *config.Config
	cfgPath string
	logger  *logging.Logger
	client  *backend.Client
}

// loadConfig reads the config named by --config, or the default file.
func (g *globalOptions) loadConfig() (*config.Config, string, error) {
	path := g.configPath
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
		path, _ = config.ConfigPathTOML()
	}
	if err != nil {
		return nil, "", err
	}

	if g.backendURL != "" {
		cfg.Backend.URL = strings.TrimRight(g.backendURL, "/")
		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid --backend: %w", err)
		}
	}
	if g.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, path, nil
}

// newApp loads the configuration and opens the logger and backend client.
func newApp(g *globalOptions) (*app, error) {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	config.SetGlobal(cfg)

	logFile := cfg.LogFile
	if logFile == "" {
		logFile, err = cfg.LogPath()
		if err != nil {
			return nil, err
		}
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		File:   logFile,
		Stderr: g.debug,
	})
	if err != nil {
		// A broken log file never blocks the user.
		fmt.Fprintf(os.Stderr, "%s could not open log file %s: %v\n", WarningStyle.Render("[WARN]"), logFile, err)
		logger = logging.Nop()
	}
	logging.SetGlobal(logger)

	if cfg.Backend.URL == "" {
		return nil, backend.ErrNotConfigured
	}
	client := backend.New(cfg.Backend.URL,
		backend.WithTimeout(cfg.RequestTimeout()),
		backend.WithLogger(logger.Logger),
	)

	logger.Debug("Command environment ready",
		zap.String("config", path),
		zap.String("backend", cfg.Backend.URL))

	return &app{cfg: cfg, cfgPath: path, logger: logger, client: client}, nil
}

// Close releases the backend client and flushes the log.
func (a *app) Close() {
	_ = a.client.Close()
	_ = a.logger.Sync()
}

// newOutbox opens the pending-write queue under the data directory.
func (a *app) newOutbox() (*storage.Outbox, error) {
	dir, err := a.cfg.OutboxDir()
	if err != nil {
		return nil, err
	}
	return storage.NewOutbox(dir,
		storage.WithRate(a.cfg.Storage.OutboxRetryPerSecond),
		storage.WithLogger(a.logger.Named("outbox").Logger),
	)
}

// newSession builds a session with the outbox, stats, live parameters and
// idle timeout from the configuration.
func (a *app) newSession(extra ...session.Option) (*session.Manager, error) {
	box, err := a.newOutbox()
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	stats := telemetry.New()

	opts := []session.Option{
		session.WithLogger(a.logger.Named("session").Logger),
		session.WithOutbox(box),
		session.WithStats(stats),
		session.WithParams(a.cfg.Chat),
		session.WithIdleTimeout(a.cfg.IdleTimeout()),
	}
	opts = append(opts, extra...)
	return session.New(a.client, opts...), nil
}

// watchParams pushes [chat] edits of the config file into the live
// parameters until ctx is done. onChange may be nil.
func (a *app) watchParams(ctx context.Context, sess *session.Manager, onChange func(model.ChatParameters)) {
	if a.cfgPath == "" {
		return
	}
	if _, err := os.Stat(a.cfgPath); err != nil {
		return
	}
	log := a.logger.Named("config")
	go func() {
		err := config.Watch(ctx, a.cfgPath, func(cfg *config.Config) {
			p := sess.SetParams(cfg.Chat)
			log.Info("Chat parameters reloaded", zap.Stringer("params", p))
			if onChange != nil {
				onChange(p)
			}
		}, func(err error) {
			log.Warn("Config reload failed", zap.Error(err))
		})
		if err != nil {
			log.Warn("Config watch stopped", zap.Error(err))
		}
	}()
}
